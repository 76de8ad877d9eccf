package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// StreamEventsWS handles GET /api/v1/ws
// It serves the same execution event stream as SSE over a websocket,
// one JSON event per message.
func (h *Handlers) StreamEventsWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.config.CORSOrigins {
				if origin == allowed || allowed == "*" {
					return true
				}
			}
			return false
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	defer conn.Close()

	metrics.WSClientsActive.Inc()
	defer metrics.WSClientsActive.Dec()

	h.logger.Info("websocket connection opened",
		slog.String("remote_addr", r.RemoteAddr),
	)

	sub := h.bus.Subscribe(eventbus.DefaultBuffer)
	defer sub.Unsubscribe()

	// Reader goroutine: we never expect client messages, but reading is
	// required to process close and pong frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			h.logger.Info("websocket connection closed", slog.String("remote_addr", r.RemoteAddr))
			return

		case evt, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
