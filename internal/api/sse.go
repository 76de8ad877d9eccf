package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/helixsec/studio-go/internal/eventbus"
	"github.com/helixsec/studio-go/internal/metrics"
	"github.com/helixsec/studio-go/pkg/types"
)

// sseHeartbeatInterval keeps idle connections alive through proxies.
const sseHeartbeatInterval = 15 * time.Second

// StreamEvents handles GET /api/v1/events
// It implements Server-Sent Events (SSE) for the execution event
// stream. Clients resume after a disconnect by sending Last-Event-ID;
// an execution_id query parameter narrows the stream to one run.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := GetRequestID(r.Context(), r)
	executionID := r.URL.Query().Get("execution_id")

	wanted := func(e types.Event) bool {
		return executionID == "" || e.ExecutionID == executionID
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	metrics.SSEClientsActive.Inc()
	defer metrics.SSEClientsActive.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	flusher.Flush()

	// Subscribe before replaying history so nothing falls in the gap.
	// Replayed events may repeat on the live channel; clients dedupe by
	// event id.
	sub := h.bus.Subscribe(eventbus.DefaultBuffer)
	defer sub.Unsubscribe()

	h.writeComment(w, flusher, "connected")

	if lastEventID := r.Header.Get("Last-Event-ID"); lastEventID != "" {
		for _, evt := range h.bus.Since(lastEventID) {
			if wanted(evt) {
				h.writeSSE(w, flusher, evt)
			}
		}
	}

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	done := r.Context().Done()
	for {
		select {
		case <-done:
			h.logger.Info("SSE connection closed",
				slog.String("request_id", requestID),
				slog.Duration("duration", time.Since(startTime)),
				slog.String("reason", "client_disconnect"),
			)
			return

		case evt, ok := <-sub.Events():
			if !ok {
				// Bus shut down.
				h.writeComment(w, flusher, "stream closed")
				h.logger.Info("SSE connection closed",
					slog.String("request_id", requestID),
					slog.Duration("duration", time.Since(startTime)),
					slog.String("reason", "shutdown"),
				)
				return
			}
			if wanted(evt) {
				h.writeSSE(w, flusher, evt)
			}

		case <-heartbeat.C:
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt types.Event) {
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}
