package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// branchResult is the payload of a branch node. The engine reads
// Condition to decide which output port stays active.
type branchResult struct {
	Condition bool            `json:"condition"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// DefaultRegistry returns a registry with the built-in palette wired.
func DefaultRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := NewRegistry()
	ev := newExprEvaluator()

	r.Register("start", ActionFunc(startAction))
	r.Register("branch", branchAction(ev))
	r.Register("merge", ActionFunc(mergeAction))
	r.Register("delay", ActionFunc(delayAction))
	r.Register("echo", ActionFunc(echoAction))
	r.Register("retry", retryAction(r))
	r.Register("notify", notifyAction(logger))
	r.Register("ai_chat", ActionFunc(aiChatAction))
	r.Register("tool::http_request", ActionFunc(httpRequestAction))
	r.Register("tool::port_scan", ActionFunc(portScanAction))
	r.Register("tool::subdomain_enum", ActionFunc(subdomainEnumAction))
	return r
}

func startAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

// branchAction evaluates the expr parameter against the upstream
// payload. The expression sees "input" (decoded payload from any port)
// and "inputs" (payloads keyed by port id).
func branchAction(ev *exprEvaluator) Action {
	return ActionFunc(func(ctx context.Context, inv Invocation) (json.RawMessage, error) {
		expression := inv.StringParam("expr", "true")

		env := map[string]interface{}{
			"input":  decodeAny(inv.FirstInput()),
			"inputs": decodeInputs(inv.Inputs),
		}
		cond, err := ev.evaluateBool(expression, env)
		if err != nil {
			return nil, err
		}

		return json.Marshal(branchResult{
			Condition: cond,
			Value:     inv.FirstInput(),
		})
	})
}

// mergeAction combines upstream payloads into one object keyed by
// input port id.
func mergeAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	merged := make(map[string]interface{}, len(inv.Inputs))
	for port, raw := range inv.Inputs {
		merged[port] = decodeAny(raw)
	}
	return json.Marshal(merged)
}

// delayAction holds the upstream payload for a configured pause,
// honouring cancellation.
func delayAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	d := time.Duration(inv.NumberParam("delay_ms", 1000)) * time.Millisecond
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
	}
	if raw := inv.FirstInput(); len(raw) > 0 {
		return append(json.RawMessage(nil), raw...), nil
	}
	return json.RawMessage(`{}`), nil
}

// echoAction repeats its input downstream, or a fixed message when
// nothing is wired in.
func echoAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if raw := inv.FirstInput(); len(raw) > 0 {
		return append(json.RawMessage(nil), raw...), nil
	}
	return json.Marshal(map[string]string{"message": inv.StringParam("message", "")})
}

// retryAction re-invokes a named tool with a fixed delay between
// attempts, returning the first success.
func retryAction(r *Registry) Action {
	return ActionFunc(func(ctx context.Context, inv Invocation) (json.RawMessage, error) {
		attempts := int(inv.NumberParam("times", 3))
		if attempts < 1 {
			attempts = 1
		}
		delay := time.Duration(inv.NumberParam("delay_ms", 500)) * time.Millisecond
		toolName := inv.StringParam("tool_name", "")
		if toolName == "" {
			return nil, fmt.Errorf("retry node %s: tool_name is required", inv.Node.ID)
		}

		action, err := r.Get(toolName)
		if err != nil {
			return nil, err
		}

		toolInv := Invocation{
			Node:   inv.Node,
			Inputs: inv.Inputs,
		}
		if raw, ok := inv.Node.Params["tool_params"]; ok {
			var params map[string]json.RawMessage
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("retry node %s: bad tool_params: %w", inv.Node.ID, err)
			}
			toolInv.Node.Params = params
		}

		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			result, err := action.Execute(ctx, toolInv)
			if err == nil {
				return result, nil
			}
			lastErr = err

			if attempt < attempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
			}
		}
		return nil, fmt.Errorf("all %d attempts failed: %w", attempts, lastErr)
	})
}

// notifyAction records a notification. Webhook delivery posts the
// content; other channels are logged for the host shell to surface.
func notifyAction(logger *slog.Logger) Action {
	return ActionFunc(func(ctx context.Context, inv Invocation) (json.RawMessage, error) {
		title := inv.StringParam("title", "Workflow Notification")
		content := inv.StringParam("content", "")
		channel := inv.StringParam("channel", "webhook")

		if inv.BoolParam("use_input_as_content", false) {
			if raw := inv.FirstInput(); len(raw) > 0 {
				content = string(raw)
			}
		}

		if channel == "webhook" {
			if url := inv.StringParam("webhook_url", ""); url != "" {
				body, _ := json.Marshal(map[string]string{"title": title, "content": content})
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
				if err != nil {
					return nil, err
				}
				req.Header.Set("Content-Type", "application/json")
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return nil, fmt.Errorf("webhook delivery: %w", err)
				}
				resp.Body.Close()
			}
		}

		logger.Info("notification",
			"channel", channel,
			"title", title,
			"node_id", inv.Node.ID)

		return json.Marshal(map[string]interface{}{
			"delivered": true,
			"channel":   channel,
			"title":     title,
		})
	})
}

// aiChatAction resolves the prompt template locally. Provider calls
// are delegated to the host shell; the runner records what would be
// sent so downstream nodes can consume it.
func aiChatAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	prompt := inv.StringParam("prompt", "")
	if prompt == "" {
		return nil, fmt.Errorf("ai_chat node %s: prompt is required", inv.Node.ID)
	}

	if raw := inv.FirstInput(); len(raw) > 0 {
		prompt = strings.ReplaceAll(prompt, "{{input}}", string(raw))
	}

	return json.Marshal(map[string]string{
		"prompt":   prompt,
		"provider": inv.StringParam("provider", "openai"),
		"model":    inv.StringParam("model", ""),
	})
}

func httpRequestAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	url := inv.StringParam("url", "")
	if url == "" {
		return nil, fmt.Errorf("http_request node %s: url is required", inv.Node.ID)
	}
	method := inv.StringParam("method", http.MethodGet)

	var body io.Reader
	if b := inv.StringParam("body", ""); b != "" {
		body = strings.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	var headers map[string]string
	if inv.Param("headers", &headers) {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	client := &http.Client{
		Timeout: time.Duration(inv.NumberParam("timeout_seconds", 10)) * time.Second,
	}
	if !inv.BoolParam("follow_redirects", true) {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return json.Marshal(map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": flattenHeaders(resp.Header),
		"body":    string(respBody),
	})
}

var defaultScanPorts = []int{21, 22, 23, 25, 53, 80, 110, 143, 443, 445, 993, 995, 3306, 3389, 5432, 6379, 8080, 8443}

func portScanAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	host := inv.StringParam("host", "")
	if host == "" {
		return nil, fmt.Errorf("port_scan node %s: host is required", inv.Node.ID)
	}

	ports := parsePorts(inv)
	concurrency := int(inv.NumberParam("concurrency", 64))
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	results := make(chan int, len(ports))
	var wg sync.WaitGroup
	dialer := &net.Dialer{Timeout: 2 * time.Second}

	for _, port := range ports {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprint(p)))
			if err == nil {
				conn.Close()
				results <- p
			}
		}(port)
	}
	wg.Wait()
	close(results)

	var open []int
	for p := range results {
		open = append(open, p)
	}
	sort.Ints(open)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]interface{}{
		"host":       host,
		"open_ports": open,
		"scanned":    len(ports),
	})
}

func subdomainEnumAction(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	domain := inv.StringParam("domain", "")
	if domain == "" {
		return nil, fmt.Errorf("subdomain_enum node %s: domain is required", inv.Node.ID)
	}

	var wordlist []string
	if !inv.Param("wordlist", &wordlist) || len(wordlist) == 0 {
		wordlist = []string{"www", "mail", "api", "dev", "staging", "vpn", "admin"}
	}

	resolver := &net.Resolver{}
	var found []string
	for _, prefix := range wordlist {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate := prefix + "." + domain
		if addrs, err := resolver.LookupHost(ctx, candidate); err == nil && len(addrs) > 0 {
			found = append(found, candidate)
		}
	}

	return json.Marshal(map[string]interface{}{
		"domain":     domain,
		"subdomains": found,
		"tried":      len(wordlist),
	})
}

func parsePorts(inv Invocation) []int {
	var raw []interface{}
	if !inv.Param("ports", &raw) || len(raw) == 0 {
		return defaultScanPorts
	}
	var out []int
	for _, v := range raw {
		switch p := v.(type) {
		case float64:
			out = append(out, int(p))
		case string:
			var n int
			if _, err := fmt.Sscanf(p, "%d", &n); err == nil {
				out = append(out, n)
			}
		}
	}
	if len(out) == 0 {
		return defaultScanPorts
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func decodeAny(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func decodeInputs(inputs map[string]json.RawMessage) map[string]interface{} {
	out := make(map[string]interface{}, len(inputs))
	for port, raw := range inputs {
		out[port] = decodeAny(raw)
	}
	return out
}
