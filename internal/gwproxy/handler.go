package gwproxy

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

var supportedModels = []string{
	"gpt-4", "gpt-4-turbo", "gpt-4o", "gpt-4o-mini", "gpt-3.5-turbo",
	"text-embedding-3-small", "text-embedding-3-large", "dall-e-3",
}

// handleProxy implements the routed-call algorithm: decide an account,
// forward to the provider, relay the response (streaming or buffered),
// and feed the outcome back to the engine.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	s.requestCount.Add(1)

	body, raw, err := parseBody(w, r, s.cfg.MaxRequestBodyMB)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request_error", "malformed JSON body")
		return
	}

	model := extractModel(body)
	sessionID := deriveSessionID(body)

	decision, err := s.engine.ResolveAccount(gwmodel.RequestContext{Model: model, SessionID: sessionID})
	if err != nil {
		slog.Warn("no account available for request", "model", model, "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "overloaded_error", err.Error())
		return
	}

	upReq, err := s.buildUpstreamRequest(r, decision, raw)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "api_error", "failed to build upstream request")
		return
	}

	client := s.transports.clientFor(decision.AccountID.String())
	resp, err := client.Do(upReq)
	if err != nil {
		slog.Error("upstream transport failure", "account_id", decision.AccountID.String(), "label", decision.Label, "error", err)
		s.engine.ReportError(decision.AccountID, true)
		writeJSONError(w, http.StatusBadGateway, "api_error", "upstream request failed")
		return
	}
	defer resp.Body.Close()

	streaming, _ := body["stream"].(bool)
	if streaming && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.relayStream(r, w, resp)
	} else {
		s.relayBuffered(w, resp)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.engine.ReportSuccess(decision.AccountID)
		return
	}
	s.engine.ReportError(decision.AccountID, resp.StatusCode >= 500)
}

func (s *Server) buildUpstreamRequest(r *http.Request, decision *gwmodel.RoutingDecision, rawBody []byte) (*http.Request, error) {
	url := s.cfg.OpenAIBaseURL + r.URL.Path
	upReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(rawBody))
	if err != nil {
		return nil, err
	}
	upReq.Header.Set("Authorization", "Bearer "+decision.Credential)
	upReq.Header.Set("Content-Type", "application/json")
	if decision.OrgID != nil {
		upReq.Header.Set("OpenAI-Organization", *decision.OrgID)
	}
	return upReq, nil
}

// relayStream copies the upstream byte stream to the client as SSE,
// terminating promptly on client disconnect (a single bounded read
// per loop iteration, never buffered in full).
func (s *Server) relayStream(r *http.Request, w http.ResponseWriter, resp *http.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fmt.Fprintf(w, "%s\n", scanner.Text())
		flusher.Flush()
	}
}

func (s *Server) relayBuffered(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "api_error", "failed to read upstream response")
		return
	}
	for k, vals := range resp.Header {
		if k == "Content-Length" {
			continue
		}
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.GetStats()
	status := "degraded"
	if stats.Available > 0 {
		status = "ok"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"uptime_seconds": s.uptimeSeconds(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	data := make([]map[string]any, len(supportedModels))
	for i, id := range supportedModels {
		data[i] = map[string]any{"id": id, "object": "model"}
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func parseBody(w http.ResponseWriter, r *http.Request, maxBodyMB int) (map[string]any, []byte, error) {
	if r.Body == nil {
		return map[string]any{}, []byte("{}"), nil
	}
	limited := http.MaxBytesReader(w, r.Body, int64(maxBodyMB)*1024*1024)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if len(raw) == 0 {
		return map[string]any{}, []byte("{}"), nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return body, raw, nil
}

func extractModel(body map[string]any) string {
	if m, ok := body["model"].(string); ok && m != "" {
		return m
	}
	return "gpt-4"
}

// deriveSessionID hashes the first message's content, if present and a
// string, to the first 8 bytes of its SHA-256, hex-encoded.
func deriveSessionID(body map[string]any) *string {
	messages, ok := body["messages"].([]any)
	if !ok || len(messages) == 0 {
		return nil
	}
	first, ok := messages[0].(map[string]any)
	if !ok {
		return nil
	}
	content, ok := first["content"].(string)
	if !ok {
		return nil
	}
	sum := sha256.Sum256([]byte(content))
	id := hex.EncodeToString(sum[:8])
	return &id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"type": errType, "message": message},
	})
}
