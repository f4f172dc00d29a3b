package gwproxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/codex-manager/gateway/internal/config"
	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
	"github.com/codex-manager/gateway/internal/routing"
)

func newTestServer(t *testing.T, upstreamURL string, accounts []*gwmodel.Account) *Server {
	t.Helper()
	cfg := &config.Config{
		BindAddr:         "127.0.0.1:0",
		APIKey:           "sk-test",
		OpenAIBaseURL:    upstreamURL,
		RequestTimeout:   5 * time.Second,
		MaxRequestBodyMB: 5,
	}
	engine := routing.New(gwmodel.StrategyLeastUtilized, events.NewBus(16), nil)
	engine.UpdateAccounts(accounts, nil)
	return New(cfg, engine, nil, nil, "test")
}

func authedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-test")
	return req
}

func TestHandleProxyMalformedBody(t *testing.T) {
	a := gwmodel.NewAccount("A1", "sk-upstream")
	s := newTestServer(t, "http://unused.invalid", []*gwmodel.Account{a})

	w := httptest.NewRecorder()
	s.handleProxy(w, authedRequest(http.MethodPost, "/v1/chat/completions", "{not json"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleProxyNoAvailableAccount(t *testing.T) {
	s := newTestServer(t, "http://unused.invalid", nil)

	w := httptest.NewRecorder()
	s.handleProxy(w, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4"}`))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleProxySuccessRelay(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("unexpected upstream auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"cmpl-1"}`))
	}))
	defer upstream.Close()

	a := gwmodel.NewAccount("A1", "sk-upstream")
	s := newTestServer(t, upstream.URL, []*gwmodel.Account{a})

	w := httptest.NewRecorder()
	s.handleProxy(w, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4"}`))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "cmpl-1") {
		t.Fatalf("expected upstream body relayed verbatim, got %s", w.Body.String())
	}
}

func TestHandleProxyNonSuccessPassthrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer upstream.Close()

	a := gwmodel.NewAccount("A1", "sk-upstream")
	s := newTestServer(t, upstream.URL, []*gwmodel.Account{a})

	w := httptest.NewRecorder()
	s.handleProxy(w, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4"}`))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected upstream status relayed verbatim, got %d", w.Code)
	}
}

func TestHandleProxyTransportFailure(t *testing.T) {
	a := gwmodel.NewAccount("A1", "sk-upstream")
	s := newTestServer(t, "http://127.0.0.1:1", []*gwmodel.Account{a})

	w := httptest.NewRecorder()
	s.handleProxy(w, authedRequest(http.MethodPost, "/v1/chat/completions", `{"model":"gpt-4"}`))

	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}
