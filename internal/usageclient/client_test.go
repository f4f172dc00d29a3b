package usageclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

func TestValidateKeySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-good" {
			t.Errorf("unexpected auth header: %q", got)
		}
		w.Header().Set("openai-organization", "org-123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ValidateKey(context.Background(), "sk-good", nil)
	if err != nil {
		t.Fatalf("validate key: %v", err)
	}
	if !result.Valid || result.OrgID != "org-123" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestValidateKeyFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid key"))
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.ValidateKey(context.Background(), "sk-bad", nil)
	if err != nil {
		t.Fatalf("validate key: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result")
	}
}

func TestFetchUsageAggregatesIndependentFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/dashboard/billing/usage":
			json.NewEncoder(w).Encode(map[string]float64{"total_usage": 2500})
		case "/v1/dashboard/billing/subscription":
			hard := 100.0
			json.NewEncoder(w).Encode(map[string]*float64{"hard_limit_usd": &hard})
		case "/v1/usage":
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	a := gwmodel.NewAccount("acct", "sk-test")
	snapshot := c.FetchUsage(context.Background(), a)

	if snapshot.MonthlyUsage != 25.0 {
		t.Fatalf("expected monthly usage 25.0 (2500 cents), got %v", snapshot.MonthlyUsage)
	}
	if snapshot.HardLimit == nil || *snapshot.HardLimit != 100.0 {
		t.Fatalf("expected hard limit 100.0, got %+v", snapshot.HardLimit)
	}
	if snapshot.RemainingBudget == nil || *snapshot.RemainingBudget != 75.0 {
		t.Fatalf("expected remaining budget 75.0, got %+v", snapshot.RemainingBudget)
	}
	if snapshot.TokensUsed != 0 {
		t.Fatalf("expected zero tokens when usage endpoint 404s, got %d", snapshot.TokensUsed)
	}
}

func TestNextIntervalCapsBackoffExponent(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, 60_000_000_000, 3600_000_000_000) // ns literals avoid importing time twice
	if got := p.nextInterval(0); got.Seconds() != 61 {
		t.Fatalf("expected 61s at 0 errors, got %v", got)
	}
	if got := p.nextInterval(10); got.Seconds() != 92 {
		t.Fatalf("expected cap at min+2^5=92s for >5 errors, got %v", got)
	}
}
