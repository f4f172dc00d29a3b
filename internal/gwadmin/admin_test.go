package gwadmin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
	"github.com/codex-manager/gateway/internal/routing"
	"github.com/codex-manager/gateway/internal/usageclient"
)

type fakeStore struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*gwmodel.Account
	usage    map[uuid.UUID]*gwmodel.UsageSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[uuid.UUID]*gwmodel.Account),
		usage:    make(map[uuid.UUID]*gwmodel.UsageSnapshot),
	}
}

func (f *fakeStore) SaveAccount(ctx context.Context, a *gwmodel.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.accounts[a.ID] = &cp
	return nil
}

func (f *fakeStore) LoadAccount(ctx context.Context, id uuid.UUID) (*gwmodel.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) LoadAccounts(ctx context.Context) ([]*gwmodel.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*gwmodel.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeStore) DeleteAccount(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[id]; !ok {
		return false, nil
	}
	delete(f.accounts, id)
	delete(f.usage, id)
	return true, nil
}

func (f *fakeStore) SaveUsageSnapshot(ctx context.Context, u *gwmodel.UsageSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[u.AccountID] = u
	return nil
}

func (f *fakeStore) LoadLatestUsage(ctx context.Context, accountID uuid.UUID) (*gwmodel.UsageSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[accountID], nil
}

func newTestAdmin(t *testing.T) (*Server, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	engine := routing.New(gwmodel.StrategyLeastUtilized, events.NewBus(16), nil)
	client := usageclient.New("http://unused.invalid")
	logs := events.NewLogHandler(slog.LevelInfo, 16)
	return New(store, engine, client, nil, "sk-admin", events.NewBus(16), logs), store
}

func authedAdminRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-admin")
	return req
}

func TestCreateAndListAccount(t *testing.T) {
	s, _ := newTestAdmin(t)

	w := httptest.NewRecorder()
	s.handleCreateAccount(w, authedAdminRequest(http.MethodPost, "/admin/accounts", `{"label":"A1","api_key":"sk-1"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w2 := httptest.NewRecorder()
	s.handleListAccounts(w2, authedAdminRequest(http.MethodGet, "/admin/accounts", ""))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
	var views []map[string]any
	if err := json.Unmarshal(w2.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 account, got %d", len(views))
	}
	if _, leaked := views[0]["api_key"]; leaked {
		t.Fatal("api_key must not appear in the list view")
	}
}

func TestDeleteAccountNotFound(t *testing.T) {
	s, _ := newTestAdmin(t)

	req := httptest.NewRequest(http.MethodDelete, "/admin/accounts/"+uuid.New().String(), nil)
	req.Header.Set("Authorization", "Bearer sk-admin")
	req.SetPathValue("id", uuid.New().String())

	w := httptest.NewRecorder()
	s.handleDeleteAccount(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestUpdateAccountTogglesEnabled(t *testing.T) {
	s, store := newTestAdmin(t)
	a := gwmodel.NewAccount("A1", "sk-1")
	store.accounts[a.ID] = a

	req := httptest.NewRequest(http.MethodPatch, "/admin/accounts/"+a.ID.String(), strings.NewReader(`{"enabled":false}`))
	req.Header.Set("Authorization", "Bearer sk-admin")
	req.SetPathValue("id", a.ID.String())

	w := httptest.NewRecorder()
	s.handleUpdateAccount(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if store.accounts[a.ID].Enabled {
		t.Fatal("expected account disabled after update")
	}
}

func TestRoutingStatsAndClearSessions(t *testing.T) {
	s, _ := newTestAdmin(t)

	w := httptest.NewRecorder()
	s.handleRoutingStats(w, authedAdminRequest(http.MethodGet, "/admin/routing/stats", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	s.handleClearSessions(w2, authedAdminRequest(http.MethodPost, "/admin/routing/sessions/clear", ""))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
}

func TestEventsAndLogsSnapshot(t *testing.T) {
	s, _ := newTestAdmin(t)
	s.bus.Publish(events.Event{Type: events.EventAccountAdded, AccountID: "acct-1", Message: "seed"})

	w := httptest.NewRecorder()
	s.handleEvents(w, authedAdminRequest(http.MethodGet, "/admin/events", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []events.Event
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].AccountID != "acct-1" {
		t.Fatalf("expected the published event back, got %+v", got)
	}

	w2 := httptest.NewRecorder()
	s.handleLogs(w2, authedAdminRequest(http.MethodGet, "/admin/logs", ""))
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w2.Code)
	}
}

func TestExportScrubsSecretsByDefault(t *testing.T) {
	s, store := newTestAdmin(t)
	a := gwmodel.NewAccount("A1", "sk-secret")
	store.accounts[a.ID] = a

	w := httptest.NewRecorder()
	s.handleExport(w, authedAdminRequest(http.MethodPost, "/admin/accounts/export", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sk-secret") {
		t.Fatal("expected export to scrub api_key by default")
	}
}
