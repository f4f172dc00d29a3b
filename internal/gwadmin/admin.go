// Package gwadmin is the JSON management surface: add/update/remove/get/list
// accounts, toggle enabled, refresh usage, inspect routing stats, clear
// sessions, report proxy status, export/import the account catalog, and
// tail the lifecycle-event bus and log ring buffer (one-shot, or a
// following stream with ?follow=true). There is one operator, so there is
// no per-user auth split here — the same bearer key that guards the proxy
// guards this surface too.
package gwadmin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/codex-manager/gateway/internal/auth"
	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
	"github.com/codex-manager/gateway/internal/routing"
	"github.com/codex-manager/gateway/internal/usageclient"
)

// Store is the subset of cryptostore.Store this surface depends on.
type Store interface {
	SaveAccount(ctx context.Context, a *gwmodel.Account) error
	LoadAccount(ctx context.Context, id uuid.UUID) (*gwmodel.Account, error)
	LoadAccounts(ctx context.Context) ([]*gwmodel.Account, error)
	DeleteAccount(ctx context.Context, id uuid.UUID) (bool, error)
	SaveUsageSnapshot(ctx context.Context, u *gwmodel.UsageSnapshot) error
	LoadLatestUsage(ctx context.Context, accountID uuid.UUID) (*gwmodel.UsageSnapshot, error)
}

// ProxyStatuser reports the front-end's running state.
type ProxyStatuser interface {
	Status() gwmodel.ProxyStatus
}

// Server implements the account/usage/routing management endpoints.
type Server struct {
	store  Store
	engine *routing.Engine
	client *usageclient.Client
	proxy  ProxyStatuser
	authMw *auth.Middleware
	bus    *events.Bus
	logs   *events.LogHandler
}

func New(store Store, engine *routing.Engine, client *usageclient.Client, proxy ProxyStatuser, apiKey string, bus *events.Bus, logs *events.LogHandler) *Server {
	return &Server{
		store:  store,
		engine: engine,
		client: client,
		proxy:  proxy,
		authMw: auth.NewMiddleware(apiKey),
		bus:    bus,
		logs:   logs,
	}
}

// Register mounts the admin routes on mux, all behind bearer auth.
func (s *Server) Register(mux *http.ServeMux) {
	authed := s.authMw.Authenticate

	mux.Handle("POST /admin/accounts", authed(http.HandlerFunc(s.handleCreateAccount)))
	mux.Handle("GET /admin/accounts", authed(http.HandlerFunc(s.handleListAccounts)))
	mux.Handle("GET /admin/accounts/{id}", authed(http.HandlerFunc(s.handleGetAccount)))
	mux.Handle("PATCH /admin/accounts/{id}", authed(http.HandlerFunc(s.handleUpdateAccount)))
	mux.Handle("DELETE /admin/accounts/{id}", authed(http.HandlerFunc(s.handleDeleteAccount)))
	mux.Handle("POST /admin/accounts/{id}/refresh", authed(http.HandlerFunc(s.handleRefreshOne)))
	mux.Handle("POST /admin/accounts/{id}/validate", authed(http.HandlerFunc(s.handleValidateAccount)))

	mux.Handle("POST /admin/usage/refresh", authed(http.HandlerFunc(s.handleRefreshAll)))

	mux.Handle("GET /admin/routing/stats", authed(http.HandlerFunc(s.handleRoutingStats)))
	mux.Handle("POST /admin/routing/sessions/clear", authed(http.HandlerFunc(s.handleClearSessions)))

	mux.Handle("GET /admin/proxy/status", authed(http.HandlerFunc(s.handleProxyStatus)))

	mux.Handle("POST /admin/accounts/export", authed(http.HandlerFunc(s.handleExport)))
	mux.Handle("POST /admin/accounts/import", authed(http.HandlerFunc(s.handleImport)))

	mux.Handle("GET /admin/events", authed(http.HandlerFunc(s.handleEvents)))
	mux.Handle("GET /admin/logs", authed(http.HandlerFunc(s.handleLogs)))
}

// reloadEngine re-reads every account and its latest snapshot from the
// store and folds the full set into the routing engine, the same path
// startup uses.
func (s *Server) reloadEngine(ctx context.Context) error {
	accounts, err := s.store.LoadAccounts(ctx)
	if err != nil {
		return err
	}
	usageByID := make(map[uuid.UUID]*gwmodel.UsageSnapshot, len(accounts))
	for _, a := range accounts {
		u, err := s.store.LoadLatestUsage(ctx, a.ID)
		if err != nil {
			slog.Warn("load latest usage failed", "account_id", a.ID.String(), "error", err)
			continue
		}
		if u != nil {
			usageByID[a.ID] = u
		}
	}
	s.engine.UpdateAccounts(accounts, usageByID)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAdminError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, map[string]string{"type": errType, "message": message})
}

func pathAccountID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
