package gwadmin

import (
	"log/slog"
	"net/http"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

func (s *Server) handleRefreshOne(w http.ResponseWriter, r *http.Request) {
	id, err := pathAccountID(r)
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "invalid account id")
		return
	}
	a, err := s.store.LoadAccount(r.Context(), id)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if a == nil {
		writeAdminError(w, http.StatusNotFound, "not_found", "account not found")
		return
	}

	snapshot := s.client.FetchUsage(r.Context(), a)
	if err := s.store.SaveUsageSnapshot(r.Context(), snapshot); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.engine.RefreshAccount(id.String(), snapshot)
	writeJSON(w, http.StatusOK, snapshot)
}

// handleRefreshAll fetches usage for every account, one at a time; a
// single account's failure does not abort the rest, matching the usage
// client's own per-sub-fetch isolation.
func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.LoadAccounts(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	refreshed := make([]*gwmodel.UsageSnapshot, 0, len(accounts))
	for _, a := range accounts {
		snapshot := s.client.FetchUsage(r.Context(), a)
		if err := s.store.SaveUsageSnapshot(r.Context(), snapshot); err != nil {
			slog.Warn("save usage snapshot failed", "account_id", a.ID.String(), "error", err)
			continue
		}
		s.engine.RefreshAccount(a.ID.String(), snapshot)
		refreshed = append(refreshed, snapshot)
	}
	writeJSON(w, http.StatusOK, map[string]any{"refreshed": refreshed})
}
