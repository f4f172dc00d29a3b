package gwadmin

import (
	"encoding/json"
	"net/http"

	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
)

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req gwmodel.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Label == "" || req.APIKey == "" {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "label and api_key are required")
		return
	}

	a := gwmodel.NewAccount(req.Label, req.APIKey)
	a.OrgID = req.OrgID
	a.ModelScope = req.ModelScope
	a.WithLimits(req.DailyLimit, req.MonthlyLimit)
	a.WithPriority(req.Priority)

	if err := s.store.SaveAccount(r.Context(), a); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if err := s.reloadEngine(r.Context()); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.EventAccountAdded, AccountID: a.ID.String(), Message: a.Label})
	}
	writeJSON(w, http.StatusCreated, redactedAccount(a))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.LoadAccounts(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	views := make([]map[string]any, len(accounts))
	for i, a := range accounts {
		views[i] = redactedAccount(a)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
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
	usage, _ := s.store.LoadLatestUsage(r.Context(), id)
	view := redactedAccount(a)
	if usage != nil {
		view["usage"] = usage
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
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

	var req gwmodel.UpdateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.Label != nil {
		a.Label = *req.Label
	}
	if req.APIKey != nil {
		a.APIKey = *req.APIKey
	}
	if req.OrgID != nil {
		a.OrgID = req.OrgID
	}
	if req.ModelScope != nil {
		a.ModelScope = req.ModelScope
	}
	if req.DailyLimit != nil {
		a.DailyLimit = req.DailyLimit
	}
	if req.MonthlyLimit != nil {
		a.MonthlyLimit = req.MonthlyLimit
	}
	if req.Priority != nil {
		a.Priority = *req.Priority
	}
	if req.Enabled != nil {
		a.Enabled = *req.Enabled
	}
	a.Touch(false)

	if err := s.store.SaveAccount(r.Context(), a); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if err := s.reloadEngine(r.Context()); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, redactedAccount(a))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathAccountID(r)
	if err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "invalid account id")
		return
	}
	removed, err := s.store.DeleteAccount(r.Context(), id)
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !removed {
		writeAdminError(w, http.StatusNotFound, "not_found", "account not found")
		return
	}
	if err := s.reloadEngine(r.Context()); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{Type: events.EventAccountRemove, AccountID: id.String()})
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id.String()})
}

func (s *Server) handleValidateAccount(w http.ResponseWriter, r *http.Request) {
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
	result, err := s.client.ValidateKey(r.Context(), a.APIKey, a.OrgID)
	if err != nil {
		writeAdminError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// redactedAccount renders an account for the management surface with the
// credential withheld — api_key carries `json:"omitempty"` but is never
// populated here regardless.
func redactedAccount(a *gwmodel.Account) map[string]any {
	return map[string]any{
		"id":            a.ID,
		"label":         a.Label,
		"org_id":        a.OrgID,
		"model_scope":   a.ModelScope,
		"daily_limit":   a.DailyLimit,
		"monthly_limit": a.MonthlyLimit,
		"priority":      a.Priority,
		"enabled":       a.Enabled,
		"created_at":    a.CreatedAt,
		"updated_at":    a.UpdatedAt,
		"last_used":     a.LastUsed,
	}
}
