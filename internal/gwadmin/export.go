package gwadmin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

// handleExport dumps the full account catalog. Credentials are scrubbed
// unless the caller passes ?include_secrets=true — an explicit opt-in
// for operators migrating to a new database file.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.store.LoadAccounts(r.Context())
	if err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	dump := make([]gwmodel.Account, len(accounts))
	for i, a := range accounts {
		dump[i] = *a
	}
	export := gwmodel.AccountExport{
		Version:    gwmodel.AccountExportVersion,
		ExportedAt: time.Now().UTC(),
		Accounts:   dump,
	}
	if r.URL.Query().Get("include_secrets") != "true" {
		export = export.ScrubSecrets()
	}
	writeJSON(w, http.StatusOK, export)
}

// handleImport re-creates accounts from a previously exported document.
// An account with a blank api_key (a scrubbed export) is skipped rather
// than imported with an empty credential; it is simply left out of the
// returned imported list.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var doc gwmodel.AccountExport
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if doc.Version != gwmodel.AccountExportVersion {
		writeAdminError(w, http.StatusBadRequest, "invalid_request", "unsupported export version")
		return
	}

	result := gwmodel.ImportResult{}
	for _, src := range doc.Accounts {
		if src.APIKey == "" {
			continue
		}
		a := gwmodel.NewAccount(src.Label, src.APIKey)
		a.OrgID = src.OrgID
		a.ModelScope = src.ModelScope
		a.WithLimits(src.DailyLimit, src.MonthlyLimit)
		a.WithPriority(src.Priority)
		a.Enabled = src.Enabled

		if err := s.store.SaveAccount(r.Context(), a); err != nil {
			writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		result.Imported = append(result.Imported, a.ID)
	}

	if err := s.reloadEngine(r.Context()); err != nil {
		writeAdminError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
