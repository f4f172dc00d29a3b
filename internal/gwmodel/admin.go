package gwmodel

import (
	"time"

	"github.com/google/uuid"
)

// CreateAccountRequest is the admin-surface payload for adding an account.
type CreateAccountRequest struct {
	Label        string   `json:"label"`
	APIKey       string   `json:"api_key"`
	OrgID        *string  `json:"org_id,omitempty"`
	ModelScope   []string `json:"model_scope,omitempty"`
	DailyLimit   *float64 `json:"daily_limit,omitempty"`
	MonthlyLimit *float64 `json:"monthly_limit,omitempty"`
	Priority     int      `json:"priority,omitempty"`
}

// UpdateAccountRequest is a partial update; nil fields are left untouched.
type UpdateAccountRequest struct {
	Label        *string  `json:"label,omitempty"`
	APIKey       *string  `json:"api_key,omitempty"`
	OrgID        *string  `json:"org_id,omitempty"`
	ModelScope   []string `json:"model_scope,omitempty"`
	DailyLimit   *float64 `json:"daily_limit,omitempty"`
	MonthlyLimit *float64 `json:"monthly_limit,omitempty"`
	Priority     *int     `json:"priority,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// ValidationResult is the outcome of probing an account's credential
// against the upstream provider's model-listing endpoint.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	OrgID string `json:"org_id,omitempty"`
	Error string `json:"error,omitempty"`
}

// AccountExport is the document produced by the export admin call and
// consumed by the import call.
type AccountExport struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Accounts   []Account `json:"accounts"`
}

const AccountExportVersion = 1

// ScrubSecrets returns a copy of the export with credentials blanked,
// used unless the caller explicitly asks for secrets to be included.
func (e AccountExport) ScrubSecrets() AccountExport {
	scrubbed := make([]Account, len(e.Accounts))
	for i, a := range e.Accounts {
		a.APIKey = ""
		scrubbed[i] = a
	}
	e.Accounts = scrubbed
	return e
}

// ImportResult reports how many accounts an import call created.
type ImportResult struct {
	Imported []uuid.UUID `json:"imported"`
}
