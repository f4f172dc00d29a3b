// Package gwmodel holds the record types shared across the store, the
// routing engine, and the proxy front-end.
package gwmodel

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Account is one upstream tenant credential.
type Account struct {
	ID            uuid.UUID  `json:"id"`
	Label         string     `json:"label"`
	APIKey        string     `json:"api_key,omitempty"`
	OrgID         *string    `json:"org_id,omitempty"`
	ModelScope    []string   `json:"model_scope"`
	DailyLimit    *float64   `json:"daily_limit,omitempty"`
	MonthlyLimit  *float64   `json:"monthly_limit,omitempty"`
	Priority      int        `json:"priority"`
	Enabled       bool       `json:"enabled"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastUsed      *time.Time `json:"last_used,omitempty"`
}

// NewAccount constructs an enabled account with a fresh id and no budgets.
func NewAccount(label, apiKey string) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:         uuid.New(),
		Label:      label,
		APIKey:     apiKey,
		ModelScope: nil,
		Priority:   0,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// WithLimits sets daily/monthly budgets and returns the account for chaining.
func (a *Account) WithLimits(daily, monthly *float64) *Account {
	a.DailyLimit = daily
	a.MonthlyLimit = monthly
	return a
}

// WithPriority sets routing priority and returns the account for chaining.
func (a *Account) WithPriority(p int) *Account {
	a.Priority = p
	return a
}

// SupportsModel reports whether m falls within the account's model scope.
// An empty scope matches every model; a scope entry ending in "*" matches
// by prefix, anything else matches exactly.
func (a *Account) SupportsModel(m string) bool {
	if len(a.ModelScope) == 0 {
		return true
	}
	for _, entry := range a.ModelScope {
		if strings.HasSuffix(entry, "*") {
			if strings.HasPrefix(m, strings.TrimSuffix(entry, "*")) {
				return true
			}
			continue
		}
		if entry == m {
			return true
		}
	}
	return false
}

// Touch stamps UpdatedAt and, when used, LastUsed.
func (a *Account) Touch(used bool) {
	now := time.Now().UTC()
	a.UpdatedAt = now
	if used {
		a.LastUsed = &now
	}
}
