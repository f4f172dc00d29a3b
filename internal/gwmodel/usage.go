package gwmodel

import (
	"time"

	"github.com/google/uuid"
)

// Token cost constants, hard-coded to one pair regardless of model — a
// known approximation, preserved as-is rather than per-model pricing.
const (
	CostPerInputToken  = 1.5e-6
	CostPerOutputToken = 6.0e-6
)

// UsageSnapshot is a point-in-time set of usage facts for one account.
type UsageSnapshot struct {
	AccountID       uuid.UUID `json:"account_id"`
	TokensUsed      uint64    `json:"tokens_used"`
	CostEstimate    float64   `json:"cost_estimate"`
	HardLimit       *float64  `json:"hard_limit,omitempty"`
	SoftLimit       *float64  `json:"soft_limit,omitempty"`
	RemainingBudget *float64  `json:"remaining_budget,omitempty"`
	DailyUsage      float64   `json:"daily_usage"`
	MonthlyUsage    float64   `json:"monthly_usage"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewUsageSnapshot returns a zero-valued snapshot stamped with the
// current time, ready for the caller to fill in.
func NewUsageSnapshot(accountID uuid.UUID) *UsageSnapshot {
	return &UsageSnapshot{
		AccountID: accountID,
		Timestamp: time.Now().UTC(),
	}
}

// UtilizationRatio is month-to-date dollars used over the hard monthly
// limit, clamped to [0,1]. Zero when there is no hard limit.
func (u *UsageSnapshot) UtilizationRatio() float64 {
	if u.HardLimit == nil || *u.HardLimit <= 0 {
		return 0
	}
	ratio := u.MonthlyUsage / *u.HardLimit
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// IsOverLimit reports whether the account has exhausted its daily limit,
// monthly limit, or remaining budget.
func (u *UsageSnapshot) IsOverLimit(a *Account) bool {
	if a.DailyLimit != nil && u.DailyUsage >= *a.DailyLimit {
		return true
	}
	if a.MonthlyLimit != nil && u.MonthlyUsage >= *a.MonthlyLimit {
		return true
	}
	if u.RemainingBudget != nil && *u.RemainingBudget <= 0 {
		return true
	}
	return false
}
