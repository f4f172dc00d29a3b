package gwmodel

import "github.com/google/uuid"

// RoutingStrategy selects how the engine picks among available accounts.
// Kept as a closed tagged variant with a single string tag, per design —
// no interface-based strategy dispatch.
type RoutingStrategy string

const (
	StrategyLeastUtilized RoutingStrategy = "least_utilized"
	StrategyRoundRobin    RoutingStrategy = "round_robin"
	StrategyPriority      RoutingStrategy = "priority"
	StrategySticky        RoutingStrategy = "sticky"
)

// AccountStatus is the engine-side join of an Account with its most
// recent usage snapshot, plus derived availability.
type AccountStatus struct {
	Account        Account        `json:"account"`
	Usage          *UsageSnapshot `json:"usage,omitempty"`
	Available      bool           `json:"available"`
	DisabledReason string         `json:"disabled_reason,omitempty"`
}

// UtilizationRatio returns the status's usage ratio, or 0 with no snapshot.
func (s *AccountStatus) UtilizationRatio() float64 {
	if s.Usage == nil {
		return 0
	}
	return s.Usage.UtilizationRatio()
}

// RoutingDecision is the engine's per-request output.
type RoutingDecision struct {
	AccountID        uuid.UUID `json:"account_id"`
	Label            string    `json:"label"`
	Credential       string    `json:"-"`
	OrgID            *string   `json:"org_id,omitempty"`
	Reason           string    `json:"reason"`
	UtilizationRatio float64   `json:"utilization_ratio"`
	RemainingBudget  *float64  `json:"remaining_budget,omitempty"`
}

// RequestContext carries the per-request inputs the engine decides on.
type RequestContext struct {
	Model           string
	EstimatedTokens *int
	SessionID       *string
	Priority        *int
}

// RoutingStats summarizes the engine's current view for observability.
type RoutingStats struct {
	Total          int             `json:"total"`
	Available      int             `json:"available"`
	Strategy       RoutingStrategy `json:"strategy"`
	OpenCircuits   int             `json:"open_circuits"`
	ActiveSessions int             `json:"active_sessions"`
}
