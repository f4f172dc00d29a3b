// Package routing maintains the in-memory view of accounts, usage, and
// per-account health, and selects one account per request under a
// configurable strategy.
package routing

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codex-manager/gateway/internal/events"
	"github.com/codex-manager/gateway/internal/gwmodel"
)

// Engine is the routing component: resolve_account must complete without
// I/O — only in-memory reads against the status vector and health map.
type Engine struct {
	mu       sync.RWMutex
	statuses []*gwmodel.AccountStatus

	sessionMap sync.Map // session id -> account id (uuid string)
	healthMap  sync.Map // account id (uuid string) -> *health

	rrIndex uint64

	strategyMu sync.RWMutex
	strategy   gwmodel.RoutingStrategy

	bus     *events.Bus
	metrics *metrics
}

// New constructs an Engine with the given initial strategy. reg may be
// nil to skip Prometheus registration (e.g. in tests).
func New(strategy gwmodel.RoutingStrategy, bus *events.Bus, reg prometheus.Registerer) *Engine {
	return &Engine{
		strategy: strategy,
		bus:      bus,
		metrics:  newMetrics(reg),
	}
}

// UpdateAccounts replaces the status vector atomically: readers see
// either the entire old vector or the entire new one, never a mix.
func (e *Engine) UpdateAccounts(accounts []*gwmodel.Account, usageByID map[uuid.UUID]*gwmodel.UsageSnapshot) {
	statuses := make([]*gwmodel.AccountStatus, len(accounts))
	for i, a := range accounts {
		usage := usageByID[a.ID]
		statuses[i] = e.buildStatus(a, usage)
	}

	e.mu.Lock()
	e.statuses = statuses
	e.mu.Unlock()

	if e.metrics != nil {
		var available, open int
		for _, s := range statuses {
			if s.Available {
				available++
			}
		}
		e.healthMap.Range(func(_, v any) bool {
			if v.(*health).isOpen() {
				open++
			}
			return true
		})
		e.metrics.accountsTotal.Set(float64(len(statuses)))
		e.metrics.accountsAvailable.Set(float64(available))
		e.metrics.openCircuits.Set(float64(open))
	}
}

// buildStatus joins an account with its usage and derives availability.
// Disablement reason names the first failing clause, in order:
// disabled, over-limit, circuit open.
func (e *Engine) buildStatus(a *gwmodel.Account, usage *gwmodel.UsageSnapshot) *gwmodel.AccountStatus {
	h := e.healthFor(a.ID)

	status := &gwmodel.AccountStatus{Account: *a, Usage: usage, Available: true}

	switch {
	case !a.Enabled:
		status.Available = false
		status.DisabledReason = "disabled"
	case usage != nil && usage.IsOverLimit(a):
		status.Available = false
		status.DisabledReason = "over_limit"
	case !h.canAttempt():
		status.Available = false
		status.DisabledReason = "circuit_open"
	}
	return status
}

func (e *Engine) healthFor(id uuid.UUID) *health {
	v, _ := e.healthMap.LoadOrStore(id.String(), newHealth())
	return v.(*health)
}

// candidates returns the statuses eligible for model m: available per the
// cached status, within the account's model scope, and with a circuit that
// is not open right now. The cached Available flag is only refreshed on
// UpdateAccounts/RefreshAccount, but ReportError can trip a circuit between
// refreshes, so the live health check runs here too — resolve_account must
// never hand back a quarantined account just because nothing has rebuilt
// the status vector since its circuit opened.
func (e *Engine) candidates(statuses []*gwmodel.AccountStatus, model string) []*gwmodel.AccountStatus {
	var out []*gwmodel.AccountStatus
	for _, s := range statuses {
		if !s.Available {
			continue
		}
		if !s.Account.SupportsModel(model) {
			continue
		}
		if !e.healthFor(s.Account.ID).canAttempt() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ResolveAccount picks one account for ctx under the active strategy.
func (e *Engine) ResolveAccount(ctx gwmodel.RequestContext) (*gwmodel.RoutingDecision, error) {
	e.mu.RLock()
	statuses := e.statuses
	e.mu.RUnlock()

	cands := e.candidates(statuses, ctx.Model)
	if len(cands) == 0 {
		return nil, &NoAvailableAccountError{Model: ctx.Model}
	}

	strategy := e.activeStrategy()

	var chosen *gwmodel.AccountStatus
	var reason string

	switch strategy {
	case gwmodel.StrategyRoundRobin:
		idx := atomic.AddUint64(&e.rrIndex, 1) - 1
		i := int(idx % uint64(len(cands)))
		chosen = cands[i]
		reason = fmt.Sprintf("round_robin:%d", i)

	case gwmodel.StrategyPriority:
		chosen = selectPriority(cands)
		reason = fmt.Sprintf("priority:%d", chosen.Account.Priority)

	case gwmodel.StrategySticky:
		chosen, reason = e.resolveSticky(ctx, cands)

	default: // LeastUtilized, and the fallback for an unrecognized tag
		chosen = selectLeastUtilized(cands)
		reason = "least_utilized"
	}

	e.healthFor(chosen.Account.ID).touch()
	if e.metrics != nil {
		e.metrics.decisions.WithLabelValues(reason).Inc()
	}

	return &gwmodel.RoutingDecision{
		AccountID:        chosen.Account.ID,
		Label:            chosen.Account.Label,
		Credential:       chosen.Account.APIKey,
		OrgID:            chosen.Account.OrgID,
		Reason:           reason,
		UtilizationRatio: chosen.UtilizationRatio(),
		RemainingBudget:  remainingBudget(chosen),
	}, nil
}

func remainingBudget(s *gwmodel.AccountStatus) *float64 {
	if s.Usage == nil {
		return nil
	}
	return s.Usage.RemainingBudget
}

// resolveSticky consults the session map; on a miss or a no-longer-available
// mapped account it degrades to LeastUtilized and records the winner when
// a session id was supplied.
func (e *Engine) resolveSticky(ctx gwmodel.RequestContext, cands []*gwmodel.AccountStatus) (*gwmodel.AccountStatus, string) {
	if ctx.SessionID != nil {
		if v, ok := e.sessionMap.Load(*ctx.SessionID); ok {
			mappedID := v.(string)
			for _, c := range cands {
				if c.Account.ID.String() == mappedID {
					return c, "sticky:" + *ctx.SessionID
				}
			}
		}
	}

	chosen := selectLeastUtilized(cands)
	if ctx.SessionID != nil {
		e.sessionMap.Store(*ctx.SessionID, chosen.Account.ID.String())
		return chosen, "sticky:" + *ctx.SessionID
	}
	return chosen, "least_utilized"
}

// ReportSuccess resets the account's circuit to Closed.
func (e *Engine) ReportSuccess(id uuid.UUID) {
	e.healthFor(id).recordSuccess()
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventRecover, AccountID: id.String(), Message: "request succeeded"})
	}
}

// ReportError records a strike (if fatal) and opens the circuit once the
// threshold is reached.
func (e *Engine) ReportError(id uuid.UUID, fatal bool) {
	tripped := e.healthFor(id).recordError(fatal)
	if !tripped {
		return
	}
	if e.metrics != nil {
		e.metrics.circuitTrips.Inc()
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventQuarantine, AccountID: id.String(), Message: "circuit opened after repeated failures"})
	}
	slog.Warn("account circuit opened", "account_id", id.String())
}

// RefreshAccount folds a freshly polled snapshot into the status vector
// in place, without waiting for the next full UpdateAccounts call. Used
// by the usage poller, which refreshes one account at a time.
func (e *Engine) RefreshAccount(accountID string, snapshot *gwmodel.UsageSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.statuses {
		if s.Account.ID.String() != accountID {
			continue
		}
		s.Usage = snapshot
		wasOverLimit := s.DisabledReason == "over_limit"
		if s.DisabledReason == "over_limit" || s.DisabledReason == "" {
			switch {
			case !s.Account.Enabled:
				s.Available, s.DisabledReason = false, "disabled"
			case snapshot.IsOverLimit(&s.Account):
				s.Available, s.DisabledReason = false, "over_limit"
			case !e.healthFor(s.Account.ID).canAttempt():
				s.Available, s.DisabledReason = false, "circuit_open"
			default:
				s.Available, s.DisabledReason = true, ""
			}
		}
		if e.bus != nil {
			e.bus.Publish(events.Event{Type: events.EventUsageRefresh, AccountID: accountID, Message: "usage snapshot refreshed"})
			if s.DisabledReason == "over_limit" && !wasOverLimit {
				e.bus.Publish(events.Event{Type: events.EventBudgetExceed, AccountID: accountID, Message: "account exceeded its usage budget"})
			}
		}
		return
	}
}

// GetStats returns a point-in-time summary of the engine's view.
func (e *Engine) GetStats() gwmodel.RoutingStats {
	e.mu.RLock()
	statuses := e.statuses
	e.mu.RUnlock()

	var available, open int
	for _, s := range statuses {
		if s.Available {
			available++
		}
	}
	e.healthMap.Range(func(_, v any) bool {
		if v.(*health).isOpen() {
			open++
		}
		return true
	})

	var sessions int
	e.sessionMap.Range(func(_, _ any) bool {
		sessions++
		return true
	})

	return gwmodel.RoutingStats{
		Total:          len(statuses),
		Available:      available,
		Strategy:       e.activeStrategy(),
		OpenCircuits:   open,
		ActiveSessions: sessions,
	}
}

// ClearSessions forgets every sticky-session mapping.
func (e *Engine) ClearSessions() {
	e.sessionMap.Range(func(k, _ any) bool {
		e.sessionMap.Delete(k)
		return true
	})
}

// GetAccountStatuses returns a snapshot clone of the current status vector.
func (e *Engine) GetAccountStatuses() []gwmodel.AccountStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]gwmodel.AccountStatus, len(e.statuses))
	for i, s := range e.statuses {
		out[i] = *s
	}
	return out
}

func (e *Engine) activeStrategy() gwmodel.RoutingStrategy {
	e.strategyMu.RLock()
	defer e.strategyMu.RUnlock()
	return e.strategy
}

// SetStrategy mutates the active strategy under the engine's write lock.
// The source exposes a "set routing strategy" call the engine cannot
// accept dynamically in the strict sense; this implementation accepts it.
func (e *Engine) SetStrategy(s gwmodel.RoutingStrategy) {
	e.strategyMu.Lock()
	e.strategy = s
	e.strategyMu.Unlock()
}
