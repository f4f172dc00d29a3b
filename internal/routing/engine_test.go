package routing

import (
	"testing"

	"github.com/google/uuid"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

func f(v float64) *float64 { return &v }

func seedEngine(strategy gwmodel.RoutingStrategy, accounts []*gwmodel.Account, usage map[uuid.UUID]*gwmodel.UsageSnapshot) *Engine {
	e := New(strategy, nil, nil)
	e.UpdateAccounts(accounts, usage)
	return e
}

func TestLeastUtilizedOptimality(t *testing.T) {
	a1 := gwmodel.NewAccount("A1", "sk-1")
	a2 := gwmodel.NewAccount("A2", "sk-2")
	usage := map[uuid.UUID]*gwmodel.UsageSnapshot{
		a1.ID: {HardLimit: f(100), MonthlyUsage: 50},
		a2.ID: {HardLimit: f(100), MonthlyUsage: 10},
	}
	e := seedEngine(gwmodel.StrategyLeastUtilized, []*gwmodel.Account{a1, a2}, usage)

	decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if decision.AccountID != a2.ID {
		t.Fatalf("expected least-utilized account A2, got %s", decision.Label)
	}
	if decision.UtilizationRatio != 0.10 {
		t.Fatalf("expected utilization ratio 0.10, got %v", decision.UtilizationRatio)
	}
}

func TestPriorityStrategy(t *testing.T) {
	a1 := gwmodel.NewAccount("A1", "sk-1").WithPriority(1)
	a2 := gwmodel.NewAccount("A2", "sk-2").WithPriority(5)
	e := seedEngine(gwmodel.StrategyPriority, []*gwmodel.Account{a1, a2}, nil)

	decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if decision.AccountID != a2.ID {
		t.Fatalf("expected higher-priority account A2, got %s", decision.Label)
	}
}

func TestAvailabilityFilterDisabled(t *testing.T) {
	a1 := gwmodel.NewAccount("A1", "sk-1")
	a1.Enabled = false
	a2 := gwmodel.NewAccount("A2", "sk-2")
	e := seedEngine(gwmodel.StrategyLeastUtilized, []*gwmodel.Account{a1, a2}, nil)

	decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if decision.AccountID != a2.ID {
		t.Fatalf("expected enabled account A2, got %s", decision.Label)
	}
}

func TestModelScopeFilter(t *testing.T) {
	a := gwmodel.NewAccount("scoped", "sk-1")
	a.ModelScope = []string{"gpt-4*"}
	e := seedEngine(gwmodel.StrategyLeastUtilized, []*gwmodel.Account{a}, nil)

	decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if decision.AccountID != a.ID {
		t.Fatalf("expected scoped account to match gpt-4o-mini")
	}

	_, err = e.ResolveAccount(gwmodel.RequestContext{Model: "dall-e-3"})
	if err == nil {
		t.Fatal("expected NoAvailableAccount for dall-e-3")
	}
	if _, ok := err.(*NoAvailableAccountError); !ok {
		t.Fatalf("expected *NoAvailableAccountError, got %T", err)
	}
}

func TestRoundRobinFairness(t *testing.T) {
	accounts := []*gwmodel.Account{
		gwmodel.NewAccount("A1", "sk-1"),
		gwmodel.NewAccount("A2", "sk-2"),
		gwmodel.NewAccount("A3", "sk-3"),
	}
	e := seedEngine(gwmodel.StrategyRoundRobin, accounts, nil)

	counts := make(map[uuid.UUID]int)
	const n = 30
	for i := 0; i < n; i++ {
		decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		counts[decision.AccountID]++
	}
	for _, a := range accounts {
		if counts[a.ID] != n/len(accounts) {
			t.Fatalf("expected %d selections for %s, got %d", n/len(accounts), a.Label, counts[a.ID])
		}
	}
}

func TestStickyStability(t *testing.T) {
	a1 := gwmodel.NewAccount("A1", "sk-1")
	a2 := gwmodel.NewAccount("A2", "sk-2")
	e := seedEngine(gwmodel.StrategySticky, []*gwmodel.Account{a1, a2}, nil)

	session := "session-abc"
	first, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4", SessionID: &session})
	if err != nil {
		t.Fatalf("resolve first: %v", err)
	}

	second, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4", SessionID: &session})
	if err != nil {
		t.Fatalf("resolve second: %v", err)
	}
	if second.AccountID != first.AccountID {
		t.Fatalf("sticky session drifted: first=%s second=%s", first.Label, second.Label)
	}
}

func TestCircuitOpensAfterThreeStrikes(t *testing.T) {
	a := gwmodel.NewAccount("A1", "sk-1")
	e := seedEngine(gwmodel.StrategyLeastUtilized, []*gwmodel.Account{a}, nil)

	e.ReportError(a.ID, true)
	e.ReportError(a.ID, true)
	e.ReportError(a.ID, true)

	_, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
	if err == nil {
		t.Fatal("expected account to be unavailable after circuit opens")
	}
}

// TestCircuitOpensMidStreamNoRefresh is the single-account shape of a proxy
// request sequence: three upstream failures trip the circuit, and the very
// next resolve (with no intervening UpdateAccounts/RefreshAccount) must
// still exclude the quarantined account rather than hand it back stale.
func TestCircuitOpensMidStreamNoRefresh(t *testing.T) {
	a1 := gwmodel.NewAccount("A1", "sk-1")
	a2 := gwmodel.NewAccount("A2", "sk-2")
	e := seedEngine(gwmodel.StrategyRoundRobin, []*gwmodel.Account{a1, a2}, nil)

	e.ReportError(a1.ID, true)
	e.ReportError(a1.ID, true)
	e.ReportError(a1.ID, true)

	for i := 0; i < 10; i++ {
		decision, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"})
		if err != nil {
			t.Fatalf("resolve after trip %d: %v", i, err)
		}
		if decision.AccountID == a1.ID {
			t.Fatalf("resolved tripped account %s with no intervening refresh", a1.Label)
		}
	}
}

func TestReportSuccessResetsCircuit(t *testing.T) {
	a := gwmodel.NewAccount("A1", "sk-1")
	e := seedEngine(gwmodel.StrategyLeastUtilized, []*gwmodel.Account{a}, nil)

	e.ReportError(a.ID, true)
	e.ReportError(a.ID, true)
	e.ReportSuccess(a.ID)

	if _, err := e.ResolveAccount(gwmodel.RequestContext{Model: "gpt-4"}); err != nil {
		t.Fatalf("expected account available after success reset: %v", err)
	}
}
