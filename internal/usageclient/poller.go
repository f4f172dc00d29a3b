package usageclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/codex-manager/gateway/internal/gwmodel"
)

// AccountLister supplies the current account set to poll.
type AccountLister interface {
	LoadAccounts(ctx context.Context) ([]*gwmodel.Account, error)
}

// SnapshotSink receives each freshly fetched snapshot.
type SnapshotSink interface {
	SaveUsageSnapshot(ctx context.Context, u *gwmodel.UsageSnapshot) error
}

// EngineRefresher is told about a fresh snapshot so it can fold it into
// the routing engine's in-memory view.
type EngineRefresher interface {
	RefreshAccount(accountID string, snapshot *gwmodel.UsageSnapshot)
}

type pollState struct {
	consecutiveErrors int
	nextPollAt        time.Time
}

// Poller drives periodic usage refresh via a cron schedule that ticks
// once a minute; each account is only actually fetched once its own
// computed next-poll deadline has elapsed.
type Poller struct {
	client  *Client
	lister  AccountLister
	sink    SnapshotSink
	refresh EngineRefresher

	minInterval time.Duration
	maxInterval time.Duration

	mu     sync.Mutex
	states map[string]*pollState

	cron *cron.Cron
}

func NewPoller(client *Client, lister AccountLister, sink SnapshotSink, refresh EngineRefresher, minInterval, maxInterval time.Duration) *Poller {
	return &Poller{
		client:      client,
		lister:      lister,
		sink:        sink,
		refresh:     refresh,
		minInterval: minInterval,
		maxInterval: maxInterval,
		states:      make(map[string]*pollState),
		cron:        cron.New(),
	}
}

// Start registers the once-a-minute tick and begins the cron scheduler.
func (p *Poller) Start(ctx context.Context) error {
	_, err := p.cron.AddFunc("@every 1m", func() { p.tick(ctx) })
	if err != nil {
		return err
	}
	p.cron.Start()
	return nil
}

func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Poller) tick(ctx context.Context) {
	accounts, err := p.lister.LoadAccounts(ctx)
	if err != nil {
		slog.Error("usage poller: list accounts failed", "error", err)
		return
	}

	now := time.Now()
	for _, a := range accounts {
		id := a.ID.String()
		p.mu.Lock()
		state, ok := p.states[id]
		if !ok {
			state = &pollState{}
			p.states[id] = state
		}
		due := state.nextPollAt.IsZero() || !now.Before(state.nextPollAt)
		p.mu.Unlock()

		if !due {
			continue
		}
		go p.pollOne(ctx, a)
	}
}

func (p *Poller) pollOne(ctx context.Context, a *gwmodel.Account) {
	id := a.ID.String()
	snapshot := p.client.FetchUsage(ctx, a)

	p.mu.Lock()
	state := p.states[id]
	state.nextPollAt = time.Now().Add(p.nextInterval(state.consecutiveErrors))
	p.mu.Unlock()

	if err := p.sink.SaveUsageSnapshot(ctx, snapshot); err != nil {
		slog.Error("usage poller: save snapshot failed", "account_id", id, "error", err)
		p.mu.Lock()
		state.consecutiveErrors++
		state.nextPollAt = time.Now().Add(p.nextInterval(state.consecutiveErrors))
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	state.consecutiveErrors = 0
	state.nextPollAt = time.Now().Add(p.nextInterval(0))
	p.mu.Unlock()

	if p.refresh != nil {
		p.refresh.RefreshAccount(id, snapshot)
	}
}

// nextInterval computes min(min_interval + 2^min(consecutive_errors,5)
// seconds, max_interval), per spec.md §4.2.
func (p *Poller) nextInterval(consecutiveErrors int) time.Duration {
	n := consecutiveErrors
	if n > 5 {
		n = 5
	}
	backoff := time.Duration(1<<uint(n)) * time.Second
	interval := p.minInterval + backoff
	if interval > p.maxInterval {
		return p.maxInterval
	}
	return interval
}
