package gwproxy

import (
	"net/http"
	"sync"
	"time"
)

// transportPool hands out a per-account *http.Client so that connections
// to the upstream provider are never shared across tenant credentials.
// Idle entries are swept on a timer, mirroring the teacher's pool, minus
// the fingerprinting/proxy-dialer machinery this deployment has no use for.
type transportPool struct {
	mu             sync.Mutex
	entries        map[string]*poolEntry
	requestTimeout time.Duration
}

type poolEntry struct {
	client   *http.Client
	lastUsed time.Time
}

func newTransportPool(requestTimeout time.Duration) *transportPool {
	return &transportPool{
		entries:        make(map[string]*poolEntry),
		requestTimeout: requestTimeout,
	}
}

func (p *transportPool) clientFor(accountID string) *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[accountID]; ok {
		entry.lastUsed = time.Now()
		return entry.client
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: p.requestTimeout,
	}
	p.entries[accountID] = &poolEntry{client: client, lastUsed: time.Now()}
	return client
}

// runCleanup evicts transports idle past idleTimeout until stop is closed.
func (p *transportPool) runCleanup(stop <-chan struct{}, idleTimeout time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.cleanup(idleTimeout)
		}
	}
}

func (p *transportPool) cleanup(idleTimeout time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-idleTimeout)
	for key, entry := range p.entries {
		if entry.lastUsed.Before(cutoff) {
			entry.client.CloseIdleConnections()
			delete(p.entries, key)
		}
	}
}
