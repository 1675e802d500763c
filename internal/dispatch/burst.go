package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/KTo1/ai-friend-sub000/internal/metrics"
)

// BurstGuard caps how many sends a single conversation gets within a
// sliding horizon, independent of the global token bucket. Timestamps are
// pruned lazily on every TryAcquire, and a background sweep drops
// conversations that went idle so the map does not grow forever.
type BurstGuard struct {
	mu      sync.Mutex
	limit   int
	horizon time.Duration
	sends   map[string][]time.Time

	sweepInterval time.Duration
	idleHorizon   time.Duration

	now func() time.Time
}

func NewBurstGuard(limit int, horizon, sweepInterval, idleHorizon time.Duration) *BurstGuard {
	return &BurstGuard{
		limit:         limit,
		horizon:       horizon,
		sends:         make(map[string][]time.Time),
		sweepInterval: sweepInterval,
		idleHorizon:   idleHorizon,
		now:           time.Now,
	}
}

// TryAcquire records one send for the conversation if it is under the
// burst limit. Denials record nothing.
func (g *BurstGuard) TryAcquire(conversationID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.horizon)

	recent := g.sends[conversationID][:0]
	for _, ts := range g.sends[conversationID] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= g.limit {
		g.sends[conversationID] = recent
		metrics.BurstDenialsTotal.Inc()
		return false
	}

	g.sends[conversationID] = append(recent, now)
	return true
}

// Sweep removes conversations whose newest send is older than the idle
// horizon.
func (g *BurstGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.idleHorizon)
	removed := 0
	for id, sends := range g.sends {
		if len(sends) == 0 || !sends[len(sends)-1].After(cutoff) {
			delete(g.sends, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled.
func (g *BurstGuard) Run(ctx context.Context) {
	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := g.Sweep(); removed > 0 {
				slog.Debug("burst guard sweep", "conversations_removed", removed)
			}
		}
	}
}

func (g *BurstGuard) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sends)
}
