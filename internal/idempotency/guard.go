// Package idempotency deduplicates change notifications that arrive more than
// once within a short window.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/benvon/learning-stats/internal/models"
	"github.com/coder/quartz"
)

// DefaultWindow is how long a processed id suppresses repeat deliveries
const DefaultWindow = 30 * time.Second

// Key scopes deduplication to one record and direction, so a delete that
// follows a create inside the window still applies
func Key(action models.Action, recordID string) string {
	return string(action) + ":" + recordID
}

// Guard records recently processed source-record ids
type Guard interface {
	// WasRecentlyProcessed reports whether id was marked within the window
	WasRecentlyProcessed(ctx context.Context, id string) bool
	// MarkProcessed records or refreshes id
	MarkProcessed(ctx context.Context, id string)
	// Claim marks id and reports true unless it was already marked within the
	// window, as one atomic step
	Claim(ctx context.Context, id string) bool
	// Release forgets id so the next delivery is processed
	Release(ctx context.Context, id string)
}

// MemoryGuard is a process-local Guard
type MemoryGuard struct {
	mu      sync.Mutex
	clock   quartz.Clock
	window  time.Duration
	entries map[string]time.Time
}

// NewMemoryGuard creates a guard with the given window. A nil clock uses the real clock.
func NewMemoryGuard(window time.Duration, clock quartz.Clock) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &MemoryGuard{
		clock:   clock,
		window:  window,
		entries: make(map[string]time.Time),
	}
}

// WasRecentlyProcessed implements Guard
func (g *MemoryGuard) WasRecentlyProcessed(_ context.Context, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recent(id, g.clock.Now())
}

// MarkProcessed implements Guard
func (g *MemoryGuard) MarkProcessed(_ context.Context, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mark(id, g.clock.Now())
}

// Claim implements Guard
func (g *MemoryGuard) Claim(_ context.Context, id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if g.recent(id, now) {
		return false
	}
	g.mark(id, now)
	return true
}

// Release implements Guard
func (g *MemoryGuard) Release(_ context.Context, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.entries, id)
}

// Len returns the number of tracked ids, expired or not
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *MemoryGuard) recent(id string, now time.Time) bool {
	at, ok := g.entries[id]
	return ok && now.Sub(at) < g.window
}

// mark records id and evicts entries older than twice the window. Caller holds mu.
func (g *MemoryGuard) mark(id string, now time.Time) {
	g.entries[id] = now
	for key, at := range g.entries {
		if now.Sub(at) > 2*g.window {
			delete(g.entries, key)
		}
	}
}

var _ Guard = (*MemoryGuard)(nil)
