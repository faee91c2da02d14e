package cache

import (
	"context"
	"sync"
	"time"

	"manifold/internal/qa/types"
)

// InMemoryCache implements Cache entirely in-process; it is both the
// degrade target for RedisCache and a standalone option for tests and
// single-process deployments. TTL is enforced lazily on read, matching
// the remote cache's expiring-key semantics closely enough for the
// degraded-mode contract spec §4.12 requires (same interface and
// semantics, not necessarily identical eviction timing).
type InMemoryCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	maxTurns int
	turns    map[string][]turnEntry
	summary  map[string]summaryEntry
}

type turnEntry struct {
	turn      types.Turn
	expiresAt time.Time
}

type summaryEntry struct {
	summary   types.RollingSummary
	expiresAt time.Time
}

// NewInMemoryCache constructs a process-local cache.
func NewInMemoryCache(ttl time.Duration, maxTurns int) *InMemoryCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	return &InMemoryCache{
		ttl:      ttl,
		maxTurns: maxTurns,
		turns:    make(map[string][]turnEntry),
		summary:  make(map[string]summaryEntry),
	}
}

func (c *InMemoryCache) AppendTurn(_ context.Context, sessionID string, turn types.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry := time.Now().Add(c.ttl)
	entries := append([]turnEntry{{turn: turn, expiresAt: expiry}}, c.turns[sessionID]...)
	if len(entries) > c.maxTurns {
		entries = entries[:c.maxTurns]
	}
	c.turns[sessionID] = entries
	return nil
}

func (c *InMemoryCache) RecentTurns(_ context.Context, sessionID string, limit int) ([]types.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > c.maxTurns {
		limit = c.maxTurns
	}
	entries := c.turns[sessionID]
	now := time.Now()
	out := make([]types.Turn, 0, limit)
	for _, e := range entries {
		if now.After(e.expiresAt) {
			continue
		}
		out = append(out, e.turn)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (c *InMemoryCache) GetSummary(_ context.Context, sessionID string) (types.RollingSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.summary[sessionID]
	if !ok || time.Now().After(entry.expiresAt) {
		return types.RollingSummary{}, false, nil
	}
	return entry.summary, true, nil
}

func (c *InMemoryCache) SetSummary(_ context.Context, sessionID string, summary types.RollingSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summary[sessionID] = summaryEntry{summary: summary, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.turns, sessionID)
	delete(c.summary, sessionID)
	return nil
}

func (c *InMemoryCache) Degraded() bool { return false }
