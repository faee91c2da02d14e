// Package cache implements the Conversation Cache (C2, spec §4.12): a
// remote key-value store with per-key TTL holding recent turns and the
// rolling summary, degrading to process-local storage when the backend
// is unavailable. Grounded directly on
// internal/skills/redis_cache.go's nil-receiver-safe, Enabled-gated
// RedisSkillsCache, generalized from skills-prompt caching to the
// turn-list/summary-blob keys spec §4.12 names.
package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"manifold/internal/config"
	"manifold/internal/qa/types"
)

const defaultTTL = 2 * time.Hour
const defaultMaxTurns = 8

// Cache is the Conversation Cache surface the Session Manager depends on.
type Cache interface {
	AppendTurn(ctx context.Context, sessionID string, turn types.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]types.Turn, error)
	GetSummary(ctx context.Context, sessionID string) (types.RollingSummary, bool, error)
	SetSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error
	Delete(ctx context.Context, sessionID string) error
	// Degraded reports whether the cache is currently operating on the
	// in-process fallback rather than the configured remote backend, for
	// the health endpoint (spec §6).
	Degraded() bool
}

// RedisCache is the production Cache implementation. A nil *RedisCache
// (e.g. when cfg.Enabled is false) behaves as a safe no-op the same way
// RedisSkillsCache does, though callers are expected to use InMemoryCache
// as the degrade target instead of a nil cache (see New).
type RedisCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	maxTurns  int
	degraded  bool
	fallback  *InMemoryCache
	mu        sync.Mutex
}

func turnsKey(sessionID string) string   { return fmt.Sprintf("context:%s", sessionID) }
func summaryKey(sessionID string) string { return fmt.Sprintf("session:%s:summary", sessionID) }

// New builds a Cache from RedisConfig. When cfg.Enabled is false, or the
// initial ping fails, it returns an InMemoryCache directly (the degrade
// target), matching spec §4.12's "degrade to process-local storage using
// the same interface and semantics".
func New(cfg config.RedisConfig, ttlSeconds, maxTurns int) Cache {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if !cfg.Enabled {
		return NewInMemoryCache(ttl, maxTurns)
	}

	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Msg("conversation_cache_redis_ping_failed_degrading_to_memory")
		_ = client.Close()
		return NewInMemoryCache(ttl, maxTurns)
	}
	return &RedisCache{client: client, ttl: ttl, maxTurns: maxTurns, fallback: NewInMemoryCache(ttl, maxTurns)}
}

// AppendTurn pushes the new turn, trims to maxTurns, and resets expiry in
// a single pipelined round-trip, per spec §4.12.
func (c *RedisCache) AppendTurn(ctx context.Context, sessionID string, turn types.Turn) error {
	if c.isDegraded(ctx) {
		return c.fallback.AppendTurn(ctx, sessionID, turn)
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	key := turnsKey(sessionID)
	_, err = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, int64(c.maxTurns-1))
		p.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("conversation_cache_append_turn_error")
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
		return c.fallback.AppendTurn(ctx, sessionID, turn)
	}
	return nil
}

// RecentTurns returns the most recent turns newest-first, capped at limit.
func (c *RedisCache) RecentTurns(ctx context.Context, sessionID string, limit int) ([]types.Turn, error) {
	if c.isDegraded(ctx) {
		return c.fallback.RecentTurns(ctx, sessionID, limit)
	}
	if limit <= 0 || limit > c.maxTurns {
		limit = c.maxTurns
	}
	raw, err := c.client.LRange(ctx, turnsKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("conversation_cache_recent_turns_error")
		return c.fallback.RecentTurns(ctx, sessionID, limit)
	}
	out := make([]types.Turn, 0, len(raw))
	for _, item := range raw {
		var t types.Turn
		if err := json.Unmarshal([]byte(item), &t); err == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *RedisCache) GetSummary(ctx context.Context, sessionID string) (types.RollingSummary, bool, error) {
	if c.isDegraded(ctx) {
		return c.fallback.GetSummary(ctx, sessionID)
	}
	val, err := c.client.Get(ctx, summaryKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return types.RollingSummary{}, false, nil
		}
		log.Debug().Err(err).Str("session_id", sessionID).Msg("conversation_cache_get_summary_error")
		return c.fallback.GetSummary(ctx, sessionID)
	}
	var s types.RollingSummary
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return types.RollingSummary{}, false, nil
	}
	return s, true, nil
}

func (c *RedisCache) SetSummary(ctx context.Context, sessionID string, summary types.RollingSummary) error {
	if c.isDegraded(ctx) {
		return c.fallback.SetSummary(ctx, sessionID, summary)
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, summaryKey(sessionID), data, c.ttl).Err(); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("conversation_cache_set_summary_error")
		return c.fallback.SetSummary(ctx, sessionID, summary)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, sessionID string) error {
	if !c.isDegraded(ctx) {
		_, _ = c.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, turnsKey(sessionID))
			p.Del(ctx, summaryKey(sessionID))
			return nil
		})
	}
	return c.fallback.Delete(ctx, sessionID)
}

func (c *RedisCache) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// isDegraded re-checks liveness cheaply by reusing the sticky degraded
// flag; once flipped we stay on the fallback rather than flapping per
// call. Health reporting surfaces this via Degraded().
func (c *RedisCache) isDegraded(_ context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}
