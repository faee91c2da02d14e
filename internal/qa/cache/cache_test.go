package cache

import (
	"context"
	"testing"
	"time"

	"manifold/internal/config"
	"manifold/internal/qa/types"
)

func TestInMemoryCacheAppendAndOrder(t *testing.T) {
	c := NewInMemoryCache(time.Hour, 8)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := c.AppendTurn(ctx, "s1", types.Turn{Query: string(rune('a' + i))}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	turns, err := c.RecentTurns(ctx, "s1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	// newest-first
	if turns[0].Query != "c" {
		t.Errorf("expected newest-first ordering, got %q first", turns[0].Query)
	}
}

func TestInMemoryCacheTrimsToMax(t *testing.T) {
	c := NewInMemoryCache(time.Hour, 2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = c.AppendTurn(ctx, "s1", types.Turn{Query: string(rune('a' + i))})
	}
	turns, _ := c.RecentTurns(ctx, "s1", 10)
	if len(turns) != 2 {
		t.Fatalf("expected trim to 2, got %d", len(turns))
	}
}

func TestInMemoryCacheSummaryRoundTrip(t *testing.T) {
	c := NewInMemoryCache(time.Hour, 8)
	ctx := context.Background()
	_, ok, _ := c.GetSummary(ctx, "s1")
	if ok {
		t.Fatalf("expected no summary initially")
	}
	_ = c.SetSummary(ctx, "s1", types.RollingSummary{Text: "narrative"})
	s, ok, _ := c.GetSummary(ctx, "s1")
	if !ok || s.Text != "narrative" {
		t.Fatalf("expected summary round trip, got %+v ok=%v", s, ok)
	}
}

func TestInMemoryCacheExpiry(t *testing.T) {
	c := NewInMemoryCache(time.Millisecond, 8)
	ctx := context.Background()
	_ = c.AppendTurn(ctx, "s1", types.Turn{Query: "q"})
	time.Sleep(5 * time.Millisecond)
	turns, _ := c.RecentTurns(ctx, "s1", 10)
	if len(turns) != 0 {
		t.Fatalf("expected expired turns to be excluded, got %d", len(turns))
	}
}

func TestInMemoryCacheDelete(t *testing.T) {
	c := NewInMemoryCache(time.Hour, 8)
	ctx := context.Background()
	_ = c.AppendTurn(ctx, "s1", types.Turn{Query: "q"})
	_ = c.SetSummary(ctx, "s1", types.RollingSummary{Text: "x"})
	_ = c.Delete(ctx, "s1")
	turns, _ := c.RecentTurns(ctx, "s1", 10)
	_, ok, _ := c.GetSummary(ctx, "s1")
	if len(turns) != 0 || ok {
		t.Fatalf("expected session cleared after delete")
	}
}

func TestNewFallsBackToMemoryWhenDisabled(t *testing.T) {
	c := New(config.RedisConfig{Enabled: false}, 0, 0)
	if c.Degraded() {
		t.Errorf("in-memory cache reports itself as not degraded (it's the intended configuration, not a failure)")
	}
}
