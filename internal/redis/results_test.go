package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	client := &Client{rdb: rdb, logger: zap.NewNop()}
	return NewResultCache(client, zap.NewNop()), mr
}

func TestResultCache_RecordAndRecent(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	summary := BroadcastSummary{
		Title:       "Release notes",
		Sent:        250,
		Batches:     3,
		BatchErrors: 1,
		Tickets:     150,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}

	if err := cache.Record(ctx, summary); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := cache.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].Title != "Release notes" || got[0].Sent != 250 || got[0].BatchErrors != 1 {
		t.Errorf("roundtrip mismatch: %+v", got[0])
	}
}

func TestResultCache_NewestFirst(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cache.Record(ctx, BroadcastSummary{Title: fmt.Sprintf("broadcast-%d", i), Sent: i})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	got, err := cache.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d", len(got))
	}
	if got[0].Title != "broadcast-2" || got[2].Title != "broadcast-0" {
		t.Errorf("order wrong: %s, %s, %s", got[0].Title, got[1].Title, got[2].Title)
	}
}

func TestResultCache_TrimsHistory(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		if err := cache.Record(ctx, BroadcastSummary{Title: fmt.Sprintf("b-%d", i)}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	items, err := mr.List(resultsKey)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != maxResults {
		t.Fatalf("retained = %d, want %d", len(items), maxResults)
	}

	got, err := cache.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != maxResults {
		t.Fatalf("recent = %d", len(got))
	}
	// Oldest entries were trimmed.
	if got[0].Title != "b-29" {
		t.Errorf("newest = %s", got[0].Title)
	}
}

func TestResultCache_RecentRespectsLimit(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := cache.Record(ctx, BroadcastSummary{Title: fmt.Sprintf("b-%d", i)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := cache.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
}

func TestResultCache_SkipsMalformedEntries(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	if err := cache.Record(ctx, BroadcastSummary{Title: "good"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := mr.Lpush(resultsKey, "{not valid json"); err != nil {
		t.Fatalf("lpush: %v", err)
	}

	got, err := cache.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("entries = %d, want 1 (malformed skipped)", len(got))
	}
	if got[0].Title != "good" {
		t.Errorf("title = %s", got[0].Title)
	}
}

func TestResultCache_RecordSetsTTL(t *testing.T) {
	cache, mr := setupTestCache(t)

	if err := cache.Record(context.Background(), BroadcastSummary{Title: "x"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if mr.TTL(resultsKey) != resultsTTL {
		t.Fatalf("ttl = %v, want %v", mr.TTL(resultsKey), resultsTTL)
	}
}

func TestResultCache_RecentEmpty(t *testing.T) {
	cache, _ := setupTestCache(t)

	got, err := cache.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("entries = %d", len(got))
	}
}

func TestResultCache_RecordDefaultsCreatedAt(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	if err := cache.Record(ctx, BroadcastSummary{Title: "x"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, err := cache.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if got[0].CreatedAt.IsZero() {
		t.Fatal("created_at should be stamped")
	}
}

func TestClient_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := &Client{rdb: rdb, logger: zap.NewNop()}
	defer client.Close()

	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
