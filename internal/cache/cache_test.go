package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrPopulateFetchesOnceWhileFresh(t *testing.T) {
	c := New(DefaultConfig(), nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return "value", nil
	}

	for i := 0; i < 5; i++ {
		value, err := c.GetOrPopulate(ctx, "key", time.Minute, fetch)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "value" {
			t.Fatalf("expected value, got %v", value)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 fetch while fresh, got %d", calls)
	}

	stats := c.GetStats()
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
	if stats.Hits != 4 {
		t.Errorf("expected 4 hits, got %d", stats.Hits)
	}
}

func TestGetOrPopulateRefetchesAfterExpiry(t *testing.T) {
	c := New(DefaultConfig(), nil)
	ctx := context.Background()

	calls := 0
	fetch := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	if _, err := c.GetOrPopulate(ctx, "key", 10*time.Millisecond, fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	value, err := c.GetOrPopulate(ctx, "key", 10*time.Millisecond, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != 2 {
		t.Errorf("expected refetched value 2, got %v", value)
	}
	if calls != 2 {
		t.Errorf("expected 2 fetches, got %d", calls)
	}
}

func TestGetOrPopulateServesStaleOnFetchFailure(t *testing.T) {
	c := New(DefaultConfig(), nil)
	ctx := context.Background()

	c.Set("key", "stale-value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	value, err := c.GetOrPopulate(ctx, "key", 10*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream down")
	})
	if err != nil {
		t.Fatalf("expected stale fallback to absorb the error, got %v", err)
	}
	if value != "stale-value" {
		t.Errorf("expected stale value, got %v", value)
	}

	stats := c.GetStats()
	if stats.StaleHits != 1 {
		t.Errorf("expected 1 stale hit, got %d", stats.StaleHits)
	}
}

func TestGetOrPopulatePropagatesErrorWithoutPriorEntry(t *testing.T) {
	c := New(DefaultConfig(), nil)

	wantErr := errors.New("upstream down")
	_, err := c.GetOrPopulate(context.Background(), "missing", time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}
}

func TestGetOrPopulateDeduplicatesConcurrentMisses(t *testing.T) {
	c := New(DefaultConfig(), nil)

	var calls int64
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(ctx context.Context) (interface{}, error) {
		if atomic.AddInt64(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return "shared", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.GetOrPopulate(context.Background(), "key", time.Minute, fetch)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if value != "shared" {
				t.Errorf("expected shared value, got %v", value)
			}
		}()
	}

	<-started
	time.Sleep(10 * time.Millisecond) // let the rest queue on the flight
	close(release)
	wg.Wait()

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("expected a single shared fetch, got %d", n)
	}
}

func TestCapacityEvictsOldestInserted(t *testing.T) {
	config := DefaultConfig()
	config.MaxEntries = 3
	c := New(config, nil)

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("key-%d", i), i, time.Minute)
	}

	if c.Len() != 3 {
		t.Fatalf("expected 3 entries after eviction, got %d", c.Len())
	}
	for _, key := range []string{"key-0", "key-1"} {
		if _, _, ok := c.Get(key); ok {
			t.Errorf("expected %s to be evicted", key)
		}
	}
	for _, key := range []string{"key-2", "key-3", "key-4"} {
		if _, _, ok := c.Get(key); !ok {
			t.Errorf("expected %s to survive", key)
		}
	}

	if stats := c.GetStats(); stats.Evictions != 2 {
		t.Errorf("expected 2 evictions, got %d", stats.Evictions)
	}
}

func TestOverwriteDoesNotTriggerStaleEviction(t *testing.T) {
	config := DefaultConfig()
	config.MaxEntries = 2
	c := New(config, nil)

	c.Set("a", 1, time.Minute)
	c.Set("a", 2, time.Minute) // overwrite leaves a stale order record
	c.Set("b", 3, time.Minute)
	c.Set("c", 4, time.Minute)

	if _, _, ok := c.Get("a"); ok {
		t.Errorf("expected a to be evicted as oldest live entry")
	}
	if _, _, ok := c.Get("b"); !ok {
		t.Errorf("expected b to survive")
	}
	if _, _, ok := c.Get("c"); !ok {
		t.Errorf("expected c to survive")
	}
}

func TestGetReportsFreshness(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Set("key", "v", 10*time.Millisecond)

	if _, fresh, ok := c.Get("key"); !ok || !fresh {
		t.Fatalf("expected fresh entry, got fresh=%v ok=%v", fresh, ok)
	}

	time.Sleep(20 * time.Millisecond)

	if _, fresh, ok := c.Get("key"); !ok || fresh {
		t.Fatalf("expected stale entry to remain reachable, got fresh=%v ok=%v", fresh, ok)
	}
}

func TestDeleteAndFlush(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	c.Delete("a")
	if _, _, ok := c.Get("a"); ok {
		t.Errorf("expected a to be deleted")
	}

	c.Flush()
	if c.Len() != 0 {
		t.Errorf("expected empty cache after flush, got %d entries", c.Len())
	}
}

func TestMGetMSet(t *testing.T) {
	c := New(DefaultConfig(), nil)

	c.MSet(map[string]interface{}{"a": 1, "b": 2}, time.Minute)

	results := c.MGet([]string{"a", "b", "missing"})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results["a"] != 1 || results["b"] != 2 {
		t.Errorf("unexpected results: %v", results)
	}

	stats := c.GetStats()
	if stats.Hits != 2 || stats.Misses != 1 {
		t.Errorf("expected 2 hits and 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}
}

func TestSweepDropsEntriesPastStaleRetention(t *testing.T) {
	config := DefaultConfig()
	config.StaleRetention = 10 * time.Millisecond
	c := New(config, nil)

	c.Set("old", 1, 5*time.Millisecond)
	c.Set("live", 2, time.Minute)

	time.Sleep(30 * time.Millisecond)

	if removed := c.sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1 entry, got %d", removed)
	}
	if _, _, ok := c.Get("old"); ok {
		t.Errorf("expected old entry to be swept")
	}
	if _, _, ok := c.Get("live"); !ok {
		t.Errorf("expected live entry to survive sweep")
	}
}

func TestFingerprintIsStableAndDistinct(t *testing.T) {
	a := Fingerprint("coingecko", "prices")
	b := Fingerprint("coingecko", "prices")
	if a != b {
		t.Errorf("expected identical parts to fingerprint equally")
	}

	if Fingerprint("coingecko", "prices") == Fingerprint("coingecko", "defi") {
		t.Errorf("expected distinct parts to fingerprint differently")
	}

	// Joining must not collapse part boundaries.
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Errorf("expected part boundaries to be preserved")
	}
}
