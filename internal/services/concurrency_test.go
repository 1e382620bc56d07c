package services

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestConcurrencyLimiter_BasicAcquireRelease(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 2, PerSequence: 1})
	ctx := context.Background()

	if err := limiter.Acquire(ctx, "seq-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if stats := limiter.Stats(); stats.ActiveRuns != 1 {
		t.Fatalf("expected 1 active, got %d", stats.ActiveRuns)
	}

	limiter.Release("seq-a")
	if stats := limiter.Stats(); stats.ActiveRuns != 0 {
		t.Fatalf("expected 0 active, got %d", stats.ActiveRuns)
	}
}

func TestConcurrencyLimiter_Defaults(t *testing.T) {
	stats := NewConcurrencyLimiter(ConcurrencyLimits{}).Stats()
	if stats.GlobalMax != 10 || stats.PerSequence != 1 {
		t.Errorf("defaults: got %+v", stats)
	}
}

func TestConcurrencyLimiter_GlobalLimit(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 2, PerSequence: 5})
	ctx := context.Background()

	limiter.Acquire(ctx, "seq-a")
	limiter.Acquire(ctx, "seq-b")

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(timeoutCtx, "seq-c"); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if limiter.TryAcquire("seq-c") {
		t.Fatal("TryAcquire should fail while the global limit is reached")
	}
}

func TestConcurrencyLimiter_PerSequenceLimit(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 10, PerSequence: 1})
	ctx := context.Background()

	if !limiter.TryAcquire("seq-a") {
		t.Fatal("first TryAcquire should succeed")
	}
	if limiter.TryAcquire("seq-a") {
		t.Fatal("second TryAcquire for the same sequence should fail")
	}
	// The failed attempt must not leak its global slot.
	if stats := limiter.Stats(); stats.ActiveRuns != 1 {
		t.Fatalf("expected 1 active, got %d", stats.ActiveRuns)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(timeoutCtx, "seq-a"); err == nil {
		t.Fatal("expected timeout error for per-sequence limit, got nil")
	}

	if err := limiter.Acquire(ctx, "seq-b"); err != nil {
		t.Fatalf("different sequence should succeed: %v", err)
	}
	limiter.Release("seq-a")
	limiter.Release("seq-b")
}

func TestConcurrencyLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewConcurrencyLimiter(ConcurrencyLimits{GlobalMax: 5, PerSequence: 3})
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(ctx, "seq"); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
			limiter.Release("seq")
		}()
	}
	wg.Wait()

	if stats := limiter.Stats(); stats.ActiveRuns != 0 {
		t.Fatalf("expected 0 active after all done, got %d", stats.ActiveRuns)
	}
}
