package services

import (
	"context"
	"sync"
	"sync/atomic"
)

// ConcurrencyLimits bounds triggered sequence runs.
type ConcurrencyLimits struct {
	GlobalMax   int `json:"global_max"`   // default: 10
	PerSequence int `json:"per_sequence"` // default: 1
}

// ConcurrencyLimiter controls how many sequence runs may be in flight. It
// uses channel-based counting semaphores at two levels: global and
// per-sequence.
type ConcurrencyLimiter struct {
	global      chan struct{}
	perSequence map[string]chan struct{}
	mu          sync.Mutex
	limits      ConcurrencyLimits
	activeCount atomic.Int64
}

func NewConcurrencyLimiter(limits ConcurrencyLimits) *ConcurrencyLimiter {
	if limits.GlobalMax <= 0 {
		limits.GlobalMax = 10
	}
	if limits.PerSequence <= 0 {
		limits.PerSequence = 1
	}
	return &ConcurrencyLimiter{
		global:      make(chan struct{}, limits.GlobalMax),
		perSequence: make(map[string]chan struct{}),
		limits:      limits,
	}
}

// Acquire blocks until both a global and a per-sequence slot are available,
// or returns ctx's error.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context, name string) error {
	select {
	case c.global <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	ch := c.sequenceChan(name)
	select {
	case ch <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		<-c.global
		return ctx.Err()
	}
}

// TryAcquire takes both slots without waiting. It reports false when either
// level is full.
func (c *ConcurrencyLimiter) TryAcquire(name string) bool {
	select {
	case c.global <- struct{}{}:
	default:
		return false
	}
	select {
	case c.sequenceChan(name) <- struct{}{}:
		c.activeCount.Add(1)
		return true
	default:
		<-c.global
		return false
	}
}

// Release returns both the global and per-sequence slots.
func (c *ConcurrencyLimiter) Release(name string) {
	c.activeCount.Add(-1)

	c.mu.Lock()
	if ch, ok := c.perSequence[name]; ok {
		select {
		case <-ch:
		default:
		}
	}
	c.mu.Unlock()

	select {
	case <-c.global:
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	ActiveRuns  int `json:"active_runs"`
	GlobalMax   int `json:"global_max"`
	PerSequence int `json:"per_sequence"`
}

func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		ActiveRuns:  int(c.activeCount.Load()),
		GlobalMax:   c.limits.GlobalMax,
		PerSequence: c.limits.PerSequence,
	}
}

func (c *ConcurrencyLimiter) sequenceChan(name string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.perSequence[name]
	if !ok {
		ch = make(chan struct{}, c.limits.PerSequence)
		c.perSequence[name] = ch
	}
	return ch
}
