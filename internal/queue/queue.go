// Package queue implements the backpressure intake queue (C6): a bounded
// FIFO decoupling the bus callback from downstream processing, with a
// configurable drop policy and an optional rate limit.
package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DropPolicy selects what happens to an incoming item when the queue is
// already at capacity.
type DropPolicy int

const (
	DropOldest DropPolicy = iota
	DropNewest
)

// Config controls capacity, drop policy, and an optional rate limit.
type Config struct {
	MaxSize        int
	DropPolicy     DropPolicy
	RateLimitPerSec float64 // 0 disables rate limiting
}

func DefaultConfig() Config {
	return Config{MaxSize: 10000, DropPolicy: DropOldest, RateLimitPerSec: 0}
}

// Stats is a snapshot of the queue's counters.
type Stats struct {
	Enqueued     uint64
	Dequeued     uint64
	Dropped      uint64
	RateLimited  uint64
	CurrentSize  int
	UtilizationPct float64
}

// Queue is a bounded, mutex-guarded FIFO with a condition variable signaling
// "not empty" to blocked consumers.
type Queue struct {
	cfg     Config
	mu      sync.Mutex
	notEmpty *sync.Cond
	items   []any

	limiter *rate.Limiter

	enqueued    uint64
	dequeued    uint64
	dropped     uint64
	rateLimited uint64
}

func New(cfg Config) *Queue {
	q := &Queue{cfg: cfg, items: make([]any, 0, cfg.MaxSize)}
	q.notEmpty = sync.NewCond(&q.mu)
	if cfg.RateLimitPerSec > 0 {
		q.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1)
	}
	return q
}

// Put enqueues item, applying the rate limit and drop policy. It never
// blocks and returns false when the item was rejected or dropped (the
// caller may still count it as "accepted into the system" per the drop
// policy's semantics; Put's return value distinguishes DropNewest refusal
// specifically).
func (q *Queue) Put(item any) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limiter != nil && !q.limiter.Allow() {
		q.rateLimited++
		return false
	}

	if len(q.items) >= q.cfg.MaxSize {
		switch q.cfg.DropPolicy {
		case DropOldest:
			q.items = q.items[1:]
			q.dropped++
			q.items = append(q.items, item)
			q.enqueued++
			q.notEmpty.Signal()
			return true
		case DropNewest:
			q.enqueued++
			q.dropped++
			return false
		}
	}

	q.items = append(q.items, item)
	q.enqueued++
	q.notEmpty.Signal()
	return true
}

// Get blocks until an item is available or timeout elapses, returning
// ok=false on timeout. A zero timeout blocks forever.
func (q *Queue) Get(timeout time.Duration) (any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for len(q.items) == 0 {
		if timeout <= 0 {
			q.notEmpty.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		if !q.waitWithTimeout(remaining) {
			return nil, false
		}
	}

	item := q.items[0]
	q.items = q.items[1:]
	q.dequeued++
	return item, true
}

// GetBatch waits up to timeout for at least one item, then drains up to max
// items without further waiting.
func (q *Queue) GetBatch(max int, timeout time.Duration) []any {
	first, ok := q.Get(timeout)
	if !ok {
		return nil
	}
	batch := make([]any, 0, max)
	batch = append(batch, first)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(batch) < max && len(q.items) > 0 {
		batch = append(batch, q.items[0])
		q.items = q.items[1:]
		q.dequeued++
	}
	return batch
}

// waitWithTimeout wakes the condition variable after d elapses if it has not
// already been signaled, returning false if the timeout fired first. Must be
// called with q.mu held; releases and reacquires it like Cond.Wait.
func (q *Queue) waitWithTimeout(d time.Duration) bool {
	woken := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		close(woken)
		q.notEmpty.Broadcast()
		q.mu.Unlock()
	})

	q.notEmpty.Wait()
	timer.Stop()

	select {
	case <-woken:
		return false
	default:
		return true
	}
}

// Stats returns a snapshot of the queue's counters, satisfying
// enqueued = dequeued + dropped + current_size.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := len(q.items)
	util := 0.0
	if q.cfg.MaxSize > 0 {
		util = 100.0 * float64(size) / float64(q.cfg.MaxSize)
	}

	return Stats{
		Enqueued:       q.enqueued,
		Dequeued:       q.dequeued,
		Dropped:        q.dropped,
		RateLimited:    q.rateLimited,
		CurrentSize:    size,
		UtilizationPct: util,
	}
}
