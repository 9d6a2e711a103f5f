package fetcher

import (
	"context"
	"sync"
	"time"
)

// Budget tracks the last-seen rate limit of every credential and paces requests
// so that one credential is never called more often than once per minDelay.
type Budget struct {
	mu       sync.Mutex
	entries  []budgetEntry
	minDelay time.Duration
	now      func() time.Time
	sleep    SleepFunc
}

type budgetEntry struct {
	remaining int
	reset     time.Time
	seen      bool
	nextCall  time.Time
}

// NewBudget creates a new budget for n credentials
func NewBudget(n int, minDelay time.Duration, sleep SleepFunc) *Budget {
	if sleep == nil {
		sleep = Sleep
	}
	return &Budget{
		entries:  make([]budgetEntry, n),
		minDelay: minDelay,
		now:      time.Now,
		sleep:    sleep,
	}
}

// Wait waits until it's safe to make another call with credential i
func (b *Budget) Wait(ctx context.Context, i int) error {
	if b.minDelay <= 0 {
		return ctx.Err()
	}

	b.mu.Lock()
	now := b.now()
	e := &b.entries[i]
	wait := e.nextCall.Sub(now)
	if wait < 0 {
		wait = 0
	}
	// reserve the slot before releasing the lock so concurrent callers queue up
	e.nextCall = now.Add(wait + b.minDelay)
	b.mu.Unlock()

	if wait == 0 {
		return ctx.Err()
	}
	return b.sleep(ctx, wait)
}

// Update records the rate limit reported by a response for credential i
func (b *Budget) Update(i, remaining int, reset time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[i].remaining = remaining
	b.entries[i].reset = reset
	b.entries[i].seen = true
}

// Limit returns the last-seen rate limit for credential i; ok is false before the first response
func (b *Budget) Limit(i int) (remaining int, reset time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.entries[i]
	return e.remaining, e.reset, e.seen
}

// Exhausted reports whether credential i was last seen at or below reserve and its
// window has not reset yet. Credentials never seen are not exhausted.
func (b *Budget) Exhausted(i, reserve int) bool {
	remaining, reset, ok := b.Limit(i)
	return ok && remaining <= reserve && reset.After(b.now())
}
