package search

import (
	"sync"
	"time"
)

// Breaker is a minimal circuit breaker. Consecutive failures at or past the
// threshold open it; once the cooldown has elapsed the next Open() call
// clears all state and reports closed, letting exactly that caller probe the
// provider again.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	failures  int
	openedAt  time.Time

	// now is swapped in tests.
	now func() time.Time
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// RecordSuccess closes the breaker and clears the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openedAt = time.Time{}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold && b.openedAt.IsZero() {
		b.openedAt = b.now()
	}
}

// Open reports whether calls should be skipped. After the cooldown it resets
// and returns false so the caller performs the probe request.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openedAt.IsZero() {
		return false
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		b.failures = 0
		b.openedAt = time.Time{}
		return false
	}
	return true
}
