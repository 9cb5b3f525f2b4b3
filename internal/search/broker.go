package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const memoSize = 256

// ErrProvidersDown means no provider produced a response at all: every call
// errored or every breaker was open. Distinct from a successful search that
// found nothing, so callers can treat an outage as a retryable failure.
var ErrProvidersDown = errors.New("every search provider failed")

// BrokerConfig carries the tunables the broker needs; see the search section
// of the yaml config.
type BrokerConfig struct {
	MinResultsFallback int
	MaxResults         int
	InterEngineDelay   time.Duration
	RatePerSecond      float64
	Burst              int
	BreakerThreshold   int
	BreakerCooldown    time.Duration
}

type engineEntry struct {
	provider Provider
	limiter  *rate.Limiter
	breaker  *Breaker
}

// Broker fans a query across providers in priority order, deduplicates URLs
// preserving discovery order, and stops early once enough candidates are in
// hand. Provider failures are recorded and skipped, never fatal.
type Broker struct {
	entries []engineEntry
	cfg     BrokerConfig
	health  *Health
	memo    *lru.Cache[string, []Candidate]

	// sleep is swapped in tests to avoid real inter-engine delays.
	sleep func(context.Context, time.Duration)
}

func NewBroker(providers []Provider, cfg BrokerConfig, health *Health) *Broker {
	entries := make([]engineEntry, 0, len(providers))
	for _, p := range providers {
		entries = append(entries, engineEntry{
			provider: p,
			limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
			breaker:  NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		})
	}
	memo, _ := lru.New[string, []Candidate](memoSize)
	return &Broker{
		entries: entries,
		cfg:     cfg,
		health:  health,
		memo:    memo,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Search returns up to MaxResults deduplicated candidates for query.
// Duplicate rows in one run hit the in-process memo and skip providers
// entirely.
func (b *Broker) Search(ctx context.Context, query string) ([]Candidate, error) {
	key := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if hit, ok := b.memo.Get(key); ok {
		log.Debugf("[broker] memo hit for %q", query)
		return hit, nil
	}

	var combined []Candidate
	seen := make(map[string]struct{})
	responded := false

	for i, entry := range b.entries {
		if ctx.Err() != nil {
			return combined, ctx.Err()
		}
		name := entry.provider.Name()

		if entry.breaker.Open() {
			log.Warnf("[broker] %s breaker open, skipping", name)
			continue
		}
		if err := entry.limiter.Wait(ctx); err != nil {
			return combined, err
		}

		start := time.Now()
		results, err := entry.provider.Search(ctx, query, b.cfg.MaxResults)
		b.health.RecordCall(name, len(results), time.Since(start), err)
		if err != nil {
			entry.breaker.RecordFailure()
			log.Warnf("[broker] %s failed for %q: %v", name, query, err)
			continue
		}
		entry.breaker.RecordSuccess()
		responded = true

		for _, c := range results {
			if _, dup := seen[c.URL]; dup {
				continue
			}
			seen[c.URL] = struct{}{}
			combined = append(combined, c)
		}

		if len(combined) >= b.cfg.MinResultsFallback {
			break
		}
		if i < len(b.entries)-1 && b.cfg.InterEngineDelay > 0 {
			b.sleep(ctx, b.cfg.InterEngineDelay)
		}
	}

	if len(combined) > b.cfg.MaxResults {
		combined = combined[:b.cfg.MaxResults]
	}
	if len(combined) == 0 {
		if !responded {
			return nil, fmt.Errorf("searching %q: %w", query, ErrProvidersDown)
		}
		return nil, fmt.Errorf("no results for %q", query)
	}
	b.memo.Add(key, combined)
	return combined, nil
}
