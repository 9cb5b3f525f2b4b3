// Package search finds candidate image URLs for a query by fanning a
// prioritized list of scrape-based providers behind per-provider rate
// limiters and circuit breakers.
package search

import "context"

// Candidate is one image URL a provider returned for a query.
type Candidate struct {
	URL    string
	Engine string
	Title  string
	Width  int
	Height int
}

// Provider is a single search engine. Implementations must be safe for
// concurrent use; the broker applies rate limiting and breaker state around
// every call.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Candidate, error)
	Name() string
}
