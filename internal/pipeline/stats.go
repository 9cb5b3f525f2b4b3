// Package pipeline drives rows through search, selection, conditioning,
// composition, and verification, over a bounded worker pool with durable
// progress and a dead-letter second pass.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

// Stats are process-wide monotonic counters. Workers increment them
// atomically; the orchestrator owns the final report.
type Stats struct {
	Total           atomic.Int64
	Success         atomic.Int64
	Failed          atomic.Int64
	Placeholder     atomic.Int64
	BgRemoved       atomic.Int64
	BgSkipped       atomic.Int64
	Skipped         atomic.Int64
	CacheHits       atomic.Int64
	DLQRetries      atomic.Int64
	Verified        atomic.Int64
	VerifyFails     atomic.Int64
	PostVerified    atomic.Int64
	PostVerifyFails atomic.Int64
	Recomposes      atomic.Int64

	Start time.Time
}

func NewStats() *Stats {
	return &Stats{Start: time.Now()}
}

func (s *Stats) Elapsed() time.Duration { return time.Since(s.Start) }

// Snapshot is a plain-int copy for reports and the status API.
type Snapshot struct {
	Total           int64 `json:"total"`
	Success         int64 `json:"success"`
	Failed          int64 `json:"failed"`
	Placeholder     int64 `json:"placeholder"`
	BgRemoved       int64 `json:"bg_removed"`
	BgSkipped       int64 `json:"bg_skipped"`
	Skipped         int64 `json:"skipped"`
	CacheHits       int64 `json:"cache_hits"`
	DLQRetries      int64 `json:"dlq_retries"`
	Verified        int64 `json:"verified"`
	VerifyFails     int64 `json:"verify_fails"`
	PostVerified    int64 `json:"post_verified"`
	PostVerifyFails int64 `json:"post_verify_fails"`
	Recomposes      int64 `json:"recomposes"`
	ElapsedSeconds  int64 `json:"elapsed_seconds"`
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Total:           s.Total.Load(),
		Success:         s.Success.Load(),
		Failed:          s.Failed.Load(),
		Placeholder:     s.Placeholder.Load(),
		BgRemoved:       s.BgRemoved.Load(),
		BgSkipped:       s.BgSkipped.Load(),
		Skipped:         s.Skipped.Load(),
		CacheHits:       s.CacheHits.Load(),
		DLQRetries:      s.DLQRetries.Load(),
		Verified:        s.Verified.Load(),
		VerifyFails:     s.VerifyFails.Load(),
		PostVerified:    s.PostVerified.Load(),
		PostVerifyFails: s.PostVerifyFails.Load(),
		Recomposes:      s.Recomposes.Load(),
		ElapsedSeconds:  int64(s.Elapsed().Seconds()),
	}
}

// LogReport prints the end-of-run summary.
func (s *Stats) LogReport() {
	snap := s.Snapshot()
	okLine := color.GreenString("success=%d", snap.Success)
	if snap.Failed > 0 {
		okLine += " " + color.RedString("failed=%d", snap.Failed)
	} else {
		okLine += " failed=0"
	}
	log.Infof("[stats] total=%d %s placeholder=%d skipped=%d cache_hits=%d",
		snap.Total, okLine, snap.Placeholder, snap.Skipped, snap.CacheHits)
	log.Infof("[stats] verified=%d verify_fails=%d post_verified=%d post_verify_fails=%d recomposes=%d",
		snap.Verified, snap.VerifyFails, snap.PostVerified, snap.PostVerifyFails, snap.Recomposes)
	log.Infof("[stats] bg_removed=%d bg_skipped=%d dlq_retries=%d elapsed=%s",
		snap.BgRemoved, snap.BgSkipped, snap.DLQRetries, s.Elapsed().Round(time.Second))
}
