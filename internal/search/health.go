package search

import (
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
)

// EngineMetrics aggregates the observed behavior of one provider over a run.
type EngineMetrics struct {
	Calls     int
	Successes int
	Failures  int
	Results   int
	Latency   time.Duration
	LastError string
}

func (m EngineMetrics) avgLatency() time.Duration {
	if m.Calls == 0 {
		return 0
	}
	return m.Latency / time.Duration(m.Calls)
}

// Health tracks per-provider metrics for the completion report and for
// priority suggestions.
type Health struct {
	mu      sync.Mutex
	engines map[string]*EngineMetrics
}

func NewHealth() *Health {
	return &Health{engines: make(map[string]*EngineMetrics)}
}

func (h *Health) RecordCall(engine string, results int, latency time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.engines[engine]
	if m == nil {
		m = &EngineMetrics{}
		h.engines[engine] = m
	}
	m.Calls++
	m.Latency += latency
	if err != nil {
		m.Failures++
		m.LastError = err.Error()
		return
	}
	m.Successes++
	m.Results += results
}

// Report returns a copy of the metrics keyed by engine name.
func (h *Health) Report() map[string]EngineMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]EngineMetrics, len(h.engines))
	for name, m := range h.engines {
		out[name] = *m
	}
	return out
}

// SuggestPriority orders engines by total results returned, busiest first.
// Engines never called keep their relative input order at the end.
func (h *Health) SuggestPriority(current []string) []string {
	report := h.Report()
	out := make([]string, len(current))
	copy(out, current)
	sort.SliceStable(out, func(i, j int) bool {
		return report[out[i]].Results > report[out[j]].Results
	})
	return out
}

// LogReport prints the aligned per-engine table.
func (h *Health) LogReport() {
	report := h.Report()
	if len(report) == 0 {
		return
	}
	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)

	bold := color.New(color.Bold).Sprint
	log.Infof("[health] %s", bold("engine       calls    ok  fail  results  avg_latency"))
	for _, name := range names {
		m := report[name]
		line := color.GreenString("%-12s %5d %5d %5d %8d %12s",
			name, m.Calls, m.Successes, m.Failures, m.Results, m.avgLatency().Round(time.Millisecond))
		if m.Failures > m.Successes {
			line = color.RedString("%-12s %5d %5d %5d %8d %12s",
				name, m.Calls, m.Successes, m.Failures, m.Results, m.avgLatency().Round(time.Millisecond))
		}
		log.Infof("[health] %s", line)
		if m.LastError != "" {
			log.Infof("[health]   last error: %s", m.LastError)
		}
	}
}
