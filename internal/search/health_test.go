package search

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthAggregatesCalls(t *testing.T) {
	h := NewHealth()
	h.RecordCall("google", 12, 80*time.Millisecond, nil)
	h.RecordCall("google", 8, 120*time.Millisecond, nil)
	h.RecordCall("google", 0, 40*time.Millisecond, errors.New("http 429"))
	h.RecordCall("bing", 5, 200*time.Millisecond, nil)

	report := h.Report()
	g := report["google"]
	require.Equal(t, 3, g.Calls)
	require.Equal(t, 2, g.Successes)
	require.Equal(t, 1, g.Failures)
	require.Equal(t, 20, g.Results)
	require.Equal(t, "http 429", g.LastError)
	require.Equal(t, 80*time.Millisecond, g.avgLatency())

	b := report["bing"]
	require.Equal(t, 1, b.Calls)
	require.Equal(t, 5, b.Results)
	require.Empty(t, b.LastError)
}

func TestHealthReportIsACopy(t *testing.T) {
	h := NewHealth()
	h.RecordCall("google", 3, time.Millisecond, nil)

	report := h.Report()
	entry := report["google"]
	entry.Results = 999
	report["google"] = entry

	require.Equal(t, 3, h.Report()["google"].Results)
}

func TestSuggestPriorityOrdersByYield(t *testing.T) {
	h := NewHealth()
	h.RecordCall("google", 2, time.Millisecond, nil)
	h.RecordCall("duckduckgo", 30, time.Millisecond, nil)
	h.RecordCall("bing", 10, time.Millisecond, nil)

	got := h.SuggestPriority([]string{"google", "duckduckgo", "bing"})
	require.Equal(t, []string{"duckduckgo", "bing", "google"}, got)
}

func TestSuggestPriorityKeepsUncalledEnginesInOrder(t *testing.T) {
	h := NewHealth()
	h.RecordCall("bing", 4, time.Millisecond, nil)

	got := h.SuggestPriority([]string{"google", "duckduckgo", "bing"})
	require.Equal(t, "bing", got[0])
	require.Equal(t, []string{"google", "duckduckgo"}, got[1:])
}
