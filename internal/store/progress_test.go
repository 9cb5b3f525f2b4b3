package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestProgress(t *testing.T) *Progress {
	t.Helper()
	p, err := OpenProgress(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestMarkFailedIncrementsRetries(t *testing.T) {
	p := openTestProgress(t)

	require.NoError(t, p.MarkFailed(7, "red widget", "timeout"))
	require.NoError(t, p.MarkFailed(7, "red widget", "no results"))

	rp, ok, err := p.Get(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusFailed, rp.Status)
	require.Equal(t, 2, rp.Retries)
	require.Equal(t, "no results", rp.Error)
}

func TestMarkDoneClearsError(t *testing.T) {
	p := openTestProgress(t)

	require.NoError(t, p.MarkFailed(3, "blue widget", "blocked"))
	require.NoError(t, p.MarkDone(3, "blue widget", "ad_0003.jpg", "bing", `{"score":0.3}`))

	rp, ok, err := p.Get(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusDone, rp.Status)
	require.Empty(t, rp.Error)
	require.Equal(t, "ad_0003.jpg", rp.Filename)
	require.Equal(t, "bing", rp.Source)
}

func TestDeadLettersRespectRetryBudget(t *testing.T) {
	p := openTestProgress(t)

	require.NoError(t, p.MarkFailed(1, "a", "x"))
	require.NoError(t, p.MarkFailed(2, "b", "x"))
	require.NoError(t, p.MarkFailed(2, "b", "x"))
	require.NoError(t, p.MarkDone(3, "c", "ad_0003.jpg", "google", ""))

	dlq, err := p.DeadLetters(2)
	require.NoError(t, err)
	require.Len(t, dlq, 1)
	require.Equal(t, 1, dlq[0].Idx)

	// Raising the budget admits the twice-failed row too.
	dlq, err = p.DeadLetters(3)
	require.NoError(t, err)
	require.Len(t, dlq, 2)
}

func TestDoneSetAndStats(t *testing.T) {
	p := openTestProgress(t)

	require.NoError(t, p.MarkDone(0, "a", "ad_0000.jpg", "google", ""))
	require.NoError(t, p.MarkDone(4, "b", "ad_0004.jpg", "cache", ""))
	require.NoError(t, p.MarkFailed(5, "c", "x"))

	done, err := p.DoneSet()
	require.NoError(t, err)
	require.Equal(t, map[int]struct{}{0: {}, 4: {}}, done)

	stats, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats[StatusDone])
	require.Equal(t, 1, stats[StatusFailed])
}

func TestResetEmptiesStore(t *testing.T) {
	p := openTestProgress(t)
	require.NoError(t, p.MarkDone(0, "a", "f", "s", ""))
	require.NoError(t, p.Reset())

	stats, err := p.Stats()
	require.NoError(t, err)
	require.Empty(t, stats)
}

func TestProgressSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.db")

	p, err := OpenProgress(path)
	require.NoError(t, err)
	require.NoError(t, p.MarkDone(9, "q", "ad_0009.png", "duckduckgo", ""))
	require.NoError(t, p.Close())

	p2, err := OpenProgress(path)
	require.NoError(t, err)
	defer p2.Close()

	rp, ok, err := p2.Get(9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ad_0009.png", rp.Filename)
}
