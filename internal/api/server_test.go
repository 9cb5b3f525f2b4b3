package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/root-aj000/ADS-GEN/internal/pipeline"
	"github.com/root-aj000/ADS-GEN/internal/store"
)

func testServer(t *testing.T) (*Server, *pipeline.Stats) {
	t.Helper()
	stats := pipeline.NewStats()
	progress, err := store.OpenProgress(filepath.Join(t.TempDir(), "progress.db"))
	require.NoError(t, err)
	t.Cleanup(func() { progress.Close() })
	return NewServer("127.0.0.1:0", stats, progress, nil), stats
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusEndpointReportsCounters(t *testing.T) {
	s, stats := testServer(t)
	stats.Success.Add(7)
	stats.Placeholder.Add(2)

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Counters pipeline.Snapshot `json:"counters"`
		Progress map[string]int    `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(7), body.Counters.Success)
	require.Equal(t, int64(2), body.Counters.Placeholder)
	require.NotNil(t, body.Progress)
}

func TestCacheEndpointDisabled(t *testing.T) {
	s, _ := testServer(t)
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cache", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enabled":false`)
}
