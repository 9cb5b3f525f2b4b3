// Package api exposes a small read-only status endpoint for a running batch,
// so progress can be watched without tailing logs.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/pipeline"
	"github.com/root-aj000/ADS-GEN/internal/store"
)

// BuildCommit is set by main to the git commit hash baked in at build time.
var BuildCommit = "dev"

// Server serves run status over HTTP. All endpoints are read-only.
type Server struct {
	stats    *pipeline.Stats
	progress *store.Progress
	cache    *store.Cache
	http     *http.Server
}

func NewServer(addr string, stats *pipeline.Stats, progress *store.Progress, cache *store.Cache) *Server {
	s := &Server{stats: stats, progress: progress, cache: cache}
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/cache", s.handleCache).Methods("GET")
	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves in the background; a run never fails because the status
// port is taken.
func (s *Server) Start() {
	go func() {
		log.Infof("[api] status server listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warnf("[api] status server: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "commit": BuildCommit})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"commit":   BuildCommit,
		"counters": s.stats.Snapshot(),
	}
	if s.progress != nil {
		if ps, err := s.progress.Stats(); err == nil {
			body["progress"] = ps
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, body)
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeJSON(w, map[string]bool{"enabled": false})
		return
	}
	cs, err := s.cache.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"enabled":     true,
		"entries":     cs.Entries,
		"total_hits":  cs.TotalHits,
		"total_bytes": cs.TotalBytes,
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
