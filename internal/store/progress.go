// Package store holds the two durable SQLite stores: per-row progress for
// resume and the cross-run image cache. Both run WAL journaling with a 10s
// busy timeout and serialize access through one shared connection guarded by
// a mutex.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
)

const busyTimeoutMS = 10000

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// RowStatus values stored in the progress table.
const (
	StatusPending = "pending"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// RowProgress is one row's durable state.
type RowProgress struct {
	Idx         int
	Status      string
	Query       string
	Filename    string
	Source      string
	Error       string
	Retries     int
	CompletedAt float64
	MetaJSON    string
}

// Progress records per-row outcomes so an interrupted run resumes where it
// stopped instead of redoing finished rows.
type Progress struct {
	mu sync.Mutex
	db *sql.DB
}

const progressSchema = `
CREATE TABLE IF NOT EXISTS progress (
	idx INTEGER PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending',
	query TEXT,
	filename TEXT,
	source TEXT,
	error TEXT,
	retries INTEGER DEFAULT 0,
	completed_at REAL,
	meta_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_status ON progress(status);
`

func OpenProgress(path string) (*Progress, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(progressSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating progress schema: %w", err)
	}
	return &Progress{db: db}, nil
}

func (p *Progress) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db.Close()
}

// MarkDone upserts a terminal success, clearing any previous error.
func (p *Progress) MarkDone(idx int, query, filename, source, metaJSON string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.db.Exec(`
		INSERT INTO progress (idx, status, query, filename, source, error, completed_at, meta_json)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(idx) DO UPDATE SET
			status = excluded.status,
			query = excluded.query,
			filename = excluded.filename,
			source = excluded.source,
			error = NULL,
			completed_at = excluded.completed_at,
			meta_json = excluded.meta_json`,
		idx, StatusDone, query, filename, source, nowUnix(), metaJSON)
	if err != nil {
		return fmt.Errorf("mark done idx %d: %w", idx, err)
	}
	return nil
}

// MarkFailed upserts a failure and increments the retry count; the first
// failure of a row records retries = 1.
func (p *Progress) MarkFailed(idx int, query, errMsg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.db.Exec(`
		INSERT INTO progress (idx, status, query, error, retries, completed_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(idx) DO UPDATE SET
			status = excluded.status,
			query = excluded.query,
			error = excluded.error,
			retries = COALESCE(progress.retries, 0) + 1,
			completed_at = excluded.completed_at`,
		idx, StatusFailed, query, errMsg, nowUnix())
	if err != nil {
		return fmt.Errorf("mark failed idx %d: %w", idx, err)
	}
	return nil
}

// Get returns the stored state of one row; ok is false when the row has
// never been recorded.
func (p *Progress) Get(idx int) (RowProgress, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row := p.db.QueryRow(`
		SELECT idx, status, COALESCE(query,''), COALESCE(filename,''), COALESCE(source,''),
		       COALESCE(error,''), COALESCE(retries,0), COALESCE(completed_at,0), COALESCE(meta_json,'')
		FROM progress WHERE idx = ?`, idx)
	var rp RowProgress
	err := row.Scan(&rp.Idx, &rp.Status, &rp.Query, &rp.Filename, &rp.Source,
		&rp.Error, &rp.Retries, &rp.CompletedAt, &rp.MetaJSON)
	if err == sql.ErrNoRows {
		return RowProgress{}, false, nil
	}
	if err != nil {
		return RowProgress{}, false, fmt.Errorf("get idx %d: %w", idx, err)
	}
	return rp, true, nil
}

// DoneSet returns the indices already completed, for resume filtering.
func (p *Progress) DoneSet() (map[int]struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, err := p.db.Query(`SELECT idx FROM progress WHERE status = ?`, StatusDone)
	if err != nil {
		return nil, fmt.Errorf("listing done rows: %w", err)
	}
	defer rows.Close()
	out := make(map[int]struct{})
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out[idx] = struct{}{}
	}
	return out, rows.Err()
}

// DeadLetters returns failed rows still under the retry budget, ordered by
// index.
func (p *Progress) DeadLetters(maxRetries int) ([]RowProgress, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, err := p.db.Query(`
		SELECT idx, status, COALESCE(query,''), COALESCE(error,''), COALESCE(retries,0)
		FROM progress
		WHERE status = ? AND retries < ?
		ORDER BY idx`, StatusFailed, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()
	var out []RowProgress
	for rows.Next() {
		var rp RowProgress
		if err := rows.Scan(&rp.Idx, &rp.Status, &rp.Query, &rp.Error, &rp.Retries); err != nil {
			return nil, err
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// Stats returns row counts grouped by status.
func (p *Progress) Stats() (map[string]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, err := p.db.Query(`SELECT status, COUNT(*) FROM progress GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("progress stats: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// Reset deletes every recorded row.
func (p *Progress) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.db.Exec(`DELETE FROM progress`); err != nil {
		return fmt.Errorf("resetting progress: %w", err)
	}
	return nil
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
