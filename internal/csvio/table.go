// Package csvio holds the row table the pipeline walks: a CSV loaded once,
// mutated concurrently by workers through a single lock, and checkpointed
// atomically so a crash never leaves a half-written output file.
package csvio

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Table struct {
	mu     sync.Mutex
	header []string
	cols   map[string]int
	rows   [][]string
}

// Load reads a CSV with a header row. Short records are padded so every row
// has a cell for every column.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: empty file, header row required", path)
	}

	t := &Table{
		header: records[0],
		cols:   make(map[string]int, len(records[0])),
	}
	for i, name := range t.header {
		t.cols[normalizeColumn(name)] = i
	}
	for _, rec := range records[1:] {
		row := make([]string, len(t.header))
		copy(row, rec)
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func normalizeColumn(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Columns returns the header in file order.
func (t *Table) Columns() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.header))
	copy(out, t.header)
	return out
}

// Get returns the cell at (idx, col), or "" when either is absent.
// Column names are matched case-insensitively.
func (t *Table) Get(idx int, col string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.rows) {
		return ""
	}
	c, ok := t.cols[normalizeColumn(col)]
	if !ok || c >= len(t.rows[idx]) {
		return ""
	}
	return t.rows[idx][c]
}

// Row returns a detached name->value copy of one row, safe to read without
// holding the table lock.
func (t *Table) Row(idx int) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.rows) {
		return nil
	}
	out := make(map[string]string, len(t.header))
	for i, name := range t.header {
		if i < len(t.rows[idx]) {
			out[normalizeColumn(name)] = t.rows[idx][i]
		}
	}
	return out
}

// Set writes a cell, appending the column to the table when it does not
// exist yet.
func (t *Table) Set(idx int, col, val string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.rows) {
		return
	}
	key := normalizeColumn(col)
	c, ok := t.cols[key]
	if !ok {
		c = len(t.header)
		t.header = append(t.header, col)
		t.cols[key] = c
	}
	for c >= len(t.rows[idx]) {
		t.rows[idx] = append(t.rows[idx], "")
	}
	t.rows[idx][c] = val
}

// Save checkpoints the table: write to a temp file in the destination
// directory, then rename over the target so readers never observe a
// partial file.
func (t *Table) Save(path string) error {
	t.mu.Lock()
	header := make([]string, len(t.header))
	copy(header, t.header)
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		padded := make([]string, len(header))
		copy(padded, row)
		rows[i] = padded
	}
	t.mu.Unlock()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("writing rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	return nil
}
