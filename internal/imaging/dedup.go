// Package imaging downloads, validates, and selects candidate images, and
// conditions accepted ones for composition.
package imaging

import "sync"

// DedupSet is a process-lifetime set of content fingerprints shared by all
// workers, so the same image bytes are never accepted for two rows in one
// run.
type DedupSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDedupSet() *DedupSet {
	return &DedupSet{seen: make(map[string]struct{})}
}

// Add reports whether key was new; the first caller for a key wins.
func (d *DedupSet) Add(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[key]; dup {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

func (d *DedupSet) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
