package pipeline

import (
	"regexp"
	"strings"
)

// QueryConfig mirrors the columns section of the config: where queries come
// from and how they are cleaned.
type QueryConfig struct {
	Priority     []string
	Fallback     []string
	IgnoreValues []string
	MaxWords     int
}

// junkSuffixes are scraped-text tails that poison image search.
var junkSuffixes = []string{
	"filetype png", "filetype:png", "filetype jpg", "filetype:jpg",
	"site:", "transparent background png", "png download",
}

var punctRe = regexp.MustCompile(`[^\p{L}\p{N}\s\-]`)
var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// BuildQuery walks the priority columns, then the fallback columns, and
// returns the first cell that survives cleaning. The second return is the
// ordered list of usable alternates for fallback attempts.
func BuildQuery(row map[string]string, cfg QueryConfig) (string, []string) {
	var all []string
	for _, col := range append(append([]string{}, cfg.Priority...), cfg.Fallback...) {
		raw, ok := row[col]
		if !ok || !isUsable(raw, cfg.IgnoreValues) {
			continue
		}
		q := CleanQuery(raw, cfg.MaxWords)
		if q == "" {
			continue
		}
		dup := false
		for _, prev := range all {
			if prev == q {
				dup = true
				break
			}
		}
		if !dup {
			all = append(all, q)
		}
	}
	if len(all) == 0 {
		return "", nil
	}
	return all[0], all[1:]
}

func isUsable(raw string, ignore []string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	if len(v) <= 1 {
		return false
	}
	for _, ig := range ignore {
		if v == ig {
			return false
		}
	}
	return true
}

// CleanQuery normalizes scraped row text into a usable search query:
// lowercase, reconstruct character-spaced text, strip junk suffixes, drop
// punctuation except hyphens, collapse whitespace, and cap the word count
// when maxWords is positive.
func CleanQuery(raw string, maxWords int) string {
	q := strings.ToLower(cleanSpacedText(raw))
	q = stripJunkSuffixes(q)
	q = punctRe.ReplaceAllString(q, " ")
	q = strings.Join(strings.Fields(q), " ")
	if maxWords > 0 {
		words := strings.Fields(q)
		if len(words) > maxWords {
			q = strings.Join(words[:maxWords], " ")
		}
	}
	return strings.TrimSpace(q)
}

// cleanSpacedText detects OCR-style "c h a r a c t e r spaced" text, where
// most whitespace-split tokens are single characters, and reconstructs the
// words. Runs of two or more spaces are word boundaries.
func cleanSpacedText(s string) string {
	tokens := strings.Fields(s)
	if len(tokens) < 4 {
		return s
	}
	single := 0
	for _, t := range tokens {
		if len([]rune(t)) == 1 {
			single++
		}
	}
	if float64(single)/float64(len(tokens)) <= 0.7 {
		return s
	}

	words := multiSpaceRe.Split(strings.TrimSpace(s), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		out = append(out, strings.ReplaceAll(w, " ", ""))
	}
	return strings.Join(out, " ")
}

// stripJunkSuffixes truncates the query at the first junk marker.
func stripJunkSuffixes(s string) string {
	lower := strings.ToLower(s)
	cut := len(s)
	for _, suffix := range junkSuffixes {
		if i := strings.Index(lower, suffix); i >= 0 && i < cut {
			cut = i
		}
	}
	return s[:cut]
}
