package search

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"time"
)

// Bing embeds a JSON blob in the m attribute of every image tile; murl is
// the full-size image and t the title.
type Bing struct {
	httpEngine
	base string
}

func NewBing(timeout time.Duration) *Bing {
	return &Bing{httpEngine: newHTTPEngine(timeout), base: "https://www.bing.com"}
}

func (b *Bing) Name() string { return "bing" }

var bingTileRe = regexp.MustCompile(`m="(\{[^"]+\})"`)

type bingTile struct {
	MediaURL string `json:"murl"`
	Title    string `json:"t"`
}

func (b *Bing) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u := fmt.Sprintf("%s/images/search?q=%s&count=%d", b.base, url.QueryEscape(query), limit)
	body, err := b.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("bing search: %w", err)
	}

	var out []Candidate
	seen := make(map[string]struct{})
	for _, m := range bingTileRe.FindAllStringSubmatch(string(body), -1) {
		var tile bingTile
		if err := json.Unmarshal([]byte(html.UnescapeString(m[1])), &tile); err != nil {
			continue
		}
		if tile.MediaURL == "" {
			continue
		}
		if _, dup := seen[tile.MediaURL]; dup {
			continue
		}
		seen[tile.MediaURL] = struct{}{}
		out = append(out, Candidate{URL: tile.MediaURL, Engine: "bing", Title: tile.Title})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
