package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"time"
)

// DuckDuckGo exposes a JSON image endpoint gated by a per-query vqd token
// scraped from the regular results page.
type DuckDuckGo struct {
	httpEngine
	base string
}

func NewDuckDuckGo(timeout time.Duration) *DuckDuckGo {
	return &DuckDuckGo{httpEngine: newHTTPEngine(timeout), base: "https://duckduckgo.com"}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

var vqdRe = regexp.MustCompile(`vqd=["']?([\d-]+)["']?`)

type ddgResponse struct {
	Results []struct {
		Image  string `json:"image"`
		Title  string `json:"title"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"results"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	tokenPage, err := d.get(ctx, fmt.Sprintf("%s/?q=%s&iax=images&ia=images", d.base, url.QueryEscape(query)))
	if err != nil {
		return nil, fmt.Errorf("duckduckgo token page: %w", err)
	}
	m := vqdRe.FindSubmatch(tokenPage)
	if m == nil {
		return nil, fmt.Errorf("duckduckgo: vqd token not found")
	}

	u := fmt.Sprintf("%s/i.js?l=us-en&o=json&q=%s&vqd=%s", d.base, url.QueryEscape(query), m[1])
	body, err := d.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo images: %w", err)
	}

	var parsed ddgResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("duckduckgo response: %w", err)
	}

	var out []Candidate
	for _, r := range parsed.Results {
		if r.Image == "" {
			continue
		}
		out = append(out, Candidate{
			URL:    r.Image,
			Engine: "duckduckgo",
			Title:  r.Title,
			Width:  r.Width,
			Height: r.Height,
		})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
