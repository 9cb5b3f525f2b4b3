package search

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Google scrapes the image search results page. The page inlines full-size
// image URLs in script blobs; thumbnails live on gstatic hosts and are
// filtered out.
type Google struct {
	httpEngine
	base string
}

func NewGoogle(timeout time.Duration) *Google {
	return &Google{httpEngine: newHTTPEngine(timeout), base: "https://www.google.com"}
}

func (g *Google) Name() string { return "google" }

var googleImageRe = regexp.MustCompile(`"(https?://[^"]+?\.(?:jpg|jpeg|png|webp))"`)

func (g *Google) Search(ctx context.Context, query string, limit int) ([]Candidate, error) {
	u := fmt.Sprintf("%s/search?q=%s&tbm=isch&hl=en", g.base, url.QueryEscape(query))
	body, err := g.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("google search: %w", err)
	}

	var out []Candidate
	seen := make(map[string]struct{})
	for _, m := range googleImageRe.FindAllStringSubmatch(string(body), -1) {
		link := m[1]
		if strings.Contains(link, "gstatic.com") || strings.Contains(link, "google.com") {
			continue
		}
		// Script blobs escape slashes.
		link = strings.ReplaceAll(link, `\/`, "/")
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		out = append(out, Candidate{URL: link, Engine: "google"})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
