package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultHeaders mimic a desktop browser; the scrape endpoints serve empty
// or captcha pages to obvious bots.
var defaultHeaders = map[string]string{
	"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
}

const maxResponseBytes = 4 << 20

type httpEngine struct {
	client *http.Client
}

func newHTTPEngine(timeout time.Duration) httpEngine {
	return httpEngine{client: &http.Client{Timeout: timeout}}
}

func (e httpEngine) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range defaultHeaders {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}

// NewProviders builds the configured engines in priority order. Unknown
// names are an error so config typos surface at startup.
func NewProviders(names []string, timeout time.Duration) ([]Provider, error) {
	out := make([]Provider, 0, len(names))
	for _, name := range names {
		switch name {
		case "google":
			out = append(out, NewGoogle(timeout))
		case "bing":
			out = append(out, NewBing(timeout))
		case "duckduckgo":
			out = append(out, NewDuckDuckGo(timeout))
		default:
			return nil, fmt.Errorf("unknown search engine %q", name)
		}
	}
	return out, nil
}
