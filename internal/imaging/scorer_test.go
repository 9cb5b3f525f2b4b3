package imaging

import (
	"testing"

	"github.com/root-aj000/ADS-GEN/internal/search"
)

func TestScorePreferences(t *testing.T) {
	png := search.Candidate{URL: "https://cdn.example.com/product.png", Engine: "google"}
	jpg := search.Candidate{URL: "https://cdn.example.com/product.jpg", Engine: "google"}
	if Score(png) <= Score(jpg) {
		t.Error("lossless format should outscore lossy")
	}

	trusted := search.Candidate{URL: "https://images.unsplash.com/photo.jpg", Engine: "google"}
	if Score(trusted) <= Score(jpg) {
		t.Error("trusted domain should add a bonus")
	}

	thumb := search.Candidate{URL: "https://cdn.example.com/thumb/product.jpg", Engine: "google"}
	if Score(thumb) >= Score(jpg) {
		t.Error("thumbnail token should be penalized")
	}

	big := search.Candidate{URL: "https://cdn.example.com/product.jpg", Engine: "google", Width: 3000, Height: 2000}
	if Score(big) <= Score(jpg) {
		t.Error("declared resolution should add a bonus")
	}
	// Resolution bonus saturates at 20.
	huge := search.Candidate{URL: "https://cdn.example.com/product.jpg", Engine: "google", Width: 10000, Height: 10000}
	if got := Score(huge) - Score(jpg); got != 20 {
		t.Errorf("saturated resolution bonus = %v, want 20", got)
	}
}

func TestRankIsStableAndDescending(t *testing.T) {
	a := search.Candidate{URL: "https://x.example.com/a.jpg", Engine: "google"}
	b := search.Candidate{URL: "https://x.example.com/b.png", Engine: "google"}
	c := search.Candidate{URL: "https://x.example.com/c.jpg", Engine: "google"}

	ranked := Rank([]search.Candidate{a, b, c})
	if ranked[0].URL != b.URL {
		t.Errorf("first = %s, want the png", ranked[0].URL)
	}
	// Equal-score candidates keep input order.
	if ranked[1].URL != a.URL || ranked[2].URL != c.URL {
		t.Errorf("tie order broken: %v", ranked)
	}
}
