package imaging

import (
	"sort"
	"strings"

	"github.com/root-aj000/ADS-GEN/internal/search"
)

// trustedDomains maps host fragments to a trust weight in [0,1].
var trustedDomains = map[string]float64{
	"shutterstock": 0.9,
	"istockphoto":  0.9,
	"gettyimages":  0.9,
	"adobe":        0.85,
	"unsplash":     0.85,
	"pexels":       0.8,
	"freepik":      0.7,
	"pngtree":      0.7,
	"amazon":       0.6,
	"ebay":         0.5,
}

// penaltyTokens in a URL usually mean a thumbnail or UI asset, not a
// product image.
var penaltyTokens = []string{
	"thumb", "small", "icon", "tiny", "mini", "preview", "placeholder", "loading", "spinner",
}

var engineBonus = map[string]float64{
	"duckduckgo": 3,
	"bing":       2,
	"google":     1,
}

// Score ranks a candidate from its metadata alone, before any download.
func Score(c search.Candidate) float64 {
	var s float64
	u := strings.ToLower(c.URL)

	switch {
	case strings.Contains(u, ".png"):
		s += 10
	case strings.Contains(u, ".webp"):
		s += 5
	}

	for frag, trust := range trustedDomains {
		if strings.Contains(u, frag) {
			s += trust * 10
			break
		}
	}

	if c.Width > 0 && c.Height > 0 {
		mpx := float64(c.Width*c.Height) / 1e6
		bonus := mpx * 5
		if bonus > 20 {
			bonus = 20
		}
		s += bonus
	}

	for _, tok := range penaltyTokens {
		if strings.Contains(u, tok) {
			s -= 15
			break
		}
	}

	s += engineBonus[c.Engine]
	return s
}

// Rank sorts candidates by descending score, stable so provider order
// breaks ties.
func Rank(candidates []search.Candidate) []search.Candidate {
	out := make([]search.Candidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i]) > Score(out[j])
	})
	return out
}
