// Package verify scores candidate and composed images against the row query.
// A remote scoring service supplies the image/text alignment score and a
// generated caption; the caption/query overlap score and the accept/reject
// decision are computed here.
package verify

import (
	"context"
	"strings"
)

// Result is the outcome of one verification call.
type Result struct {
	Clip     float64 `json:"clip"`
	Blip     float64 `json:"blip"`
	Combined float64 `json:"combined"`
	Caption  string  `json:"caption"`
	Accepted bool    `json:"accepted"`
	Reason   string  `json:"reason"`
}

// Thresholds carries the decision boundaries for one stage.
type Thresholds struct {
	ClipAccept     float64
	ClipReject     float64
	CombinedAccept float64
	CombinedReject float64
	ClipWeight     float64
	BlipWeight     float64
}

// Verifier checks an image against a query. Verify applies the strict
// candidate thresholds; VerifyComposed applies the relaxed thresholds used
// on the finished ad.
type Verifier interface {
	Verify(ctx context.Context, imageData []byte, query string) (Result, error)
	VerifyComposed(ctx context.Context, imageData []byte, query string) (Result, error)
}

// OverlapScore measures caption/query token overlap in [0,1]: the fraction
// of distinct query tokens that appear in the caption.
func OverlapScore(caption, query string) float64 {
	queryTokens := tokens(query)
	if len(queryTokens) == 0 {
		return 0
	}
	captionSet := make(map[string]struct{})
	for _, t := range tokens(caption) {
		captionSet[t] = struct{}{}
	}
	matched := 0
	seen := make(map[string]struct{})
	total := 0
	for _, t := range queryTokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		total++
		if _, ok := captionSet[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// DecideComposed applies the relaxed post-composition rule, which looks at
// the combined score only; overlay text depresses the raw clip score too
// much for the strict table to be useful here.
func DecideComposed(clip, blip float64, th Thresholds) Result {
	combined := th.ClipWeight*clip + th.BlipWeight*blip
	r := Result{Clip: clip, Blip: blip, Combined: combined}
	switch {
	case combined >= th.CombinedAccept:
		r.Accepted = true
		r.Reason = "post_accept"
	case combined < th.CombinedReject:
		r.Reason = "post_reject"
	default:
		r.Reason = "post_borderline"
	}
	return r
}

// Decide applies the threshold table to a clip score and a blip score.
func Decide(clip, blip float64, th Thresholds) Result {
	combined := th.ClipWeight*clip + th.BlipWeight*blip
	r := Result{Clip: clip, Blip: blip, Combined: combined}
	switch {
	case clip >= th.ClipAccept:
		r.Accepted = true
		r.Reason = "clip_accept"
	case clip < th.ClipReject:
		r.Reason = "clip_reject"
	case combined >= th.CombinedAccept:
		r.Accepted = true
		r.Reason = "combined_accept"
	default:
		r.Reason = "borderline"
	}
	return r
}
