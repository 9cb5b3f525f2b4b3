package imaging

import (
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/root-aj000/ADS-GEN/internal/search"
	"github.com/root-aj000/ADS-GEN/internal/verify"
)

type scriptedVerifier struct {
	results []verify.Result
	calls   int
}

func (s *scriptedVerifier) Verify(ctx context.Context, imageData []byte, query string) (verify.Result, error) {
	r := s.results[s.calls%len(s.results)]
	s.calls++
	return r, nil
}

func (s *scriptedVerifier) VerifyComposed(ctx context.Context, imageData []byte, query string) (verify.Result, error) {
	return s.Verify(ctx, imageData, query)
}

// imageServer serves a distinct noisy JPEG per path.
func imageServer(t *testing.T, images map[string][]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
}

func testSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MinFileBytes:            64,
		Limits:                  testLimits(),
		MaxVerifyCandidates:     10,
		MinCandidatesBeforeBest: 3,
		CombinedReject:          0.12,
		DownloadAttempts:        2,
		BackoffBase:             time.Millisecond,
		FetchTimeout:            time.Second,
	}
}

func TestSelectWithoutVerifierTakesFirstValid(t *testing.T) {
	srv := imageServer(t, map[string][]byte{
		"/bad.jpg":  []byte("tiny"),
		"/good.jpg": encodeJPEG(t, noisyImage(400, 300)),
	})
	defer srv.Close()

	sel := NewSelector(testSelectorConfig(), NewDedupSet(), nil)
	cands := []search.Candidate{
		{URL: srv.URL + "/bad.jpg", Engine: "google"},
		{URL: srv.URL + "/good.jpg", Engine: "bing"},
	}
	art, _, err := sel.Select(context.Background(), cands, "widget", t.TempDir(), "ad_0001")
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if art == nil {
		t.Fatal("expected an artifact")
	}
	if filepath.Ext(art.Path) != ".jpg" {
		t.Errorf("path = %s, want .jpg", art.Path)
	}
	if art.Provider != "bing" || art.Width != 400 {
		t.Errorf("artifact = %+v", art)
	}
	if art.Verification != nil {
		t.Error("verification set without a verifier")
	}
}

func TestSelectImmediateAccept(t *testing.T) {
	srv := imageServer(t, map[string][]byte{
		"/a.jpg": encodeJPEG(t, noisyImage(400, 300)),
	})
	defer srv.Close()

	v := &scriptedVerifier{results: []verify.Result{
		{Clip: 0.3, Combined: 0.3, Accepted: true, Reason: "clip_accept"},
	}}
	sel := NewSelector(testSelectorConfig(), NewDedupSet(), v)
	art, tally, err := sel.Select(context.Background(),
		[]search.Candidate{{URL: srv.URL + "/a.jpg", Engine: "google"}},
		"widget", t.TempDir(), "ad_0001")
	if err != nil {
		t.Fatal(err)
	}
	if art == nil || art.Verification == nil || !art.Verification.Accepted {
		t.Fatalf("artifact = %+v", art)
	}
	if tally.Verified != 1 || tally.Rejected != 0 {
		t.Errorf("tally = %+v", tally)
	}
}

func TestSelectAllRejectedReturnsNil(t *testing.T) {
	images := make(map[string][]byte)
	var cands []search.Candidate
	// Distinct images so dedup does not interfere.
	for i := 0; i < 3; i++ {
		img := noisyImage(400+i, 300)
		path := "/" + strings.Repeat("x", i+1) + ".jpg"
		images[path] = encodeJPEG(t, img)
		cands = append(cands, search.Candidate{URL: path, Engine: "google"})
	}
	srv := imageServer(t, images)
	defer srv.Close()
	for i := range cands {
		cands[i].URL = srv.URL + cands[i].URL
	}

	v := &scriptedVerifier{results: []verify.Result{
		{Clip: 0.05, Combined: 0.05, Reason: "clip_reject"},
	}}
	sel := NewSelector(testSelectorConfig(), NewDedupSet(), v)
	art, tally, err := sel.Select(context.Background(), cands, "widget", t.TempDir(), "ad_0001")
	if err != nil {
		t.Fatal(err)
	}
	if art != nil {
		t.Fatalf("expected nil artifact, got %+v", art)
	}
	if tally.Verified != 3 || tally.Rejected != 3 {
		t.Errorf("tally = %+v", tally)
	}
}

func TestSelectBestSoFarEarlyAccept(t *testing.T) {
	images := make(map[string][]byte)
	var cands []search.Candidate
	for i := 0; i < 5; i++ {
		img := noisyImage(400+i, 300)
		path := "/" + strings.Repeat("b", i+1) + ".jpg"
		images[path] = encodeJPEG(t, img)
		cands = append(cands, search.Candidate{URL: path, Engine: "google"})
	}
	srv := imageServer(t, images)
	defer srv.Close()
	for i := range cands {
		cands[i].URL = srv.URL + cands[i].URL
	}

	// Three borderline results; the third pushes examined to the
	// min-before-best bar with a best above combined_reject.
	v := &scriptedVerifier{results: []verify.Result{
		{Clip: 0.16, Combined: 0.13, Reason: "borderline"},
		{Clip: 0.17, Combined: 0.18, Reason: "borderline"},
		{Clip: 0.16, Combined: 0.14, Reason: "borderline"},
	}}
	sel := NewSelector(testSelectorConfig(), NewDedupSet(), v)
	art, _, err := sel.Select(context.Background(), cands, "widget", t.TempDir(), "ad_0001")
	if err != nil {
		t.Fatal(err)
	}
	if art == nil || art.Verification == nil {
		t.Fatal("expected best-so-far artifact")
	}
	if art.Verification.Combined != 0.18 {
		t.Errorf("kept combined = %v, want 0.18", art.Verification.Combined)
	}
	if v.calls != 3 {
		t.Errorf("verifier calls = %d, want 3 (early accept)", v.calls)
	}
}

func TestSelectSkipsDuplicateContent(t *testing.T) {
	same := encodeJPEG(t, noisyImage(400, 300))
	srv := imageServer(t, map[string][]byte{"/a.jpg": same, "/b.jpg": same})
	defer srv.Close()

	dedup := NewDedupSet()
	sel := NewSelector(testSelectorConfig(), dedup, nil)

	ctx := context.Background()
	art, _, err := sel.Select(ctx, []search.Candidate{{URL: srv.URL + "/a.jpg", Engine: "google"}},
		"widget", t.TempDir(), "ad_0001")
	if err != nil || art == nil {
		t.Fatalf("first select: %v, %v", art, err)
	}
	// Same bytes under a different URL are refused for the next row.
	art, _, err = sel.Select(ctx, []search.Candidate{{URL: srv.URL + "/b.jpg", Engine: "google"}},
		"widget", t.TempDir(), "ad_0002")
	if err != nil {
		t.Fatal(err)
	}
	if art != nil {
		t.Error("duplicate content accepted")
	}
}

func TestSelectPersistsAlphaAsPNG(t *testing.T) {
	img := noisyImage(400, 300)
	// Punch transparency into a corner.
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 0})
		}
	}
	srv := imageServer(t, map[string][]byte{"/a.png": encodePNG(t, img)})
	defer srv.Close()

	sel := NewSelector(testSelectorConfig(), NewDedupSet(), nil)
	art, _, err := sel.Select(context.Background(),
		[]search.Candidate{{URL: srv.URL + "/a.png", Engine: "google"}},
		"widget", t.TempDir(), "ad_0001")
	if err != nil || art == nil {
		t.Fatalf("Select: %v, %v", art, err)
	}
	if filepath.Ext(art.Path) != ".png" {
		t.Errorf("path = %s, want .png for alpha image", art.Path)
	}
}
