package imaging

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/search"
	"github.com/root-aj000/ADS-GEN/internal/verify"
)

// Artifact is a persisted image file with its metadata.
type Artifact struct {
	Path         string
	SourceURL    string
	Provider     string
	Width        int
	Height       int
	ByteSize     int64
	Digest       string
	Verification *verify.Result
}

// Tally counts stage-1 verification outcomes for the stats report.
type Tally struct {
	Verified int
	Rejected int
}

// SelectorConfig carries the selection tunables.
type SelectorConfig struct {
	MinFileBytes            int64
	Limits                  ValidationLimits
	MaxVerifyCandidates     int
	MinCandidatesBeforeBest int
	CombinedReject          float64
	DownloadAttempts        int
	BackoffBase             time.Duration
	FetchTimeout            time.Duration
}

// Selector downloads ranked candidates, validates them, and picks one via
// stage-1 verification. It never fails hard: "no acceptable image" is a nil
// artifact, and individual candidate errors just advance the loop.
type Selector struct {
	cfg      SelectorConfig
	client   *http.Client
	dedup    *DedupSet
	verifier verify.Verifier

	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration)
}

// NewSelector builds a selector; verifier may be nil, which accepts the
// first candidate that survives validation.
func NewSelector(cfg SelectorConfig, dedup *DedupSet, verifier verify.Verifier) *Selector {
	if cfg.DownloadAttempts <= 0 {
		cfg.DownloadAttempts = 2
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Selector{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		dedup:    dedup,
		verifier: verifier,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

type verified struct {
	img    image.Image
	data   []byte
	cand   search.Candidate
	digest string
	result verify.Result
}

// Select walks candidates in descending score order and returns the chosen
// artifact persisted under destDir as baseName(.jpg|.png), or nil when none
// is acceptable.
func (s *Selector) Select(ctx context.Context, candidates []search.Candidate, query, destDir, baseName string) (*Artifact, Tally, error) {
	var tally Tally
	var best *verified
	bestCombined := -1.0
	examined := 0

	for _, cand := range Rank(candidates) {
		if ctx.Err() != nil {
			return nil, tally, ctx.Err()
		}
		if examined >= s.cfg.MaxVerifyCandidates && s.verifier != nil {
			break
		}

		data, err := s.fetch(ctx, cand.URL)
		if err != nil {
			log.Debugf("[selector] fetch %s: %v", cand.URL, err)
			continue
		}

		sum := md5.Sum(data)
		digest := hex.EncodeToString(sum[:])
		if !s.dedup.Add(digest) {
			log.Debugf("[selector] duplicate content %s", cand.URL)
			continue
		}

		img, err := Validate(data, s.cfg.Limits)
		if err != nil {
			log.Debugf("[selector] reject %s: %v", cand.URL, err)
			continue
		}

		if s.verifier == nil || query == "" {
			return s.persist(&verified{img: img, data: data, cand: cand, digest: digest}, destDir, baseName, tally)
		}

		examined++
		result, err := s.verifier.Verify(ctx, data, query)
		if err != nil {
			log.Warnf("[selector] verify %s: %v", cand.URL, err)
			continue
		}
		tally.Verified++

		v := &verified{img: img, data: data, cand: cand, digest: digest, result: result}
		switch {
		case result.Accepted:
			return s.persist(v, destDir, baseName, tally)
		case result.Reason == "clip_reject":
			tally.Rejected++
			continue
		default:
			tally.Rejected++
			if result.Combined > bestCombined {
				best = v
				bestCombined = result.Combined
			}
		}

		if examined >= s.cfg.MinCandidatesBeforeBest && best != nil && bestCombined > s.cfg.CombinedReject {
			log.Debugf("[selector] taking best-so-far combined=%.3f after %d candidates", bestCombined, examined)
			return s.persist(best, destDir, baseName, tally)
		}
	}

	if best != nil && bestCombined >= s.cfg.CombinedReject {
		log.Debugf("[selector] loop end, keeping best combined=%.3f", bestCombined)
		return s.persist(best, destDir, baseName, tally)
	}
	return nil, tally, nil
}

// fetch downloads a candidate with bounded retries and exponential backoff.
func (s *Selector) fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.DownloadAttempts; attempt++ {
		if attempt > 1 {
			s.sleep(ctx, s.cfg.BackoffBase*time.Duration(1<<(attempt-2)))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
		}
		data, err := s.fetchOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Selector) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.ContentLength > 0 && resp.ContentLength < s.cfg.MinFileBytes {
		return nil, fmt.Errorf("declared size %d below minimum", resp.ContentLength)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) < s.cfg.MinFileBytes {
		return nil, fmt.Errorf("body %d bytes below minimum", len(data))
	}
	return data, nil
}

// persist writes the decoded image as .png when it carries alpha, .jpg at
// quality 95 otherwise.
func (s *Selector) persist(v *verified, destDir, baseName string, tally Tally) (*Artifact, Tally, error) {
	ext := ".jpg"
	if hasAlpha(v.img) {
		ext = ".png"
	}
	path := filepath.Join(destDir, baseName+ext)

	f, err := os.Create(path)
	if err != nil {
		return nil, tally, fmt.Errorf("creating %s: %w", path, err)
	}
	if ext == ".png" {
		err = png.Encode(f, v.img)
	} else {
		err = jpeg.Encode(f, v.img, &jpeg.Options{Quality: 95})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, tally, fmt.Errorf("encoding %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, tally, err
	}

	b := v.img.Bounds()
	art := &Artifact{
		Path:      path,
		SourceURL: v.cand.URL,
		Provider:  v.cand.Engine,
		Width:     b.Dx(),
		Height:    b.Dy(),
		ByteSize:  info.Size(),
		Digest:    v.digest,
	}
	if v.result.Reason != "" {
		r := v.result
		art.Verification = &r
	}
	return art, tally, nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
