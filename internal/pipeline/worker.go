package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/compose"
	"github.com/root-aj000/ADS-GEN/internal/csvio"
	"github.com/root-aj000/ADS-GEN/internal/imaging"
	"github.com/root-aj000/ADS-GEN/internal/search"
	"github.com/root-aj000/ADS-GEN/internal/store"
	"github.com/root-aj000/ADS-GEN/internal/verify"
)

const imagePathColumn = "image_path"

// RowResult is the meta record a worker returns for one row.
type RowResult struct {
	Idx             int            `json:"id"`
	Skipped         bool           `json:"skipped,omitempty"`
	Success         bool           `json:"success"`
	Query           string         `json:"query,omitempty"`
	Filename        string         `json:"filename,omitempty"`
	Source          string         `json:"source,omitempty"`
	Stage1          *verify.Result `json:"stage1,omitempty"`
	Stage2          *verify.Result `json:"stage2,omitempty"`
	Recomposed      bool           `json:"recomposed,omitempty"`
	RecomposeReason string         `json:"recompose_reason,omitempty"`
	Err             error          `json:"-"`
	ErrMsg          string         `json:"error,omitempty"`
}

// MetaJSON renders the result for the progress store.
func (r RowResult) MetaJSON() string {
	if r.Err != nil {
		r.ErrMsg = r.Err.Error()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// RowWorkerConfig is the slice of settings a worker needs.
type RowWorkerConfig struct {
	Query                QueryConfig
	MaxFallbackQueries   int
	TitleColumn          string
	DiscountColumn       string
	CTAColumn            string
	ColorColumn          string
	ImagesDir            string
	ImagesRelPrefix      string
	TempDir              string
	CacheFilesDir        string
	MaxRecomposeAttempts int
}

// RowWorker drives one row through every stage. Instances are shared by all
// pool goroutines; all mutable state lives in the injected collaborators.
type RowWorker struct {
	cfg         RowWorkerConfig
	table       *csvio.Table
	cache       *store.Cache
	broker      *search.Broker
	selector    *imaging.Selector
	conditioner *imaging.Conditioner
	compositor  *compose.Compositor
	verifier    verify.Verifier
	stats       *Stats
	shutdown    *ShutdownCoordinator

	// checkpoint is called once per finished row; the orchestrator uses it
	// to trigger periodic CSV saves.
	checkpoint func()
}

func NewRowWorker(
	cfg RowWorkerConfig,
	table *csvio.Table,
	cache *store.Cache,
	broker *search.Broker,
	selector *imaging.Selector,
	conditioner *imaging.Conditioner,
	compositor *compose.Compositor,
	verifier verify.Verifier,
	stats *Stats,
	shutdown *ShutdownCoordinator,
	checkpoint func(),
) *RowWorker {
	if cfg.MaxFallbackQueries <= 0 {
		cfg.MaxFallbackQueries = 2
	}
	if checkpoint == nil {
		checkpoint = func() {}
	}
	return &RowWorker{
		cfg: cfg, table: table, cache: cache, broker: broker,
		selector: selector, conditioner: conditioner, compositor: compositor,
		verifier: verifier, stats: stats, shutdown: shutdown, checkpoint: checkpoint,
	}
}

// Process runs the row state machine and never panics outward; any error is
// carried in the result.
func (w *RowWorker) Process(ctx context.Context, workerID, idx int) (res RowResult) {
	res = RowResult{Idx: idx}
	if w.shutdown.Requested() {
		res.Skipped = true
		return res
	}

	tempDir := filepath.Join(w.cfg.TempDir, fmt.Sprintf("w%02d", workerID%100), fmt.Sprintf("row_%d", idx))
	defer func() {
		os.RemoveAll(tempDir)
		w.stats.Total.Add(1)
		w.checkpoint()
	}()
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		res.Err = fmt.Errorf("temp dir: %w", err)
		w.stats.Failed.Add(1)
		return res
	}

	row := w.table.Row(idx)
	query, alternates := BuildQuery(row, w.cfg.Query)
	if query == "" {
		res.Err = fmt.Errorf("row %d: no usable query column", idx)
		w.stats.Failed.Add(1)
		return res
	}
	res.Query = query

	original, artifact, acquireErr := w.acquire(ctx, &res, query, alternates, tempDir)
	if w.shutdown.Requested() && original == nil {
		res.Skipped = true
		return res
	}
	if original == nil && ctx.Err() != nil {
		// Row deadline expired mid-acquisition; a placeholder would hide
		// the timeout, so the row fails and stays DLQ-eligible.
		res.Err = fmt.Errorf("acquiring image: %w", ctx.Err())
		w.stats.Failed.Add(1)
		return res
	}
	if original == nil && acquireErr != nil {
		res.Err = acquireErr
		w.stats.Failed.Add(1)
		return res
	}

	fields := compose.Fields{
		Title:    w.table.Get(idx, w.cfg.TitleColumn),
		Discount: w.table.Get(idx, w.cfg.DiscountColumn),
		CTA:      w.table.Get(idx, w.cfg.CTAColumn),
		Color:    w.table.Get(idx, w.cfg.ColorColumn),
	}
	outName := fmt.Sprintf("ad_%04d.jpg", idx+1)
	outPath := filepath.Join(w.cfg.ImagesDir, outName)
	tpl := compose.ByIndex(idx)

	if original == nil {
		// Placeholder path: still a produced ad.
		if _, err := w.compositor.Placeholder(query, fields, outPath, tpl); err != nil {
			res.Err = fmt.Errorf("placeholder: %w", err)
			w.stats.Failed.Add(1)
			return res
		}
		res.Source = "placeholder"
		w.stats.Placeholder.Add(1)
		w.finishRow(&res, idx, outName)
		return res
	}

	conditioned := w.condition(ctx, query, original, artifact)

	if _, err := w.compositor.Compose(original, conditioned, false, fields, outPath, tpl); err != nil {
		res.Err = fmt.Errorf("compose: %w", err)
		w.stats.Failed.Add(1)
		return res
	}

	if !w.postVerify(ctx, &res, original, conditioned, fields, outPath, tpl) {
		// postVerify already recorded the failure.
		return res
	}

	w.finishRow(&res, idx, outName)
	return res
}

// acquire produces the source image: cache, then search+select over the
// primary and fallback queries, else nil for the placeholder path. It also
// persists fresh artifacts into the image cache. A non-nil error means every
// attempted search hit a provider outage, which is a row failure rather than
// a placeholder.
func (w *RowWorker) acquire(ctx context.Context, res *RowResult, query string, alternates []string, tempDir string) (image.Image, *imaging.Artifact, error) {
	if w.cache != nil {
		if entry, ok, err := w.cache.Get(query); err != nil {
			log.Warnf("[worker] cache probe: %v", err)
		} else if ok {
			if img, err := loadImage(entry.FilePath); err == nil {
				w.stats.CacheHits.Add(1)
				res.Source = "cache"
				return img, nil, nil
			}
			log.Warnf("[worker] cached file unreadable, falling back to search")
		}
	}

	var downErr error
	searched := false

	queries := append([]string{query}, alternates...)
	if len(queries) > 1+w.cfg.MaxFallbackQueries {
		queries = queries[:1+w.cfg.MaxFallbackQueries]
	}
	for _, q := range queries {
		if w.shutdown.Requested() || ctx.Err() != nil {
			return nil, nil, nil
		}
		candidates, err := w.broker.Search(ctx, q)
		if err != nil {
			if errors.Is(err, search.ErrProvidersDown) {
				downErr = err
			}
			log.Debugf("[worker] search %q: %v", q, err)
			continue
		}
		searched = true
		artifact, tally, err := w.selector.Select(ctx, candidates, q, tempDir, "candidate")
		w.stats.Verified.Add(int64(tally.Verified))
		w.stats.VerifyFails.Add(int64(tally.Rejected))
		if err != nil || artifact == nil {
			continue
		}

		img, err := loadImage(artifact.Path)
		if err != nil {
			log.Warnf("[worker] decoding selected artifact: %v", err)
			continue
		}
		res.Source = artifact.Provider
		res.Stage1 = artifact.Verification
		w.cachePut(query, artifact)
		return img, artifact, nil
	}
	if !searched && downErr != nil {
		return nil, nil, downErr
	}
	return nil, nil, nil
}

// cachePut copies the temp artifact into the cache files area and records
// it; cache errors are never fatal.
func (w *RowWorker) cachePut(query string, artifact *imaging.Artifact) {
	if w.cache == nil || w.cfg.CacheFilesDir == "" {
		return
	}
	if err := os.MkdirAll(w.cfg.CacheFilesDir, 0o755); err != nil {
		log.Warnf("[worker] cache dir: %v", err)
		return
	}
	dst := filepath.Join(w.cfg.CacheFilesDir, store.Fingerprint(query)+filepath.Ext(artifact.Path))
	if err := copyFile(artifact.Path, dst); err != nil {
		log.Warnf("[worker] caching artifact: %v", err)
		return
	}
	err := w.cache.Put(query, store.CacheEntry{
		Query:         query,
		SourceURL:     artifact.SourceURL,
		FilePath:      dst,
		ContentDigest: artifact.Digest,
		Width:         artifact.Width,
		Height:        artifact.Height,
		FileSize:      artifact.ByteSize,
		Provider:      artifact.Provider,
	})
	if err != nil {
		log.Warnf("[worker] cache put: %v", err)
	}
}

// condition runs background removal when it applies. A nil return means
// compose with the original only.
func (w *RowWorker) condition(ctx context.Context, query string, original image.Image, artifact *imaging.Artifact) image.Image {
	if !w.conditioner.Enabled() || w.shutdown.Requested() {
		return nil
	}
	if !w.conditioner.ShouldRemove(query) {
		w.stats.BgSkipped.Add(1)
		return nil
	}
	data, err := encodeFor(original, artifact)
	if err != nil {
		log.Warnf("[worker] re-encoding for matting: %v", err)
		return nil
	}
	cut, ok := w.conditioner.Remove(ctx, data)
	if !ok {
		w.stats.BgSkipped.Add(1)
		return nil
	}
	w.stats.BgRemoved.Add(1)
	return cut
}

// postVerify runs stage-2 verification with bounded recomposition. Returns
// false only when the row must be marked failed.
func (w *RowWorker) postVerify(ctx context.Context, res *RowResult, original, conditioned image.Image, fields compose.Fields, outPath string, tpl compose.Template) bool {
	if w.verifier == nil || res.Query == "" {
		return true
	}

	result, err := w.verifyFile(ctx, outPath, res.Query)
	if err != nil {
		log.Warnf("[worker] stage-2 verify: %v", err)
		return true
	}
	res.Stage2 = &result
	if result.Accepted {
		w.stats.PostVerified.Add(1)
		return true
	}
	w.stats.PostVerifyFails.Add(1)

	// Bounded recomposition: first without the conditioned image, then
	// additionally without the money/CTA overlay text.
	for attempt := 0; attempt < w.cfg.MaxRecomposeAttempts; attempt++ {
		if w.shutdown.Requested() || ctx.Err() != nil {
			break
		}
		w.stats.Recomposes.Add(1)
		res.Recomposed = true
		res.RecomposeReason = "post_verify_fail"

		attemptFields := fields
		if attempt >= 1 {
			attemptFields.Discount = ""
			attemptFields.CTA = ""
		}
		if _, err := w.compositor.Compose(original, conditioned, true, attemptFields, outPath, tpl); err != nil {
			log.Warnf("[worker] recompose attempt %d: %v", attempt, err)
			continue
		}
		result, err := w.verifyFile(ctx, outPath, res.Query)
		if err != nil {
			log.Warnf("[worker] stage-2 verify after recompose: %v", err)
			return true
		}
		res.Stage2 = &result
		if result.Accepted {
			w.stats.PostVerified.Add(1)
			return true
		}
		w.stats.PostVerifyFails.Add(1)
	}

	// Every attempt rejected: the last composition stays on disk and the
	// row still counts as produced, with the rejection recorded in meta.
	return true
}

func (w *RowWorker) verifyFile(ctx context.Context, path, query string) (verify.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return verify.Result{}, err
	}
	return w.verifier.VerifyComposed(ctx, data, query)
}

func (w *RowWorker) finishRow(res *RowResult, idx int, outName string) {
	rel := filepath.ToSlash(filepath.Join(w.cfg.ImagesRelPrefix, outName))
	w.table.Set(idx, imagePathColumn, rel)
	res.Filename = outName
	res.Success = true
	w.stats.Success.Add(1)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// encodeFor gets the bytes to send to the matting service, reusing the
// stored artifact file when available (cache hits re-encode).
func encodeFor(img image.Image, artifact *imaging.Artifact) ([]byte, error) {
	if artifact != nil {
		return os.ReadFile(artifact.Path)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
