package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/csvio"
	"github.com/root-aj000/ADS-GEN/internal/eventbus"
	"github.com/root-aj000/ADS-GEN/internal/search"
	"github.com/root-aj000/ADS-GEN/internal/store"
)

// ErrShutdown is returned by Run when a graceful stop interrupted the run.
var ErrShutdown = errors.New("run interrupted")

const (
	// pollInterval bounds every dispatcher wait so the shutdown flag is
	// observed promptly.
	pollInterval = 300 * time.Millisecond
	// serialRowDelay spaces rows out on the single-worker path.
	serialRowDelay = 500 * time.Millisecond
)

// OrchestratorConfig is the runtime slice of the config.
type OrchestratorConfig struct {
	Workers         int
	ChunkSize       int
	WorkerTimeout   time.Duration
	CSVSaveInterval int
	MaxRetries      int
	OutputCSV       string
	TempDir         string
	MilestoneEvery  int
	Resume          bool
	DLQEnabled      bool

	// StartRow and EndRow bound the processed index range [start, end);
	// EndRow <= 0 means the end of the table.
	StartRow int
	EndRow   int
}

// Orchestrator owns the row table and the counters, dispatches chunks to the
// pool, runs the dead-letter pass, and writes the final report.
type Orchestrator struct {
	cfg      OrchestratorConfig
	table    *csvio.Table
	progress *store.Progress
	cache    *store.Cache
	worker   *RowWorker
	stats    *Stats
	shutdown *ShutdownCoordinator
	health   *search.Health
	bus      *eventbus.Bus

	completed int64
}

func NewOrchestrator(
	cfg OrchestratorConfig,
	table *csvio.Table,
	progress *store.Progress,
	cache *store.Cache,
	worker *RowWorker,
	stats *Stats,
	shutdown *ShutdownCoordinator,
	health *search.Health,
	bus *eventbus.Bus,
) *Orchestrator {
	o := &Orchestrator{
		cfg: cfg, table: table, progress: progress, cache: cache,
		worker: worker, stats: stats, shutdown: shutdown, health: health, bus: bus,
	}
	// The orchestrator owns the CSV, so the per-row checkpoint hook lands
	// here even though the worker calls it.
	worker.checkpoint = o.onRowFinished
	return o
}

// onRowFinished is called from worker exit paths; every Nth finished row
// checkpoints the CSV.
func (o *Orchestrator) onRowFinished() {
	// The counter races between workers, which at worst shifts a
	// checkpoint by a row; the save itself is atomic.
	n := o.stats.Total.Load()
	if o.cfg.CSVSaveInterval > 0 && n%int64(o.cfg.CSVSaveInterval) == 0 {
		if err := o.table.Save(o.cfg.OutputCSV); err != nil {
			log.Warnf("[orchestrator] checkpoint: %v", err)
		}
	}
}

// Run processes every pending row, then the dead-letter pass, and always
// leaves behind a saved row table, durable progress, and a final report.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if saveErr := o.table.Save(o.cfg.OutputCSV); saveErr != nil {
			log.Errorf("[orchestrator] final save: %v", saveErr)
			if err == nil {
				err = saveErr
			}
		}
		o.report()
		if !o.shutdown.Requested() {
			o.cleanupTemp()
		}
		if o.shutdown.Requested() && err == nil {
			err = ErrShutdown
		}
	}()

	pending, err := o.pendingRows()
	if err != nil {
		return err
	}
	log.Infof("[orchestrator] %d rows to process (%d skipped as done), workers=%d chunk=%d",
		len(pending), o.stats.Skipped.Load(), o.cfg.Workers, o.cfg.ChunkSize)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for start := 0; start < len(pending); start += o.cfg.ChunkSize {
		if o.shutdown.Requested() {
			break
		}
		end := start + o.cfg.ChunkSize
		if end > len(pending) {
			end = len(pending)
		}
		o.runChunk(ctx, cancel, pending[start:end])
	}

	if o.cfg.DLQEnabled && !o.shutdown.Requested() {
		o.runDeadLetters(ctx, cancel)
	}
	return nil
}

// pendingRows lists indices in [start_row, end_row) still to do, honoring
// resume. An empty range is a no-op with nothing skipped.
func (o *Orchestrator) pendingRows() ([]int, error) {
	start, end := o.cfg.StartRow, o.cfg.EndRow
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > o.table.Len() {
		end = o.table.Len()
	}
	if start >= end {
		return nil, nil
	}

	done := map[int]struct{}{}
	if o.cfg.Resume {
		var err error
		done, err = o.progress.DoneSet()
		if err != nil {
			return nil, fmt.Errorf("loading resume state: %w", err)
		}
	}
	var pending []int
	for idx := start; idx < end; idx++ {
		if _, ok := done[idx]; ok {
			o.stats.Skipped.Add(1)
			continue
		}
		pending = append(pending, idx)
	}
	return pending, nil
}

// runDeadLetters resubmits failed rows with remaining budget exactly once.
func (o *Orchestrator) runDeadLetters(ctx context.Context, cancel context.CancelFunc) {
	letters, err := o.progress.DeadLetters(o.cfg.MaxRetries)
	if err != nil {
		log.Warnf("[orchestrator] dead letters: %v", err)
		return
	}
	if len(letters) == 0 {
		return
	}
	log.Infof("[orchestrator] dead-letter pass: retrying %d rows", len(letters))
	o.stats.DLQRetries.Add(int64(len(letters)))

	indices := make([]int, 0, len(letters))
	for _, l := range letters {
		indices = append(indices, l.Idx)
	}
	o.runChunk(ctx, cancel, indices)
}

// runChunk pushes one slice of rows through the pool and records outcomes.
// The dispatcher never blocks unbounded: completions are drained with a
// short poll so the shutdown flag stays observable.
func (o *Orchestrator) runChunk(ctx context.Context, cancel context.CancelFunc, indices []int) {
	if len(indices) == 0 {
		return
	}
	if o.cfg.Workers == 1 {
		o.runSerial(ctx, indices)
		return
	}

	jobs := make(chan int)
	results := make(chan RowResult, len(indices))
	for wid := 0; wid < o.cfg.Workers; wid++ {
		go func(workerID int) {
			for idx := range jobs {
				results <- o.processWithTimeout(ctx, workerID, idx)
			}
		}(wid)
	}

	submitted := 0
	outstanding := 0
	for {
		if o.shutdown.Requested() {
			cancel()
			break
		}
		if submitted == len(indices) {
			break
		}
		select {
		case jobs <- indices[submitted]:
			submitted++
			outstanding++
		case res := <-results:
			outstanding--
			o.recordResult(res)
		case <-time.After(pollInterval):
		}
	}
	close(jobs)

	// Drain in-flight rows with bounded waits. After shutdown the workers
	// still finish their current row; rows never submitted are skipped.
	for outstanding > 0 {
		select {
		case res := <-results:
			outstanding--
			o.recordResult(res)
		case <-time.After(pollInterval):
			if o.shutdown.Requested() {
				cancel()
			}
		}
	}
}

// runSerial is the single-worker path with an inter-row delay.
func (o *Orchestrator) runSerial(ctx context.Context, indices []int) {
	for i, idx := range indices {
		if o.shutdown.Requested() || ctx.Err() != nil {
			return
		}
		o.recordResult(o.processWithTimeout(ctx, 0, idx))
		if i < len(indices)-1 {
			t := time.NewTimer(serialRowDelay)
			select {
			case <-ctx.Done():
			case <-t.C:
			}
			t.Stop()
		}
	}
}

// processWithTimeout bounds one row's wall time.
func (o *Orchestrator) processWithTimeout(ctx context.Context, workerID, idx int) RowResult {
	if o.cfg.WorkerTimeout <= 0 {
		return o.worker.Process(ctx, workerID, idx)
	}
	rowCtx, cancel := context.WithTimeout(ctx, o.cfg.WorkerTimeout)
	defer cancel()
	res := o.worker.Process(rowCtx, workerID, idx)
	if !res.Success && !res.Skipped && res.Err == nil && rowCtx.Err() == context.DeadlineExceeded {
		res.Err = fmt.Errorf("row %d: timed out after %s", idx, o.cfg.WorkerTimeout)
		o.stats.Failed.Add(1)
	}
	return res
}

// recordResult persists one outcome and publishes events.
func (o *Orchestrator) recordResult(res RowResult) {
	switch {
	case res.Skipped:
		// Shutdown left the row untouched; it stays pending and is NOT
		// counted as skipped, which is reserved for already-done rows.
	case res.Success:
		if err := o.progress.MarkDone(res.Idx, res.Query, res.Filename, res.Source, res.MetaJSON()); err != nil {
			log.Errorf("[orchestrator] mark done %d: %v", res.Idx, err)
		}
		o.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRowDone, Row: res.Idx,
			Query: res.Query, Filename: res.Filename,
		})
		n := o.stats.Success.Load()
		if o.cfg.MilestoneEvery > 0 && n%int64(o.cfg.MilestoneEvery) == 0 {
			o.bus.Publish(eventbus.Event{Type: eventbus.TypeMilestone, Count: int(n)})
		}
	default:
		errMsg := "unknown error"
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		if err := o.progress.MarkFailed(res.Idx, res.Query, errMsg); err != nil {
			log.Errorf("[orchestrator] mark failed %d: %v", res.Idx, err)
		}
		o.bus.Publish(eventbus.Event{
			Type: eventbus.TypeRowFailed, Row: res.Idx,
			Query: res.Query, Error: errMsg,
		})
		log.Warnf("[orchestrator] row %d failed: %s", res.Idx, errMsg)
	}
}

// report logs the end-of-run sections and announces completion on the bus.
func (o *Orchestrator) report() {
	o.health.LogReport()
	if o.cache != nil {
		if cs, err := o.cache.Stats(); err == nil {
			log.Infof("[cache] entries=%d hits=%d bytes=%d", cs.Entries, cs.TotalHits, cs.TotalBytes)
		}
	}
	if ps, err := o.progress.Stats(); err == nil {
		log.Infof("[progress] done=%d failed=%d pending=%d",
			ps[store.StatusDone], ps[store.StatusFailed], ps[store.StatusPending])
	}
	o.stats.LogReport()
	o.bus.Publish(eventbus.Event{
		Type:    eventbus.TypeCompleted,
		Count:   int(o.stats.Total.Load()),
		Success: int(o.stats.Success.Load()),
		Elapsed: o.stats.Elapsed(),
	})
}

func (o *Orchestrator) cleanupTemp() {
	if o.cfg.TempDir == "" {
		return
	}
	if err := os.RemoveAll(o.cfg.TempDir); err != nil {
		log.Warnf("[orchestrator] temp cleanup: %v", err)
	}
}
