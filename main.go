package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/root-aj000/ADS-GEN/internal/api"
	"github.com/root-aj000/ADS-GEN/internal/compose"
	"github.com/root-aj000/ADS-GEN/internal/config"
	"github.com/root-aj000/ADS-GEN/internal/csvio"
	"github.com/root-aj000/ADS-GEN/internal/eventbus"
	"github.com/root-aj000/ADS-GEN/internal/imaging"
	"github.com/root-aj000/ADS-GEN/internal/notify"
	"github.com/root-aj000/ADS-GEN/internal/pipeline"
	"github.com/root-aj000/ADS-GEN/internal/search"
	"github.com/root-aj000/ADS-GEN/internal/store"
	"github.com/root-aj000/ADS-GEN/internal/verify"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
	exitInterrupted = 130
)

type globalOptions struct {
	Config  string `short:"c" long:"config" default:"config.yaml" description:"Path to the YAML config file"`
	Verbose bool   `short:"v" long:"verbose" description:"Enable debug logging"`
}

func (g *globalOptions) load() (*config.Config, error) {
	if g.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCodeError carries a specific process exit code out of a command.
type exitCodeError struct {
	code int
	err  error
}

func (e exitCodeError) Error() string { return e.err.Error() }

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	api.BuildCommit = BuildCommit

	parser := flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "run", "Process the input CSV into composed ads", `
Run the batch: for every pending row, search for a product image, verify
and select a candidate, optionally strip its background, compose the ad,
and write it under the images directory. Interrupt once for a graceful
stop; progress is durable and a later run resumes where this one ended.
`, &cmdRun{})

	addCmd(parser, "status", "Print progress counters for the current batch", `
Print row counts by status from the progress database.
`, &cmdStatus{})

	addCmd(parser, "reset", "Clear all batch progress", `
Delete every row record from the progress database so the next run starts
from scratch. Composed images on disk are left alone.
`, &cmdReset{})

	addCmd(parser, "cache", "Inspect or clear the image cache", `
Print image-cache statistics, or clear the cache with --clear.
`, &cmdCache{})

	addCmd(parser, "preview", "Render a sample ad without searching", `
Compose a placeholder ad for the given query and template so layout and
palette changes can be checked without network access.
`, &cmdPreview{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			os.Exit(exitOK)
		}
		var coded exitCodeError
		if errors.As(err, &coded) {
			if coded.code != exitInterrupted {
				log.Error(coded.err)
			}
			os.Exit(coded.code)
		}
		log.Error(err)
		os.Exit(exitConfigError)
	}
}

func addCmd(parser *flags.Parser, name, short, long string, cmd interface{}) {
	if _, err := parser.AddCommand(name, short, long, cmd); err != nil {
		panic(err)
	}
}

type cmdRun struct {
	globalOptions
	Fresh bool `long:"fresh" description:"Ignore previous progress and process every row"`
	NoDLQ bool `long:"no-dlq" description:"Skip the dead-letter retry pass"`
}

func (c *cmdRun) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}
	if err := cfg.EnsureDirs(); err != nil {
		return exitCodeError{exitConfigError, err}
	}

	log.Infof("ads-gen %s starting", BuildCommit)
	log.Infof("input=%s output=%s workers=%d", cfg.Paths.InputCSV, cfg.Paths.ImagesDir, cfg.Runtime.Workers)

	// 1. Row table
	table, err := csvio.Load(cfg.Paths.InputCSV)
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}

	// 2. Stores
	progress, err := store.OpenProgress(cfg.Paths.ProgressDB)
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	defer progress.Close()

	var cache *store.Cache
	if cfg.Paths.CacheDB != "" {
		cache, err = store.OpenCache(cfg.Paths.CacheDB)
		if err != nil {
			log.Warnf("image cache unavailable, continuing without: %v", err)
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	// 3. Search
	providers, err := search.NewProviders(cfg.Search.Engines, cfg.Search.RequestTimeout.D())
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}
	health := search.NewHealth()
	broker := search.NewBroker(providers, search.BrokerConfig{
		MinResultsFallback: cfg.Search.MinResultsFallback,
		MaxResults:         cfg.Search.MaxResults,
		InterEngineDelay:   cfg.Search.InterEngineDelay.D(),
		RatePerSecond:      cfg.Search.RatePerSecond,
		Burst:              cfg.Search.Burst,
		BreakerThreshold:   cfg.Search.BreakerThreshold,
		BreakerCooldown:    cfg.Search.BreakerCooldown.D(),
	}, health)

	// 4. Verification
	var verifier verify.Verifier
	if cfg.Verify.Endpoint != "" {
		verifier = verify.NewClient(cfg.Verify.Endpoint, cfg.Verify.Timeout.D(),
			verify.Thresholds{
				ClipAccept:     cfg.Verify.ClipAccept,
				ClipReject:     cfg.Verify.ClipReject,
				CombinedAccept: cfg.Verify.CombinedAccept,
				CombinedReject: cfg.Verify.CombinedReject,
				ClipWeight:     cfg.Verify.ClipWeight,
				BlipWeight:     cfg.Verify.BlipWeight,
			},
			verify.Thresholds{
				CombinedAccept: cfg.Verify.PostCombinedAccept,
				CombinedReject: cfg.Verify.PostCombinedReject,
				ClipWeight:     cfg.Verify.ClipWeight,
				BlipWeight:     cfg.Verify.BlipWeight,
			})
	} else {
		log.Info("no verify endpoint configured, accepting all candidates")
	}

	// 5. Selection, conditioning, composition
	selector := imaging.NewSelector(imaging.SelectorConfig{
		MinFileBytes: cfg.Selection.MinFileBytes,
		Limits: imaging.ValidationLimits{
			MinWidth:   cfg.Selection.MinWidth,
			MinHeight:  cfg.Selection.MinHeight,
			AspectMin:  cfg.Selection.AspectMin,
			AspectMax:  cfg.Selection.AspectMax,
			MinStdDev:  cfg.Selection.MinStdDev,
			MinColours: cfg.Selection.MinColours,
		},
		MaxVerifyCandidates:     cfg.Verify.MaxVerifyCandidates,
		MinCandidatesBeforeBest: cfg.Verify.MinCandidatesBeforeBest,
		CombinedReject:          cfg.Verify.CombinedReject,
		DownloadAttempts:        2,
		BackoffBase:             cfg.Runtime.RetryBackoffBase.D(),
		FetchTimeout:            cfg.Search.RequestTimeout.D(),
	}, imaging.NewDedupSet(), verifier)

	var matting imaging.Matting
	if cfg.Background.Endpoint != "" {
		matting = imaging.NewMattingClient(cfg.Background.Endpoint, cfg.Background.Timeout.D())
	} else {
		log.Info("no matting endpoint configured, backgrounds are kept")
	}
	conditioner := imaging.NewConditioner(imaging.ConditionerConfig{
		SceneKeywords:   cfg.Background.SceneKeywords,
		MinRetention:    cfg.Background.MinRetention,
		MaxRetention:    cfg.Background.MaxRetention,
		RescueRetention: cfg.Background.RescueRetention,
		MinObjectRatio:  cfg.Background.MinObjectRatio,
		MinFillRatio:    cfg.Background.MinFillRatio,
	}, matting)

	// 6. Events and notifications
	bus := eventbus.New()
	defer bus.Close()
	notifier := notify.New(cfg.Notify.WebhookURL, notify.SMTPSettings{
		Host:     cfg.Notify.SMTP.Host,
		Port:     cfg.Notify.SMTP.Port,
		Username: cfg.Notify.SMTP.Username,
		Password: cfg.Notify.SMTP.Password,
		From:     cfg.Notify.SMTP.From,
		To:       cfg.Notify.SMTP.To,
	})
	if notifier.Enabled() {
		events := make(chan eventbus.Event, 64)
		bus.Subscribe(eventbus.TypeMilestone, events)
		bus.Subscribe(eventbus.TypeRowFailed, events)
		bus.Subscribe(eventbus.TypeCompleted, events)
		listenDone := make(chan struct{})
		go func() {
			notifier.Listen(events)
			close(listenDone)
		}()
		// Publishing stops when orch.Run returns; close the channel so
		// Listen drains the buffer and exits before Wait.
		defer func() {
			close(events)
			<-listenDone
			notifier.Wait()
		}()
	}

	// 7. Pipeline
	stats := pipeline.NewStats()
	shutdown := pipeline.NewShutdownCoordinator()
	shutdown.Install(nil)

	worker := pipeline.NewRowWorker(pipeline.RowWorkerConfig{
		Query: pipeline.QueryConfig{
			Priority:     cfg.Columns.QueryPriority,
			Fallback:     cfg.Columns.Fallback,
			IgnoreValues: cfg.Columns.IgnoreValues,
			MaxWords:     cfg.Search.MaxQueryWords,
		},
		TitleColumn:          cfg.Columns.Title,
		DiscountColumn:       cfg.Columns.Discount,
		CTAColumn:            cfg.Columns.CTA,
		ColorColumn:          cfg.Columns.Color,
		ImagesDir:            cfg.Paths.ImagesDir,
		ImagesRelPrefix:      "images",
		TempDir:              cfg.Paths.TempDir,
		CacheFilesDir:        cacheFilesDir(cfg),
		MaxRecomposeAttempts: cfg.Verify.MaxRecomposeAttempts,
	}, table, cache, broker, selector, conditioner, compose.NewCompositor(), verifier, stats, shutdown, nil)

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Workers:         cfg.Runtime.Workers,
		ChunkSize:       cfg.Runtime.ChunkSize,
		WorkerTimeout:   cfg.Runtime.WorkerTimeout.D(),
		CSVSaveInterval: cfg.Runtime.CSVSaveInterval,
		MaxRetries:      cfg.Runtime.MaxRetries,
		OutputCSV:       cfg.Paths.OutputCSV,
		TempDir:         cfg.Paths.TempDir,
		MilestoneEvery:  cfg.Notify.MilestoneEvery,
		Resume:          !c.Fresh,
		DLQEnabled:      !c.NoDLQ,
		StartRow:        cfg.Runtime.StartRow,
		EndRow:          cfg.Runtime.EndRow,
	}, table, progress, cache, worker, stats, shutdown, health, bus)

	// 8. Status server
	if cfg.StatusAddr != "" {
		srv := api.NewServer(cfg.StatusAddr, stats, progress, cache)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	// 9. Run
	err = orch.Run(context.Background())
	if errors.Is(err, pipeline.ErrShutdown) {
		log.Warn("interrupted, progress saved")
		return exitCodeError{exitInterrupted, err}
	}
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	return nil
}

// cacheFilesDir keeps cached image files next to the cache database.
func cacheFilesDir(cfg *config.Config) string {
	if cfg.Paths.CacheDB == "" {
		return ""
	}
	return cfg.Paths.CacheDB + ".files"
}

type cmdStatus struct {
	globalOptions
}

func (c *cmdStatus) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}
	progress, err := store.OpenProgress(cfg.Paths.ProgressDB)
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	defer progress.Close()

	ps, err := progress.Stats()
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	fmt.Printf("done:    %d\n", ps[store.StatusDone])
	fmt.Printf("failed:  %d\n", ps[store.StatusFailed])
	fmt.Printf("pending: %d\n", ps[store.StatusPending])
	return nil
}

type cmdReset struct {
	globalOptions
}

func (c *cmdReset) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}
	progress, err := store.OpenProgress(cfg.Paths.ProgressDB)
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	defer progress.Close()

	if err := progress.Reset(); err != nil {
		return exitCodeError{exitFailure, err}
	}
	log.Info("progress cleared")
	return nil
}

type cmdCache struct {
	globalOptions
	Clear bool `long:"clear" description:"Delete every cache entry"`
}

func (c *cmdCache) Execute(_ []string) error {
	cfg, err := c.load()
	if err != nil {
		return exitCodeError{exitConfigError, err}
	}
	cache, err := store.OpenCache(cfg.Paths.CacheDB)
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	defer cache.Close()

	if c.Clear {
		if err := cache.Clear(); err != nil {
			return exitCodeError{exitFailure, err}
		}
		log.Info("image cache cleared")
		return nil
	}
	cs, err := cache.Stats()
	if err != nil {
		return exitCodeError{exitFailure, err}
	}
	fmt.Printf("entries: %d\n", cs.Entries)
	fmt.Printf("hits:    %d\n", cs.TotalHits)
	fmt.Printf("bytes:   %d\n", cs.TotalBytes)
	return nil
}

type cmdPreview struct {
	globalOptions
	Query    string `short:"q" long:"query" default:"wireless headphones" description:"Query text for the preview"`
	Template string `short:"t" long:"template" default:"centered" description:"Template name"`
	Out      string `short:"o" long:"out" default:"preview.jpg" description:"Output file"`
}

func (c *cmdPreview) Execute(_ []string) error {
	if _, err := c.load(); err != nil {
		return exitCodeError{exitConfigError, err}
	}
	tpl, ok := compose.ByName(c.Template)
	if !ok {
		return exitCodeError{exitConfigError, fmt.Errorf("unknown template %q", c.Template)}
	}
	fields := compose.Fields{Title: c.Query, Discount: "20% OFF", CTA: "Shop Now"}
	if _, err := compose.NewCompositor().Placeholder(c.Query, fields, c.Out, tpl); err != nil {
		return exitCodeError{exitFailure, err}
	}
	log.Infof("preview written to %s", c.Out)
	return nil
}
