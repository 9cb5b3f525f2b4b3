package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml strings like
// "500ms" or "60s", or from bare numbers interpreted as seconds.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Config is the full tunable surface of the pipeline. Zero values are
// replaced by Default() before Load applies the file on top, so a config
// file only needs the keys it wants to change.
type Config struct {
	Search     SearchConfig     `yaml:"search"`
	Selection  SelectionConfig  `yaml:"selection"`
	Verify     VerifyConfig     `yaml:"verify"`
	Background BackgroundConfig `yaml:"background"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Notify     NotifyConfig     `yaml:"notify"`
	Paths      PathsConfig      `yaml:"paths"`
	Columns    ColumnsConfig    `yaml:"columns"`

	// StatusAddr enables the local status HTTP server when non-empty,
	// e.g. "127.0.0.1:8790".
	StatusAddr string `yaml:"status_addr"`
}

type SearchConfig struct {
	// Engines in priority order. Known names: google, bing, duckduckgo.
	Engines []string `yaml:"engines"`

	// RatePerSecond and Burst apply per engine.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`

	BreakerThreshold int      `yaml:"breaker_threshold"`
	BreakerCooldown  Duration `yaml:"breaker_cooldown"`

	MinResultsFallback int      `yaml:"min_results_fallback"`
	MaxResults         int      `yaml:"max_results"`
	InterEngineDelay   Duration `yaml:"inter_engine_delay"`
	RequestTimeout     Duration `yaml:"request_timeout"`

	// MaxQueryWords caps cleaned queries; 0 means uncapped.
	MaxQueryWords int `yaml:"max_query_words"`
}

type SelectionConfig struct {
	MinFileBytes int64 `yaml:"min_file_bytes"`

	// Decoded-image floors.
	MinWidth  int     `yaml:"min_width"`
	MinHeight int     `yaml:"min_height"`
	AspectMin float64 `yaml:"aspect_min"`
	AspectMax float64 `yaml:"aspect_max"`

	// Pixel sanity floors for decoded candidates.
	MinStdDev  float64 `yaml:"min_std_dev"`
	MinColours int     `yaml:"min_colours"`
}

type VerifyConfig struct {
	// Endpoint of the scoring service. Empty disables verification and
	// every candidate decision becomes accept.
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`

	ClipAccept     float64 `yaml:"clip_accept"`
	ClipReject     float64 `yaml:"clip_reject"`
	CombinedAccept float64 `yaml:"combined_accept"`
	CombinedReject float64 `yaml:"combined_reject"`
	ClipWeight     float64 `yaml:"clip_weight"`
	BlipWeight     float64 `yaml:"blip_weight"`

	MaxVerifyCandidates     int `yaml:"max_verify_candidates"`
	MinCandidatesBeforeBest int `yaml:"min_candidates_before_best"`

	// Relaxed thresholds for the composed-ad check.
	PostCombinedAccept   float64 `yaml:"post_combined_accept"`
	PostCombinedReject   float64 `yaml:"post_combined_reject"`
	MaxRecomposeAttempts int     `yaml:"max_recompose_attempts"`
}

type BackgroundConfig struct {
	// Endpoint of the matting service. Empty disables conditioning.
	Endpoint string   `yaml:"endpoint"`
	Timeout  Duration `yaml:"timeout"`

	// Queries containing any of these keep their background.
	SceneKeywords []string `yaml:"scene_keywords"`

	MinRetention    float64 `yaml:"min_retention"`
	MaxRetention    float64 `yaml:"max_retention"`
	RescueRetention float64 `yaml:"rescue_retention"`
	MinObjectRatio  float64 `yaml:"min_object_ratio"`
	MinFillRatio    float64 `yaml:"min_fill_ratio"`
}

type RuntimeConfig struct {
	Workers          int      `yaml:"workers"`
	ChunkSize        int      `yaml:"chunk_size"`
	WorkerTimeout    Duration `yaml:"worker_timeout"`
	CSVSaveInterval  int      `yaml:"csv_save_interval"`
	MaxRetries       int      `yaml:"max_retries"`
	RetryBackoffBase Duration `yaml:"retry_backoff_base"`

	// StartRow and EndRow bound the processed index range [start, end).
	// EndRow <= 0 means the end of the table.
	StartRow int `yaml:"start_row"`
	EndRow   int `yaml:"end_row"`
}

type NotifyConfig struct {
	WebhookURL    string     `yaml:"webhook_url"`
	MilestoneEvery int       `yaml:"milestone_every"`
	SMTP          SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
}

type PathsConfig struct {
	InputCSV   string `yaml:"input_csv"`
	OutputCSV  string `yaml:"output_csv"`
	ImagesDir  string `yaml:"images_dir"`
	TempDir    string `yaml:"temp_dir"`
	ProgressDB string `yaml:"progress_db"`
	CacheDB    string `yaml:"cache_db"`
}

type ColumnsConfig struct {
	// Query columns in priority order; the first non-empty valid cell wins.
	QueryPriority []string `yaml:"query_priority"`
	// Fallback columns tried when every priority column is empty.
	Fallback []string `yaml:"fallback"`
	// Cell values treated as empty.
	IgnoreValues []string `yaml:"ignore_values"`

	Title    string `yaml:"title"`
	Discount string `yaml:"discount"`
	CTA      string `yaml:"cta"`
	Color    string `yaml:"color"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Engines:            []string{"google", "duckduckgo", "bing"},
			RatePerSecond:      1,
			Burst:              1,
			BreakerThreshold:   5,
			BreakerCooldown:    Duration(60 * time.Second),
			MinResultsFallback: 8,
			MaxResults:         30,
			InterEngineDelay:   Duration(500 * time.Millisecond),
			RequestTimeout:     Duration(15 * time.Second),
			MaxQueryWords:      0,
		},
		Selection: SelectionConfig{
			MinFileBytes: 4096,
			MinWidth:     200,
			MinHeight:    200,
			AspectMin:    0.3,
			AspectMax:    3.5,
			MinStdDev:    8.0,
			MinColours:   24,
		},
		Verify: VerifyConfig{
			Timeout:                 Duration(30 * time.Second),
			ClipAccept:              0.25,
			ClipReject:              0.15,
			CombinedAccept:          0.25,
			CombinedReject:          0.12,
			ClipWeight:              0.6,
			BlipWeight:              0.4,
			MaxVerifyCandidates:     10,
			MinCandidatesBeforeBest: 3,
			PostCombinedAccept:      0.15,
			PostCombinedReject:      0.06,
			MaxRecomposeAttempts:    2,
		},
		Background: BackgroundConfig{
			Timeout: Duration(60 * time.Second),
			SceneKeywords: []string{
				"room", "kitchen", "interior", "landscape", "outdoor",
				"scene", "office", "garden", "street", "beach",
			},
			MinRetention:    0.05,
			MaxRetention:    0.95,
			RescueRetention: 0.01,
			MinObjectRatio:  0.10,
			MinFillRatio:    0.15,
		},
		Runtime: RuntimeConfig{
			Workers:          4,
			ChunkSize:        50,
			WorkerTimeout:    Duration(120 * time.Second),
			CSVSaveInterval:  5,
			MaxRetries:       2,
			RetryBackoffBase: Duration(500 * time.Millisecond),
		},
		Notify: NotifyConfig{
			MilestoneEvery: 25,
		},
		Paths: PathsConfig{
			InputCSV:   "data/input/main.csv",
			OutputCSV:  "data/output/ads_with_images.csv",
			ImagesDir:  "data/output/images",
			TempDir:    "data/temp/workers",
			ProgressDB: "data/temp/progress.db",
			CacheDB:    "data/cache/images.db",
		},
		Columns: ColumnsConfig{
			QueryPriority: []string{"product_name", "title", "description"},
			Fallback:      []string{"object_detected", "keywords"},
			IgnoreValues:  []string{"", "nan", "none", "null", "n/a", "-"},
			Title:         "title",
			Discount:      "discount",
			CTA:           "cta",
			Color:         "color",
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error
// when path is the default location; an unreadable or invalid file is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Search.Engines) == 0 {
		return fmt.Errorf("search: at least one engine required")
	}
	if c.Search.RatePerSecond <= 0 {
		return fmt.Errorf("search: rate_per_second must be positive")
	}
	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search: max_results must be positive")
	}
	if c.Runtime.Workers <= 0 {
		return fmt.Errorf("runtime: workers must be positive")
	}
	if c.Runtime.ChunkSize <= 0 {
		return fmt.Errorf("runtime: chunk_size must be positive")
	}
	if c.Runtime.CSVSaveInterval <= 0 {
		return fmt.Errorf("runtime: csv_save_interval must be positive")
	}
	if w := c.Verify.ClipWeight + c.Verify.BlipWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("verify: clip_weight + blip_weight must equal 1.0, got %.3f", w)
	}
	if c.Verify.CombinedReject > c.Verify.CombinedAccept {
		return fmt.Errorf("verify: combined_reject must not exceed combined_accept")
	}
	if c.Verify.PostCombinedReject > c.Verify.PostCombinedAccept {
		return fmt.Errorf("verify: post_combined_reject must not exceed post_combined_accept")
	}
	if c.Background.MinRetention >= c.Background.MaxRetention {
		return fmt.Errorf("background: min_retention must be below max_retention")
	}
	if c.Paths.InputCSV == "" {
		return fmt.Errorf("paths: input_csv required")
	}
	return nil
}

// EnsureDirs creates every directory the pipeline writes into.
func (c *Config) EnsureDirs() error {
	for _, p := range []string{
		c.Paths.ImagesDir,
		c.Paths.TempDir,
		filepath.Dir(c.Paths.OutputCSV),
		filepath.Dir(c.Paths.ProgressDB),
		filepath.Dir(c.Paths.CacheDB),
	} {
		if p == "" || p == "." {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", p, err)
		}
	}
	return nil
}
