package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Browser Browser
	Wait    Wait
	Worker  Worker
	Direct  Direct
	Store   Store
	Cache   Cache
	Log     Log
	Target  Target
}

// Browser controls the Rod browser instance.
type Browser struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 8

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// BlockedResourceTypes lists resource types aborted at interception.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// Wait controls the completion-detection state machine.
type Wait struct {
	// MaxWait is the hard ceiling on one page run. After it the run
	// finalizes as TIMEOUT with whatever bundles were captured.
	MaxWait time.Duration // default: 20s

	// QuietPeriod is the no-new-bundles window that completes a run
	// when no authoritative bundle-count target is known.
	QuietPeriod time.Duration // default: 1500ms
}

// Worker controls the orchestrator's worker pool.
type Worker struct {
	// Concurrency is the number of independent workers.
	Concurrency int // default: 4

	// BatchSize is the number of items claimed per batch.
	BatchSize int // default: 8

	// BatchBudget is the cumulative page-equivalent budget per batch.
	// Once exceeded, remaining items return to PENDING.
	BatchBudget float64 // default: 24

	// PollInterval is the idle sleep when the backlog has no PENDING items.
	PollInterval time.Duration // default: 2s

	// BlockedRatioWarn is the blocked-request fraction above which the
	// validation gate emits a warning.
	BlockedRatioWarn float64 // default: 0.85

	// StaleClaimAge is how old an IN_PROGRESS claim must be before the
	// startup recovery pass returns it to PENDING.
	StaleClaimAge time.Duration // default: 30m
}

// Direct controls the lighter-weight session-reuse calls.
type Direct struct {
	// RequestsPerSecond is the sustained rate of direct calls per worker.
	RequestsPerSecond float64 // default: 2

	// Burst is the rate limiter burst size.
	Burst int // default: 4

	// Timeout is the deadline for one direct call.
	Timeout time.Duration // default: 10s
}

// Store controls the backlog database.
type Store struct {
	// DataDir is the badger database directory.
	DataDir string // default: "./data"
}

// Cache controls the shared static-asset cache.
type Cache struct {
	// MaxEntries is the maximum number of cached assets.
	MaxEntries int // default: 256

	// TTL is how long a cached asset stays servable.
	TTL time.Duration // default: 1h
}

// Log controls structured logging.
type Log struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Target describes the inspected site's URL surface.
type Target struct {
	// DetailURL is the ad detail page template; %s receives the creative ref.
	DetailURL string

	// LookupURL is the creative lookup endpoint template used on the
	// direct path; %s receives the creative ref.
	LookupURL string

	// BundleURL is the content-bundle delivery template used on the
	// direct path; %s receives a render id.
	BundleURL string
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: Browser{
			Headless:     envBoolOr("ADSCOPE_HEADLESS", true),
			MaxPages:     envIntOr("ADSCOPE_MAX_PAGES", 8),
			DefaultProxy: os.Getenv("ADSCOPE_PROXY"),
			NoSandbox:    envBoolOr("ADSCOPE_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("ADSCOPE_BROWSER_BIN"),
			BlockedResourceTypes: envSliceOr("ADSCOPE_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Wait: Wait{
			MaxWait:     envDurationOr("ADSCOPE_MAX_WAIT", 20*time.Second),
			QuietPeriod: envDurationOr("ADSCOPE_QUIET_PERIOD", 1500*time.Millisecond),
		},
		Worker: Worker{
			Concurrency:      envIntOr("ADSCOPE_WORKERS", 4),
			BatchSize:        envIntOr("ADSCOPE_BATCH_SIZE", 8),
			BatchBudget:      envFloatOr("ADSCOPE_BATCH_BUDGET", 24),
			PollInterval:     envDurationOr("ADSCOPE_POLL_INTERVAL", 2*time.Second),
			BlockedRatioWarn: envFloatOr("ADSCOPE_BLOCKED_RATIO_WARN", 0.85),
			StaleClaimAge:    envDurationOr("ADSCOPE_STALE_CLAIM_AGE", 30*time.Minute),
		},
		Direct: Direct{
			RequestsPerSecond: envFloatOr("ADSCOPE_DIRECT_RPS", 2.0),
			Burst:             envIntOr("ADSCOPE_DIRECT_BURST", 4),
			Timeout:           envDurationOr("ADSCOPE_DIRECT_TIMEOUT", 10*time.Second),
		},
		Store: Store{
			DataDir: envOr("ADSCOPE_DATA_DIR", "./data"),
		},
		Cache: Cache{
			MaxEntries: envIntOr("ADSCOPE_CACHE_MAX_ENTRIES", 256),
			TTL:        envDurationOr("ADSCOPE_CACHE_TTL", time.Hour),
		},
		Log: Log{
			Level:  envOr("ADSCOPE_LOG_LEVEL", "info"),
			Format: envOr("ADSCOPE_LOG_FORMAT", "json"),
		},
		Target: Target{
			DetailURL: envOr("ADSCOPE_DETAIL_URL", "https://ads.example.com/detail/%s"),
			LookupURL: envOr("ADSCOPE_LOOKUP_URL", "https://ads.example.com/api/v1/creative/detail?creative_id=%s"),
			BundleURL: envOr("ADSCOPE_BUNDLE_URL", "https://cdn.ads.example.com/render/bundle?render_id=%s"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
