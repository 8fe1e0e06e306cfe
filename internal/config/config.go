package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
)

// Config carries every tunable of the auditor. Values mirror the delays the
// portal UI has proven to need; all of them can be overridden per deployment.
type Config struct {
	// PortalURL is the complaints page the browser session starts on.
	PortalURL string `envconfig:"PORTAL_URL" required:"true"`

	// RemoteDebuggingURL attaches to an already-running Chrome with an
	// authenticated portal session instead of launching a fresh one.
	RemoteDebuggingURL string `envconfig:"REMOTE_DEBUGGING_URL" default:""`

	// LogLevel maps to logrus levels (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LedgerDSN enables the local Postgres audit ledger when set.
	LedgerDSN string `envconfig:"LEDGER_DSN" default:""`

	// Credential / remote endpoints.
	TokenURL        string `envconfig:"TOKEN_URL" default:""`
	APIToken        string `envconfig:"API_TOKEN" default:""`
	StatusAPIBase   string `envconfig:"STATUS_API_BASE" default:""`
	DriveAPIBase    string `envconfig:"DRIVE_API_BASE" default:"https://www.googleapis.com/drive/v3"`
	DriveUploadBase string `envconfig:"DRIVE_UPLOAD_BASE" default:"https://www.googleapis.com/upload/drive/v3"`
	SheetsAPIBase   string `envconfig:"SHEETS_API_BASE" default:"https://sheets.googleapis.com/v4/spreadsheets"`

	// Pacing. Defaults come from the observed portal behavior.
	SearchSettle   time.Duration `envconfig:"SEARCH_SETTLE" default:"3s"`
	BeforeClick    time.Duration `envconfig:"BEFORE_CLICK" default:"800ms"`
	SidebarSettle  time.Duration `envconfig:"SIDEBAR_SETTLE" default:"2s"`
	AfterClose     time.Duration `envconfig:"AFTER_CLOSE" default:"1s"`
	AfterPaginate  time.Duration `envconfig:"AFTER_PAGINATE" default:"2s"`
	SidebarTimeout time.Duration `envconfig:"SIDEBAR_TIMEOUT" default:"5s"`
	NetworkTimeout time.Duration `envconfig:"NETWORK_TIMEOUT" default:"5s"`

	// Table stability polling.
	StabilityWindow time.Duration `envconfig:"STABILITY_WINDOW" default:"3s"`
	StabilityPoll   time.Duration `envconfig:"STABILITY_POLL" default:"200ms"`

	// Batching.
	BatchSize  int           `envconfig:"BATCH_SIZE" default:"100"`
	BatchPause time.Duration `envconfig:"BATCH_PAUSE" default:"5s"`

	// Remote retry policy.
	RetryMax     int           `envconfig:"RETRY_MAX" default:"3"`
	RetryBackoff time.Duration `envconfig:"RETRY_BACKOFF" default:"2s"`

	// Status endpoint chunking.
	StatusChunkSize int `envconfig:"STATUS_CHUNK_SIZE" default:"500"`

	// Per-host API rate limit (requests per second).
	APIRateLimit float64 `envconfig:"API_RATE_LIMIT" default:"5"`
}

// Load processes environment variables and populates the Config struct,
// honoring an optional .env file the way local development expects.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Missing .env means production; only a present-but-broken file
		// deserves a warning.
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.WithError(err).Warn("config: .env file found but could not be loaded")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	// Sanity clamps; zero values would stall or hammer the portal.
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 1
	}
	if cfg.StatusChunkSize <= 0 {
		cfg.StatusChunkSize = 500
	}
	if cfg.APIRateLimit <= 0 {
		cfg.APIRateLimit = 1
	}
	return &cfg, nil
}
