package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Strava StravaConfig
	Server ServerConfig
	Ingest IngestConfig
	Drive  DriveConfig
}

// StravaConfig holds Strava API credentials and endpoints
type StravaConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	VerifyToken  string // webhook subscription secret
	APIBase      string
	TokenURL     string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string
	BaseURL    string // public base URL, used to build the webhook callback
	AckBudget  time.Duration
}

// IngestConfig holds pipeline and storage settings
type IngestConfig struct {
	DatabaseDSN   string // sqlite file path or postgres:// URL
	DataDir       string
	HTTPTimeout   time.Duration
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	SweepSchedule string // cron spec for the credential sweep, empty disables it ("off" in the environment)
	SweepWindow   time.Duration
}

// DriveConfig holds Google Drive upload settings
type DriveConfig struct {
	FolderID           string
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	ServiceAccountJSON string
	ServiceAccountFile string
}

// ErrMissingSetting is returned by Validate when a required setting is empty
var ErrMissingSetting = errors.New("missing required setting")

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Strava: StravaConfig{
			APIBase:  "https://www.strava.com/api/v3",
			TokenURL: "https://www.strava.com/oauth/token",
		},
		Server: ServerConfig{
			ListenAddr: ":5000",
			AckBudget:  2 * time.Second,
		},
		Ingest: IngestConfig{
			DatabaseDSN:   filepath.Join("data", "ingest.db"),
			DataDir:       "data",
			HTTPTimeout:   15 * time.Second,
			Workers:       2,
			QueueSize:     64,
			JobTimeout:    2 * time.Minute,
			SweepSchedule: "@every 30m",
			SweepWindow:   time.Hour,
		},
	}
}

// Load reads an optional .env file and then the process environment.
// Values already present in the environment win over the .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env file: %w", err)
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from a lookup function, applying defaults for
// anything unset
func FromEnv(getenv func(string) string) *Config {
	cfg := DefaultConfig()

	cfg.Strava.ClientID = getenv("STRAVA_CLIENT_ID")
	cfg.Strava.ClientSecret = getenv("STRAVA_CLIENT_SECRET")
	cfg.Strava.RedirectURL = getenv("STRAVA_REDIRECT_URI")
	cfg.Strava.VerifyToken = getenv("STRAVA_VERIFY_TOKEN")
	cfg.Strava.APIBase = stringEnv(getenv, "STRAVA_API_BASE", cfg.Strava.APIBase)
	cfg.Strava.TokenURL = stringEnv(getenv, "STRAVA_TOKEN_URL", cfg.Strava.TokenURL)

	cfg.Server.ListenAddr = stringEnv(getenv, "LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.BaseURL = strings.TrimRight(getenv("BASE_URL"), "/")
	cfg.Server.AckBudget = durationEnv(getenv, "WEBHOOK_ACK_BUDGET", cfg.Server.AckBudget)

	cfg.Ingest.DataDir = stringEnv(getenv, "DATA_DIR", cfg.Ingest.DataDir)
	cfg.Ingest.DatabaseDSN = stringEnv(getenv, "DATABASE_DSN", filepath.Join(cfg.Ingest.DataDir, "ingest.db"))
	cfg.Ingest.HTTPTimeout = durationEnv(getenv, "HTTP_TIMEOUT", cfg.Ingest.HTTPTimeout)
	cfg.Ingest.Workers = intEnv(getenv, "INGEST_WORKERS", cfg.Ingest.Workers)
	cfg.Ingest.QueueSize = intEnv(getenv, "INGEST_QUEUE_SIZE", cfg.Ingest.QueueSize)
	cfg.Ingest.JobTimeout = durationEnv(getenv, "INGEST_JOB_TIMEOUT", cfg.Ingest.JobTimeout)
	if v, ok := lookup(getenv, "CREDENTIAL_SWEEP_SCHEDULE"); ok {
		if strings.EqualFold(v, "off") {
			v = ""
		}
		cfg.Ingest.SweepSchedule = v
	}
	cfg.Ingest.SweepWindow = durationEnv(getenv, "CREDENTIAL_SWEEP_WINDOW", cfg.Ingest.SweepWindow)

	cfg.Drive.FolderID = getenv("GOOGLE_DRIVE_FOLDER_ID")
	cfg.Drive.ClientID = getenv("GOOGLE_CLIENT_ID")
	cfg.Drive.ClientSecret = getenv("GOOGLE_CLIENT_SECRET")
	cfg.Drive.RedirectURL = getenv("GOOGLE_REDIRECT_URI")
	cfg.Drive.ServiceAccountJSON = getenv("GOOGLE_SERVICE_ACCOUNT")
	cfg.Drive.ServiceAccountFile = getenv("GOOGLE_SERVICE_ACCOUNT_FILE")

	return &cfg
}

// Validate checks if the config has required fields
func (c *Config) Validate() error {
	if c.Strava.ClientID == "" {
		return fmt.Errorf("%w: STRAVA_CLIENT_ID - get it from https://www.strava.com/settings/api", ErrMissingSetting)
	}
	if c.Strava.ClientSecret == "" {
		return fmt.Errorf("%w: STRAVA_CLIENT_SECRET - get it from https://www.strava.com/settings/api", ErrMissingSetting)
	}
	if c.Strava.VerifyToken == "" {
		return fmt.Errorf("%w: STRAVA_VERIFY_TOKEN", ErrMissingSetting)
	}
	if c.Ingest.DataDir == "" {
		return fmt.Errorf("%w: DATA_DIR", ErrMissingSetting)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("INGEST_QUEUE_SIZE must be at least 1, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.Ingest.HTTPTimeout)
	}

	// A delegated Drive login needs the OAuth client pair together
	if (c.Drive.ClientID == "") != (c.Drive.ClientSecret == "") {
		return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if c.Drive.ServiceAccountJSON != "" && c.Drive.ServiceAccountFile != "" {
		return errors.New("set only one of GOOGLE_SERVICE_ACCOUNT and GOOGLE_SERVICE_ACCOUNT_FILE")
	}

	return nil
}

// StreamsDir returns the directory holding the per-activity tables
func (c *Config) StreamsDir() string {
	return filepath.Join(c.Ingest.DataDir, "streams")
}

// WebhookCallbackURL returns the URL Strava should push events to
func (c *Config) WebhookCallbackURL() string {
	return c.Server.BaseURL + "/webhook"
}

func lookup(getenv func(string) string, name string) (string, bool) {
	raw := getenv(name)
	return raw, raw != ""
}

func stringEnv(getenv func(string) string, name, fallback string) string {
	if raw, ok := lookup(getenv, name); ok {
		return raw
	}
	return fallback
}

func intEnv(getenv func(string) string, name string, fallback int) int {
	raw, ok := lookup(getenv, name)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(getenv func(string) string, name string, fallback time.Duration) time.Duration {
	raw, ok := lookup(getenv, name)
	if !ok {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}
