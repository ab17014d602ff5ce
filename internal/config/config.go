package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

var validate = validator.New()

type AppConfig struct {
	// Upstream directory listing.
	BaseURL     string `validate:"required,url"`
	ListingPath string `validate:"required,startswith=/"`
	Product     string `validate:"required"`
	FileSuffix  string `validate:"required"`

	// UpdateInterval controls how often the pipeline refreshes the snapshot.
	UpdateInterval time.Duration `validate:"gte=1s"`

	ListingTimeout  time.Duration `validate:"gt=0"`
	DownloadTimeout time.Duration `validate:"gt=0"`

	// Retry policy for a single fetch.
	FetchMaxAttempts int           `validate:"gte=1,lte=10"`
	FetchRetryDelay  time.Duration `validate:"gte=0"`

	// Upstream pacing (0 = unlimited).
	UpstreamRPS float64 `validate:"gte=0"`

	// External converter, e.g. "python3 scripts/grib2_to_geojson.py {input}".
	ConverterCommand []string      `validate:"required,min=1"`
	ConverterTimeout time.Duration `validate:"gt=0"`

	// StaleAfter is when the status endpoint starts flagging the snapshot as stale.
	StaleAfter time.Duration `validate:"gte=0"`

	// Cycle history retention.
	CycleHistory int `validate:"gte=0"`

	CORSOrigins string `validate:"required"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	Port string `validate:"required,numeric"`
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	cfg.BaseURL = getenvDefault("RADAR_BASE_URL", "https://mrms.ncep.noaa.gov/data")
	cfg.ListingPath = getenvDefault("RADAR_LISTING_PATH", "/2D/ReflectivityAtLowestAltitude/")
	cfg.Product = getenvDefault("RADAR_PRODUCT", "MRMS_ReflectivityAtLowestAltitude")
	cfg.FileSuffix = getenvDefault("RADAR_FILE_SUFFIX", ".grib2.gz")

	var err error
	// Scheduler interval: default 5 minutes.
	if cfg.UpdateInterval, err = getenvDuration("UPDATE_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.ListingTimeout, err = getenvDuration("LISTING_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.DownloadTimeout, err = getenvDuration("DOWNLOAD_TIMEOUT", "90s"); err != nil {
		return nil, err
	}
	if cfg.FetchRetryDelay, err = getenvDuration("FETCH_RETRY_DELAY", "5s"); err != nil {
		return nil, err
	}
	if cfg.ConverterTimeout, err = getenvDuration("CONVERTER_TIMEOUT", "2m"); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getenvDuration("STALE_AFTER", "10m"); err != nil {
		return nil, err
	}

	if cfg.FetchMaxAttempts, err = getenvInt("FETCH_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	// Roughly 2h at 5-minute intervals.
	if cfg.CycleHistory, err = getenvInt("CYCLE_HISTORY", 24); err != nil {
		return nil, err
	}
	if cfg.UpstreamRPS, err = getenvFloat("UPSTREAM_RPS", 2); err != nil {
		return nil, err
	}

	cfg.ConverterCommand = strings.Fields(getenvDefault("CONVERTER_COMMAND", "python3 scripts/grib2_to_geojson.py {input}"))
	cfg.CORSOrigins = getenvDefault("CORS_ORIGINS", "*")
	cfg.LogLevel = strings.ToLower(getenvDefault("LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "json"))
	cfg.Port = getenvDefault("PORT", "8000")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its field constraints.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ListenAddr is the address the HTTP server binds to.
func (c *AppConfig) ListenAddr() string {
	return ":" + c.Port
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}
