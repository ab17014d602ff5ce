package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/i474232898/weather-radar/internal/config"
	"github.com/i474232898/weather-radar/internal/logging"
	"github.com/i474232898/weather-radar/internal/radar"
	"github.com/i474232898/weather-radar/internal/radar/convert"
	"github.com/i474232898/weather-radar/internal/radar/source"
	"github.com/i474232898/weather-radar/internal/store"
)

var (
	cfg    *config.AppConfig
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "weather-radar",
	Short: "Serve the latest MRMS reflectivity radar as GeoJSON",
	Long:  "Periodically pulls the newest radar file, converts it to point features and serves the last good result over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		l, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, refreshCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildService wires the pipeline from configuration.
func buildService(cfg *config.AppConfig, log *zap.Logger) (*radar.Service, error) {
	client := source.NewClient(source.ClientOptions{
		HTTPClient:        &http.Client{},
		RequestsPerSecond: cfg.UpstreamRPS,
		Burst:             4,
		Logger:            log,
	})

	resolver := source.NewListingResolver(client, source.ListingOptions{
		BaseURL:     cfg.BaseURL,
		ListingPath: cfg.ListingPath,
		Product:     cfg.Product,
		Suffix:      cfg.FileSuffix,
		Timeout:     cfg.ListingTimeout,
	})

	fetchOpts := source.DefaultFetcherOptions()
	fetchOpts.DownloadTimeout = cfg.DownloadTimeout
	fetchOpts.MaxAttempts = cfg.FetchMaxAttempts
	fetchOpts.RetryDelay = cfg.FetchRetryDelay
	fetcher := source.NewHTTPFetcher(client, resolver, fetchOpts, log)

	converter, err := convert.NewCommandConverter(convert.CommandOptions{
		Command: cfg.ConverterCommand,
		Timeout: cfg.ConverterTimeout,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("converter: %w", err)
	}

	var historyAge time.Duration
	if cfg.CycleHistory > 0 {
		historyAge = cfg.UpdateInterval * time.Duration(cfg.CycleHistory+1)
	}
	cycles := store.NewCycleLog(cfg.CycleHistory, historyAge)

	return radar.NewService(fetcher, converter, store.NewMemoryStore(), cycles, log, radar.Options{
		// The converter enforces ConverterTimeout itself; this is a backstop.
		ConvertTimeout: cfg.ConverterTimeout + cfg.ConverterTimeout/2,
		StaleAfter:     cfg.StaleAfter,
	}), nil
}
