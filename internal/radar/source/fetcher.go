package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"regexp"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/i474232898/weather-radar/internal/radar"
)

var (
	errTooSmall        = errors.New("payload below size floor")
	errTooLarge        = errors.New("decompressed payload exceeds size limit")
	fileTimestampRegex = regexp.MustCompile(`(\d{8}-\d{6})`)
)

// Resolver finds the URL of the newest upstream file.
type Resolver interface {
	ResolveLatestURL(ctx context.Context) (string, error)
}

// FetcherOptions controls download sizing and the retry policy.
type FetcherOptions struct {
	DownloadTimeout time.Duration

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration

	// Responses at or below these sizes are treated as corrupt.
	MinRawBytes          int
	MinDecompressedBytes int

	MaxDownloadBytes     int64
	MaxDecompressedBytes int64
}

// DefaultFetcherOptions returns the production retry and sizing policy.
func DefaultFetcherOptions() FetcherOptions {
	return FetcherOptions{
		DownloadTimeout:      90 * time.Second,
		MaxAttempts:          3,
		RetryDelay:           5 * time.Second,
		MinRawBytes:          512,
		MinDecompressedBytes: 1024,
		MaxDownloadBytes:     256 << 20,
		MaxDecompressedBytes: 1 << 30,
	}
}

// HTTPFetcher implements radar.Fetcher over HTTP with bounded, fixed-delay retries.
type HTTPFetcher struct {
	client   *Client
	resolver Resolver
	opts     FetcherOptions
	log      *zap.Logger

	now func() time.Time
}

// NewHTTPFetcher creates a new HTTPFetcher. Non-positive timeouts, attempt
// counts and size caps take the defaults.
func NewHTTPFetcher(client *Client, resolver Resolver, opts FetcherOptions, log *zap.Logger) *HTTPFetcher {
	def := DefaultFetcherOptions()
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = def.DownloadTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	if opts.MinRawBytes < 0 {
		opts.MinRawBytes = 0
	}
	if opts.MinDecompressedBytes < 0 {
		opts.MinDecompressedBytes = 0
	}
	if opts.MaxDownloadBytes <= 0 {
		opts.MaxDownloadBytes = def.MaxDownloadBytes
	}
	if opts.MaxDecompressedBytes <= 0 {
		opts.MaxDecompressedBytes = def.MaxDecompressedBytes
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &HTTPFetcher{
		client:   client,
		resolver: resolver,
		opts:     opts,
		log:      log.Named("fetcher"),
		now:      time.Now,
	}
}

// FetchLatest resolves, downloads and decompresses the newest file. Resolution,
// transport and decompression failures are all retried up to MaxAttempts with
// a fixed delay; after that a *radar.FetchExhaustedError carries the last cause.
func (f *HTTPFetcher) FetchLatest(ctx context.Context) (radar.Download, error) {
	var lastErr error

	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return radar.Download{Attempts: attempt - 1}, interrupted(attempt-1, lastErr, ctx.Err())
		}

		dl, err := f.fetchOnce(ctx)
		if err == nil {
			dl.Attempts = attempt
			return dl, nil
		}
		lastErr = err

		f.log.Warn("radar fetch attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.opts.MaxAttempts),
			zap.Error(err),
		)

		if attempt == f.opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(f.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return radar.Download{Attempts: attempt}, interrupted(attempt, lastErr, ctx.Err())
		case <-timer.C:
			// continue to next attempt
		}
	}

	return radar.Download{Attempts: f.opts.MaxAttempts}, &radar.FetchExhaustedError{
		Attempts: f.opts.MaxAttempts,
		Err:      lastErr,
	}
}

func interrupted(attempts int, lastErr, ctxErr error) error {
	if lastErr == nil {
		return fmt.Errorf("fetch interrupted: %w", ctxErr)
	}
	return fmt.Errorf("fetch interrupted after %d attempts (last error: %v): %w", attempts, lastErr, ctxErr)
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context) (radar.Download, error) {
	fileURL, err := f.resolver.ResolveLatestURL(ctx)
	if err != nil {
		return radar.Download{}, err
	}

	raw, header, err := f.client.Get(ctx, fileURL, f.opts.DownloadTimeout, f.opts.MaxDownloadBytes)
	if err != nil {
		return radar.Download{}, fmt.Errorf("download %s: %w", fileURL, err)
	}
	if len(raw) <= f.opts.MinRawBytes {
		return radar.Download{}, fmt.Errorf("download %s: got %d bytes, want more than %d: %w",
			fileURL, len(raw), f.opts.MinRawBytes, errTooSmall)
	}

	data, compressed, err := decompress(raw, f.opts.MaxDecompressedBytes)
	if err != nil {
		return radar.Download{}, fmt.Errorf("decompress %s (%d bytes): %w", fileURL, len(raw), err)
	}
	if !compressed {
		f.log.Info("payload is not gzip; using raw bytes",
			zap.String("url", fileURL),
			zap.Int("bytes", len(raw)),
		)
	}
	if len(data) <= f.opts.MinDecompressedBytes {
		return radar.Download{}, fmt.Errorf("decompress %s: got %d bytes, want more than %d: %w",
			fileURL, len(data), f.opts.MinDecompressedBytes, errTooSmall)
	}

	return radar.Download{
		URL:             fileURL,
		Data:            data,
		RawBytes:        len(raw),
		Compressed:      compressed,
		SourceTimestamp: sourceTimestamp(fileURL, header, f.now()),
	}, nil
}

// decompress gunzips raw. Bytes that fail to gunzip and do not start with the
// gzip magic number are taken to be uncompressed already and returned as-is.
func decompress(raw []byte, maxBytes int64) ([]byte, bool, error) {
	data, err := gunzip(raw, maxBytes)
	if err == nil {
		return data, true, nil
	}
	if errors.Is(err, errTooLarge) || hasGzipMagic(raw) {
		return nil, false, err
	}
	return raw, false, nil
}

func gunzip(raw []byte, maxBytes int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", errTooLarge, maxBytes)
	}
	return data, nil
}

func hasGzipMagic(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

// sourceTimestamp prefers the YYYYMMDD-HHMMSS stamp in the file name, then the
// Last-Modified header, then now.
func sourceTimestamp(fileURL string, header http.Header, now time.Time) time.Time {
	if m := fileTimestampRegex.FindString(path.Base(fileURL)); m != "" {
		if ts, err := time.Parse("20060102-150405", m); err == nil {
			return ts.UTC()
		}
	}
	if lm := header.Get("Last-Modified"); lm != "" {
		if ts, err := http.ParseTime(lm); err == nil {
			return ts.UTC()
		}
	}
	return now.UTC()
}
