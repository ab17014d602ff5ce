package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; WeatherRadar/1.0)"

var (
	errCircuitOpen  = errors.New("circuit breaker open")
	errBodyTooLarge = errors.New("response body exceeds size limit")
	errNoHTTPClient = errors.New("http client not configured")
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// ClientOptions configures the upstream HTTP client.
type ClientOptions struct {
	HTTPClient *http.Client
	UserAgent  string

	// RequestsPerSecond paces outbound requests to the data host.
	// Zero or negative means unlimited.
	RequestsPerSecond float64
	Burst             int

	Logger *zap.Logger
}

// Client performs GET requests against the radar data host behind a
// circuit breaker and a request rate limiter.
type Client struct {
	http      *http.Client
	userAgent string
	circuit   *gobreaker.CircuitBreaker
	limiter   *rate.Limiter
}

// NewClient creates a new Client.
func NewClient(opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	log := opts.Logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "radar-upstream",
		MaxRequests: 1,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		http:      opts.HTTPClient,
		userAgent: opts.UserAgent,
		circuit:   cb,
		limiter:   rate.NewLimiter(limit, opts.Burst),
	}
}

type response struct {
	body   []byte
	header http.Header
}

// Get fetches rawURL and returns the full body. timeout bounds the whole
// exchange including the body read; maxBytes caps the body size.
func (c *Client) Get(ctx context.Context, rawURL string, timeout time.Duration, maxBytes int64) ([]byte, http.Header, error) {
	if c == nil || c.http == nil {
		return nil, nil, errNoHTTPClient
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// Drain a little so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
		}

		reader := io.Reader(resp.Body)
		if maxBytes > 0 {
			reader = io.LimitReader(resp.Body, maxBytes+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if maxBytes > 0 && int64(len(body)) > maxBytes {
			return nil, fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, maxBytes)
		}

		return response{body: body, header: resp.Header}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return nil, nil, err
	}

	resp, ok := result.(response)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp.body, resp.header, nil
}
