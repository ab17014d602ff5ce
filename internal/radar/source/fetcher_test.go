package source

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-radar/internal/radar"
)

const testFile = "A_00.50_20240101-060000.grib2.gz"

// gribPayload returns incompressible bytes so gzip output stays above the size floors.
func gribPayload(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(42)).Read(b)
	copy(b, "GRIB")
	return b
}

func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(b)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type upstream struct {
	srv       *httptest.Server
	fileHits  atomic.Int32
	failFirst int32 // file requests failing with 500 before success; -1 fails forever
	body      []byte
	header    http.Header
}

func newUpstream(t *testing.T, body []byte) *upstream {
	t.Helper()
	u := &upstream{body: body}

	mux := http.NewServeMux()
	mux.HandleFunc("/data/2D/Test/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/data/2D/Test/" {
			_, _ = w.Write([]byte(listingHTML(`"` + testFile + `"`)))
			return
		}

		n := u.fileHits.Add(1)
		if u.failFirst < 0 || n <= u.failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		for k, v := range u.header {
			w.Header()[k] = v
		}
		_, _ = w.Write(u.body)
	})

	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func newTestFetcher(t *testing.T, u *upstream) *HTTPFetcher {
	t.Helper()
	client := NewClient(ClientOptions{})
	resolver := NewListingResolver(client, ListingOptions{
		BaseURL:     u.srv.URL + "/data",
		ListingPath: "/2D/Test/",
		Product:     "A",
		Suffix:      ".grib2.gz",
	})

	opts := DefaultFetcherOptions()
	opts.RetryDelay = 10 * time.Millisecond
	opts.DownloadTimeout = 5 * time.Second
	return NewHTTPFetcher(client, resolver, opts, zaptest.NewLogger(t))
}

func TestFetchLatestDecompresses(t *testing.T) {
	payload := gribPayload(4096)
	u := newUpstream(t, gzipBytes(t, payload))

	dl, err := newTestFetcher(t, u).FetchLatest(context.Background())

	require.NoError(t, err)
	assert.Equal(t, payload, dl.Data)
	assert.True(t, dl.Compressed)
	assert.Equal(t, 1, dl.Attempts)
	assert.Equal(t, len(u.body), dl.RawBytes)
	assert.Equal(t, u.srv.URL+"/data/2D/Test/"+testFile, dl.URL)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), dl.SourceTimestamp)
}

func TestFetchLatestRetriesThenSucceeds(t *testing.T) {
	u := newUpstream(t, gzipBytes(t, gribPayload(4096)))
	u.failFirst = 2

	dl, err := newTestFetcher(t, u).FetchLatest(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, int32(3), u.fileHits.Load())
}

func TestFetchLatestExhaustsRetries(t *testing.T) {
	u := newUpstream(t, nil)
	u.failFirst = -1

	dl, err := newTestFetcher(t, u).FetchLatest(context.Background())

	var exhausted *radar.FetchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, dl.Attempts)
	assert.Equal(t, int32(3), u.fileHits.Load(), "no fourth attempt")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestFetchLatestRetriesResolutionFailures(t *testing.T) {
	var listingHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listingHits.Add(1)
		_, _ = w.Write([]byte(listingHTML(`"notes.txt"`)))
	}))
	t.Cleanup(srv.Close)

	_, err := newTestFetcher(t, &upstream{srv: srv}).FetchLatest(context.Background())

	var exhausted *radar.FetchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	var resErr *radar.ResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Equal(t, int32(3), listingHits.Load())
}

func TestFetchLatestFallsBackToRawBytes(t *testing.T) {
	payload := gribPayload(4096)
	u := newUpstream(t, payload)

	dl, err := newTestFetcher(t, u).FetchLatest(context.Background())

	require.NoError(t, err)
	assert.Equal(t, payload, dl.Data)
	assert.False(t, dl.Compressed)
	assert.Equal(t, 1, dl.Attempts)
}

func TestFetchLatestCorruptGzipFails(t *testing.T) {
	compressed := gzipBytes(t, gribPayload(4096))
	// Keep the magic header, damage the stream.
	corrupt := append([]byte{}, compressed[:len(compressed)/2]...)
	u := newUpstream(t, corrupt)

	_, err := newTestFetcher(t, u).FetchLatest(context.Background())

	var exhausted *radar.FetchExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Contains(t, err.Error(), "decompress")
	assert.Equal(t, int32(3), u.fileHits.Load())
}

func TestFetchLatestRejectsTinyPayload(t *testing.T) {
	u := newUpstream(t, []byte("<html>not found</html>"))

	_, err := newTestFetcher(t, u).FetchLatest(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errTooSmall))
}

func TestFetchLatestRejectsTinyDecompressedPayload(t *testing.T) {
	// Raw size passes the floor, decompressed size does not.
	u := newUpstream(t, gzipBytes(t, gribPayload(700)))
	f := newTestFetcher(t, u)
	f.opts.MinRawBytes = 100

	_, err := f.FetchLatest(context.Background())

	require.Error(t, err)
	assert.True(t, errors.Is(err, errTooSmall))
}

func TestFetchLatestStopsOnCancel(t *testing.T) {
	u := newUpstream(t, nil)
	u.failFirst = -1
	f := newTestFetcher(t, u)
	f.opts.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := f.FetchLatest(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "500")
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), u.fileHits.Load())
}

func TestSourceTimestamp(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lastModified := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	header := http.Header{"Last-Modified": []string{lastModified.Format(http.TimeFormat)}}

	assert.Equal(t,
		time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC),
		sourceTimestamp("https://x/"+testFile, header, now))
	assert.Equal(t, lastModified, sourceTimestamp("https://x/A.latest.grib2.gz", header, now))
	assert.Equal(t, now, sourceTimestamp("https://x/A.latest.grib2.gz", nil, now))
}

func TestDecompress(t *testing.T) {
	payload := gribPayload(2048)

	data, compressed, err := decompress(gzipBytes(t, payload), 1<<20)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Equal(t, payload, data)

	data, compressed, err = decompress(payload, 1<<20)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, payload, data)

	_, _, err = decompress(gzipBytes(t, payload), 1024)
	assert.ErrorIs(t, err, errTooLarge)
}
