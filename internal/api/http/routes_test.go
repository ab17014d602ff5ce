package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-radar/internal/radar"
	"github.com/i474232898/weather-radar/internal/store"
)

type stubFetcher struct {
	err error
	ts  time.Time
}

func (f stubFetcher) FetchLatest(context.Context) (radar.Download, error) {
	if f.err != nil {
		return radar.Download{Attempts: 3}, f.err
	}
	return radar.Download{URL: "https://example.test/a.grib2.gz", Data: []byte("GRIB"), SourceTimestamp: f.ts, Attempts: 1}, nil
}

type stubConverter struct{}

func (stubConverter) Convert(context.Context, []byte) (*geojson.FeatureCollection, error) {
	return &geojson.FeatureCollection{Features: []*geojson.Feature{{
		Geometry:   geom.NewPointFlat(geom.XY, []float64{-97.5, 35.25}),
		Properties: map[string]interface{}{"reflectivity": 33.0},
	}}}, nil
}

func newTestApp(t *testing.T, fetcher radar.Fetcher) (*fiber.App, *radar.Service) {
	t.Helper()
	svc := radar.NewService(fetcher, stubConverter{}, store.NewMemoryStore(), store.NewCycleLog(10, time.Hour),
		zaptest.NewLogger(t), radar.Options{StaleAfter: 10 * time.Minute})

	app := fiber.New()
	RegisterRoutes(app, svc)
	return app, svc
}

func getJSON(t *testing.T, app *fiber.App, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{})

	var body map[string]string
	resp := getJSON(t, app, "/health", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestLatestBeforeFirstCycle(t *testing.T) {
	app, _ := newTestApp(t, stubFetcher{})

	var body map[string]string
	resp := getJSON(t, app, "/api/radar/latest", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, "Radar data not available", body["error"])
	assert.Equal(t, "Data is still being fetched. Please try again in a moment.", body["message"])
}

func TestLatestAfterCycle(t *testing.T) {
	source := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	app, svc := newTestApp(t, stubFetcher{ts: source})

	outcome := svc.RunCycle(context.Background())
	require.True(t, outcome.Succeeded(), "cycle failed: %v", outcome.Err)

	var body struct {
		Data struct {
			Type     string            `json:"type"`
			Features []json.RawMessage `json:"features"`
		} `json:"data"`
		LastUpdated   string  `json:"lastUpdated"`
		DataTimestamp *string `json:"dataTimestamp"`
	}
	resp := getJSON(t, app, "/api/radar/latest", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, "FeatureCollection", body.Data.Type)
	assert.Len(t, body.Data.Features, 1)

	updated, err := time.Parse(time.RFC3339, body.LastUpdated)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated, time.Minute)

	require.NotNil(t, body.DataTimestamp)
	assert.Equal(t, "2024-01-01T06:00:00Z", *body.DataTimestamp)
}

func TestLatestKeepsSnapshotAfterFailedCycle(t *testing.T) {
	fetcher := &toggleFetcher{}
	app, svc := newTestApp(t, fetcher)

	require.True(t, svc.RunCycle(context.Background()).Succeeded())
	fetcher.err = &radar.FetchExhaustedError{Attempts: 3, Err: errors.New("status 503")}
	assert.Equal(t, radar.OutcomeFetchExhausted, svc.RunCycle(context.Background()).Kind)

	var body map[string]json.RawMessage
	resp := getJSON(t, app, "/api/radar/latest", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "data")
	assert.NotContains(t, body, "error")
}

func TestStatus(t *testing.T) {
	app, svc := newTestApp(t, stubFetcher{})

	var before radar.Status
	getJSON(t, app, "/api/radar/status", &before)
	assert.False(t, before.Ready)
	assert.Nil(t, before.LastUpdated)
	assert.Empty(t, before.Cycles)

	svc.RunCycle(context.Background())

	var body struct {
		Ready      bool     `json:"ready"`
		AgeSeconds *float64 `json:"ageSeconds"`
		Stale      bool     `json:"stale"`
		Cycles     []struct {
			Kind     string `json:"kind"`
			Features int    `json:"features"`
			Err      string `json:"err"`
		} `json:"cycles"`
	}
	resp := getJSON(t, app, "/api/radar/status", &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, body.Ready)
	require.NotNil(t, body.AgeSeconds)
	assert.False(t, body.Stale)
	require.Len(t, body.Cycles, 1)
	assert.Equal(t, "success", body.Cycles[0].Kind)
	assert.Equal(t, 1, body.Cycles[0].Features)
	assert.Empty(t, body.Cycles[0].Err)
}

func TestLatestStoreFailure(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, brokenService{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/radar/latest", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

type toggleFetcher struct {
	err error
}

func (f *toggleFetcher) FetchLatest(ctx context.Context) (radar.Download, error) {
	return stubFetcher{err: f.err}.FetchLatest(ctx)
}

type brokenService struct{}

func (brokenService) Latest() (radar.Snapshot, error) { return radar.Snapshot{}, errors.New("disk on fire") }
func (brokenService) Status() radar.Status            { return radar.Status{} }
