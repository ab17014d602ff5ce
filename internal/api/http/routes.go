package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-radar/internal/radar"
	"github.com/i474232898/weather-radar/internal/store"
)

// retryAfterSeconds is suggested to clients polling before the first snapshot.
const retryAfterSeconds = "30"

// RadarService is what the HTTP layer needs from the pipeline.
type RadarService interface {
	Latest() (radar.Snapshot, error)
	Status() radar.Status
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service RadarService) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/radar")

	api.Get("/latest", func(c *fiber.Ctx) error {
		snap, err := service.Latest()
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Not an error for clients: they keep polling until the first cycle lands.
				c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
				return c.JSON(fiber.Map{
					"error":   "Radar data not available",
					"message": "Data is still being fetched. Please try again in a moment.",
				})
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read radar data")
		}

		return c.JSON(newLatestResponse(snap))
	})

	api.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(service.Status())
	})
}

// latestResponse separates when the data was computed from what it contains.
type latestResponse struct {
	Data          interface{} `json:"data"`
	LastUpdated   string      `json:"lastUpdated"`
	DataTimestamp *string     `json:"dataTimestamp"`
}

func newLatestResponse(snap radar.Snapshot) latestResponse {
	resp := latestResponse{
		Data:        snap.Payload,
		LastUpdated: formatTime(snap.IngestedAt),
	}
	if !snap.SourceTimestamp.IsZero() {
		ts := formatTime(snap.SourceTimestamp)
		resp.DataTimestamp = &ts
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
