package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/weather-radar/internal/api/http"
	"github.com/i474232898/weather-radar/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the background refresh loop (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := buildService(cfg, logger)
	if err != nil {
		return err
	}

	// Scheduler that refreshes the snapshot in the background.
	sched := scheduler.New(service, cfg.UpdateInterval, logger)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := newApp(service)

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
			stop()
		}
	}()
	logger.Info("http server listening", zap.String("addr", cfg.ListenAddr()))

	// Wait for termination signal
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
	return nil
}

func newApp(service httpapi.RadarService) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "weather-radar",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: "GET,HEAD,OPTIONS",
	}))

	httpapi.RegisterRoutes(app, service)
	return app
}
