package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/convoflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
}

func NewAPI(logger *slog.Logger, handlers *web.APIHandlers) *API {
	return &API{
		logger:   logger,
		handlers: handlers,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Convoflow API")
	})

	a.handlers.Register(app)

	return app
}

// Start serves on port until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		if err != nil {
			a.logger.ErrorContext(shutdownCtx, "Failed to shutdown API", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}
