// Package main provides the doulaflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/doulaflow/doulaflow/pkg/persistence"
	"github.com/doulaflow/doulaflow/pkg/web"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	lifecycle   *workflow.Lifecycle
	analytics   *workflow.Analytics
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	lifecycle *workflow.Lifecycle,
	analytics *workflow.Analytics,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		lifecycle:   lifecycle,
		analytics:   analytics,
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.persistence, a.lifecycle, a.analytics, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Doulaflow API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
