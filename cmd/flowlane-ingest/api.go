// Package main provides the Flowlane ingest and authoring API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/jonboulle/clockwork"

	"github.com/flowlane/flowlane/pkg/automation"
	"github.com/flowlane/flowlane/pkg/engine"
	"github.com/flowlane/flowlane/pkg/eventbus"
	"github.com/flowlane/flowlane/pkg/persistence"
	"github.com/flowlane/flowlane/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(logger *slog.Logger, p persistence.Persistence, eventBus eventbus.EventBus) *API {
	return &API{
		logger:      logger,
		persistence: p,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	clock := clockwork.NewRealClock()
	audit := engine.NewAudit(a.persistence.Logs(), clock, a.logger)
	service := automation.NewService(a.persistence, audit, clock, a.logger)
	admission := engine.NewAdmission(a.persistence, audit, a.eventBus, clock, a.logger)

	handlers := web.NewAPIHandlers(service, admission, a.persistence, a.eventBus, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Flowlane API")
	})

	handlers.RegisterRoutes(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	return app.Listen(":" + strconv.Itoa(port))
}
