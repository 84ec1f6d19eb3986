// Package main provides the Callflow API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/callstate"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/eventbus"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/persistence"
	"github.com/bbarnes4318/hoppwhistle-sub001/pkg/web"
)

type API struct {
	logger    *slog.Logger
	flowStore persistence.FlowStore
	calls     callstate.Store
	publisher eventbus.EventPublisher
	validate  *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	flowStore persistence.FlowStore,
	calls callstate.Store,
	publisher eventbus.EventPublisher,
) *API {
	return &API{
		logger:    logger,
		flowStore: flowStore,
		calls:     calls,
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.flowStore, a.calls, a.publisher, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Callflow API")
	})

	f := app.Group("/flows")
	f.Get("/", handlers.ListFlows)
	f.Post("/", handlers.CreateFlow)
	f.Post("/validate", handlers.ValidateFlow)
	f.Get("/:id/versions", handlers.GetFlowVersions)
	f.Get("/:id/versions/:version", handlers.GetFlowVersion)
	f.Get("/:id/published", handlers.GetPublishedFlow)
	f.Post("/:id/versions/:version/publish", handlers.PublishFlowVersion)
	f.Post("/:id/versions/:version/rollback", handlers.RollbackFlowVersion)
	f.Delete("/:id/versions/:version", handlers.DeleteFlowVersion)

	app.Post("/calls/execute", handlers.ExecuteCall)
	app.Post("/calls/events", handlers.PushCallEvent)
	app.Get("/calls/:id", handlers.GetCall)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
