// Package main provides the weft API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weftworks/weft/pkg/async"
	"github.com/weftworks/weft/pkg/auth"
	"github.com/weftworks/weft/pkg/cache"
	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/eventbus"
	"github.com/weftworks/weft/pkg/events"
	"github.com/weftworks/weft/pkg/persistence"
	"github.com/weftworks/weft/pkg/sequence"
	"github.com/weftworks/weft/pkg/services"
	"github.com/weftworks/weft/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	store       cache.Store
	cfg         config.Config
	validate    *validator.Validate

	asyncManager    *async.Manager
	eventService    *services.EventService
	sequenceService *services.SequenceService
	completion      *services.CompletionService
}

func NewAPI(
	logger *slog.Logger,
	p persistence.Persistence,
	eventBus eventbus.EventBus,
	store cache.Store,
	cfg config.Config,
) *API {
	if cfg.WebhookBaseURL == "" {
		cfg.WebhookBaseURL = "http://localhost:" + strconv.Itoa(cfg.Port)
	}

	invoker := connector.NewInvoker(connector.NewHTTPTransport(), auth.NewResolver(nil))
	asyncManager := async.NewManager(p, invoker, eventBus, async.Config{
		WebhookBaseURL: cfg.WebhookBaseURL,
		MaxWorkers:     cfg.MaxAsyncTasks,
	})

	dispatcher := services.NewDispatcher(p, invoker, asyncManager)
	executor := sequence.NewExecutor(p, dispatcher, eventBus)

	return &API{
		logger:          logger,
		persistence:     p,
		eventBus:        eventBus,
		store:           store,
		cfg:             cfg,
		validate:        validator.New(validator.WithRequiredStructEnabled()),
		asyncManager:    asyncManager,
		eventService:    services.NewEventService(p, eventBus, store),
		sequenceService: services.NewSequenceService(p, executor),
		completion:      services.NewCompletionService(p),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.persistence,
		a.eventService,
		a.sequenceService,
		a.asyncManager,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Weft API")
	})

	connectors := app.Group("/connectors")
	connectors.Get("/", handlers.GetConnectors)
	connectors.Post("/", handlers.CreateConnector)
	connectors.Get("/:id", handlers.GetConnector)
	connectors.Put("/:id", handlers.UpdateConnector)
	connectors.Delete("/:id", handlers.DeleteConnector)

	app.Post("/credentials", handlers.SaveCredential)

	eventsGroup := app.Group("/events")
	eventsGroup.Get("/", handlers.GetEvents)
	eventsGroup.Post("/", handlers.CreateEvent)
	eventsGroup.Get("/:id", handlers.GetEvent)
	eventsGroup.Post("/name/:name/ingest", handlers.IngestEvent)
	eventsGroup.Put("/:id/test-payload", handlers.SaveTestPayload)
	eventsGroup.Get("/:id/test-payload", handlers.GetTestPayload)

	sequences := app.Group("/sequences")
	sequences.Get("/", handlers.GetSequences)
	sequences.Post("/", handlers.CreateSequence)
	sequences.Get("/:id", handlers.GetSequence)
	sequences.Delete("/:id", handlers.DeleteSequence)
	sequences.Post("/:id/run", handlers.RunSequence)

	executions := app.Group("/executions")
	executions.Get("/:id", handlers.GetExecution)
	executions.Get("/:id/logs", handlers.GetExecutionLogs)

	asyncGroup := app.Group("/async-executions")
	asyncGroup.Get("/:id", handlers.GetAsyncExecution)
	asyncGroup.Get("/:id/progress", handlers.GetAsyncProgress)
	asyncGroup.Post("/:id/cancel", handlers.CancelAsyncExecution)

	webhooks := app.Group("/webhooks/async")
	webhooks.Post("/static", handlers.StaticAsyncWebhook)
	webhooks.Post("/:executionId", handlers.AsyncWebhook)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Subscribe registers the bus handlers: inbound events start their bound
// sequences, finished async executions land their deferred results.
func (a *API) Subscribe(ctx context.Context) error {
	err := a.eventBus.Handle(events.EventReceivedEvent, a.handleEventReceived)
	if err != nil {
		return err
	}

	err = a.eventBus.Handle(events.AsyncExecutionFinishedEvent, a.completion.Handle)
	if err != nil {
		return err
	}

	return a.eventBus.Subscribe(ctx)
}

func (a *API) handleEventReceived(ctx context.Context, event any) error {
	received, ok := event.(*events.EventReceived)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	results, err := a.sequenceService.RunForEvent(ctx, received.EventID, received.Payload)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "event sequences finished",
		"event_id", received.EventID, "runs", len(results))

	return nil
}

func (a *API) Start(ctx context.Context) error {
	if err := a.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to event bus: %w", err)
	}

	app := a.App()

	return app.Listen(":" + strconv.Itoa(a.cfg.Port))
}

// Close drains the async manager's background tasks.
func (a *API) Close() {
	a.asyncManager.Close()
}
