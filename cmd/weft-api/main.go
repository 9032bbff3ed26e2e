package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/weftworks/weft/pkg/cmd"
	"github.com/weftworks/weft/pkg/config"
	"github.com/weftworks/weft/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "weft-api",
		Usage:                 "Manage connectors, events and sequences, and run the orchestration API",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file",
				Value:   "weft.yaml",
				Sources: cli.EnvVars("WEFT_CONFIG"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the test payload cache",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "webhook-base-url",
				Usage:   "Public base URL async callbacks are built from",
				Sources: cli.EnvVars("WEBHOOK_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg := config.LoadOrDefault(command.String("config"))
			applyFlags(&cfg, command)

			log.Setup(cfg.LogLevel)
			logger := log.WithModule("api")

			logger.InfoContext(ctx, "initializing weft API", "port", cfg.Port)

			persistence := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(cfg.EventBus, logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "failed to close event bus", "error", err)
				}
			}()

			store := cmd.NewCache(ctx, logger, cfg.RedisURL)
			defer func() {
				if err := store.Close(); err != nil {
					logger.ErrorContext(ctx, "failed to close cache", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, eventBus, store, cfg)
			defer api.Close()

			return api.Start(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

// applyFlags overlays explicitly set flags and environment variables on the
// file configuration.
func applyFlags(cfg *config.Config, command *cli.Command) {
	if port := command.Int("port"); port != 0 {
		cfg.Port = port
	}

	if url := command.String("database-url"); url != "" {
		cfg.DatabaseURL = url
	}

	if bus := command.String("event-bus"); bus != "" {
		cfg.EventBus = bus
	}

	if url := command.String("redis-url"); url != "" {
		cfg.RedisURL = url
	}

	if url := command.String("webhook-base-url"); url != "" {
		cfg.WebhookBaseURL = url
	}

	if level := command.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
}
