package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/doulaflow/doulaflow/pkg/cmd"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/log"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "doulaflow-activator",
		Usage:                 "Start the doulaflow activator service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "activator-id",
				Aliases: []string{"id"},
				Usage:   "Custom activator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ACTIVATOR_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus provider (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			activatorID := command.String("activator-id")
			if activatorID == "" {
				activatorID = fmt.Sprintf("activator-%s", uuid.New().String()[:8])
			}

			logger := log.WithModule("activator").With("activator_id", activatorID)

			logger.InfoContext(ctx, "Initializing Doulaflow Activator")

			recordEventBus := cmd.NewEventBus(command.String("event-bus"), "doulaflow-activator", events.RecordTopic, logger)
			defer func() {
				if err := recordEventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close record event bus", "error", err)
				}
			}()

			executionEventBus := cmd.NewEventBus(command.String("event-bus"), "doulaflow-activator", events.ExecutionTopic, logger)
			defer func() {
				if err := executionEventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close execution event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			activator := NewActivator(
				activatorID,
				workflow.NewEvaluator(persistence, logger),
				workflow.NewLifecycle(persistence, executionEventBus, logger),
				recordEventBus,
				logger,
			)

			activator.Start(ctx)

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
