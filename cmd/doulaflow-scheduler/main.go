package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/doulaflow/doulaflow/pkg/cmd"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/log"
	"github.com/doulaflow/doulaflow/pkg/otelhelper"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

const defaultSMSMonthlyLimit = 1000

func main() {
	command := &cli.Command{
		Name:                  "doulaflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Start schedulers to dispatch due workflow executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
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
				Name:    "redis-url",
				Usage:   "Redis URL for the shared SMS quota counter",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.IntFlag{
				Name:    "sms-monthly-limit",
				Usage:   "Monthly SMS segment quota per organization",
				Value:   defaultSMSMonthlyLimit,
				Sources: cli.EnvVars("SMS_MONTHLY_LIMIT"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "How often the dispatch loop polls for due executions",
				Value:   15 * time.Second,
				Sources: cli.EnvVars("POLL_INTERVAL"),
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

			_, err := otelhelper.NewTracer(ctx, "doulaflow-scheduler")
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "scheduler-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("scheduler").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Doulaflow Scheduler")

			smsQuota := cmd.NewSMSQuota(command.String("redis-url"), command.Int("sms-monthly-limit"))
			registry, deps := cmd.NewRegistry(logger, smsQuota)

			eventBus := cmd.NewEventBus(command.String("event-bus"), "doulaflow-scheduler", events.ExecutionTopic, logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			interpreter := workflow.NewInterpreter(persistence, registry, deps.Records, eventBus, logger)
			scheduler := workflow.NewScheduler(persistence, interpreter, eventBus, logger, workerID, workflow.SchedulerOptions{
				Interval: command.Duration("poll-interval"),
			})

			runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			err = scheduler.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.ErrorContext(ctx, "Scheduler stopped with error", "error", err)

				return err
			}

			logger.InfoContext(ctx, "Scheduler shut down")

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
