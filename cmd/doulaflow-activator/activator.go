package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doulaflow/doulaflow/pkg/eventbus"
	"github.com/doulaflow/doulaflow/pkg/events"
	"github.com/doulaflow/doulaflow/pkg/workflow"
)

// Activator consumes record mutation events from the CRM and starts
// executions for every workflow whose trigger and entry criteria match.
type Activator struct {
	id           string
	evaluator    *workflow.Evaluator
	lifecycle    *workflow.Lifecycle
	recordEvents eventbus.EventBus
	logger       *slog.Logger
	restartCount int
}

// NewActivator creates a new Activator instance.
func NewActivator(
	id string,
	evaluator *workflow.Evaluator,
	lifecycle *workflow.Lifecycle,
	recordEvents eventbus.EventBus,
	logger *slog.Logger,
) *Activator {
	return &Activator{
		id:           id,
		evaluator:    evaluator,
		lifecycle:    lifecycle,
		recordEvents: recordEvents,
		logger:       logger.With("module", "activator"),
	}
}

// Start begins the activator service.
func (a *Activator) Start(ctx context.Context) {
	aCtx, cancel := context.WithCancel(ctx)

	a.logger.Info("Starting activator")

	a.handleSignals(aCtx, cancel)
	a.run(aCtx)
}

// handleSignals sets up signal handling for graceful shutdown and restart.
func (a *Activator) handleSignals(ctx context.Context, cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		a.logger.Info("Received signal", "signal", sig)

		switch sig {
		case syscall.SIGHUP:
			a.logger.Info("Reloading configuration...")
			a.restart(ctx, cancel)
		case syscall.SIGINT, syscall.SIGTERM:
			a.logger.Info("Shutting down gracefully...")
			a.stop(cancel)
			os.Exit(0)
		default:
			a.logger.Warn("Unhandled signal received", "signal", sig)
		}
	}()
}

// restart handles service restart with exponential backoff.
func (a *Activator) restart(ctx context.Context, cancel context.CancelFunc) {
	a.restartCount++
	newCtx := context.WithoutCancel(ctx)

	a.stop(cancel)

	if a.restartCount > 5 {
		a.logger.Error("Restart limit reached, exiting...")
		os.Exit(1)
	}

	backoff := time.Duration(a.restartCount) * time.Second
	a.logger.Info("Restarting activator...", "backoff", backoff)
	time.Sleep(backoff)

	a.Start(newCtx)
}

// run is the main loop that consumes record events.
func (a *Activator) run(ctx context.Context) {
	a.logger.Info("Starting record event consumption")

	a.subscribeToRecordEvents(ctx)

	// The subscription runs in background goroutines.
	<-ctx.Done()
	a.logger.Info("Activator context cancelled, stopping...")
}

// subscribeToRecordEvents registers the record event handler and starts
// consuming the record topic.
func (a *Activator) subscribeToRecordEvents(ctx context.Context) {
	err := a.recordEvents.Handle(events.RecordEventType, func(ctx context.Context, event any) error {
		recordEvent, ok := event.(*events.RecordEvent)
		if !ok {
			a.logger.Error("Invalid event payload for record event")

			return nil
		}

		return a.handleRecordEvent(ctx, recordEvent)
	})
	if err != nil {
		a.logger.Error("Failed to register record event handler", "error", err)

		return
	}

	err = a.recordEvents.Subscribe(ctx)
	if err != nil {
		a.logger.Error("Failed to start record event subscription", "error", err)

		return
	}

	a.logger.Info("Subscribed to record events, waiting for events...")
}

// handleRecordEvent evaluates one record event against the active workflows
// and starts the matching executions.
func (a *Activator) handleRecordEvent(ctx context.Context, event *events.RecordEvent) error {
	logger := a.logger.With(
		"object_type", event.ObjectType,
		"record_id", event.RecordID,
		"organization_id", event.OrganizationID,
		"event_kind", event.Kind,
	)

	logger.Info("Processing record event")

	executions, err := a.evaluator.Evaluate(ctx, event)
	if err != nil {
		logger.Error("Failed to evaluate record event", "error", err)

		return err
	}

	if len(executions) == 0 {
		logger.Debug("No workflow matched record event")

		return nil
	}

	logger.Info("Record event matched workflows", "count", len(executions))

	err = a.lifecycle.StartExecutions(ctx, executions)
	if err != nil {
		logger.Error("Failed to start executions", "error", err)

		return fmt.Errorf("failed to start executions: %w", err)
	}

	return nil
}

// stop gracefully shuts down the activator.
func (a *Activator) stop(cancel context.CancelFunc) {
	a.logger.Info("Stopping activator")

	if cancel != nil {
		cancel()
	}
}
