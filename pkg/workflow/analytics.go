package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/doulaflow/doulaflow/pkg/models"
	"github.com/doulaflow/doulaflow/pkg/persistence"
)

// AnalyticsRange selects the reporting window for workflow analytics.
type AnalyticsRange string

const (
	Range7Days  AnalyticsRange = "7d"
	Range30Days AnalyticsRange = "30d"
	Range90Days AnalyticsRange = "90d"
	RangeAll    AnalyticsRange = "all"
)

// Days returns the window length, zero meaning unbounded.
func (r AnalyticsRange) Days() int {
	switch r {
	case Range7Days:
		return 7
	case Range30Days:
		return 30
	case Range90Days:
		return 90
	default:
		return 0
	}
}

// ParseAnalyticsRange validates a range query value, defaulting to 30d when
// empty.
func ParseAnalyticsRange(value string) (AnalyticsRange, error) {
	switch AnalyticsRange(value) {
	case "":
		return Range30Days, nil
	case Range7Days, Range30Days, Range90Days, RangeAll:
		return AnalyticsRange(value), nil
	default:
		return "", fmt.Errorf("unknown analytics range %q", value)
	}
}

const topErrorLimit = 5

// WorkflowAnalytics aggregates execution outcomes for one workflow over a
// reporting window.
type WorkflowAnalytics struct {
	WorkflowID   string         `json:"workflow_id"`
	Range        AnalyticsRange `json:"range"`
	TotalStarted int            `json:"total_started"`

	StatusCounts map[models.ExecutionStatus]int `json:"status_counts"`

	// SuccessRate is completed over completed plus failed. Waiting, running
	// and cancelled executions do not count against it.
	SuccessRate float64 `json:"success_rate"`

	// AverageDuration is the mean wall-clock duration of completed
	// executions, in seconds.
	AverageDuration float64 `json:"average_duration_seconds"`

	StepFunnel []StepFunnelEntry `json:"step_funnel"`
	TopErrors  []ErrorCount      `json:"top_errors"`
	Daily      []DailyCount      `json:"daily"`
}

// StepFunnelEntry reports how many executions reached a step and how each
// attempt ended. CompletionRate is completed over reached; failed and
// skipped attempts count against it.
type StepFunnelEntry struct {
	StepKey        string          `json:"step_key"`
	StepType       models.StepType `json:"step_type"`
	Reached        int             `json:"reached"`
	Completed      int             `json:"completed"`
	Failed         int             `json:"failed"`
	Skipped        int             `json:"skipped"`
	CompletionRate float64         `json:"completion_rate"`
}

// ErrorCount is one entry in the error breakdown.
type ErrorCount struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// DailyCount is one day in the started/completed/failed time series.
type DailyCount struct {
	Date      string `json:"date"` // YYYY-MM-DD
	Started   int    `json:"started"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Analytics computes reporting aggregates from the execution store.
type Analytics struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewAnalytics(persistence persistence.Persistence, logger *slog.Logger) *Analytics {
	return &Analytics{
		persistence: persistence,
		logger:      logger.With("module", "analytics"),
		now:         time.Now,
	}
}

// ForWorkflow aggregates executions of one workflow over the given range.
// A workflow with no executions yields zeroed counters, not an error.
func (a *Analytics) ForWorkflow(ctx context.Context, workflowID string, analyticsRange AnalyticsRange) (*WorkflowAnalytics, error) {
	workflow, err := a.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	since := a.windowStart(analyticsRange)

	executions, err := a.persistence.ExecutionRepository().ListByWorkflowSince(ctx, workflowID, since)
	if err != nil {
		return nil, err
	}

	stepExecutions, err := a.persistence.StepExecutionRepository().ListByWorkflowSince(ctx, workflowID, since)
	if err != nil {
		return nil, err
	}

	result := &WorkflowAnalytics{
		WorkflowID:   workflowID,
		Range:        analyticsRange,
		TotalStarted: len(executions),
		StatusCounts: statusCounts(executions),
		StepFunnel:   stepFunnel(workflow, stepExecutions),
		TopErrors:    topErrors(executions),
		Daily:        dailySeries(executions, since, a.now()),
	}

	result.SuccessRate = successRate(result.StatusCounts)
	result.AverageDuration = averageDuration(executions)

	return result, nil
}

func (a *Analytics) windowStart(analyticsRange AnalyticsRange) time.Time {
	days := analyticsRange.Days()
	if days == 0 {
		return time.Time{}
	}

	return a.now().AddDate(0, 0, -days)
}

func statusCounts(executions []*models.WorkflowExecution) map[models.ExecutionStatus]int {
	counts := map[models.ExecutionStatus]int{
		models.ExecutionStatusRunning:   0,
		models.ExecutionStatusWaiting:   0,
		models.ExecutionStatusCompleted: 0,
		models.ExecutionStatusFailed:    0,
		models.ExecutionStatusCancelled: 0,
	}

	for _, execution := range executions {
		counts[execution.Status]++
	}

	return counts
}

func successRate(counts map[models.ExecutionStatus]int) float64 {
	finished := counts[models.ExecutionStatusCompleted] + counts[models.ExecutionStatusFailed]
	if finished == 0 {
		return 0
	}

	return float64(counts[models.ExecutionStatusCompleted]) / float64(finished)
}

func averageDuration(executions []*models.WorkflowExecution) float64 {
	var total time.Duration

	completed := 0

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusCompleted {
			continue
		}

		total += execution.Duration()
		completed++
	}

	if completed == 0 {
		return 0
	}

	return total.Seconds() / float64(completed)
}

// stepFunnel orders entries by the workflow's step order so the funnel reads
// top to bottom as the workflow runs. The trigger step is bookkeeping, not
// work, and is excluded.
func stepFunnel(workflow *models.Workflow, stepExecutions []*models.StepExecution) []StepFunnelEntry {
	reached := make(map[string]int)
	completed := make(map[string]int)
	failed := make(map[string]int)
	skipped := make(map[string]int)

	for _, stepExecution := range stepExecutions {
		reached[stepExecution.StepKey]++

		switch stepExecution.Status {
		case models.StepStatusCompleted:
			completed[stepExecution.StepKey]++
		case models.StepStatusFailed:
			failed[stepExecution.StepKey]++
		case models.StepStatusSkipped:
			skipped[stepExecution.StepKey]++
		}
	}

	steps := make([]*models.WorkflowStep, 0, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step.StepType == models.StepTypeTrigger {
			continue
		}

		steps = append(steps, step)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepOrder < steps[j].StepOrder
	})

	funnel := make([]StepFunnelEntry, 0, len(steps))

	for _, step := range steps {
		entry := StepFunnelEntry{
			StepKey:   step.StepKey,
			StepType:  step.StepType,
			Reached:   reached[step.StepKey],
			Completed: completed[step.StepKey],
			Failed:    failed[step.StepKey],
			Skipped:   skipped[step.StepKey],
		}

		if entry.Reached > 0 {
			entry.CompletionRate = float64(entry.Completed) / float64(entry.Reached)
		}

		funnel = append(funnel, entry)
	}

	return funnel
}

func topErrors(executions []*models.WorkflowExecution) []ErrorCount {
	counts := make(map[string]int)

	for _, execution := range executions {
		if execution.Status != models.ExecutionStatusFailed || execution.ErrorMessage == "" {
			continue
		}

		counts[execution.ErrorMessage]++
	}

	errors := make([]ErrorCount, 0, len(counts))

	for message, count := range counts {
		errors = append(errors, ErrorCount{Message: message, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}

		return errors[i].Message < errors[j].Message
	})

	if len(errors) > topErrorLimit {
		errors = errors[:topErrorLimit]
	}

	return errors
}

// dailySeries buckets executions by start date. For bounded ranges every day
// of the window appears, zero-filled; for the unbounded range only days with
// activity appear.
func dailySeries(executions []*models.WorkflowExecution, since, now time.Time) []DailyCount {
	buckets := make(map[string]*DailyCount)

	if !since.IsZero() {
		for day := since.Truncate(24 * time.Hour); !day.After(now); day = day.AddDate(0, 0, 1) {
			date := day.Format("2006-01-02")
			buckets[date] = &DailyCount{Date: date}
		}
	}

	for _, execution := range executions {
		date := execution.StartedAt.Format("2006-01-02")

		bucket, ok := buckets[date]
		if !ok {
			bucket = &DailyCount{Date: date}
			buckets[date] = bucket
		}

		bucket.Started++

		switch execution.Status {
		case models.ExecutionStatusCompleted:
			bucket.Completed++
		case models.ExecutionStatusFailed:
			bucket.Failed++
		}
	}

	series := make([]DailyCount, 0, len(buckets))

	for _, bucket := range buckets {
		series = append(series, *bucket)
	}

	sort.Slice(series, func(i, j int) bool {
		return series[i].Date < series[j].Date
	})

	return series
}
