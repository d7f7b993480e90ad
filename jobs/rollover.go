package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	jobmetrics "github.com/odyssey-erp/cashflow/internal/jobs"
)

// DayRecomputer recomputes whole days.
type DayRecomputer interface {
	RecomputeDay(ctx context.Context, date time.Time) (recalc.BatchSummary, error)
	RecomputeCompany(ctx context.Context, date time.Time, companyID int64) (recalc.BatchSummary, error)
}

// RolloverJob recomputes every account on a new day so its opening balance carries
// the prior closing even before anyone edits the day.
type RolloverJob struct {
	Recalc  DayRecomputer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRolloverJob constructs the job handler.
func NewRolloverJob(rc DayRecomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RolloverJob {
	return &RolloverJob{
		Recalc:  rc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the rollover. A partial failure is returned so asynq retries; the
// recompute is idempotent for accounts that already succeeded.
func (j *RolloverJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Recalc == nil {
		return errors.New("rollover: dependencies not configured")
	}
	var payload RolloverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("rollover: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	date, err := j.resolveDate(payload.Date)
	if err != nil {
		return fmt.Errorf("rollover: %v: %w", err, asynq.SkipRetry)
	}
	companyID, err := resolveCompany(payload.Company)
	if err != nil {
		return fmt.Errorf("rollover: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRollover)
	start := time.Now()
	var summary recalc.BatchSummary
	if companyID == 0 {
		summary, err = j.Recalc.RecomputeDay(ctx, date)
	} else {
		summary, err = j.Recalc.RecomputeCompany(ctx, date, companyID)
	}
	j.metrics().AddAccounts(TaskRollover, summary.Accounts-summary.Failed, summary.Failed)
	if err != nil {
		j.log().Error("rollover",
			slog.String("date", date.Format(cashflow.DateLayout)),
			slog.Int("accounts", summary.Accounts),
			slog.Int("failed", summary.Failed),
			slog.Any("error", err),
		)
		return tracker.End(err)
	}
	j.log().Info("rolled over",
		slog.String("date", date.Format(cashflow.DateLayout)),
		slog.Int("accounts", summary.Accounts),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *RolloverJob) resolveDate(raw string) (time.Time, error) {
	switch raw {
	case "", "today":
		return cashflow.Day(j.now()), nil
	case "yesterday":
		return cashflow.Day(j.now()).AddDate(0, 0, -1), nil
	}
	return cashflow.ParseDay(raw)
}

func resolveCompany(raw string) (int64, error) {
	if raw == "" || raw == "all" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid company id %s", raw)
	}
	if id <= 0 {
		return 0, fmt.Errorf("company id must be positive")
	}
	return id, nil
}

func (j *RolloverJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RolloverJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRollover))
	}
	return slog.Default().With(slog.String("job", TaskRollover))
}

func (j *RolloverJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RolloverJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
