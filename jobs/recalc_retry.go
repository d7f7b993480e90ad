package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	jobmetrics "github.com/odyssey-erp/cashflow/internal/jobs"
)

// KeyRecomputer re-runs every derived concept of one key.
type KeyRecomputer interface {
	RecomputeKey(ctx context.Context, key cashflow.Key) (recalc.Outcome, error)
}

// RecalcRetryJob converges keys whose inline recompute failed.
type RecalcRetryJob struct {
	Recalc  KeyRecomputer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRecalcRetryJob constructs the job handler.
func NewRecalcRetryJob(rc KeyRecomputer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecalcRetryJob {
	return &RecalcRetryJob{Recalc: rc, Logger: logger, Metrics: metrics}
}

// Handle executes one retry. Malformed payloads are dropped; recompute errors are
// returned so asynq backs off and retries.
func (j *RecalcRetryJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Recalc == nil {
		return errors.New("recalc retry: dependencies not configured")
	}
	var payload RecalcRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("recalc retry: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	key, err := payload.Key()
	if err != nil {
		return fmt.Errorf("recalc retry: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskRecalcRetry)
	out, err := j.Recalc.RecomputeKey(ctx, key)
	if err != nil {
		if errors.Is(err, cashflow.ErrAccountNotFound) {
			j.log().Warn("account vanished, dropping retry", slog.String("key", key.String()))
			return tracker.End(fmt.Errorf("recalc retry %s: %v: %w", key, err, asynq.SkipRetry))
		}
		j.log().Error("recompute", slog.String("key", key.String()), slog.Any("error", err))
		return tracker.End(err)
	}
	j.log().Info("recompute converged",
		slog.String("key", key.String()),
		slog.String("event_id", out.Event.ID),
		slog.Int("dependents", out.Event.DependentCount),
	)
	return tracker.End(nil)
}

func (j *RecalcRetryJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *RecalcRetryJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRecalcRetry))
	}
	return slog.Default().With(slog.String("job", TaskRecalcRetry))
}
