package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	"github.com/odyssey-erp/cashflow/internal/cashflow/recalc"
	jobmetrics "github.com/odyssey-erp/cashflow/internal/jobs"
)

var day = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRecalc struct {
	keys      []cashflow.Key
	days      []time.Time
	companies []int64
	err       error
	summary   recalc.BatchSummary
}

func (f *fakeRecalc) RecomputeKey(ctx context.Context, key cashflow.Key) (recalc.Outcome, error) {
	f.keys = append(f.keys, key)
	return recalc.Outcome{Event: cashflow.RecalcEvent{ID: "evt-1"}}, f.err
}

func (f *fakeRecalc) RecomputeDay(ctx context.Context, date time.Time) (recalc.BatchSummary, error) {
	f.days = append(f.days, date)
	return f.summary, f.err
}

func (f *fakeRecalc) RecomputeCompany(ctx context.Context, date time.Time, companyID int64) (recalc.BatchSummary, error) {
	f.days = append(f.days, date)
	f.companies = append(f.companies, companyID)
	return f.summary, f.err
}

func TestRecalcRetryTaskPayloadRoundTrip(t *testing.T) {
	task, err := NewRecalcRetryTask(cashflow.NewKey(day, 7))
	require.NoError(t, err)
	assert.Equal(t, TaskRecalcRetry, task.Type())

	rc := &fakeRecalc{}
	job := NewRecalcRetryJob(rc, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, rc.keys, 1)
	assert.Equal(t, cashflow.NewKey(day, 7), rc.keys[0])
}

func TestRecalcRetryErrors(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())

	bad := asynq.NewTask(TaskRecalcRetry, []byte(`{"date":"10/03/2025","account_id":7}`))
	err := NewRecalcRetryJob(&fakeRecalc{}, discard(), metrics).Handle(context.Background(), bad)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewRecalcRetryTask(cashflow.NewKey(day, 7))
	require.NoError(t, err)

	transient := errors.New("connection reset")
	err = NewRecalcRetryJob(&fakeRecalc{err: transient}, discard(), metrics).Handle(context.Background(), task)
	assert.ErrorIs(t, err, transient)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	err = NewRecalcRetryJob(&fakeRecalc{err: cashflow.ErrAccountNotFound}, discard(), metrics).Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	assert.Error(t, (*RecalcRetryJob)(nil).Handle(context.Background(), task))
}

func TestRolloverResolvesScope(t *testing.T) {
	now := time.Date(2025, 3, 11, 0, 30, 0, 0, time.UTC)
	cases := []struct {
		name      string
		date      string
		company   string
		wantDay   time.Time
		companies []int64
	}{
		{"today all", "today", "all", day.AddDate(0, 0, 1), nil},
		{"yesterday", "yesterday", "", day, nil},
		{"explicit company", "2025-03-01", "4", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), []int64{4}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rc := &fakeRecalc{summary: recalc.BatchSummary{Accounts: 3}}
			job := NewRolloverJob(rc, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
			job.WithClock(func() time.Time { return now })
			task, err := NewRolloverTask(tc.date, tc.company)
			require.NoError(t, err)

			require.NoError(t, job.Handle(context.Background(), task))
			require.Len(t, rc.days, 1)
			assert.Equal(t, tc.wantDay, rc.days[0])
			assert.Equal(t, tc.companies, rc.companies)
		})
	}
}

func TestRolloverPartialFailureRetries(t *testing.T) {
	boom := errors.New("account 9: boom")
	rc := &fakeRecalc{err: boom, summary: recalc.BatchSummary{Accounts: 3, Failed: 1}}
	job := NewRolloverJob(rc, discard(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewRolloverTask("2025-03-10", "all")
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRolloverRejectsBadCompany(t *testing.T) {
	job := NewRolloverJob(&fakeRecalc{}, discard(), nil)
	task, err := NewRolloverTask("today", "-3")
	require.NoError(t, err)
	assert.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestClientCollapsesRepeatedRetries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	key := cashflow.NewKey(day, 7)
	info, err := client.enqueueRecalcRetry(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "recalc:2025-03-10/7", info.ID)
	assert.Equal(t, QueueCritical, info.Queue)
	assert.Equal(t, asynq.TaskStateScheduled, info.State)

	require.NoError(t, client.EnqueueRecalcRetry(context.Background(), key))
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, discard()).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"queue":"critical","pending":0,"scheduled":0,"retry":0},{"queue":"default","pending":0,"scheduled":0,"retry":0}]`, rr.Body.String())
}
