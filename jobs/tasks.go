package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/cashflow/internal/cashflow"
	jobmetrics "github.com/odyssey-erp/cashflow/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries recompute retries ahead of scheduled work.
	QueueCritical = "critical"

	// TaskRecalcRetry re-runs a recompute that failed after its raw change was saved.
	TaskRecalcRetry = "cashflow:recalc-retry"
	// TaskRollover seeds the opening balances of a new day.
	TaskRollover = "cashflow:rollover"

	recalcRetryDelay    = 5 * time.Second
	recalcRetryAttempts = 10
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// RecalcRetryPayload identifies the (date, account) key to recompute.
type RecalcRetryPayload struct {
	Date      string `json:"date"`
	AccountID int64  `json:"account_id"`
}

// Key parses the payload into a recompute key.
func (p RecalcRetryPayload) Key() (cashflow.Key, error) {
	date, err := cashflow.ParseDay(p.Date)
	if err != nil {
		return cashflow.Key{}, err
	}
	if p.AccountID <= 0 {
		return cashflow.Key{}, fmt.Errorf("account id must be positive")
	}
	return cashflow.NewKey(date, p.AccountID), nil
}

// NewRecalcRetryTask builds a retry task. The task id is derived from the key so
// repeated failures on one key collapse into one pending task.
func NewRecalcRetryTask(key cashflow.Key) (*asynq.Task, error) {
	body, err := json.Marshal(RecalcRetryPayload{Date: key.Date.Format(cashflow.DateLayout), AccountID: key.AccountID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalcRetry, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID("recalc:"+key.String()),
		asynq.ProcessIn(recalcRetryDelay),
		asynq.MaxRetry(recalcRetryAttempts),
	), nil
}

// RolloverPayload scopes a rollover run. Date "today" resolves when the task runs;
// Company "all" covers every account.
type RolloverPayload struct {
	Date    string `json:"date"`
	Company string `json:"company"`
}

// NewRolloverTask creates the rollover task registered on the cron.
func NewRolloverTask(date, company string) (*asynq.Task, error) {
	if date == "" {
		date = "today"
	}
	if company == "" {
		company = "all"
	}
	body, err := json.Marshal(RolloverPayload{Date: date, Company: company})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRollover, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
