// Package queue moves billing jobs between the scheduler and the workers.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Job names.
const (
	JobBankBilling        = "bank-billing"
	JobDirectDebitBilling = "direct-debit-billing"
	JobChargeSubscription = "charge-subscription"
	JobChargeMandate      = "charge-mandate"
	JobRecheckPayments    = "recheck-payments"
	JobIncomeReport       = "income-report"
	JobLateReminder       = "late-reminder"
	JobGracePeriod        = "grace-period"
)

// Job is one unit of work on the queue. Day is the local billing day
// (YYYY-MM-DD) the job was scheduled for.
type Job struct {
	Name           string    `json:"name"`
	SubscriptionID int64     `json:"subscription_id,omitempty"`
	Day            string    `json:"day,omitempty"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

type Publisher interface {
	Publish(ctx context.Context, job Job) error
}

type Consumer interface {
	// Consume blocks, passing jobs to handle until ctx is cancelled.
	Consume(ctx context.Context, handle func(context.Context, Job) error) error
}

func Decode(body []byte) (Job, error) {
	var job Job
	err := json.Unmarshal(body, &job)
	return job, err
}
