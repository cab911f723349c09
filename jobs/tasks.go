package jobs

import "github.com/hibiken/asynq"

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskChequeStaleScan flags pending cheques that have sat past their date.
	TaskChequeStaleScan = "cheques:stale_scan"
	// TaskLedgerIntegrity recomputes party balances and reports drift.
	TaskLedgerIntegrity = "ledger:integrity"
)

// NewChequeStaleScanTask constructs the stale-cheque scan task. The job has
// no payload; the cutoff comes from configuration at handler setup.
func NewChequeStaleScanTask() *asynq.Task {
	return asynq.NewTask(TaskChequeStaleScan, nil)
}

// NewLedgerIntegrityTask constructs the balance integrity task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}
