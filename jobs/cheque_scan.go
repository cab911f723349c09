package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-billing/meridian/internal/cheques"
	"github.com/meridian-billing/meridian/internal/observability"
)

// ChequeScanner flags pending cheques that are past their cheque date by
// more than the configured age. It only reports; settling a cheque stays a
// human decision.
type ChequeScanner struct {
	service *cheques.Service
	metrics *observability.Metrics
	logger  *slog.Logger
	maxAge  time.Duration
}

// NewChequeScanner builds a ChequeScanner.
func NewChequeScanner(service *cheques.Service, metrics *observability.Metrics, logger *slog.Logger, maxAge time.Duration) *ChequeScanner {
	return &ChequeScanner{service: service, metrics: metrics, logger: logger, maxAge: maxAge}
}

// Handle processes TaskChequeStaleScan tasks.
func (cs *ChequeScanner) Handle(ctx context.Context, _ *asynq.Task) error {
	cutoff := time.Now().Add(-cs.maxAge)
	stale, err := cs.service.ListStalePending(ctx, cutoff)
	if err != nil {
		return err
	}

	cs.metrics.SetStalePendingCheques(len(stale))
	for _, cheque := range stale {
		cs.logger.Warn("stale pending cheque",
			slog.String("number", cheque.Number),
			slog.String("cheque_number", cheque.ChequeNumber),
			slog.String("bank", cheque.BankName),
			slog.Time("cheque_date", cheque.ChequeDate),
			slog.String("amount", cheque.Amount.String()),
		)
	}
	cs.logger.Info("stale cheque scan finished",
		slog.Int("stale", len(stale)),
		slog.Time("cutoff", cutoff),
	)
	return nil
}
