package cheques

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-billing/meridian/internal/shared"
)

// Owner record statuses written back when a cheque bounces. The strings
// match the payments/expenses status enums.
const (
	ownerPartiallyFailed = "partially_failed"
	ownerFailed          = "failed"
)

// CacheInvalidator lets the service invalidate cached party statements
// after a transition changes ledger state.
type CacheInvalidator interface {
	BumpCache(ctx context.Context)
}

// CreateChequeInput describes a standalone cheque registration.
type CreateChequeInput struct {
	ChequeNumber string          `json:"cheque_number" validate:"required"`
	BankName     string          `json:"bank_name" validate:"required"`
	ChequeDate   time.Time       `json:"cheque_date"`
	Amount       decimal.Decimal `json:"amount"`
	HolderName   string          `json:"holder_name"`
	HolderPhone  string          `json:"holder_phone"`
	Type         ChequeType      `json:"type"`
	PartyID      int64           `json:"party_id" validate:"required,gt=0"`
}

// Service handles the cheque lifecycle.
type Service struct {
	repo  Repository
	cache CacheInvalidator
}

// NewService builds a Service instance.
func NewService(repo Repository, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// Create registers a cheque outside the reconciliation flow. It defaults to
// pending/received and does not touch the party balance; only the
// reconciliation flow moves money.
func (s *Service) Create(ctx context.Context, input CreateChequeInput) (*Cheque, error) {
	if input.ChequeNumber == "" {
		return nil, fmt.Errorf("%w: cheque number is required", shared.ErrValidation)
	}
	if input.BankName == "" {
		return nil, fmt.Errorf("%w: bank name is required", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if input.PartyID <= 0 {
		return nil, fmt.Errorf("%w: party id is required", shared.ErrValidation)
	}

	chequeType := input.Type
	if chequeType == "" {
		chequeType = TypeReceived
	}
	chequeDate := input.ChequeDate
	if chequeDate.IsZero() {
		chequeDate = time.Now()
	}

	cheque := Cheque{
		Number:       shared.NewNumber("CHQ"),
		ChequeNumber: input.ChequeNumber,
		BankName:     input.BankName,
		ChequeDate:   chequeDate,
		Amount:       input.Amount,
		HolderName:   input.HolderName,
		HolderPhone:  input.HolderPhone,
		Status:       StatusPending,
		Type:         chequeType,
		PartyID:      input.PartyID,
	}

	id, err := s.repo.Create(ctx, cheque)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Get fetches a cheque by id.
func (s *Service) Get(ctx context.Context, id int64) (*Cheque, error) {
	return s.repo.Get(ctx, id)
}

// List returns cheques with pagination metadata.
func (s *Service) List(ctx context.Context, req ListChequesRequest) ([]Cheque, shared.Pagination, error) {
	cheques, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	return cheques, shared.NewPagination(page, perPage, total), nil
}

// UpdateStatus drives the state machine: pending may move to cleared or
// bounced; cleared and bounced are terminal. A bounce re-increments the
// owning party's balance and downgrades the owning payment or expense, all
// in the same transaction as the status flip.
func (s *Service) UpdateStatus(ctx context.Context, id int64, newStatus ChequeStatus) (*Cheque, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown cheque status %q", shared.ErrValidation, newStatus)
	}

	cheque, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cheque.Status == newStatus {
		return cheque, nil
	}
	if cheque.Status.Terminal() {
		return nil, fmt.Errorf("%w: cheque %s is %s", shared.ErrInvalidTransition, cheque.Number, cheque.Status)
	}
	if newStatus == StatusPending {
		return nil, fmt.Errorf("%w: cannot return cheque %s to pending", shared.ErrInvalidTransition, cheque.Number)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		swapped, err := repo.CompareAndSwapStatus(ctx, id, StatusPending, newStatus)
		if err != nil {
			return err
		}
		if !swapped {
			// Lost the race with a concurrent transition.
			return fmt.Errorf("%w: cheque %s is no longer pending", shared.ErrInvalidTransition, cheque.Number)
		}
		if newStatus == StatusBounced {
			return s.applyBounce(ctx, repo, cheque)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, id)
}

// applyBounce compensates the ledger: the amount the cheque was supposed to
// settle is owed again, and the owning record reflects the partial failure.
// Standalone cheques never moved money, so there is nothing to compensate.
func (s *Service) applyBounce(ctx context.Context, repo Repository, cheque *Cheque) error {
	switch {
	case cheque.PaymentID != nil:
		if err := repo.AdjustPartyBalance(ctx, cheque.PartyID, cheque.Amount); err != nil {
			return err
		}
		comp, err := repo.PaymentComposition(ctx, *cheque.PaymentID)
		if err != nil {
			return err
		}
		if err := repo.SetPaymentStatus(ctx, *cheque.PaymentID, ownerStatus(comp)); err != nil {
			return err
		}
		return repo.RefreshInvoiceForPayment(ctx, *cheque.PaymentID)
	case cheque.ExpenseID != nil:
		if err := repo.AdjustPartyBalance(ctx, cheque.PartyID, cheque.Amount); err != nil {
			return err
		}
		comp, err := repo.ExpenseComposition(ctx, *cheque.ExpenseID)
		if err != nil {
			return err
		}
		return repo.SetExpenseStatus(ctx, *cheque.ExpenseID, ownerStatus(comp))
	}
	return nil
}

// ownerStatus derives the owning record's status after a bounce: failed
// only when nothing stood (no cash and every cheque bounced).
func ownerStatus(comp *OwnerComposition) string {
	if comp.CashAmount.IsZero() && comp.Bounced == comp.Total {
		return ownerFailed
	}
	return ownerPartiallyFailed
}

// ListStalePending returns pending cheques dated before the cutoff, for the
// reconciliation backlog scan.
func (s *Service) ListStalePending(ctx context.Context, before time.Time) ([]Cheque, error) {
	return s.repo.ListStalePending(ctx, before)
}

// Delete removes a cheque that has not been presented. Cheques created by
// the reconciliation flow cannot be deleted; cancel the payment instead.
func (s *Service) Delete(ctx context.Context, id int64) error {
	cheque, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if cheque.PaymentID != nil || cheque.ExpenseID != nil {
		return fmt.Errorf("%w: cheque %s belongs to a reconciled record", shared.ErrValidation, cheque.Number)
	}
	deleted, err := s.repo.DeletePending(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: cheque %s is %s", shared.ErrInvalidTransition, cheque.Number, cheque.Status)
	}
	return nil
}
