package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-billing/meridian/internal/shared"
)

// CacheInvalidator invalidates cached party statements after ledger writes.
type CacheInvalidator interface {
	BumpCache(ctx context.Context)
}

// ChequeEntry is one cheque component of a payment request.
type ChequeEntry struct {
	ChequeNumber string          `json:"cheque_number" validate:"required"`
	BankName     string          `json:"bank_name" validate:"required"`
	ChequeDate   time.Time       `json:"cheque_date"`
	Amount       decimal.Decimal `json:"amount"`
	HolderName   string          `json:"holder_name"`
	HolderPhone  string          `json:"holder_phone"`
}

// RecordPaymentInput is a reconciliation request: cash and/or cheques
// settling money owed by a customer.
type RecordPaymentInput struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	InvoiceID  *int64          `json:"invoice_id"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	Cheques    []ChequeEntry   `json:"cheques" validate:"dive"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     time.Time       `json:"paid_at"`
	Reference  string          `json:"reference"`
	Notes      string          `json:"notes"`
	CreatedBy  int64           `json:"-"`
}

// Service handles the payment reconciliation flow.
type Service struct {
	repo  Repository
	cache CacheInvalidator
}

// NewService builds a Service instance.
func NewService(repo Repository, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// Record runs the reconciliation flow in a single transaction: it creates
// the payment, creates the cheque records referencing it, links the payment
// to the customer and debits the customer balance by the total. A failure
// anywhere rolls everything back, leaving the balance untouched.
func (s *Service) Record(ctx context.Context, input RecordPaymentInput) (*Payment, error) {
	total, err := validateRecordInput(input)
	if err != nil {
		return nil, err
	}

	paidAt := input.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now()
	}

	method := MethodCash
	if len(input.Cheques) > 0 {
		method = MethodCheck
	}

	var paymentID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		kind, err := repo.PartyKind(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if kind != "customer" {
			return fmt.Errorf("%w: party %d is not a customer", shared.ErrValidation, input.CustomerID)
		}
		if input.InvoiceID != nil {
			owner, err := repo.InvoiceParty(ctx, *input.InvoiceID)
			if err != nil {
				return err
			}
			if owner != input.CustomerID {
				return fmt.Errorf("%w: invoice %d does not belong to customer %d", shared.ErrConsistency, *input.InvoiceID, input.CustomerID)
			}
		}

		paymentID, err = repo.CreatePayment(ctx, Payment{
			Number:     shared.NewNumber("PAY"),
			CustomerID: input.CustomerID,
			InvoiceID:  input.InvoiceID,
			Amount:     total,
			CashAmount: input.CashAmount,
			Method:     method,
			Status:     StatusCompleted,
			PaidAt:     paidAt,
			Reference:  input.Reference,
			Notes:      input.Notes,
			CreatedBy:  input.CreatedBy,
		})
		if err != nil {
			return err
		}

		for _, entry := range input.Cheques {
			chequeDate := entry.ChequeDate
			if chequeDate.IsZero() {
				chequeDate = paidAt
			}
			if _, err := repo.InsertCheque(ctx, ChequeRecord{
				Number:       shared.NewNumber("CHQ"),
				ChequeNumber: entry.ChequeNumber,
				BankName:     entry.BankName,
				ChequeDate:   chequeDate,
				Amount:       entry.Amount,
				HolderName:   entry.HolderName,
				HolderPhone:  entry.HolderPhone,
				CustomerID:   input.CustomerID,
				PaymentID:    paymentID,
			}); err != nil {
				return err
			}
		}

		if _, err := repo.LinkParty(ctx, input.CustomerID, paymentID); err != nil {
			return err
		}
		if err := repo.AdjustPartyBalance(ctx, input.CustomerID, total.Neg()); err != nil {
			return err
		}
		if input.InvoiceID != nil {
			if err := repo.RefreshInvoiceStatus(ctx, *input.InvoiceID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, paymentID)
}

func validateRecordInput(input RecordPaymentInput) (decimal.Decimal, error) {
	if input.CustomerID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: customer id is required", shared.ErrValidation)
	}
	if input.CashAmount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: cash amount cannot be negative", shared.ErrValidation)
	}

	total := input.CashAmount
	for i, entry := range input.Cheques {
		if entry.ChequeNumber == "" || entry.BankName == "" {
			return decimal.Zero, fmt.Errorf("%w: cheque %d needs number and bank", shared.ErrValidation, i+1)
		}
		if !entry.Amount.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: cheque %d amount must be positive", shared.ErrValidation, i+1)
		}
		total = total.Add(entry.Amount)
	}
	if !total.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: payment total must be positive", shared.ErrValidation)
	}
	if !input.Amount.IsZero() && !input.Amount.Equal(total) {
		return decimal.Zero, fmt.Errorf("%w: amount %s does not match cash %s plus cheques",
			shared.ErrConsistency, input.Amount, input.CashAmount)
	}
	return total, nil
}

// Get fetches a payment with its cheque references.
func (s *Service) Get(ctx context.Context, id int64) (*Payment, error) {
	return s.repo.Get(ctx, id)
}

// List returns payments with pagination metadata.
func (s *Service) List(ctx context.Context, req ListPaymentsRequest) ([]Payment, shared.Pagination, error) {
	list, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	return list, shared.NewPagination(page, perPage, total), nil
}

// Cancel reverses a payment while every cheque on it is still pending:
// the balance is re-credited, pending cheques are removed and the payment
// moves to cancelled, all in one transaction.
func (s *Service) Cancel(ctx context.Context, id int64) (*Payment, error) {
	payment, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: payment %s is %s", shared.ErrInvalidTransition, payment.Number, payment.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		// Checked inside the transaction: a cheque clearing concurrently
		// would not flip the payment status, so the CAS below cannot catch
		// it on its own.
		statuses, err := repo.ChequeStatuses(ctx, id)
		if err != nil {
			return err
		}
		for _, status := range statuses {
			if status != "pending" {
				return fmt.Errorf("%w: payment %s has a %s cheque", shared.ErrInvalidTransition, payment.Number, status)
			}
		}
		cancelled, err := repo.MarkCancelled(ctx, id)
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("%w: payment %s is no longer cancellable", shared.ErrInvalidTransition, payment.Number)
		}
		deleted, err := repo.DeletePendingCheques(ctx, id)
		if err != nil {
			return err
		}
		if deleted != int64(len(statuses)) {
			return fmt.Errorf("%w: payment %s has a settled cheque", shared.ErrInvalidTransition, payment.Number)
		}
		if err := repo.AdjustPartyBalance(ctx, payment.CustomerID, payment.Amount); err != nil {
			return err
		}
		if payment.InvoiceID != nil {
			return repo.RefreshInvoiceStatus(ctx, *payment.InvoiceID)
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
