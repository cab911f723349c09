package expenses

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

// ChequeEntry is one issued-cheque component of an expense request.
type ChequeEntry struct {
	ChequeNumber string          `json:"cheque_number" validate:"required"`
	BankName     string          `json:"bank_name" validate:"required"`
	ChequeDate   time.Time       `json:"cheque_date"`
	Amount       decimal.Decimal `json:"amount"`
	HolderName   string          `json:"holder_name"`
	HolderPhone  string          `json:"holder_phone"`
}

// RecordExpenseInput is a supplier-side reconciliation request: cash and/or
// issued cheques settling money owed to a supplier.
type RecordExpenseInput struct {
	SupplierID int64           `json:"supplier_id" validate:"required,gt=0"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	Cheques    []ChequeEntry   `json:"cheques" validate:"dive"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	PaidAt     time.Time       `json:"paid_at"`
	Reference  string          `json:"reference"`
	Notes      string          `json:"notes"`
	CreatedBy  int64           `json:"-"`
}

// Service handles the expense reconciliation flow.
type Service struct {
	repo  Repository
	cache CacheInvalidator
}

// NewService builds a Service instance.
func NewService(repo Repository, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// Record runs the expense flow in a single transaction: it creates the
// expense, creates the issued cheque records referencing it, links the
// expense to the supplier and debits the supplier balance by the total.
// A failure anywhere rolls everything back.
func (s *Service) Record(ctx context.Context, input RecordExpenseInput) (*Expense, error) {
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

	var expenseID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		kind, err := repo.PartyKind(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		if kind != "supplier" {
			return fmt.Errorf("%w: party %d is not a supplier", shared.ErrValidation, input.SupplierID)
		}

		expenseID, err = repo.CreateExpense(ctx, Expense{
			Number:     shared.NewNumber("EXP"),
			SupplierID: input.SupplierID,
			Amount:     total,
			CashAmount: input.CashAmount,
			Method:     method,
			Status:     StatusCompleted,
			Category:   input.Category,
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
				SupplierID:   input.SupplierID,
				ExpenseID:    expenseID,
			}); err != nil {
				return err
			}
		}

		if _, err := repo.LinkParty(ctx, input.SupplierID, expenseID); err != nil {
			return err
		}
		return repo.AdjustPartyBalance(ctx, input.SupplierID, total.Neg())
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, expenseID)
}

func validateRecordInput(input RecordExpenseInput) (decimal.Decimal, error) {
	if input.SupplierID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: supplier id is required", shared.ErrValidation)
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
		return decimal.Zero, fmt.Errorf("%w: expense total must be positive", shared.ErrValidation)
	}
	if !input.Amount.IsZero() && !input.Amount.Equal(total) {
		return decimal.Zero, fmt.Errorf("%w: amount %s does not match cash %s plus cheques",
			shared.ErrConsistency, input.Amount, input.CashAmount)
	}
	return total, nil
}

// Get fetches an expense with its cheque references.
func (s *Service) Get(ctx context.Context, id int64) (*Expense, error) {
	return s.repo.Get(ctx, id)
}

// List returns expenses with pagination metadata.
func (s *Service) List(ctx context.Context, req ListExpensesRequest) ([]Expense, shared.Pagination, error) {
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

// Cancel reverses an expense while every cheque on it is still pending:
// the supplier balance is re-credited, pending cheques are removed and the
// expense moves to cancelled, all in one transaction.
func (s *Service) Cancel(ctx context.Context, id int64) (*Expense, error) {
	expense, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expense.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: expense %s is %s", shared.ErrInvalidTransition, expense.Number, expense.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		// Checked inside the transaction: a cheque clearing concurrently
		// would not flip the expense status, so the CAS below cannot catch
		// it on its own.
		statuses, err := repo.ChequeStatuses(ctx, id)
		if err != nil {
			return err
		}
		for _, status := range statuses {
			if status != "pending" {
				return fmt.Errorf("%w: expense %s has a %s cheque", shared.ErrInvalidTransition, expense.Number, status)
			}
		}
		cancelled, err := repo.MarkCancelled(ctx, id)
		if err != nil {
			return err
		}
		if !cancelled {
			return fmt.Errorf("%w: expense %s is no longer cancellable", shared.ErrInvalidTransition, expense.Number)
		}
		deleted, err := repo.DeletePendingCheques(ctx, id)
		if err != nil {
			return err
		}
		if deleted != int64(len(statuses)) {
			return fmt.Errorf("%w: expense %s has a settled cheque", shared.ErrInvalidTransition, expense.Number)
		}
		return repo.AdjustPartyBalance(ctx, expense.SupplierID, expense.Amount)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, id)
}
