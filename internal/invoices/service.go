package invoices

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

// CreateInvoiceInput describes a new invoice. Unless Draft is set the
// invoice is posted immediately, which links it to the customer and
// increments the balance in the same transaction.
type CreateInvoiceInput struct {
	CustomerID int64           `json:"customer_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount"`
	IssueDate  time.Time       `json:"issue_date"`
	DueDate    time.Time       `json:"due_date"`
	Notes      string          `json:"notes"`
	Draft      bool            `json:"draft"`
	CreatedBy  int64           `json:"-"`
}

// Service handles invoice lifecycle operations.
type Service struct {
	repo  Repository
	cache CacheInvalidator
}

// NewService builds a Service instance.
func NewService(repo Repository, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache}
}

// Create records an invoice. Posted invoices hit the customer ledger
// atomically: invoice row, party link and balance increment commit
// together or not at all.
func (s *Service) Create(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if input.CustomerID <= 0 {
		return nil, fmt.Errorf("%w: customer id is required", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: invoice amount must be positive", shared.ErrValidation)
	}

	issueDate := input.IssueDate
	if issueDate.IsZero() {
		issueDate = time.Now()
	}
	dueDate := input.DueDate
	if dueDate.IsZero() {
		dueDate = issueDate.AddDate(0, 1, 0)
	}
	if dueDate.Before(issueDate) {
		return nil, fmt.Errorf("%w: due date before issue date", shared.ErrValidation)
	}

	status := StatusPosted
	if input.Draft {
		status = StatusDraft
	}

	var invoiceID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		kind, err := repo.PartyKind(ctx, input.CustomerID)
		if err != nil {
			return err
		}
		if kind != "customer" {
			return fmt.Errorf("%w: party %d is not a customer", shared.ErrValidation, input.CustomerID)
		}

		invoiceID, err = repo.Create(ctx, Invoice{
			Number:     shared.NewNumber("INV"),
			CustomerID: input.CustomerID,
			Amount:     input.Amount,
			Status:     status,
			IssueDate:  issueDate,
			DueDate:    dueDate,
			Notes:      input.Notes,
			CreatedBy:  input.CreatedBy,
		})
		if err != nil {
			return err
		}
		if status != StatusPosted {
			return nil
		}
		if _, err := repo.LinkParty(ctx, input.CustomerID, invoiceID); err != nil {
			return err
		}
		return repo.AdjustPartyBalance(ctx, input.CustomerID, input.Amount)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && status == StatusPosted {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, invoiceID)
}

// Post moves a draft invoice onto the customer ledger.
func (s *Service) Post(ctx context.Context, id int64) (*Invoice, error) {
	invoice, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != StatusDraft {
		return nil, fmt.Errorf("%w: invoice %s is %s", shared.ErrInvalidTransition, invoice.Number, invoice.Status)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		swapped, err := repo.CompareAndSwapStatus(ctx, id, StatusDraft, StatusPosted)
		if err != nil {
			return err
		}
		if !swapped {
			return fmt.Errorf("%w: invoice %s is no longer a draft", shared.ErrInvalidTransition, invoice.Number)
		}
		if _, err := repo.LinkParty(ctx, invoice.CustomerID, id); err != nil {
			return err
		}
		return repo.AdjustPartyBalance(ctx, invoice.CustomerID, invoice.Amount)
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, id)
}

// Void cancels a posted invoice that has no effective payments against it,
// re-decrementing the customer balance in the same transaction. Drafts are
// voided without touching the ledger.
func (s *Service) Void(ctx context.Context, id int64) (*Invoice, error) {
	invoice, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch invoice.Status {
	case StatusDraft:
		err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			swapped, err := repo.CompareAndSwapStatus(ctx, id, StatusDraft, StatusVoid)
			if err != nil {
				return err
			}
			if !swapped {
				return fmt.Errorf("%w: invoice %s changed state", shared.ErrInvalidTransition, invoice.Number)
			}
			return nil
		})
	case StatusPosted:
		err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
			paid, err := repo.EffectivePayments(ctx, id)
			if err != nil {
				return err
			}
			if paid.IsPositive() {
				return fmt.Errorf("%w: invoice %s has payments against it", shared.ErrInvalidTransition, invoice.Number)
			}
			swapped, err := repo.CompareAndSwapStatus(ctx, id, StatusPosted, StatusVoid)
			if err != nil {
				return err
			}
			if !swapped {
				return fmt.Errorf("%w: invoice %s changed state", shared.ErrInvalidTransition, invoice.Number)
			}
			return repo.AdjustPartyBalance(ctx, invoice.CustomerID, invoice.Amount.Neg())
		})
	default:
		return nil, fmt.Errorf("%w: invoice %s is %s", shared.ErrInvalidTransition, invoice.Number, invoice.Status)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.BumpCache(ctx)
	}
	return s.repo.Get(ctx, id)
}

// Get fetches an invoice.
func (s *Service) Get(ctx context.Context, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// List returns invoices with pagination metadata.
func (s *Service) List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, shared.Pagination, error) {
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
