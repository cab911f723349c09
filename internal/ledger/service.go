package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/meridian-billing/meridian/internal/shared"
)

// CreatePartyInput describes a new customer or supplier.
type CreatePartyInput struct {
	Name         string `json:"name" validate:"required"`
	CompanyName  string `json:"company_name"`
	Type         string `json:"type"`
	Email        string `json:"email" validate:"omitempty,email"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	City         string `json:"city"`
	Country      string `json:"country"`
	Notes        string `json:"notes"`
}

// UpdatePartyInput carries optional field updates.
type UpdatePartyInput struct {
	Name         *string `json:"name"`
	CompanyName  *string `json:"company_name"`
	Type         *string `json:"type"`
	Email        *string `json:"email" validate:"omitempty,email"`
	Phone        *string `json:"phone"`
	AddressLine1 *string `json:"address_line1"`
	City         *string `json:"city"`
	Country      *string `json:"country"`
	Notes        *string `json:"notes"`
	IsActive     *bool   `json:"is_active"`
}

// Service handles party ledger business logic.
type Service struct {
	repo   Repository
	cache  *Cache
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo Repository, cache *Cache, logger *slog.Logger) *Service {
	return &Service{repo: repo, cache: cache, logger: logger}
}

// Create registers a new party of the given kind.
func (s *Service) Create(ctx context.Context, kind PartyKind, input CreatePartyInput) (*Party, error) {
	if kind != KindCustomer && kind != KindSupplier {
		return nil, fmt.Errorf("%w: unknown party kind %q", shared.ErrValidation, kind)
	}
	if input.Name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}

	party := Party{
		Kind:         kind,
		Name:         input.Name,
		CompanyName:  input.CompanyName,
		Type:         input.Type,
		Email:        input.Email,
		Phone:        input.Phone,
		AddressLine1: input.AddressLine1,
		City:         input.City,
		Country:      input.Country,
		Notes:        input.Notes,
		BalanceDue:   decimal.Zero,
		IsActive:     true,
	}

	id, err := s.repo.Create(ctx, party)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Get fetches a party, scoped to the expected kind.
func (s *Service) Get(ctx context.Context, kind PartyKind, id int64) (*Party, error) {
	party, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if party.Kind != kind {
		return nil, fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind, id)
	}
	return party, nil
}

// List returns parties with pagination metadata.
func (s *Service) List(ctx context.Context, req ListPartiesRequest) ([]Party, shared.Pagination, error) {
	parties, total, err := s.repo.List(ctx, req)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	page := req.Offset/perPage + 1
	return parties, shared.NewPagination(page, perPage, total), nil
}

// Update applies partial field changes.
func (s *Service) Update(ctx context.Context, kind PartyKind, id int64, input UpdatePartyInput) (*Party, error) {
	if _, err := s.Get(ctx, kind, id); err != nil {
		return nil, err
	}

	updates := make(map[string]any)
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.CompanyName != nil {
		updates["company_name"] = *input.CompanyName
	}
	if input.Type != nil {
		updates["party_type"] = *input.Type
	}
	if input.Email != nil {
		updates["email"] = *input.Email
	}
	if input.Phone != nil {
		updates["phone"] = *input.Phone
	}
	if input.AddressLine1 != nil {
		updates["address_line1"] = *input.AddressLine1
	}
	if input.City != nil {
		updates["city"] = *input.City
	}
	if input.Country != nil {
		updates["country"] = *input.Country
	}
	if input.Notes != nil {
		updates["notes"] = *input.Notes
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}
	if len(updates) > 0 {
		if err := s.repo.Update(ctx, id, updates); err != nil {
			return nil, err
		}
		s.bumpCache(ctx)
	}
	return s.repo.Get(ctx, id)
}

// AttachPayment appends a payment reference to the party's payment list.
// Appending the same reference twice is a no-op.
func (s *Service) AttachPayment(ctx context.Context, kind PartyKind, partyID, paymentID int64) (bool, error) {
	if _, err := s.Get(ctx, kind, partyID); err != nil {
		return false, err
	}
	inserted, err := s.repo.AttachPayment(ctx, partyID, paymentID)
	if err != nil {
		return false, err
	}
	if inserted {
		s.bumpCache(ctx)
	}
	return inserted, nil
}

// Statement builds the party ledger view, cached under the current version.
func (s *Service) Statement(ctx context.Context, kind PartyKind, partyID int64) (*Statement, error) {
	if cached, err := s.cache.GetStatement(ctx, partyID); err != nil {
		s.logger.Warn("statement cache read", slog.Any("error", err))
	} else if cached != nil && cached.Party.Kind == kind {
		return cached, nil
	}

	party, err := s.Get(ctx, kind, partyID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.StatementLines(ctx, partyID)
	if err != nil {
		return nil, err
	}

	running := decimal.Zero
	for i := range lines {
		running = running.Add(lines[i].Delta)
		lines[i].Balance = running
	}

	invoiceIDs, err := s.repo.InvoiceRefs(ctx, partyID)
	if err != nil {
		return nil, err
	}
	paymentIDs, err := s.repo.PaymentRefs(ctx, partyID)
	if err != nil {
		return nil, err
	}

	stmt := &Statement{
		Party:      *party,
		Lines:      lines,
		InvoiceIDs: invoiceIDs,
		PaymentIDs: paymentIDs,
	}
	if err := s.cache.SetStatement(ctx, partyID, stmt); err != nil {
		s.logger.Warn("statement cache write", slog.Any("error", err))
	}
	return stmt, nil
}

// CheckBalance recomputes the balance from ledger movements and compares it
// against the stored balance_due.
func (s *Service) CheckBalance(ctx context.Context, partyID int64) (*BalanceCheck, error) {
	party, err := s.repo.Get(ctx, partyID)
	if err != nil {
		return nil, err
	}
	derived, err := s.repo.DerivedBalance(ctx, partyID)
	if err != nil {
		return nil, err
	}
	drift := party.BalanceDue.Sub(derived)
	return &BalanceCheck{
		PartyID:    partyID,
		Stored:     party.BalanceDue,
		Derived:    derived,
		Drift:      drift,
		Consistent: drift.IsZero(),
	}, nil
}

// PartyIDs lists ids of one kind, used by the integrity job.
func (s *Service) PartyIDs(ctx context.Context, kind PartyKind) ([]int64, error) {
	return s.repo.PartyIDs(ctx, kind)
}

// BumpCache invalidates cached statements after external ledger writes.
func (s *Service) BumpCache(ctx context.Context) {
	s.bumpCache(ctx)
}

func (s *Service) bumpCache(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("ledger cache bump", slog.Any("error", err))
	}
}
