package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-billing/meridian/internal/shared"
)

// Summary is the read-only rollup behind the dashboard endpoint.
type Summary struct {
	Customers          int             `json:"customers"`
	Suppliers          int             `json:"suppliers"`
	TotalReceivable    decimal.Decimal `json:"total_receivable"`
	TotalPayable       decimal.Decimal `json:"total_payable"`
	PendingCheques     int             `json:"pending_cheques"`
	PendingChequeTotal decimal.Decimal `json:"pending_cheque_total"`
	RecentPayments     int             `json:"recent_payments"`
	RecentPaymentTotal decimal.Decimal `json:"recent_payment_total"`
	OpenInvoices       int             `json:"open_invoices"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// Repository reads dashboard aggregates.
type Repository interface {
	PartyTotals(ctx context.Context, kind string) (int, decimal.Decimal, error)
	PendingCheques(ctx context.Context) (int, decimal.Decimal, error)
	RecentPayments(ctx context.Context, since time.Time) (int, decimal.Decimal, error)
	OpenInvoices(ctx context.Context) (int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) PartyTotals(ctx context.Context, kind string) (int, decimal.Decimal, error) {
	var count int
	var total pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(balance_due), 0) FROM parties WHERE kind = $1",
		kind,
	).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: party totals: %v", shared.ErrStorage, err)
	}
	return count, shared.NumericDecimal(total), nil
}

func (r *repository) PendingCheques(ctx context.Context) (int, decimal.Decimal, error) {
	var count int
	var total pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM cheques WHERE status = 'pending'",
	).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: pending cheques: %v", shared.ErrStorage, err)
	}
	return count, shared.NumericDecimal(total), nil
}

func (r *repository) RecentPayments(ctx context.Context, since time.Time) (int, decimal.Decimal, error) {
	var count int
	var total pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM payments WHERE status <> 'cancelled' AND paid_at >= $1",
		since,
	).Scan(&count, &total)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: recent payments: %v", shared.ErrStorage, err)
	}
	return count, shared.NumericDecimal(total), nil
}

func (r *repository) OpenInvoices(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM invoices WHERE status = 'posted'").Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: open invoices: %v", shared.ErrStorage, err)
	}
	return count, nil
}

// Service assembles the dashboard summary.
type Service struct {
	repo Repository
}

// NewService builds a Service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Summary gathers the aggregates concurrently. Queries are independent
// reads, so a slight skew between them is acceptable.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{GeneratedAt: time.Now()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, total, err := s.repo.PartyTotals(ctx, "customer")
		if err != nil {
			return err
		}
		summary.Customers, summary.TotalReceivable = count, total
		return nil
	})
	g.Go(func() error {
		count, total, err := s.repo.PartyTotals(ctx, "supplier")
		if err != nil {
			return err
		}
		summary.Suppliers, summary.TotalPayable = count, total
		return nil
	})
	g.Go(func() error {
		count, total, err := s.repo.PendingCheques(ctx)
		if err != nil {
			return err
		}
		summary.PendingCheques, summary.PendingChequeTotal = count, total
		return nil
	})
	g.Go(func() error {
		count, total, err := s.repo.RecentPayments(ctx, summary.GeneratedAt.AddDate(0, 0, -30))
		if err != nil {
			return err
		}
		summary.RecentPayments, summary.RecentPaymentTotal = count, total
		return nil
	})
	g.Go(func() error {
		count, err := s.repo.OpenInvoices(ctx)
		if err != nil {
			return err
		}
		summary.OpenInvoices = count
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summary, nil
}
