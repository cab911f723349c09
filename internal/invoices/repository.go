package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-billing/meridian/internal/platform/db"
	"github.com/meridian-billing/meridian/internal/shared"
)

// ListInvoicesRequest filters invoice listings.
type ListInvoicesRequest struct {
	CustomerID int64
	Status     InvoiceStatus
	FromDate   time.Time
	ToDate     time.Time
	Limit      int
	Offset     int
}

// Repository defines data access for invoices. Posting and voiding touch
// the invoices, party_invoices and parties tables inside one transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	PartyKind(ctx context.Context, partyID int64) (string, error)
	Create(ctx context.Context, invoice Invoice) (int64, error)
	CompareAndSwapStatus(ctx context.Context, id int64, from, to InvoiceStatus) (bool, error)
	LinkParty(ctx context.Context, partyID, invoiceID int64) (bool, error)
	AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error
	Get(ctx context.Context, id int64) (*Invoice, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	EffectivePayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) PartyKind(ctx context.Context, partyID int64) (string, error) {
	var kind string
	err := r.db.QueryRow(ctx, "SELECT kind FROM parties WHERE id = $1", partyID).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: party %d", shared.ErrNotFound, partyID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: party kind: %v", shared.ErrStorage, err)
	}
	return kind, nil
}

func (r *repository) Create(ctx context.Context, invoice Invoice) (int64, error) {
	query := `
		INSERT INTO invoices (
			number, party_id, amount, status, issue_date, due_date, notes,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		invoice.Number, invoice.CustomerID, invoice.Amount, invoice.Status,
		invoice.IssueDate, invoice.DueDate, invoice.Notes, invoice.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create invoice: %v", shared.ErrStorage, err)
	}
	return id, nil
}

// CompareAndSwapStatus moves an invoice from one status to another only if
// it is still in the expected status.
func (r *repository) CompareAndSwapStatus(ctx context.Context, id int64, from, to InvoiceStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE invoices SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("%w: invoice status swap: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) LinkParty(ctx context.Context, partyID, invoiceID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO party_invoices (party_id, invoice_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		partyID, invoiceID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: link invoice: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE parties SET balance_due = balance_due + $2, updated_at = NOW() WHERE id = $1",
		partyID, delta,
	)
	if err != nil {
		return fmt.Errorf("%w: adjust balance: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: party %d", shared.ErrNotFound, partyID)
	}
	return nil
}

const invoiceColumns = `id, number, party_id, amount, status, issue_date, due_date,
	notes, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var amount pgtype.Numeric
	var createdBy pgtype.Int8
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.CustomerID, &amount, &inv.Status,
		&inv.IssueDate, &inv.DueDate, &inv.Notes, &createdBy,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan invoice: %v", shared.ErrStorage, err)
	}
	inv.Amount = shared.NumericDecimal(amount)
	inv.CreatedBy = createdBy.Int64
	return &inv, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Invoice, error) {
	return scanInvoice(r.db.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE id = $1", id))
}

func (r *repository) List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	conditions := []string{"1=1"}
	var args []any
	argPos := 1

	if req.CustomerID > 0 {
		conditions = append(conditions, fmt.Sprintf("party_id = $%d", argPos))
		args = append(args, req.CustomerID)
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}
	if !req.FromDate.IsZero() {
		conditions = append(conditions, fmt.Sprintf("issue_date >= $%d", argPos))
		args = append(args, req.FromDate)
		argPos++
	}
	if !req.ToDate.IsZero() {
		conditions = append(conditions, fmt.Sprintf("issue_date <= $%d", argPos))
		args = append(args, req.ToDate)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count invoices: %v", shared.ErrStorage, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM invoices %s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d",
		invoiceColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list invoices: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var list []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *inv)
	}
	return list, total, nil
}

// EffectivePayments sums the non-cancelled payments allocated to an
// invoice, net of bounced cheque amounts.
func (r *repository) EffectivePayments(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(p.amount - COALESCE(b.bounced, 0)), 0)
		FROM payments p
		LEFT JOIN (
			SELECT payment_id, SUM(amount) AS bounced
			FROM cheques WHERE status = 'bounced' AND payment_id IS NOT NULL
			GROUP BY payment_id
		) b ON b.payment_id = p.id
		WHERE p.invoice_id = $1 AND p.status <> 'cancelled'`

	var total pgtype.Numeric
	if err := r.db.QueryRow(ctx, query, invoiceID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("%w: effective payments: %v", shared.ErrStorage, err)
	}
	return shared.NumericDecimal(total), nil
}
