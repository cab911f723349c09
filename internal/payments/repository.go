package payments

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

// ChequeRecord is a cheque row created by the reconciliation flow.
type ChequeRecord struct {
	Number       string
	ChequeNumber string
	BankName     string
	ChequeDate   time.Time
	Amount       decimal.Decimal
	HolderName   string
	HolderPhone  string
	CustomerID   int64
	PaymentID    int64
}

// ListPaymentsRequest filters payment listings.
type ListPaymentsRequest struct {
	CustomerID int64
	Status     PaymentStatus
	FromDate   time.Time
	ToDate     time.Time
	Limit      int
	Offset     int
}

// Repository defines data access for payments. The reconciliation flow
// writes to the payments, cheques, party_payments and parties tables, all
// inside one transaction obtained from WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	PartyKind(ctx context.Context, partyID int64) (string, error)
	CreatePayment(ctx context.Context, payment Payment) (int64, error)
	InsertCheque(ctx context.Context, cheque ChequeRecord) (int64, error)
	LinkParty(ctx context.Context, partyID, paymentID int64) (bool, error)
	AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error
	RefreshInvoiceStatus(ctx context.Context, invoiceID int64) error
	InvoiceParty(ctx context.Context, invoiceID int64) (int64, error)
	Get(ctx context.Context, id int64) (*Payment, error)
	List(ctx context.Context, req ListPaymentsRequest) ([]Payment, int, error)
	ChequeStatuses(ctx context.Context, paymentID int64) ([]string, error)
	MarkCancelled(ctx context.Context, id int64) (bool, error)
	DeletePendingCheques(ctx context.Context, paymentID int64) (int64, error)
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

func (r *repository) CreatePayment(ctx context.Context, payment Payment) (int64, error) {
	query := `
		INSERT INTO payments (
			number, party_id, invoice_id, amount, cash_amount, method, status,
			paid_at, reference, notes, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`

	var invoiceID pgtype.Int8
	if payment.InvoiceID != nil {
		invoiceID = pgtype.Int8{Int64: *payment.InvoiceID, Valid: true}
	}

	var id int64
	err := r.db.QueryRow(ctx, query,
		payment.Number, payment.CustomerID, invoiceID, payment.Amount, payment.CashAmount,
		payment.Method, payment.Status, payment.PaidAt, payment.Reference, payment.Notes,
		payment.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create payment: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) InsertCheque(ctx context.Context, cheque ChequeRecord) (int64, error) {
	query := `
		INSERT INTO cheques (
			number, cheque_number, bank_name, cheque_date, amount,
			holder_name, holder_phone, status, type, party_id, payment_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 'received', $8, $9, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		cheque.Number, cheque.ChequeNumber, cheque.BankName, cheque.ChequeDate, cheque.Amount,
		cheque.HolderName, cheque.HolderPhone, cheque.CustomerID, cheque.PaymentID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert cheque: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) LinkParty(ctx context.Context, partyID, paymentID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO party_payments (party_id, payment_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		partyID, paymentID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: link payment: %v", shared.ErrStorage, err)
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

// RefreshInvoiceStatus flips a posted invoice to paid when the effective
// payments against it cover its amount, and back when they no longer do.
func (r *repository) RefreshInvoiceStatus(ctx context.Context, invoiceID int64) error {
	query := `
		UPDATE invoices i
		SET status = CASE WHEN COALESCE((
			SELECT SUM(p.amount - COALESCE(b.bounced, 0))
			FROM payments p
			LEFT JOIN (
				SELECT payment_id, SUM(amount) AS bounced
				FROM cheques WHERE status = 'bounced' AND payment_id IS NOT NULL
				GROUP BY payment_id
			) b ON b.payment_id = p.id
			WHERE p.invoice_id = i.id AND p.status <> 'cancelled'
		), 0) >= i.amount THEN 'paid' ELSE 'posted' END,
		updated_at = NOW()
		WHERE i.id = $1 AND i.status IN ('posted', 'paid')`

	if _, err := r.db.Exec(ctx, query, invoiceID); err != nil {
		return fmt.Errorf("%w: refresh invoice status: %v", shared.ErrStorage, err)
	}
	return nil
}

func (r *repository) InvoiceParty(ctx context.Context, invoiceID int64) (int64, error) {
	var partyID int64
	err := r.db.QueryRow(ctx, "SELECT party_id FROM invoices WHERE id = $1", invoiceID).Scan(&partyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: invoice party: %v", shared.ErrStorage, err)
	}
	return partyID, nil
}

const paymentColumns = `id, number, party_id, invoice_id, amount, cash_amount, method,
	status, paid_at, reference, notes, created_by, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var invoiceID, createdBy pgtype.Int8
	var amount, cashAmount pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.Number, &p.CustomerID, &invoiceID, &amount, &cashAmount, &p.Method,
		&p.Status, &p.PaidAt, &p.Reference, &p.Notes, &createdBy, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan payment: %v", shared.ErrStorage, err)
	}
	p.Amount = shared.NumericDecimal(amount)
	p.CashAmount = shared.NumericDecimal(cashAmount)
	if invoiceID.Valid {
		p.InvoiceID = &invoiceID.Int64
	}
	p.CreatedBy = createdBy.Int64
	return &p, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Payment, error) {
	payment, err := scanPayment(r.db.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, "SELECT id FROM cheques WHERE payment_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("%w: payment cheques: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var chequeID int64
		if err := rows.Scan(&chequeID); err != nil {
			return nil, fmt.Errorf("%w: scan cheque id: %v", shared.ErrStorage, err)
		}
		payment.ChequeIDs = append(payment.ChequeIDs, chequeID)
	}
	return payment, nil
}

func (r *repository) List(ctx context.Context, req ListPaymentsRequest) ([]Payment, int, error) {
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
		conditions = append(conditions, fmt.Sprintf("paid_at >= $%d", argPos))
		args = append(args, req.FromDate)
		argPos++
	}
	if !req.ToDate.IsZero() {
		conditions = append(conditions, fmt.Sprintf("paid_at <= $%d", argPos))
		args = append(args, req.ToDate)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM payments "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count payments: %v", shared.ErrStorage, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM payments %s ORDER BY paid_at DESC LIMIT $%d OFFSET $%d",
		paymentColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list payments: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var list []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *p)
	}
	return list, total, nil
}

func (r *repository) ChequeStatuses(ctx context.Context, paymentID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, "SELECT status FROM cheques WHERE payment_id = $1", paymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: cheque statuses: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return nil, fmt.Errorf("%w: scan cheque status: %v", shared.ErrStorage, err)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// MarkCancelled cancels a payment only while it is still completed, so a
// concurrent bounce cannot be silently overwritten.
func (r *repository) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE payments SET status = 'cancelled', updated_at = NOW() WHERE id = $1 AND status = 'completed'",
		id,
	)
	if err != nil {
		return false, fmt.Errorf("%w: cancel payment: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) DeletePendingCheques(ctx context.Context, paymentID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM cheques WHERE payment_id = $1 AND status = 'pending'", paymentID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete cheques: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}
