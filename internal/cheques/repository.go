package cheques

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

// ListChequesRequest filters cheque listings.
type ListChequesRequest struct {
	Status  ChequeStatus
	Type    ChequeType
	PartyID int64
	Limit   int
	Offset  int
}

// OwnerComposition summarises cheque states for an owning payment or
// expense, used to derive its status after a bounce.
type OwnerComposition struct {
	CashAmount decimal.Decimal
	Total      int
	Bounced    int
}

// Repository defines data access for cheques. Transitions cross into the
// parties/payments/expenses tables, which is why the compensation methods
// live here rather than in the ledger repository.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, cheque Cheque) (int64, error)
	Get(ctx context.Context, id int64) (*Cheque, error)
	List(ctx context.Context, req ListChequesRequest) ([]Cheque, int, error)
	CompareAndSwapStatus(ctx context.Context, id int64, from, to ChequeStatus) (bool, error)
	DeletePending(ctx context.Context, id int64) (bool, error)
	AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error
	PaymentComposition(ctx context.Context, paymentID int64) (*OwnerComposition, error)
	ExpenseComposition(ctx context.Context, expenseID int64) (*OwnerComposition, error)
	SetPaymentStatus(ctx context.Context, paymentID int64, status string) error
	SetExpenseStatus(ctx context.Context, expenseID int64, status string) error
	RefreshInvoiceForPayment(ctx context.Context, paymentID int64) error
	ListStalePending(ctx context.Context, before time.Time) ([]Cheque, error)
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

const chequeColumns = `id, number, cheque_number, bank_name, cheque_date, amount,
	holder_name, holder_phone, status, type, party_id, payment_id, expense_id,
	created_at, updated_at`

func scanCheque(row pgx.Row) (*Cheque, error) {
	var c Cheque
	var amount pgtype.Numeric
	var paymentID, expenseID pgtype.Int8
	err := row.Scan(
		&c.ID, &c.Number, &c.ChequeNumber, &c.BankName, &c.ChequeDate, &amount,
		&c.HolderName, &c.HolderPhone, &c.Status, &c.Type, &c.PartyID, &paymentID, &expenseID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan cheque: %v", shared.ErrStorage, err)
	}
	c.Amount = shared.NumericDecimal(amount)
	if paymentID.Valid {
		c.PaymentID = &paymentID.Int64
	}
	if expenseID.Valid {
		c.ExpenseID = &expenseID.Int64
	}
	return &c, nil
}

func (r *repository) Create(ctx context.Context, cheque Cheque) (int64, error) {
	query := `
		INSERT INTO cheques (
			number, cheque_number, bank_name, cheque_date, amount,
			holder_name, holder_phone, status, type, party_id, payment_id, expense_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING id`

	var paymentID, expenseID pgtype.Int8
	if cheque.PaymentID != nil {
		paymentID = pgtype.Int8{Int64: *cheque.PaymentID, Valid: true}
	}
	if cheque.ExpenseID != nil {
		expenseID = pgtype.Int8{Int64: *cheque.ExpenseID, Valid: true}
	}

	var id int64
	err := r.db.QueryRow(ctx, query,
		cheque.Number, cheque.ChequeNumber, cheque.BankName, cheque.ChequeDate, cheque.Amount,
		cheque.HolderName, cheque.HolderPhone, cheque.Status, cheque.Type, cheque.PartyID,
		paymentID, expenseID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create cheque: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Cheque, error) {
	return scanCheque(r.db.QueryRow(ctx, "SELECT "+chequeColumns+" FROM cheques WHERE id = $1", id))
}

func (r *repository) List(ctx context.Context, req ListChequesRequest) ([]Cheque, int, error) {
	conditions := []string{"1=1"}
	var args []any
	argPos := 1

	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}
	if req.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, req.Type)
		argPos++
	}
	if req.PartyID > 0 {
		conditions = append(conditions, fmt.Sprintf("party_id = $%d", argPos))
		args = append(args, req.PartyID)
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM cheques "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count cheques: %v", shared.ErrStorage, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM cheques %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		chequeColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list cheques: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var cheques []Cheque
	for rows.Next() {
		c, err := scanCheque(rows)
		if err != nil {
			return nil, 0, err
		}
		cheques = append(cheques, *c)
	}
	return cheques, total, nil
}

// CompareAndSwapStatus flips the status only when the stored status still
// matches from. A false result with no error means the precondition failed.
func (r *repository) CompareAndSwapStatus(ctx context.Context, id int64, from, to ChequeStatus) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE cheques SET status = $3, updated_at = NOW() WHERE id = $1 AND status = $2",
		id, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("%w: swap cheque status: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) DeletePending(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM cheques WHERE id = $1 AND status = 'pending'", id)
	if err != nil {
		return false, fmt.Errorf("%w: delete cheque: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE parties SET balance_due = balance_due + $2, updated_at = NOW() WHERE id = $1",
		partyID, delta,
	)
	if err != nil {
		return fmt.Errorf("%w: adjust party balance: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: party %d", shared.ErrNotFound, partyID)
	}
	return nil
}

func (r *repository) composition(ctx context.Context, table, column string, ownerID int64) (*OwnerComposition, error) {
	query := fmt.Sprintf(`
		SELECT o.cash_amount,
			COUNT(c.id),
			COUNT(c.id) FILTER (WHERE c.status = 'bounced')
		FROM %s o
		LEFT JOIN cheques c ON c.%s = o.id
		WHERE o.id = $1
		GROUP BY o.id`, table, column)

	var comp OwnerComposition
	var cash pgtype.Numeric
	err := r.db.QueryRow(ctx, query, ownerID).Scan(&cash, &comp.Total, &comp.Bounced)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: owner composition: %v", shared.ErrStorage, err)
	}
	comp.CashAmount = shared.NumericDecimal(cash)
	return &comp, nil
}

func (r *repository) PaymentComposition(ctx context.Context, paymentID int64) (*OwnerComposition, error) {
	return r.composition(ctx, "payments", "payment_id", paymentID)
}

func (r *repository) ExpenseComposition(ctx context.Context, expenseID int64) (*OwnerComposition, error) {
	return r.composition(ctx, "expenses", "expense_id", expenseID)
}

func (r *repository) SetPaymentStatus(ctx context.Context, paymentID int64, status string) error {
	_, err := r.db.Exec(ctx, "UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1", paymentID, status)
	if err != nil {
		return fmt.Errorf("%w: set payment status: %v", shared.ErrStorage, err)
	}
	return nil
}

func (r *repository) SetExpenseStatus(ctx context.Context, expenseID int64, status string) error {
	_, err := r.db.Exec(ctx, "UPDATE expenses SET status = $2, updated_at = NOW() WHERE id = $1", expenseID, status)
	if err != nil {
		return fmt.Errorf("%w: set expense status: %v", shared.ErrStorage, err)
	}
	return nil
}

// RefreshInvoiceForPayment re-derives the invoice status behind a payment
// after a bounce changed its effective amount.
func (r *repository) RefreshInvoiceForPayment(ctx context.Context, paymentID int64) error {
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
		WHERE i.status IN ('posted', 'paid')
		AND i.id = (SELECT invoice_id FROM payments WHERE id = $1)`

	if _, err := r.db.Exec(ctx, query, paymentID); err != nil {
		return fmt.Errorf("%w: refresh invoice status: %v", shared.ErrStorage, err)
	}
	return nil
}

func (r *repository) ListStalePending(ctx context.Context, before time.Time) ([]Cheque, error) {
	query := "SELECT " + chequeColumns + " FROM cheques WHERE status = 'pending' AND cheque_date < $1 ORDER BY cheque_date"
	rows, err := r.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("%w: stale cheques: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var cheques []Cheque
	for rows.Next() {
		c, err := scanCheque(rows)
		if err != nil {
			return nil, err
		}
		cheques = append(cheques, *c)
	}
	return cheques, nil
}
