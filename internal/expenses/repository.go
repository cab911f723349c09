package expenses

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

// ChequeRecord is an issued cheque row created by the expense flow.
type ChequeRecord struct {
	Number       string
	ChequeNumber string
	BankName     string
	ChequeDate   time.Time
	Amount       decimal.Decimal
	HolderName   string
	HolderPhone  string
	SupplierID   int64
	ExpenseID    int64
}

// ListExpensesRequest filters expense listings.
type ListExpensesRequest struct {
	SupplierID int64
	Status     ExpenseStatus
	Category   string
	FromDate   time.Time
	ToDate     time.Time
	Limit      int
	Offset     int
}

// Repository defines data access for expenses. The reconciliation flow
// writes to the expenses, cheques, party_expenses and parties tables, all
// inside one transaction obtained from WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	PartyKind(ctx context.Context, partyID int64) (string, error)
	CreateExpense(ctx context.Context, expense Expense) (int64, error)
	InsertCheque(ctx context.Context, cheque ChequeRecord) (int64, error)
	LinkParty(ctx context.Context, partyID, expenseID int64) (bool, error)
	AdjustPartyBalance(ctx context.Context, partyID int64, delta decimal.Decimal) error
	Get(ctx context.Context, id int64) (*Expense, error)
	List(ctx context.Context, req ListExpensesRequest) ([]Expense, int, error)
	ChequeStatuses(ctx context.Context, expenseID int64) ([]string, error)
	MarkCancelled(ctx context.Context, id int64) (bool, error)
	DeletePendingCheques(ctx context.Context, expenseID int64) (int64, error)
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

func (r *repository) CreateExpense(ctx context.Context, expense Expense) (int64, error) {
	query := `
		INSERT INTO expenses (
			number, party_id, amount, cash_amount, method, status, category,
			paid_at, reference, notes, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		expense.Number, expense.SupplierID, expense.Amount, expense.CashAmount,
		expense.Method, expense.Status, expense.Category, expense.PaidAt,
		expense.Reference, expense.Notes, expense.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create expense: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) InsertCheque(ctx context.Context, cheque ChequeRecord) (int64, error) {
	query := `
		INSERT INTO cheques (
			number, cheque_number, bank_name, cheque_date, amount,
			holder_name, holder_phone, status, type, party_id, expense_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', 'issued', $8, $9, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		cheque.Number, cheque.ChequeNumber, cheque.BankName, cheque.ChequeDate, cheque.Amount,
		cheque.HolderName, cheque.HolderPhone, cheque.SupplierID, cheque.ExpenseID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: insert cheque: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) LinkParty(ctx context.Context, partyID, expenseID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO party_expenses (party_id, expense_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		partyID, expenseID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: link expense: %v", shared.ErrStorage, err)
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

const expenseColumns = `id, number, party_id, amount, cash_amount, method,
	status, category, paid_at, reference, notes, created_by, created_at, updated_at`

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	var createdBy pgtype.Int8
	var amount, cashAmount pgtype.Numeric
	err := row.Scan(
		&e.ID, &e.Number, &e.SupplierID, &amount, &cashAmount, &e.Method,
		&e.Status, &e.Category, &e.PaidAt, &e.Reference, &e.Notes, &createdBy,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan expense: %v", shared.ErrStorage, err)
	}
	e.Amount = shared.NumericDecimal(amount)
	e.CashAmount = shared.NumericDecimal(cashAmount)
	e.CreatedBy = createdBy.Int64
	return &e, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Expense, error) {
	expense, err := scanExpense(r.db.QueryRow(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = $1", id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, "SELECT id FROM cheques WHERE expense_id = $1 ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("%w: expense cheques: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	for rows.Next() {
		var chequeID int64
		if err := rows.Scan(&chequeID); err != nil {
			return nil, fmt.Errorf("%w: scan cheque id: %v", shared.ErrStorage, err)
		}
		expense.ChequeIDs = append(expense.ChequeIDs, chequeID)
	}
	return expense, nil
}

func (r *repository) List(ctx context.Context, req ListExpensesRequest) ([]Expense, int, error) {
	conditions := []string{"1=1"}
	var args []any
	argPos := 1

	if req.SupplierID > 0 {
		conditions = append(conditions, fmt.Sprintf("party_id = $%d", argPos))
		args = append(args, req.SupplierID)
		argPos++
	}
	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, req.Status)
		argPos++
	}
	if req.Category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argPos))
		args = append(args, req.Category)
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
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM expenses "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count expenses: %v", shared.ErrStorage, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM expenses %s ORDER BY paid_at DESC LIMIT $%d OFFSET $%d",
		expenseColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list expenses: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var list []Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *e)
	}
	return list, total, nil
}

func (r *repository) ChequeStatuses(ctx context.Context, expenseID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, "SELECT status FROM cheques WHERE expense_id = $1", expenseID)
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

// MarkCancelled cancels an expense only while it is still completed, so a
// concurrent bounce cannot be silently overwritten.
func (r *repository) MarkCancelled(ctx context.Context, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"UPDATE expenses SET status = 'cancelled', updated_at = NOW() WHERE id = $1 AND status = 'completed'",
		id,
	)
	if err != nil {
		return false, fmt.Errorf("%w: cancel expense: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) DeletePendingCheques(ctx context.Context, expenseID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM cheques WHERE expense_id = $1 AND status = 'pending'", expenseID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete cheques: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}
