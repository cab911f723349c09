package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-billing/meridian/internal/platform/db"
	"github.com/meridian-billing/meridian/internal/shared"
)

// ListPartiesRequest filters party listings.
type ListPartiesRequest struct {
	Kind     PartyKind
	Search   string
	IsActive *bool
	Limit    int
	Offset   int
}

// Repository defines data access for the party ledger.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, party Party) (int64, error)
	Get(ctx context.Context, id int64) (*Party, error)
	List(ctx context.Context, req ListPartiesRequest) ([]Party, int, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) error
	AttachInvoice(ctx context.Context, partyID, invoiceID int64) error
	AttachPayment(ctx context.Context, partyID, paymentID int64) (bool, error)
	InvoiceRefs(ctx context.Context, partyID int64) ([]int64, error)
	PaymentRefs(ctx context.Context, partyID int64) ([]int64, error)
	StatementLines(ctx context.Context, partyID int64) ([]StatementLine, error)
	DerivedBalance(ctx context.Context, partyID int64) (decimal.Decimal, error)
	PartyIDs(ctx context.Context, kind PartyKind) ([]int64, error)
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

const partyColumns = `id, kind, name, company_name, party_type, email, phone,
	address_line1, city, country, notes, balance_due, is_active, created_at, updated_at`

func scanParty(row pgx.Row) (*Party, error) {
	var p Party
	var balance pgtype.Numeric
	err := row.Scan(
		&p.ID, &p.Kind, &p.Name, &p.CompanyName, &p.Type, &p.Email, &p.Phone,
		&p.AddressLine1, &p.City, &p.Country, &p.Notes, &balance, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan party: %v", shared.ErrStorage, err)
	}
	p.BalanceDue = shared.NumericDecimal(balance)
	return &p, nil
}

func (r *repository) Create(ctx context.Context, party Party) (int64, error) {
	query := `
		INSERT INTO parties (
			kind, name, company_name, party_type, email, phone,
			address_line1, city, country, notes, balance_due, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, true, NOW(), NOW())
		RETURNING id`

	var id int64
	err := r.db.QueryRow(ctx, query,
		party.Kind, party.Name, party.CompanyName, party.Type, party.Email, party.Phone,
		party.AddressLine1, party.City, party.Country, party.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%w: create party: %v", shared.ErrStorage, err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Party, error) {
	return scanParty(r.db.QueryRow(ctx, "SELECT "+partyColumns+" FROM parties WHERE id = $1", id))
}

func (r *repository) List(ctx context.Context, req ListPartiesRequest) ([]Party, int, error) {
	conditions := []string{"kind = $1"}
	args := []any{req.Kind}
	argPos := 2

	if req.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *req.IsActive)
		argPos++
	}
	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR company_name ILIKE $%d OR phone ILIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+req.Search+"%")
		argPos++
	}

	whereClause := "WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM parties "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count parties: %v", shared.ErrStorage, err)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(
		"SELECT %s FROM parties %s ORDER BY name LIMIT $%d OFFSET $%d",
		partyColumns, whereClause, argPos, argPos+1,
	)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list parties: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		p, err := scanParty(rows)
		if err != nil {
			return nil, 0, err
		}
		parties = append(parties, *p)
	}
	return parties, total, nil
}

func (r *repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	setClauses := make([]string, 0, len(updates)+1)
	args := make([]any, 0, len(updates)+1)
	argPos := 1
	for field, value := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, argPos))
		args = append(args, value)
		argPos++
	}
	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE parties SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update party: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: party %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *repository) AdjustBalance(ctx context.Context, id int64, delta decimal.Decimal) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE parties SET balance_due = balance_due + $2, updated_at = NOW() WHERE id = $1",
		id, delta,
	)
	if err != nil {
		return fmt.Errorf("%w: adjust balance: %v", shared.ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: party %d", shared.ErrNotFound, id)
	}
	return nil
}

func (r *repository) AttachInvoice(ctx context.Context, partyID, invoiceID int64) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO party_invoices (party_id, invoice_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		partyID, invoiceID,
	)
	if err != nil {
		return fmt.Errorf("%w: attach invoice: %v", shared.ErrStorage, err)
	}
	return nil
}

// AttachPayment links a payment to the party. The link table's primary key
// makes the append idempotent; the bool reports whether a row was inserted.
func (r *repository) AttachPayment(ctx context.Context, partyID, paymentID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		"INSERT INTO party_payments (party_id, payment_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		partyID, paymentID,
	)
	if err != nil {
		return false, fmt.Errorf("%w: attach payment: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) refs(ctx context.Context, query string, partyID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, query, partyID)
	if err != nil {
		return nil, fmt.Errorf("%w: list refs: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan ref: %v", shared.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *repository) InvoiceRefs(ctx context.Context, partyID int64) ([]int64, error) {
	return r.refs(ctx, "SELECT invoice_id FROM party_invoices WHERE party_id = $1 ORDER BY invoice_id", partyID)
}

func (r *repository) PaymentRefs(ctx context.Context, partyID int64) ([]int64, error) {
	return r.refs(ctx, "SELECT payment_id FROM party_payments WHERE party_id = $1 ORDER BY payment_id", partyID)
}

// statementUnion lists every balance movement for a party. Bounced cheque
// amounts are subtracted from the payment/expense delta, matching the
// compensation applied to the stored balance when a cheque bounces.
const statementUnion = `
	SELECT 'invoice' AS kind, i.id, i.number, i.status, i.amount, i.amount AS delta, i.created_at
	FROM invoices i
	JOIN party_invoices pi ON pi.invoice_id = i.id
	WHERE pi.party_id = $1 AND i.status IN ('posted', 'paid')
	UNION ALL
	SELECT 'payment', p.id, p.number, p.status, p.amount,
		-(p.amount - COALESCE(b.bounced, 0)), p.paid_at
	FROM payments p
	JOIN party_payments pp ON pp.payment_id = p.id
	LEFT JOIN (
		SELECT payment_id, SUM(amount) AS bounced
		FROM cheques WHERE status = 'bounced' AND payment_id IS NOT NULL
		GROUP BY payment_id
	) b ON b.payment_id = p.id
	WHERE pp.party_id = $1 AND p.status <> 'cancelled'
	UNION ALL
	SELECT 'expense', e.id, e.number, e.status, e.amount,
		-(e.amount - COALESCE(bc.bounced, 0)), e.paid_at
	FROM expenses e
	JOIN party_expenses pe ON pe.expense_id = e.id
	LEFT JOIN (
		SELECT expense_id, SUM(amount) AS bounced
		FROM cheques WHERE status = 'bounced' AND expense_id IS NOT NULL
		GROUP BY expense_id
	) bc ON bc.expense_id = e.id
	WHERE pe.party_id = $1 AND e.status <> 'cancelled'`

func (r *repository) StatementLines(ctx context.Context, partyID int64) ([]StatementLine, error) {
	rows, err := r.db.Query(ctx, statementUnion+" ORDER BY 7, 2", partyID)
	if err != nil {
		return nil, fmt.Errorf("%w: statement lines: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var lines []StatementLine
	for rows.Next() {
		var line StatementLine
		var amount, delta pgtype.Numeric
		if err := rows.Scan(&line.Kind, &line.RefID, &line.Number, &line.Status, &amount, &delta, &line.OccurredAt); err != nil {
			return nil, fmt.Errorf("%w: scan statement line: %v", shared.ErrStorage, err)
		}
		line.Amount = shared.NumericDecimal(amount)
		line.Delta = shared.NumericDecimal(delta)
		lines = append(lines, line)
	}
	return lines, nil
}

func (r *repository) DerivedBalance(ctx context.Context, partyID int64) (decimal.Decimal, error) {
	query := "SELECT COALESCE(SUM(delta), 0) FROM (" + statementUnion + ") movements"
	var derived pgtype.Numeric
	if err := r.db.QueryRow(ctx, query, partyID).Scan(&derived); err != nil {
		return decimal.Zero, fmt.Errorf("%w: derived balance: %v", shared.ErrStorage, err)
	}
	return shared.NumericDecimal(derived), nil
}

func (r *repository) PartyIDs(ctx context.Context, kind PartyKind) ([]int64, error) {
	rows, err := r.db.Query(ctx, "SELECT id FROM parties WHERE kind = $1 ORDER BY id", kind)
	if err != nil {
		return nil, fmt.Errorf("%w: party ids: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan party id: %v", shared.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
