package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartyKind separates the two sides of the ledger.
type PartyKind string

const (
	KindCustomer PartyKind = "customer"
	KindSupplier PartyKind = "supplier"
)

// Party is a customer or supplier with its running balance.
// BalanceDue increases with posted invoices and decreases with payments;
// for suppliers it decreases with expenses.
type Party struct {
	ID           int64           `json:"id"`
	Kind         PartyKind       `json:"kind"`
	Name         string          `json:"name"`
	CompanyName  string          `json:"company_name"`
	Type         string          `json:"type"`
	Email        string          `json:"email"`
	Phone        string          `json:"phone"`
	AddressLine1 string          `json:"address_line1"`
	City         string          `json:"city"`
	Country      string          `json:"country"`
	Notes        string          `json:"notes"`
	BalanceDue   decimal.Decimal `json:"balance_due"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StatementLine is one ledger movement on a party statement.
type StatementLine struct {
	Kind       string          `json:"kind"` // invoice | payment | expense
	RefID      int64           `json:"ref_id"`
	Number     string          `json:"number"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Delta      decimal.Decimal `json:"delta"`
	Balance    decimal.Decimal `json:"balance"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Statement is the party ledger view: movements plus running balance.
type Statement struct {
	Party      Party           `json:"party"`
	Lines      []StatementLine `json:"lines"`
	InvoiceIDs []int64         `json:"invoice_ids"`
	PaymentIDs []int64         `json:"payment_ids"`
}

// BalanceCheck compares the stored balance against the recomputed one.
type BalanceCheck struct {
	PartyID    int64           `json:"party_id"`
	Stored     decimal.Decimal `json:"stored"`
	Derived    decimal.Decimal `json:"derived"`
	Drift      decimal.Decimal `json:"drift"`
	Consistent bool            `json:"consistent"`
}
