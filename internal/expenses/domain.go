package expenses

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseStatus enumerates expense statuses. The stored values are part of
// the persisted record contract and must not change.
type ExpenseStatus string

const (
	StatusPending         ExpenseStatus = "pending"
	StatusCompleted       ExpenseStatus = "completed"
	StatusPartiallyFailed ExpenseStatus = "partially_failed"
	StatusFailed          ExpenseStatus = "failed"
	StatusCancelled       ExpenseStatus = "cancelled"
)

// ExpenseMethod enumerates settlement methods.
type ExpenseMethod string

const (
	MethodCash  ExpenseMethod = "cash"
	MethodCheck ExpenseMethod = "check"
)

// Expense records money paid out to a supplier, optionally settled with
// one or more issued cheques. Amount always equals CashAmount plus the sum
// of the cheque amounts.
type Expense struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	SupplierID int64           `json:"supplier_id"`
	Amount     decimal.Decimal `json:"amount"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	Method     ExpenseMethod   `json:"method"`
	Status     ExpenseStatus   `json:"status"`
	Category   string          `json:"category,omitempty"`
	PaidAt     time.Time       `json:"paid_at"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	ChequeIDs  []int64         `json:"cheque_ids"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
