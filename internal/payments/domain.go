package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates payment statuses. The stored values are part of
// the persisted record contract and must not change.
type PaymentStatus string

const (
	StatusPending         PaymentStatus = "pending"
	StatusCompleted       PaymentStatus = "completed"
	StatusPartiallyFailed PaymentStatus = "partially_failed"
	StatusFailed          PaymentStatus = "failed"
	StatusCancelled       PaymentStatus = "cancelled"
)

// PaymentMethod enumerates settlement methods.
type PaymentMethod string

const (
	MethodCash  PaymentMethod = "cash"
	MethodCheck PaymentMethod = "check"
)

// Payment records money received from a customer, optionally settled with
// one or more cheques. Amount always equals CashAmount plus the sum of the
// cheque amounts.
type Payment struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	InvoiceID  *int64          `json:"invoice_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	CashAmount decimal.Decimal `json:"cash_amount"`
	Method     PaymentMethod   `json:"method"`
	Status     PaymentStatus   `json:"status"`
	PaidAt     time.Time       `json:"paid_at"`
	Reference  string          `json:"reference,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	ChequeIDs  []int64         `json:"cheque_ids"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
