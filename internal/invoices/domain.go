package invoices

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice statuses.
type InvoiceStatus string

const (
	StatusDraft  InvoiceStatus = "draft"
	StatusPosted InvoiceStatus = "posted"
	StatusPaid   InvoiceStatus = "paid"
	StatusVoid   InvoiceStatus = "void"
)

// Invoice is a billing document against a customer. Only posted invoices
// count toward the customer balance; paying one off flips it to paid, and a
// posted, unpaid invoice can still be voided.
type Invoice struct {
	ID         int64           `json:"id"`
	Number     string          `json:"number"`
	CustomerID int64           `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     InvoiceStatus   `json:"status"`
	IssueDate  time.Time       `json:"issue_date"`
	DueDate    time.Time       `json:"due_date"`
	Notes      string          `json:"notes,omitempty"`
	CreatedBy  int64           `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
