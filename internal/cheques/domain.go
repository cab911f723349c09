package cheques

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChequeStatus enumerates cheque lifecycle states. The stored values are
// part of the persisted record contract and must not change.
type ChequeStatus string

const (
	StatusPending ChequeStatus = "pending"
	StatusCleared ChequeStatus = "cleared"
	StatusBounced ChequeStatus = "bounced"
)

// Terminal reports whether no further transition is permitted.
func (s ChequeStatus) Terminal() bool {
	return s == StatusCleared || s == StatusBounced
}

// Valid reports whether the status is a known lifecycle state.
func (s ChequeStatus) Valid() bool {
	return s == StatusPending || s == StatusCleared || s == StatusBounced
}

// ChequeType distinguishes cheques we received from cheques we issued.
type ChequeType string

const (
	TypeReceived ChequeType = "received"
	TypeIssued   ChequeType = "issued"
)

// Cheque is a bank instrument record tracked through its status lifecycle.
// Number is the system-generated unique identifier; ChequeNumber is the
// number printed on the physical cheque.
type Cheque struct {
	ID           int64           `json:"id"`
	Number       string          `json:"number"`
	ChequeNumber string          `json:"cheque_number"`
	BankName     string          `json:"bank_name"`
	ChequeDate   time.Time       `json:"cheque_date"`
	Amount       decimal.Decimal `json:"amount"`
	HolderName   string          `json:"holder_name,omitempty"`
	HolderPhone  string          `json:"holder_phone,omitempty"`
	Status       ChequeStatus    `json:"status"`
	Type         ChequeType      `json:"type"`
	PartyID      int64           `json:"party_id"`
	PaymentID    *int64          `json:"payment_id,omitempty"`
	ExpenseID    *int64          `json:"expense_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
