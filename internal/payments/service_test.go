package payments

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian/internal/shared"
)

type memoryState struct {
	partyKinds map[int64]string
	balances   map[int64]decimal.Decimal
	payments   map[int64]Payment
	cheques    map[int64]ChequeRecord
	chequeStat map[int64]string
	links      map[string]bool
	invoices   map[int64]int64 // invoice id -> party id
	nextID     int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		partyKinds: map[int64]string{},
		balances:   map[int64]decimal.Decimal{},
		payments:   map[int64]Payment{},
		cheques:    map[int64]ChequeRecord{},
		chequeStat: map[int64]string{},
		links:      map[string]bool{},
		invoices:   map[int64]int64{},
		nextID:     s.nextID,
	}
	for k, v := range s.partyKinds {
		c.partyKinds[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.cheques {
		c.cheques[k] = v
	}
	for k, v := range s.chequeStat {
		c.chequeStat[k] = v
	}
	for k, v := range s.links {
		c.links[k] = v
	}
	for k, v := range s.invoices {
		c.invoices[k] = v
	}
	return c
}

// memoryRepo is an in-memory Repository. WithTx runs the callback against a
// copy of the state and only publishes it when the callback succeeds, which
// mirrors the rollback behavior of the real repository.
type memoryRepo struct {
	state *memoryState

	failChequeAfter int                // fail InsertCheque once this many cheques exist, 0 disables
	beforeTx        func(*memoryState) // runs once against live state before the next transaction snapshot
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		partyKinds: map[int64]string{},
		balances:   map[int64]decimal.Decimal{},
		payments:   map[int64]Payment{},
		cheques:    map[int64]ChequeRecord{},
		chequeStat: map[int64]string{},
		links:      map[string]bool{},
		invoices:   map[int64]int64{},
		nextID:     1,
	}}
}

func (m *memoryRepo) addCustomer(id int64, balance decimal.Decimal) {
	m.state.partyKinds[id] = "customer"
	m.state.balances[id] = balance
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if m.beforeTx != nil {
		m.beforeTx(m.state)
		m.beforeTx = nil
	}
	staged := &memoryRepo{state: m.state.clone(), failChequeAfter: m.failChequeAfter}
	if err := fn(ctx, staged); err != nil {
		return err
	}
	m.state = staged.state
	return nil
}

func (m *memoryRepo) PartyKind(_ context.Context, partyID int64) (string, error) {
	kind, ok := m.state.partyKinds[partyID]
	if !ok {
		return "", fmt.Errorf("%w: party %d", shared.ErrNotFound, partyID)
	}
	return kind, nil
}

func (m *memoryRepo) CreatePayment(_ context.Context, payment Payment) (int64, error) {
	id := m.state.nextID
	m.state.nextID++
	payment.ID = id
	m.state.payments[id] = payment
	return id, nil
}

func (m *memoryRepo) InsertCheque(_ context.Context, cheque ChequeRecord) (int64, error) {
	if m.failChequeAfter > 0 && len(m.state.cheques) >= m.failChequeAfter {
		return 0, fmt.Errorf("%w: insert cheque: connection reset", shared.ErrStorage)
	}
	id := m.state.nextID
	m.state.nextID++
	m.state.cheques[id] = cheque
	m.state.chequeStat[id] = "pending"
	return id, nil
}

func (m *memoryRepo) LinkParty(_ context.Context, partyID, paymentID int64) (bool, error) {
	key := fmt.Sprintf("%d:%d", partyID, paymentID)
	if m.state.links[key] {
		return false, nil
	}
	m.state.links[key] = true
	return true, nil
}

func (m *memoryRepo) AdjustPartyBalance(_ context.Context, partyID int64, delta decimal.Decimal) error {
	balance, ok := m.state.balances[partyID]
	if !ok {
		return fmt.Errorf("%w: party %d", shared.ErrNotFound, partyID)
	}
	m.state.balances[partyID] = balance.Add(delta)
	return nil
}

func (m *memoryRepo) RefreshInvoiceStatus(context.Context, int64) error { return nil }

func (m *memoryRepo) InvoiceParty(_ context.Context, invoiceID int64) (int64, error) {
	partyID, ok := m.state.invoices[invoiceID]
	if !ok {
		return 0, fmt.Errorf("%w: invoice %d", shared.ErrNotFound, invoiceID)
	}
	return partyID, nil
}

func (m *memoryRepo) Get(_ context.Context, id int64) (*Payment, error) {
	payment, ok := m.state.payments[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	payment.ChequeIDs = nil
	for chequeID, cheque := range m.state.cheques {
		if cheque.PaymentID == id {
			payment.ChequeIDs = append(payment.ChequeIDs, chequeID)
		}
	}
	return &payment, nil
}

func (m *memoryRepo) List(_ context.Context, req ListPaymentsRequest) ([]Payment, int, error) {
	var list []Payment
	for _, payment := range m.state.payments {
		if req.CustomerID > 0 && payment.CustomerID != req.CustomerID {
			continue
		}
		if req.Status != "" && payment.Status != req.Status {
			continue
		}
		list = append(list, payment)
	}
	return list, len(list), nil
}

func (m *memoryRepo) ChequeStatuses(_ context.Context, paymentID int64) ([]string, error) {
	var statuses []string
	for chequeID, cheque := range m.state.cheques {
		if cheque.PaymentID == paymentID {
			statuses = append(statuses, m.state.chequeStat[chequeID])
		}
	}
	return statuses, nil
}

func (m *memoryRepo) MarkCancelled(_ context.Context, id int64) (bool, error) {
	payment, ok := m.state.payments[id]
	if !ok || payment.Status != StatusCompleted {
		return false, nil
	}
	payment.Status = StatusCancelled
	m.state.payments[id] = payment
	return true, nil
}

func (m *memoryRepo) DeletePendingCheques(_ context.Context, paymentID int64) (int64, error) {
	var deleted int64
	for chequeID, cheque := range m.state.cheques {
		if cheque.PaymentID == paymentID && m.state.chequeStat[chequeID] == "pending" {
			delete(m.state.cheques, chequeID)
			delete(m.state.chequeStat, chequeID)
			deleted++
		}
	}
	return deleted, nil
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRecordMixedPaymentSettlesBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("500"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("200"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "889911", BankName: "First National", Amount: dec("300"), ChequeDate: time.Now()},
		},
		CreatedBy: 7,
	})
	require.NoError(t, err)
	require.True(t, payment.Amount.Equal(dec("500")))
	require.True(t, payment.CashAmount.Equal(dec("200")))
	require.Equal(t, StatusCompleted, payment.Status)
	require.Equal(t, MethodCheck, payment.Method)
	require.Len(t, payment.ChequeIDs, 1)

	require.True(t, repo.state.balances[1].IsZero(), "balance should be settled, got %s", repo.state.balances[1])

	statuses, err := repo.ChequeStatuses(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"pending"}, statuses)
}

func TestRecordCashOnlyUsesCashMethod(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("120"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("120"),
	})
	require.NoError(t, err)
	require.Equal(t, MethodCash, payment.Method)
	require.Empty(t, payment.ChequeIDs)
}

func TestRecordRollsBackWhenChequeInsertFails(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("1000"))
	repo.failChequeAfter = 1
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("100"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "111", BankName: "First National", Amount: dec("400")},
			{ChequeNumber: "222", BankName: "First National", Amount: dec("500")},
		},
	})
	require.ErrorIs(t, err, shared.ErrStorage)

	require.True(t, repo.state.balances[1].Equal(dec("1000")), "balance must be unchanged after rollback")
	require.Empty(t, repo.state.payments, "no payment may persist after rollback")
	require.Empty(t, repo.state.cheques, "no cheque may persist after rollback")
}

func TestRecordRejectsAmountMismatch(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("500"))
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("200"),
		Amount:     dec("450"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "333", BankName: "First National", Amount: dec("300")},
		},
	})
	require.ErrorIs(t, err, shared.ErrConsistency)
}

func TestRecordRejectsSupplierParty(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.partyKinds[3] = "supplier"
	repo.state.balances[3] = dec("100")
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 3,
		CashAmount: dec("50"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordRejectsForeignInvoice(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("500"))
	repo.addCustomer(2, dec("0"))
	repo.state.invoices[10] = 2
	svc := NewService(repo, nil)

	invoiceID := int64(10)
	_, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		InvoiceID:  &invoiceID,
		CashAmount: dec("500"),
	})
	require.ErrorIs(t, err, shared.ErrConsistency)
	require.True(t, repo.state.balances[1].Equal(dec("500")))
}

func TestCancelRestoresBalanceAndRemovesPendingCheques(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("500"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("200"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "444", BankName: "First National", Amount: dec("300")},
		},
	})
	require.NoError(t, err)
	require.True(t, repo.state.balances[1].IsZero())

	cancelled, err := svc.Cancel(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.ChequeIDs)
	require.True(t, repo.state.balances[1].Equal(dec("500")))
}

func TestCancelRejectedOnceChequeSettled(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("300"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		Cheques: []ChequeEntry{
			{ChequeNumber: "555", BankName: "First National", Amount: dec("300")},
		},
	})
	require.NoError(t, err)

	for chequeID, cheque := range repo.state.cheques {
		if cheque.PaymentID == payment.ID {
			repo.state.chequeStat[chequeID] = "cleared"
		}
	}

	_, err = svc.Cancel(context.Background(), payment.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelRejectsChequeClearedMidFlight(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("500"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("200"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "666", BankName: "First National", Amount: dec("300")},
		},
	})
	require.NoError(t, err)

	// A concurrent clear commits after the cancel's status read but before
	// its transaction opens.
	repo.beforeTx = func(state *memoryState) {
		for chequeID, cheque := range state.cheques {
			if cheque.PaymentID == payment.ID {
				state.chequeStat[chequeID] = "cleared"
			}
		}
	}

	_, err = svc.Cancel(context.Background(), payment.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusCompleted, repo.state.payments[payment.ID].Status)
	require.True(t, repo.state.balances[1].IsZero(), "collected money must not be re-credited")
	require.Len(t, repo.state.cheques, 1, "the cleared cheque must survive")
}

func TestCancelRejectsNonCompletedPayment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("100"))
	svc := NewService(repo, nil)

	payment, err := svc.Record(context.Background(), RecordPaymentInput{
		CustomerID: 1,
		CashAmount: dec("100"),
	})
	require.NoError(t, err)

	stored := repo.state.payments[payment.ID]
	stored.Status = StatusFailed
	repo.state.payments[payment.ID] = stored

	_, err = svc.Cancel(context.Background(), payment.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestRecordRejectsZeroTotal(t *testing.T) {
	repo := newMemoryRepo()
	repo.addCustomer(1, dec("100"))
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordPaymentInput{CustomerID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}
