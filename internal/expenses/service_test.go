package expenses

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian/internal/shared"
)

type memoryState struct {
	partyKinds map[int64]string
	balances   map[int64]decimal.Decimal
	expenses   map[int64]Expense
	cheques    map[int64]ChequeRecord
	chequeStat map[int64]string
	links      map[string]bool
	nextID     int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		partyKinds: map[int64]string{},
		balances:   map[int64]decimal.Decimal{},
		expenses:   map[int64]Expense{},
		cheques:    map[int64]ChequeRecord{},
		chequeStat: map[int64]string{},
		links:      map[string]bool{},
		nextID:     s.nextID,
	}
	for k, v := range s.partyKinds {
		c.partyKinds[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.expenses {
		c.expenses[k] = v
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
	return c
}

type memoryRepo struct {
	state *memoryState

	failChequeAfter int
	beforeTx        func(*memoryState) // runs once against live state before the next transaction snapshot
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		partyKinds: map[int64]string{},
		balances:   map[int64]decimal.Decimal{},
		expenses:   map[int64]Expense{},
		cheques:    map[int64]ChequeRecord{},
		chequeStat: map[int64]string{},
		links:      map[string]bool{},
		nextID:     1,
	}}
}

func (m *memoryRepo) addSupplier(id int64, balance decimal.Decimal) {
	m.state.partyKinds[id] = "supplier"
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

func (m *memoryRepo) CreateExpense(_ context.Context, expense Expense) (int64, error) {
	id := m.state.nextID
	m.state.nextID++
	expense.ID = id
	m.state.expenses[id] = expense
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

func (m *memoryRepo) LinkParty(_ context.Context, partyID, expenseID int64) (bool, error) {
	key := fmt.Sprintf("%d:%d", partyID, expenseID)
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

func (m *memoryRepo) Get(_ context.Context, id int64) (*Expense, error) {
	expense, ok := m.state.expenses[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	expense.ChequeIDs = nil
	for chequeID, cheque := range m.state.cheques {
		if cheque.ExpenseID == id {
			expense.ChequeIDs = append(expense.ChequeIDs, chequeID)
		}
	}
	return &expense, nil
}

func (m *memoryRepo) List(_ context.Context, req ListExpensesRequest) ([]Expense, int, error) {
	var list []Expense
	for _, expense := range m.state.expenses {
		if req.SupplierID > 0 && expense.SupplierID != req.SupplierID {
			continue
		}
		if req.Status != "" && expense.Status != req.Status {
			continue
		}
		list = append(list, expense)
	}
	return list, len(list), nil
}

func (m *memoryRepo) ChequeStatuses(_ context.Context, expenseID int64) ([]string, error) {
	var statuses []string
	for chequeID, cheque := range m.state.cheques {
		if cheque.ExpenseID == expenseID {
			statuses = append(statuses, m.state.chequeStat[chequeID])
		}
	}
	return statuses, nil
}

func (m *memoryRepo) MarkCancelled(_ context.Context, id int64) (bool, error) {
	expense, ok := m.state.expenses[id]
	if !ok || expense.Status != StatusCompleted {
		return false, nil
	}
	expense.Status = StatusCancelled
	m.state.expenses[id] = expense
	return true, nil
}

func (m *memoryRepo) DeletePendingCheques(_ context.Context, expenseID int64) (int64, error) {
	var deleted int64
	for chequeID, cheque := range m.state.cheques {
		if cheque.ExpenseID == expenseID && m.state.chequeStat[chequeID] == "pending" {
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

func TestRecordExpenseSettlesSupplierBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(5, dec("800"))
	svc := NewService(repo, nil)

	expense, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 5,
		CashAmount: dec("300"),
		Category:   "inventory",
		Cheques: []ChequeEntry{
			{ChequeNumber: "771", BankName: "Union Trust", Amount: dec("500")},
		},
	})
	require.NoError(t, err)
	require.True(t, expense.Amount.Equal(dec("800")))
	require.Equal(t, StatusCompleted, expense.Status)
	require.Equal(t, MethodCheck, expense.Method)
	require.Len(t, expense.ChequeIDs, 1)
	require.True(t, repo.state.balances[5].IsZero())

	for _, cheque := range repo.state.cheques {
		require.Equal(t, int64(5), cheque.SupplierID)
	}
}

func TestRecordExpenseRollsBackOnChequeFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(5, dec("900"))
	repo.failChequeAfter = 1
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 5,
		Cheques: []ChequeEntry{
			{ChequeNumber: "111", BankName: "Union Trust", Amount: dec("400")},
			{ChequeNumber: "222", BankName: "Union Trust", Amount: dec("500")},
		},
	})
	require.ErrorIs(t, err, shared.ErrStorage)
	require.True(t, repo.state.balances[5].Equal(dec("900")))
	require.Empty(t, repo.state.expenses)
	require.Empty(t, repo.state.cheques)
}

func TestRecordExpenseRejectsCustomerParty(t *testing.T) {
	repo := newMemoryRepo()
	repo.state.partyKinds[2] = "customer"
	repo.state.balances[2] = dec("100")
	svc := NewService(repo, nil)

	_, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 2,
		CashAmount: dec("50"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCancelExpenseRestoresSupplierBalance(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(5, dec("400"))
	svc := NewService(repo, nil)

	expense, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 5,
		CashAmount: dec("100"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "909", BankName: "Union Trust", Amount: dec("300")},
		},
	})
	require.NoError(t, err)
	require.True(t, repo.state.balances[5].IsZero())

	cancelled, err := svc.Cancel(context.Background(), expense.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, cancelled.ChequeIDs)
	require.True(t, repo.state.balances[5].Equal(dec("400")))
}

func TestCancelExpenseRejectedAfterChequeCleared(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(5, dec("250"))
	svc := NewService(repo, nil)

	expense, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 5,
		Cheques: []ChequeEntry{
			{ChequeNumber: "910", BankName: "Union Trust", Amount: dec("250")},
		},
	})
	require.NoError(t, err)

	for chequeID := range repo.state.cheques {
		repo.state.chequeStat[chequeID] = "cleared"
	}

	_, err = svc.Cancel(context.Background(), expense.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestCancelExpenseRejectsChequeClearedMidFlight(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSupplier(5, dec("350"))
	svc := NewService(repo, nil)

	expense, err := svc.Record(context.Background(), RecordExpenseInput{
		SupplierID: 5,
		CashAmount: dec("100"),
		Cheques: []ChequeEntry{
			{ChequeNumber: "911", BankName: "Union Trust", Amount: dec("250")},
		},
	})
	require.NoError(t, err)

	// A concurrent clear commits after the cancel's status read but before
	// its transaction opens.
	repo.beforeTx = func(state *memoryState) {
		for chequeID := range state.cheques {
			state.chequeStat[chequeID] = "cleared"
		}
	}

	_, err = svc.Cancel(context.Background(), expense.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Equal(t, StatusCompleted, repo.state.expenses[expense.ID].Status)
	require.True(t, repo.state.balances[5].IsZero(), "settled money must not be re-credited")
	require.Len(t, repo.state.cheques, 1, "the cleared cheque must survive")
}
