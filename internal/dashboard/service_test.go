package dashboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-billing/meridian/internal/shared"
)

type stubRepo struct {
	failPending bool
}

func (s *stubRepo) PartyTotals(_ context.Context, kind string) (int, decimal.Decimal, error) {
	if kind == "customer" {
		return 12, decimal.NewFromInt(3400), nil
	}
	return 4, decimal.NewFromInt(900), nil
}

func (s *stubRepo) PendingCheques(context.Context) (int, decimal.Decimal, error) {
	if s.failPending {
		return 0, decimal.Zero, fmt.Errorf("%w: pending cheques: timeout", shared.ErrStorage)
	}
	return 3, decimal.NewFromInt(750), nil
}

func (s *stubRepo) RecentPayments(context.Context, time.Time) (int, decimal.Decimal, error) {
	return 7, decimal.NewFromInt(1500), nil
}

func (s *stubRepo) OpenInvoices(context.Context) (int, error) {
	return 5, nil
}

func TestSummaryGathersAllAggregates(t *testing.T) {
	svc := NewService(&stubRepo{})

	summary, err := svc.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, summary.Customers)
	require.Equal(t, 4, summary.Suppliers)
	require.True(t, summary.TotalReceivable.Equal(decimal.NewFromInt(3400)))
	require.True(t, summary.TotalPayable.Equal(decimal.NewFromInt(900)))
	require.Equal(t, 3, summary.PendingCheques)
	require.True(t, summary.PendingChequeTotal.Equal(decimal.NewFromInt(750)))
	require.Equal(t, 7, summary.RecentPayments)
	require.Equal(t, 5, summary.OpenInvoices)
	require.False(t, summary.GeneratedAt.IsZero())
}

func TestSummaryPropagatesFirstError(t *testing.T) {
	svc := NewService(&stubRepo{failPending: true})

	_, err := svc.Summary(context.Background())
	require.ErrorIs(t, err, shared.ErrStorage)
}
