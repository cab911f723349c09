package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func TestCacheRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	stmt := &Statement{
		Party: Party{ID: 7, Kind: KindCustomer, Name: "Rania Haddad", BalanceDue: decimal.NewFromInt(500)},
		Lines: []StatementLine{
			{Kind: "invoice", RefID: 1, Delta: decimal.NewFromInt(500), Balance: decimal.NewFromInt(500)},
		},
	}
	require.NoError(t, cache.SetStatement(ctx, 7, stmt))

	got, err := cache.GetStatement(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, int64(7), got.Party.ID)
	require.True(t, got.Party.BalanceDue.Equal(decimal.NewFromInt(500)))
	require.Len(t, got.Lines, 1)
}

func TestCacheMissReturnsNil(t *testing.T) {
	cache := newTestCache(t)

	got, err := cache.GetStatement(context.Background(), 99)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestBumpInvalidatesEveryStatement(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	stmt := &Statement{Party: Party{ID: 7, Kind: KindCustomer}}
	require.NoError(t, cache.SetStatement(ctx, 7, stmt))

	require.NoError(t, cache.Bump(ctx))

	got, err := cache.GetStatement(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, got, "a version bump must invalidate cached statements")
}

func TestNilClientIsDisabled(t *testing.T) {
	cache := NewCache(nil, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.SetStatement(ctx, 1, &Statement{}))
	got, err := cache.GetStatement(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, cache.Bump(ctx))
}
