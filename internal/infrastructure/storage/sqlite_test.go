package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_Quotes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	latest, err := store.LatestQuoteSession(ctx)
	require.NoError(t, err)
	assert.Empty(t, latest)

	for i, out := range []uint64{990_000, 1_020_000, math.MaxUint64} {
		rec := &domain.QuoteRecord{SessionID: "s1", Quote: domain.Quote{
			InputMint: domain.MintSOL, OutputMint: domain.MintUSDC,
			InAmount: 1_000_000, OutAmount: out, PriceImpactPct: 0.01,
			Timestamp: at.Add(time.Duration(i) * time.Minute),
		}}
		require.NoError(t, store.SaveQuote(ctx, rec))
		assert.Equal(t, int64(i+1), rec.ID)
	}
	require.NoError(t, store.SaveQuote(ctx, &domain.QuoteRecord{SessionID: "s2", Quote: domain.Quote{Timestamp: at}}))

	got, err := store.ListQuotes(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(990_000), got[0].Quote.OutAmount)
	assert.Equal(t, uint64(math.MaxUint64), got[2].Quote.OutAmount)
	assert.True(t, at.Add(2*time.Minute).Equal(got[2].Quote.Timestamp))

	limited, err := store.ListQuotes(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, err = store.LatestQuoteSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", latest)
}

func TestSQLiteStore_Trades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveTrade(ctx, &domain.TradeRecord{
		ID: "t1", SessionID: "s1", Kind: "swap", InputMint: domain.MintSOL, OutputMint: "tok",
		InAmount: 290_000_000, OutAmount: 12_345, Signature: "sig1", Reason: "entry", CreatedAt: at,
	}))
	require.NoError(t, store.SaveTrade(ctx, &domain.TradeRecord{
		ID: "t2", SessionID: "s1", Kind: "swap", InputMint: "tok", OutputMint: domain.MintSOL,
		InAmount: 12_345, OutAmount: 300_000_000, Signature: "sig2", Reason: "sell_all", CreatedAt: at.Add(time.Minute),
	}))

	trades, err := store.ListTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "sell_all", trades[0].Reason)
	assert.Equal(t, uint64(300_000_000), trades[0].OutAmount)
	assert.Equal(t, "entry", trades[1].Reason)
}

func TestSQLiteStore_Mentions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	isNew, err := store.SaveMention(ctx, domain.MintUSDC, at)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = store.SaveMention(ctx, domain.MintUSDC, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, isNew)

	all, err := store.ListMentions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, at.Equal(all[domain.MintUSDC]))
}
