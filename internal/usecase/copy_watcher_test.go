package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

func TestClassifyTransaction(t *testing.T) {
	tests := []struct {
		name string
		tx   *domain.TransactionInfo
		want domain.TxType
	}{
		{"nil", nil, domain.TxFailed},
		{"failed", &domain.TransactionInfo{Failed: true, LogMessages: []string{"Program log: Instruction: Swap"}}, domain.TxFailed},
		{"swap", &domain.TransactionInfo{LogMessages: []string{"Program log: Instruction: Transfer", "Program log: Instruction: Swap"}}, domain.TxTokenSwap},
		{"burn", &domain.TransactionInfo{LogMessages: []string{"Program log: Instruction: Burn"}}, domain.TxTokenBurn},
		{"liquidity log", &domain.TransactionInfo{LogMessages: []string{"Program log: initialize2: InitializeInstruction2", "Program log: liquidity: 100"}}, domain.TxAddLiquidity},
		{"raydium program", &domain.TransactionInfo{ProgramIDs: []string{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"}, LogMessages: []string{"Program log: Instruction: MintTo"}}, domain.TxAddLiquidity},
		{"initialize mint", &domain.TransactionInfo{LogMessages: []string{"Program log: Instruction: InitializeMint2"}}, domain.TxTokenMint},
		{"mint to", &domain.TransactionInfo{LogMessages: []string{"Program log: Instruction: MintTo"}}, domain.TxTokenMint},
		{"transfer", &domain.TransactionInfo{BalancesChanged: true}, domain.TxTransfer},
		{"other", &domain.TransactionInfo{LogMessages: []string{"Program log: Memo"}}, domain.TxOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, usecase.ClassifyTransaction(tt.tx))
		})
	}
}

// lateFetcher returns nil until the nth call.
type lateFetcher struct {
	mu        sync.Mutex
	readyAt   int
	calls     int
	err       error
	responses map[string]*domain.TransactionInfo
}

func (f *lateFetcher) Transaction(ctx context.Context, sig string) (*domain.TransactionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls < f.readyAt {
		return nil, nil
	}
	return f.responses[sig], nil
}

func TestCopyWatcher_RetriesUntilAvailable(t *testing.T) {
	fetcher := &lateFetcher{readyAt: 3, responses: map[string]*domain.TransactionInfo{
		"sig1": {Signature: "sig1", LogMessages: []string{"Program log: Instruction: Swap"}},
	}}
	clock := newFakeClock()

	var got []string
	w := usecase.NewCopyWatcher(usecase.CopyWatcherConfig{}, fetcher, nil).
		WithClock(clock).
		On(domain.TxTokenSwap, func(ctx context.Context, ev domain.SignatureEvent, tx *domain.TransactionInfo) error {
			got = append(got, tx.Signature)
			return nil
		})

	txType, err := w.Handle(context.Background(), domain.SignatureEvent{Account: walletA, Signature: "sig1"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTokenSwap, txType)
	assert.Equal(t, []string{"sig1"}, got)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.Slept())
}

func TestCopyWatcher_GivesUpAfterRetries(t *testing.T) {
	fetcher := &lateFetcher{err: errors.New("rpc 500")}
	w := usecase.NewCopyWatcher(usecase.CopyWatcherConfig{FetchRetries: 3}, fetcher, nil).WithClock(newFakeClock())

	_, err := w.Handle(context.Background(), domain.SignatureEvent{Signature: "sig1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc 500")
	assert.Equal(t, 3, fetcher.calls)
}

func TestCopyWatcher_RunContinuesPastFailures(t *testing.T) {
	fetcher := &lateFetcher{readyAt: 0, responses: map[string]*domain.TransactionInfo{
		"good": {Signature: "good", BalancesChanged: true},
	}}
	var transfers []string
	w := usecase.NewCopyWatcher(usecase.CopyWatcherConfig{FetchRetries: 1}, fetcher, nil).
		WithClock(newFakeClock()).
		On(domain.TxTransfer, func(ctx context.Context, ev domain.SignatureEvent, tx *domain.TransactionInfo) error {
			transfers = append(transfers, ev.Signature)
			return nil
		})

	events := make(chan domain.SignatureEvent, 2)
	events <- domain.SignatureEvent{Signature: "missing"}
	events <- domain.SignatureEvent{Signature: "good"}
	close(events)

	require.NoError(t, w.Run(context.Background(), events))
	assert.Equal(t, []string{"good"}, transfers)
}
