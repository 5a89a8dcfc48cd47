// Package paper simulates swaps and transfers against in-memory balances while
// pricing swaps with live quotes.
package paper

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// Executor implements domain.SwapExecutor, domain.Transferer and
// domain.WalletBalanceSource for dry runs. Nothing touches the chain.
type Executor struct {
	mu       sync.Mutex
	quotes   domain.QuoteSource
	wallets  map[string]domain.WalletContents
	decimals map[string]int
	logger   *zap.Logger
}

func NewExecutor(quotes domain.QuoteSource, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		quotes:   quotes,
		wallets:  make(map[string]domain.WalletContents),
		decimals: map[string]int{domain.MintSOL: 9, domain.MintUSDC: 6},
		logger:   logger,
	}
}

// Fund credits raw units of mint to address.
func (e *Executor) Fund(address, mint string, raw uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.credit(address, mint, raw)
}

// SetDecimals records the decimals used for UI amounts of mint.
func (e *Executor) SetDecimals(mint string, decimals int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decimals[mint] = decimals
}

func (e *Executor) Contents(ctx context.Context, address string) (domain.WalletContents, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(domain.WalletContents, len(e.wallets[address]))
	for k, v := range e.wallets[address] {
		out[k] = v
	}
	return out, nil
}

// Swap fills at the current quote; slippage is accepted but not simulated.
func (e *Executor) Swap(ctx context.Context, owner, inputMint, outputMint string, amount uint64, slippageBps int) (*domain.SwapResult, error) {
	if amount == 0 {
		return nil, fmt.Errorf("swap amount must be positive")
	}
	q, err := e.quotes.Quote(ctx, inputMint, outputMint, amount)
	if err != nil {
		return nil, fmt.Errorf("paper swap quote: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if held := e.wallets[owner].Raw(inputMint); held < amount {
		return nil, fmt.Errorf("paper swap: %s holds %d of %s, need %d", owner, held, inputMint, amount)
	}
	e.debit(owner, inputMint, amount)
	e.credit(owner, outputMint, q.OutAmount)

	sig := uuid.NewString()
	e.logger.Info("Paper swap",
		zap.String("owner", owner),
		zap.String("in", inputMint),
		zap.String("out", outputMint),
		zap.Uint64("in_amount", amount),
		zap.Uint64("out_amount", q.OutAmount),
		zap.Int("slippage_bps", slippageBps),
		zap.String("signature", sig))
	return &domain.SwapResult{Signature: sig, Quote: *q}, nil
}

func (e *Executor) TransferNative(ctx context.Context, from, to string, lamports uint64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if held := e.wallets[from].Raw(domain.MintSOL); held < lamports {
		return "", fmt.Errorf("paper transfer: %s holds %d lamports, need %d", from, held, lamports)
	}
	e.debit(from, domain.MintSOL, lamports)
	e.credit(to, domain.MintSOL, lamports)

	sig := uuid.NewString()
	e.logger.Info("Paper transfer", zap.String("from", from), zap.String("to", to), zap.Uint64("lamports", lamports), zap.String("signature", sig))
	return sig, nil
}

func (e *Executor) credit(address, mint string, raw uint64) {
	w := e.wallets[address]
	if w == nil {
		w = domain.WalletContents{}
		e.wallets[address] = w
	}
	e.store(w, mint, w.Raw(mint)+raw)
}

func (e *Executor) debit(address, mint string, raw uint64) {
	w := e.wallets[address]
	e.store(w, mint, w.Raw(mint)-raw)
}

func (e *Executor) store(w domain.WalletContents, mint string, raw uint64) {
	dec := e.decimals[mint]
	w[mint] = domain.TokenBalance{Mint: mint, RawAmount: raw, UIAmount: domain.UIAmount(raw, dec), Decimals: dec}
}
