package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
)

// fakeClock advances instantly on every After call.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 55, 15, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// blockingClock never fires.
type blockingClock struct{ now time.Time }

func (c blockingClock) Now() time.Time                       { return c.now }
func (c blockingClock) After(time.Duration) <-chan time.Time { return nil }

type quoteStep struct {
	pct float64
	err error
}

// scriptedQuotes returns token -> SOL quotes whose rate is 1+pct/100 against a
// 1.0 entry rate. The last step repeats once the script is exhausted.
type scriptedQuotes struct {
	mu      sync.Mutex
	steps   []quoteStep
	calls   int
	amounts []uint64
	fetched chan struct{}
}

func (s *scriptedQuotes) Quote(ctx context.Context, in, out string, amount uint64) (*domain.Quote, error) {
	s.mu.Lock()
	idx := s.calls
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	s.calls++
	s.amounts = append(s.amounts, amount)
	s.mu.Unlock()

	if s.fetched != nil {
		select {
		case s.fetched <- struct{}{}:
		default:
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	outAmt := uint64(1_000_000 + step.pct*10_000)
	return &domain.Quote{InputMint: in, OutputMint: out, InAmount: 1_000_000, OutAmount: outAmt}, nil
}

func (s *scriptedQuotes) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func pcts(values ...float64) []quoteStep {
	steps := make([]quoteStep, len(values))
	for i, v := range values {
		steps[i] = quoteStep{pct: v}
	}
	return steps
}

const testToken = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

func entryQuote() *domain.Quote {
	return &domain.Quote{InputMint: testToken, OutputMint: domain.MintSOL, InAmount: 1_000_000, OutAmount: 1_000_000}
}

type memQuoteRepo struct {
	mu   sync.Mutex
	recs []*domain.QuoteRecord
}

func (r *memQuoteRepo) SaveQuote(ctx context.Context, rec *domain.QuoteRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = int64(len(r.recs) + 1)
	r.recs = append(r.recs, rec)
	return nil
}

func (r *memQuoteRepo) ListQuotes(ctx context.Context, sessionID string, limit int) ([]*domain.QuoteRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.QuoteRecord
	for _, rec := range r.recs {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memTradeRepo struct {
	mu     sync.Mutex
	trades []*domain.TradeRecord
}

func (r *memTradeRepo) SaveTrade(ctx context.Context, t *domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, t)
	return nil
}

func (r *memTradeRepo) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.TradeRecord(nil), r.trades...), nil
}

func (r *memTradeRepo) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.trades))
	for i, t := range r.trades {
		out[i] = t.Reason
	}
	return out
}

type memMentionRepo struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func (r *memMentionRepo) SaveMention(ctx context.Context, key string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]time.Time)
	}
	if _, ok := r.seen[key]; ok {
		return false, nil
	}
	r.seen[key] = at
	return true, nil
}

func (r *memMentionRepo) ListMentions(ctx context.Context) (map[string]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]time.Time, len(r.seen))
	for k, v := range r.seen {
		out[k] = v
	}
	return out, nil
}

type swapCall struct {
	in, out     string
	amount      uint64
	slippageBps int
}

// fakeChain keeps balances in memory; swaps settle 1:1 and transfers settle at once.
type fakeChain struct {
	mu        sync.Mutex
	wallets   map[string]domain.WalletContents
	swaps     []swapCall
	transfers []uint64
	swapFails int
	failCalls map[int]bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{wallets: make(map[string]domain.WalletContents)}
}

func (c *fakeChain) set(address, mint string, raw uint64) {
	w := c.wallets[address]
	if w == nil {
		w = domain.WalletContents{}
		c.wallets[address] = w
	}
	w[mint] = domain.TokenBalance{Mint: mint, RawAmount: raw}
}

func (c *fakeChain) Raw(address, mint string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wallets[address].Raw(mint)
}

func (c *fakeChain) Contents(ctx context.Context, address string) (domain.WalletContents, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := domain.WalletContents{}
	for k, v := range c.wallets[address] {
		out[k] = v
	}
	return out, nil
}

func (c *fakeChain) Swap(ctx context.Context, owner, in, out string, amount uint64, slippageBps int) (*domain.SwapResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.swaps = append(c.swaps, swapCall{in: in, out: out, amount: amount, slippageBps: slippageBps})
	if c.swapFails > 0 || c.failCalls[len(c.swaps)] {
		if c.swapFails > 0 {
			c.swapFails--
		}
		return nil, errors.New("blockhash expired")
	}
	w := c.wallets[owner]
	if w.Raw(in) < amount {
		return nil, errors.New("insufficient balance")
	}
	c.set(owner, in, w.Raw(in)-amount)
	c.set(owner, out, w.Raw(out)+amount)
	return &domain.SwapResult{
		Signature: fmt.Sprintf("swap-%d", len(c.swaps)),
		Quote:     domain.Quote{InputMint: in, OutputMint: out, InAmount: amount, OutAmount: amount},
	}, nil
}

func (c *fakeChain) TransferNative(ctx context.Context, from, to string, lamports uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wallets[from].Raw(domain.MintSOL) < lamports {
		return "", errors.New("insufficient lamports")
	}
	c.set(from, domain.MintSOL, c.wallets[from].Raw(domain.MintSOL)-lamports)
	c.set(to, domain.MintSOL, c.wallets[to].Raw(domain.MintSOL)+lamports)
	c.transfers = append(c.transfers, lamports)
	return fmt.Sprintf("transfer-%d", len(c.transfers)), nil
}
