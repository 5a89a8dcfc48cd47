package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// DefaultRentBuffer is left behind on every native transfer (0.005 SOL).
const DefaultRentBuffer uint64 = 5_000_000

type StrategyConfig struct {
	BaseWallet    string
	TradeWallet   string
	Token         string
	ReferenceMint string

	// Amount is the requested stake in lamports; MaxAmount caps it.
	Amount    uint64
	MaxAmount uint64

	RentBuffer       uint64
	EntrySlippageBps int
	ExitSlippageBps  int
	TargetTime       time.Time
	Rules            domain.ExitRules

	BalanceTimeout   time.Duration
	MinBalanceChange uint64
	SwapRetries      int
	ExitSwapRetries  int
	SwapRetryDelay   time.Duration
}

func (c StrategyConfig) withDefaults() StrategyConfig {
	if c.ReferenceMint == "" {
		c.ReferenceMint = domain.MintSOL
	}
	if c.RentBuffer == 0 {
		c.RentBuffer = DefaultRentBuffer
	}
	if c.EntrySlippageBps <= 0 {
		c.EntrySlippageBps = 300
	}
	if c.ExitSlippageBps <= 0 {
		c.ExitSlippageBps = 4500
	}
	if c.BalanceTimeout <= 0 {
		c.BalanceTimeout = 30 * time.Second
	}
	if c.MinBalanceChange == 0 {
		c.MinBalanceChange = DefaultMinBalanceChange
	}
	if c.SwapRetries <= 0 {
		c.SwapRetries = 3
	}
	if c.ExitSwapRetries <= 0 {
		c.ExitSwapRetries = 10
	}
	if c.SwapRetryDelay <= 0 {
		c.SwapRetryDelay = 2 * time.Second
	}
	return c
}

func (c StrategyConfig) Validate() error {
	if c.BaseWallet == "" || c.TradeWallet == "" {
		return fmt.Errorf("base and trade wallets are required")
	}
	if c.BaseWallet == c.TradeWallet {
		return fmt.Errorf("base and trade wallets must differ")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	if c.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}
	return c.Rules.Validate()
}

// StrategyResult summarizes one completed run.
type StrategyResult struct {
	SessionID      string
	EntrySignature string
	ExitSignatures []string
	Consolidated   uint64
}

type StrategyPhase string

const (
	PhaseIdle          StrategyPhase = "idle"
	PhaseFunding       StrategyPhase = "funding"
	PhaseWaiting       StrategyPhase = "waiting"
	PhaseEntering      StrategyPhase = "entering"
	PhaseExiting       StrategyPhase = "exiting"
	PhaseConsolidating StrategyPhase = "consolidating"
	PhaseDone          StrategyPhase = "done"
	PhaseFailed        StrategyPhase = "failed"
)

// StrategyStatus is a snapshot safe to read while Run is in progress.
type StrategyStatus struct {
	SessionID      string        `json:"session_id"`
	Token          string        `json:"token"`
	Phase          StrategyPhase `json:"phase"`
	EntrySignature string        `json:"entry_signature,omitempty"`
	ExitSignatures []string      `json:"exit_signatures,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// StrategyRunner funds a trade wallet, enters a position at a target time,
// exits it through an ExitPoller and returns the proceeds to the base wallet.
type StrategyRunner struct {
	cfg       StrategyConfig
	balances  domain.WalletBalanceSource
	swaps     domain.SwapExecutor
	transfers domain.Transferer
	quotes    domain.QuoteSource
	trades    domain.TradeRepository
	overrides *OverrideMailbox
	observer  PollerObserver
	clock     Clock
	logger    *zap.Logger
	sessionID string

	mu     sync.Mutex
	status StrategyStatus
}

func NewStrategyRunner(cfg StrategyConfig, balances domain.WalletBalanceSource, swaps domain.SwapExecutor, transfers domain.Transferer, quotes domain.QuoteSource, logger *zap.Logger) (*StrategyRunner, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy config: %w", err)
	}
	if balances == nil || swaps == nil || transfers == nil || quotes == nil {
		return nil, fmt.Errorf("balances, swaps, transfers and quotes are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &StrategyRunner{
		cfg:       cfg,
		balances:  balances,
		swaps:     swaps,
		transfers: transfers,
		quotes:    quotes,
		clock:     SystemClock,
		logger:    logger.With(zap.String("session", id), zap.String("token", cfg.Token)),
		sessionID: id,
		status:    StrategyStatus{SessionID: id, Token: cfg.Token, Phase: PhaseIdle},
	}, nil
}

func (s *StrategyRunner) WithTrades(repo domain.TradeRepository) *StrategyRunner {
	s.trades = repo
	return s
}

func (s *StrategyRunner) WithOverrides(m *OverrideMailbox) *StrategyRunner {
	s.overrides = m
	return s
}

func (s *StrategyRunner) WithObserver(o PollerObserver) *StrategyRunner {
	s.observer = o
	return s
}

func (s *StrategyRunner) WithClock(c Clock) *StrategyRunner {
	s.clock = c
	return s
}

func (s *StrategyRunner) SessionID() string { return s.sessionID }

func (s *StrategyRunner) Status() StrategyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.ExitSignatures = append([]string(nil), s.status.ExitSignatures...)
	return st
}

func (s *StrategyRunner) setPhase(p StrategyPhase) {
	s.mu.Lock()
	s.status.Phase = p
	s.mu.Unlock()
	s.logger.Debug("Strategy phase", zap.String("phase", string(p)))
}

// Run executes the whole sequence. Setup failures abort before any position is
// opened; once the position is open the runner always attempts to consolidate.
func (s *StrategyRunner) Run(ctx context.Context) (*StrategyResult, error) {
	res, err := s.run(ctx)
	s.mu.Lock()
	s.status.EntrySignature = res.EntrySignature
	s.status.ExitSignatures = append([]string(nil), res.ExitSignatures...)
	if err != nil {
		s.status.Phase = PhaseFailed
		s.status.Error = err.Error()
	} else {
		s.status.Phase = PhaseDone
	}
	s.mu.Unlock()
	return res, err
}

func (s *StrategyRunner) run(ctx context.Context) (*StrategyResult, error) {
	res := &StrategyResult{SessionID: s.sessionID}

	s.setPhase(PhaseFunding)

	if err := s.fund(ctx); err != nil {
		return res, err
	}

	if !s.cfg.TargetTime.IsZero() {
		s.setPhase(PhaseWaiting)
		s.logger.Info("Waiting for target time", zap.Time("target", s.cfg.TargetTime))
		if err := WaitUntil(ctx, s.clock, s.cfg.TargetTime); err != nil {
			return res, err
		}
	}

	s.setPhase(PhaseEntering)
	entry, err := s.enter(ctx)
	if err != nil {
		return res, err
	}
	res.EntrySignature = entry.Signature
	s.mu.Lock()
	s.status.EntrySignature = entry.Signature
	s.mu.Unlock()

	s.setPhase(PhaseExiting)

	preExit, exitSigs, exitErr := s.exit(ctx, &entry.Quote)
	res.ExitSignatures = exitSigs
	if exitErr != nil && ctx.Err() != nil {
		return res, exitErr
	}

	s.setPhase(PhaseConsolidating)
	moved, err := s.consolidate(ctx, preExit)
	res.Consolidated = moved
	if err != nil {
		return res, errors.Join(exitErr, err)
	}
	if exitErr != nil {
		return res, exitErr
	}
	s.logger.Info("Strategy complete", zap.Uint64("consolidated", moved))
	return res, nil
}

func (s *StrategyRunner) fund(ctx context.Context) error {
	base, err := s.balances.Contents(ctx, s.cfg.BaseWallet)
	if err != nil {
		return fmt.Errorf("failed to read base wallet: %w", err)
	}
	baseLamports := base.Raw(s.cfg.ReferenceMint)

	amount := s.cfg.Amount
	if s.cfg.MaxAmount > 0 && amount > s.cfg.MaxAmount {
		amount = s.cfg.MaxAmount
	}
	if amount > baseLamports {
		amount = baseLamports
	}
	if amount <= s.cfg.RentBuffer {
		return fmt.Errorf("%w: base wallet holds %d lamports", domain.ErrInsufficientFunds, baseLamports)
	}
	lamports := amount - s.cfg.RentBuffer

	s.logger.Info("Funding trade wallet",
		zap.String("from", s.cfg.BaseWallet),
		zap.String("to", s.cfg.TradeWallet),
		zap.Uint64("lamports", lamports))
	sig, err := s.transfers.TransferNative(ctx, s.cfg.BaseWallet, s.cfg.TradeWallet, lamports)
	if err != nil {
		return fmt.Errorf("failed to fund trade wallet: %w", err)
	}
	s.record(ctx, &domain.TradeRecord{
		Kind: "transfer", InputMint: s.cfg.ReferenceMint, OutputMint: s.cfg.ReferenceMint,
		InAmount: lamports, OutAmount: lamports, Signature: sig, Reason: "fund",
	})

	if _, err := WaitForBalanceChange(ctx, s.balances, s.clock, BalanceWait{
		Address:   s.cfg.BaseWallet,
		Mint:      s.cfg.ReferenceMint,
		Previous:  baseLamports,
		MinChange: s.cfg.MinBalanceChange,
		Timeout:   s.cfg.BalanceTimeout,
	}); err != nil {
		return fmt.Errorf("funding not observed: %w", err)
	}
	return nil
}

func (s *StrategyRunner) enter(ctx context.Context) (*domain.SwapResult, error) {
	contents, err := s.balances.Contents(ctx, s.cfg.TradeWallet)
	if err != nil {
		return nil, fmt.Errorf("failed to read trade wallet: %w", err)
	}
	held := contents.Raw(s.cfg.ReferenceMint)
	if held <= s.cfg.RentBuffer {
		return nil, fmt.Errorf("%w: trade wallet holds %d lamports", domain.ErrInsufficientFunds, held)
	}
	amount := held - s.cfg.RentBuffer

	s.logger.Info("Entering position", zap.Uint64("amount", amount), zap.Int("slippage_bps", s.cfg.EntrySlippageBps))
	res, err := s.swapWithRetry(ctx, s.cfg.ReferenceMint, s.cfg.Token, amount, s.cfg.EntrySlippageBps, s.cfg.SwapRetries)
	if err != nil {
		return nil, fmt.Errorf("entry swap failed: %w", err)
	}
	s.logger.Info("Entry executed", zap.String("signature", res.Signature))
	s.recordSwap(ctx, res, amount, "entry")
	return res, nil
}

// exit drives the poller and executes its commands. It returns the reference
// balance observed right before the final sell.
func (s *StrategyRunner) exit(ctx context.Context, entry *domain.Quote) (uint64, []string, error) {
	startedAt := s.cfg.TargetTime
	if startedAt.IsZero() {
		startedAt = s.clock.Now()
	}
	poller, err := NewExitPoller(ExitPollerConfig{
		Rules:         s.cfg.Rules,
		InputMint:     s.cfg.Token,
		OutputMint:    s.cfg.ReferenceMint,
		ReferenceMint: s.cfg.ReferenceMint,
		StartedAt:     startedAt,
	}, s.quotes, entry, s.logger)
	if err != nil {
		return 0, nil, err
	}
	poller.WithClock(s.clock).WithOverrides(s.overrides).WithObserver(s.observer)

	var (
		sigs    []string
		preExit uint64
	)
	for cmd, err := range poller.Events(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return preExit, sigs, err
			}
			s.logger.Warn("Exit poller reported failures, continuing", zap.Error(err))
			continue
		}

		contents, err := s.balances.Contents(ctx, s.cfg.TradeWallet)
		if err != nil {
			s.logger.Error("Failed to read trade wallet for exit", zap.String("command", string(cmd)), zap.Error(err))
			if cmd.Terminal() {
				return preExit, sigs, fmt.Errorf("sell_all: %w", err)
			}
			continue
		}
		held := contents.Raw(s.cfg.Token)

		switch cmd {
		case domain.CommandSellHalf:
			amount := held / 2
			if amount == 0 {
				s.logger.Warn("Nothing to sell for half exit")
				continue
			}
			res, err := s.swapWithRetry(ctx, s.cfg.Token, s.cfg.ReferenceMint, amount, s.cfg.ExitSlippageBps, s.cfg.SwapRetries)
			if err != nil {
				s.logger.Error("Half exit failed", zap.Error(err))
				if poller.LastSource() == domain.SourceRule {
					poller.ReleaseHalf()
				}
				continue
			}
			sigs = append(sigs, res.Signature)
			s.addExit(res.Signature)
			s.recordSwap(ctx, res, amount, string(cmd))

		case domain.CommandSellAll:
			preExit = contents.Raw(s.cfg.ReferenceMint)
			if held == 0 {
				s.logger.Warn("Nothing left to sell")
				return preExit, sigs, nil
			}
			res, err := s.swapWithRetry(ctx, s.cfg.Token, s.cfg.ReferenceMint, held, s.cfg.ExitSlippageBps, s.cfg.ExitSwapRetries)
			if err != nil {
				return preExit, sigs, fmt.Errorf("final exit failed: %w", err)
			}
			sigs = append(sigs, res.Signature)
			s.addExit(res.Signature)
			s.recordSwap(ctx, res, held, string(cmd))
			return preExit, sigs, nil
		}
	}
	return preExit, sigs, ctx.Err()
}

func (s *StrategyRunner) addExit(sig string) {
	s.mu.Lock()
	s.status.ExitSignatures = append(s.status.ExitSignatures, sig)
	s.mu.Unlock()
}

func (s *StrategyRunner) consolidate(ctx context.Context, preExit uint64) (uint64, error) {
	if _, err := WaitForBalanceChange(ctx, s.balances, s.clock, BalanceWait{
		Address:   s.cfg.TradeWallet,
		Mint:      s.cfg.ReferenceMint,
		Previous:  preExit,
		MinChange: s.cfg.MinBalanceChange,
		Timeout:   s.cfg.BalanceTimeout,
	}); err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		s.logger.Warn("Exit proceeds not observed, consolidating current balance", zap.Error(err))
	}

	contents, err := s.balances.Contents(ctx, s.cfg.TradeWallet)
	if err != nil {
		return 0, fmt.Errorf("failed to read trade wallet: %w", err)
	}
	held := contents.Raw(s.cfg.ReferenceMint)
	if held <= s.cfg.RentBuffer {
		s.logger.Warn("Nothing to consolidate", zap.Uint64("held", held))
		return 0, nil
	}
	lamports := held - s.cfg.RentBuffer

	sig, err := s.transfers.TransferNative(ctx, s.cfg.TradeWallet, s.cfg.BaseWallet, lamports)
	if err != nil {
		return 0, fmt.Errorf("failed to consolidate: %w", err)
	}
	s.logger.Info("Consolidated to base wallet", zap.Uint64("lamports", lamports), zap.String("signature", sig))
	s.record(ctx, &domain.TradeRecord{
		Kind: "transfer", InputMint: s.cfg.ReferenceMint, OutputMint: s.cfg.ReferenceMint,
		InAmount: lamports, OutAmount: lamports, Signature: sig, Reason: "consolidate",
	})
	return lamports, nil
}

func (s *StrategyRunner) swapWithRetry(ctx context.Context, in, out string, amount uint64, slippageBps, attempts int) (*domain.SwapResult, error) {
	return NewTradeExecutor(s.swaps, s.cfg.SwapRetryDelay, s.logger).
		WithClock(s.clock).
		Execute(ctx, s.cfg.TradeWallet, in, out, amount, slippageBps, attempts)
}

func (s *StrategyRunner) recordSwap(ctx context.Context, res *domain.SwapResult, amount uint64, reason string) {
	s.record(ctx, &domain.TradeRecord{
		Kind:       "swap",
		InputMint:  res.Quote.InputMint,
		OutputMint: res.Quote.OutputMint,
		InAmount:   amount,
		OutAmount:  res.Quote.OutAmount,
		Signature:  res.Signature,
		Reason:     reason,
	})
}

func (s *StrategyRunner) record(ctx context.Context, t *domain.TradeRecord) {
	if s.trades == nil {
		return
	}
	t.ID = uuid.NewString()
	t.SessionID = s.sessionID
	t.CreatedAt = s.clock.Now()
	if err := s.trades.SaveTrade(ctx, t); err != nil {
		s.logger.Warn("Failed to store trade", zap.String("reason", t.Reason), zap.Error(err))
	}
}
