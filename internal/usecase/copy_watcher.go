package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// Raydium AMM programs. An inner instruction into any of them marks a liquidity event.
var raydiumPrograms = []string{
	"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", // AMM v4
	"CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C", // CPMM
	"CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK", // CLMM
}

func anyLogContains(logs []string, needles ...string) bool {
	for _, l := range logs {
		for _, n := range needles {
			if strings.Contains(l, n) {
				return true
			}
		}
	}
	return false
}

// ClassifyTransaction labels a transaction from its log messages, first match wins.
func ClassifyTransaction(tx *domain.TransactionInfo) domain.TxType {
	if tx == nil || tx.Failed {
		return domain.TxFailed
	}
	logs := tx.LogMessages

	liquidity := anyLogContains(logs, "liquidity:", "vault_")
	if !liquidity {
		for _, pid := range tx.ProgramIDs {
			if slices.Contains(raydiumPrograms, pid) {
				liquidity = true
				break
			}
		}
	}

	switch {
	case anyLogContains(logs, "Instruction: Swap"):
		return domain.TxTokenSwap
	case anyLogContains(logs, "Instruction: Burn"):
		return domain.TxTokenBurn
	case liquidity:
		return domain.TxAddLiquidity
	case anyLogContains(logs, "Instruction: InitializeMint", "InitializeMint2"):
		return domain.TxTokenMint
	case anyLogContains(logs, "Instruction: MintTo"):
		return domain.TxTokenMint
	case tx.BalancesChanged:
		return domain.TxTransfer
	default:
		return domain.TxOther
	}
}

// TxHandler reacts to one classified transaction.
type TxHandler func(ctx context.Context, ev domain.SignatureEvent, tx *domain.TransactionInfo) error

type CopyWatcherConfig struct {
	FetchRetries int
	FetchDelay   time.Duration
}

// CopyWatcher turns wallet signatures into classified transactions and
// dispatches them to per-type handlers.
type CopyWatcher struct {
	cfg      CopyWatcherConfig
	fetcher  domain.TransactionFetcher
	handlers map[domain.TxType]TxHandler
	clock    Clock
	logger   *zap.Logger
}

func NewCopyWatcher(cfg CopyWatcherConfig, fetcher domain.TransactionFetcher, logger *zap.Logger) *CopyWatcher {
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = 5
	}
	if cfg.FetchDelay <= 0 {
		cfg.FetchDelay = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CopyWatcher{
		cfg:      cfg,
		fetcher:  fetcher,
		handlers: make(map[domain.TxType]TxHandler),
		clock:    SystemClock,
		logger:   logger,
	}
}

func (w *CopyWatcher) WithClock(c Clock) *CopyWatcher {
	w.clock = c
	return w
}

// On registers the handler for one transaction type.
func (w *CopyWatcher) On(t domain.TxType, h TxHandler) *CopyWatcher {
	w.handlers[t] = h
	return w
}

// Run handles events until the channel closes or ctx is done. Per-signature
// failures are logged and do not stop the watcher.
func (w *CopyWatcher) Run(ctx context.Context, events <-chan domain.SignatureEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if _, err := w.Handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Error("Error processing signature", zap.String("signature", ev.Signature), zap.Error(err))
			}
		}
	}
}

// Handle fetches, classifies and dispatches one signature.
func (w *CopyWatcher) Handle(ctx context.Context, ev domain.SignatureEvent) (domain.TxType, error) {
	w.logger.Info("Received signature",
		zap.String("account", ev.Account),
		zap.String("signature", ev.Signature),
		zap.Bool("backfilled", ev.Backfilled))

	tx, err := w.fetch(ctx, ev.Signature)
	if err != nil {
		return "", err
	}
	txType := ClassifyTransaction(tx)
	w.logger.Info("Classified transaction", zap.String("signature", ev.Signature), zap.String("type", string(txType)))

	h, ok := w.handlers[txType]
	if !ok {
		return txType, nil
	}
	if err := h(ctx, ev, tx); err != nil {
		return txType, fmt.Errorf("%s handler: %w", txType, err)
	}
	return txType, nil
}

func (w *CopyWatcher) fetch(ctx context.Context, sig string) (*domain.TransactionInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.FetchRetries; attempt++ {
		tx, err := w.fetcher.Transaction(ctx, sig)
		switch {
		case err != nil:
			lastErr = err
			w.logger.Warn("Error fetching transaction", zap.String("signature", sig), zap.Int("attempt", attempt), zap.Error(err))
		case tx == nil:
			w.logger.Warn("Transaction not yet available", zap.String("signature", sig), zap.Int("attempt", attempt))
		default:
			return tx, nil
		}
		if err := sleepCtx(ctx, w.clock, w.cfg.FetchDelay); err != nil {
			return nil, err
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("transaction %s not available after %d attempts: %w", sig, w.cfg.FetchRetries, lastErr)
	}
	return nil, fmt.Errorf("transaction %s not available after %d attempts", sig, w.cfg.FetchRetries)
}
