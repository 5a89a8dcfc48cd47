package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
)

// DefaultMinBalanceChange ignores dust-sized moves (0.005 SOL).
const DefaultMinBalanceChange uint64 = 5_000_000

type BalanceWait struct {
	Address      string
	Mint         string
	Previous     uint64
	MinChange    uint64
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitForBalanceChange polls the wallet until the raw balance of Mint differs
// from Previous by at least MinChange and returns the new balance.
func WaitForBalanceChange(ctx context.Context, source domain.WalletBalanceSource, clock Clock, w BalanceWait) (uint64, error) {
	if w.Mint == "" {
		w.Mint = domain.MintSOL
	}
	if w.MinChange == 0 {
		w.MinChange = DefaultMinBalanceChange
	}
	if w.Timeout <= 0 {
		w.Timeout = 15 * time.Second
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if clock == nil {
		clock = SystemClock
	}

	deadline := clock.Now().Add(w.Timeout)
	var lastErr error
	for {
		contents, err := source.Contents(ctx, w.Address)
		if err != nil {
			lastErr = err
		} else {
			current := contents.Raw(w.Mint)
			if absDiff(current, w.Previous) >= w.MinChange {
				return current, nil
			}
		}

		if !clock.Now().Before(deadline) {
			if lastErr != nil {
				return 0, fmt.Errorf("%w: %s after %s: %v", domain.ErrBalanceUnchanged, w.Address, w.Timeout, lastErr)
			}
			return 0, fmt.Errorf("%w: %s after %s", domain.ErrBalanceUnchanged, w.Address, w.Timeout)
		}
		if err := sleepCtx(ctx, clock, w.PollInterval); err != nil {
			return 0, err
		}
	}
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
