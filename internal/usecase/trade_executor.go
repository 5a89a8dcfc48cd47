package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

const maxSlippageBps = 10_000

// TradeExecutor retries swaps, backing off 2^i * delay between attempts and
// widening slippage by a quarter each time.
type TradeExecutor struct {
	swaps  domain.SwapExecutor
	delay  time.Duration
	clock  Clock
	logger *zap.Logger
}

func NewTradeExecutor(swaps domain.SwapExecutor, delay time.Duration, logger *zap.Logger) *TradeExecutor {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeExecutor{
		swaps:  swaps,
		delay:  delay,
		clock:  SystemClock,
		logger: logger,
	}
}

func (e *TradeExecutor) WithClock(c Clock) *TradeExecutor {
	e.clock = c
	return e
}

func (e *TradeExecutor) Execute(ctx context.Context, owner, inputMint, outputMint string, amount uint64, slippageBps, attempts int) (*domain.SwapResult, error) {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := e.swaps.Swap(ctx, owner, inputMint, outputMint, amount, slippageBps)
		if err == nil {
			return res, nil
		}
		lastErr = err
		e.logger.Warn("Swap failed",
			zap.Int("attempt", i+1),
			zap.Int("slippage_bps", slippageBps),
			zap.Error(err))
		if i == attempts-1 {
			break
		}
		if err := sleepCtx(ctx, e.clock, e.delay*time.Duration(1<<uint(i))); err != nil {
			return nil, err
		}
		slippageBps = min(slippageBps*5/4, maxSlippageBps)
	}
	return nil, fmt.Errorf("swap %s -> %s failed after %d attempts: %w", inputMint, outputMint, attempts, lastErr)
}
