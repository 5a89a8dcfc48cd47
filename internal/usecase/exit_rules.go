package usecase

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitos/dex_exit_trader/internal/domain"
)

// PercentPrecision is the number of decimals percent changes are rounded to
// before rule comparison.
const PercentPrecision = 3

// Evaluate applies the exit rules in priority order: stop out, half take,
// full take, time stop. It has no hidden state.
func Evaluate(rules domain.ExitRules, elapsed time.Duration, pctChange float64, soldHalf bool) domain.Decision {
	switch {
	case pctChange <= rules.StopOutAt:
		return domain.DecisionSellAll
	case !soldHalf && pctChange >= rules.TakeHalfAt:
		return domain.DecisionSellHalf
	case pctChange >= rules.TakeAllAt:
		return domain.DecisionSellAll
	case elapsed >= rules.MaxDuration:
		return domain.DecisionSellAll
	}
	return domain.DecisionNone
}

// RatePerToken returns the quote's rate in reference units per traded unit,
// whichever side of the pair the reference asset is on.
func RatePerToken(q *domain.Quote, reference string) (decimal.Decimal, error) {
	if q == nil {
		return decimal.Zero, fmt.Errorf("nil quote")
	}
	var refAmount, tokenAmount uint64
	switch reference {
	case q.InputMint:
		refAmount, tokenAmount = q.InAmount, q.OutAmount
	case q.OutputMint:
		refAmount, tokenAmount = q.OutAmount, q.InAmount
	default:
		return decimal.Zero, fmt.Errorf("%s/%s: %w", q.InputMint, q.OutputMint, domain.ErrNoReferenceAsset)
	}
	if tokenAmount == 0 {
		return decimal.Zero, fmt.Errorf("quote %s/%s has zero token amount", q.InputMint, q.OutputMint)
	}
	return decimalFromUint(refAmount).Div(decimalFromUint(tokenAmount)), nil
}

// PercentChange returns ((new-entry)/entry)*100 rounded to PercentPrecision decimals.
func PercentChange(entry, latest *domain.Quote, reference string) (float64, error) {
	entryRate, err := RatePerToken(entry, reference)
	if err != nil {
		return 0, fmt.Errorf("entry rate: %w", err)
	}
	if entryRate.IsZero() {
		return 0, fmt.Errorf("entry rate is zero")
	}
	newRate, err := RatePerToken(latest, reference)
	if err != nil {
		return 0, fmt.Errorf("latest rate: %w", err)
	}
	pct := newRate.Sub(entryRate).Div(entryRate).Mul(decimal.NewFromInt(100))
	return pct.Round(PercentPrecision).InexactFloat64(), nil
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}
