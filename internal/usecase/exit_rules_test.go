package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

func testRules() domain.ExitRules {
	return domain.ExitRules{
		MaxDuration:     60 * time.Second,
		TakeHalfAt:      20,
		TakeAllAt:       200,
		StopOutAt:       -30,
		PollingInterval: 5 * time.Second,
	}
}

func TestEvaluate(t *testing.T) {
	rules := testRules()

	tests := []struct {
		name     string
		elapsed  time.Duration
		pct      float64
		soldHalf bool
		want     domain.Decision
	}{
		{"flat", 5 * time.Second, 0, false, domain.DecisionNone},
		{"small gain", 5 * time.Second, 5, false, domain.DecisionNone},
		{"half threshold inclusive", 5 * time.Second, 20, false, domain.DecisionSellHalf},
		{"half already sold", 5 * time.Second, 25, true, domain.DecisionNone},
		{"take all before half sold still sells half first", 5 * time.Second, 250, false, domain.DecisionSellHalf},
		{"take all after half", 5 * time.Second, 200, true, domain.DecisionSellAll},
		{"stop out inclusive", 5 * time.Second, -30, false, domain.DecisionSellAll},
		{"stop out beats time", 90 * time.Second, -40, true, domain.DecisionSellAll},
		{"time stop", 60 * time.Second, 5, false, domain.DecisionSellAll},
		{"time stop loses to half", 60 * time.Second, 21, false, domain.DecisionSellHalf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := usecase.Evaluate(rules, tt.elapsed, tt.pct, tt.soldHalf)
			assert.Equal(t, tt.want, got)
			// pure: same inputs, same answer
			assert.Equal(t, got, usecase.Evaluate(rules, tt.elapsed, tt.pct, tt.soldHalf))
		})
	}
}

func TestEvaluate_MonotonicRiseSellsHalfOnce(t *testing.T) {
	rules := testRules()
	soldHalf := false
	var decisions []domain.Decision

	for pct := 0.0; pct <= 250; pct += 2.5 {
		d := usecase.Evaluate(rules, 10*time.Second, pct, soldHalf)
		if d == domain.DecisionNone {
			continue
		}
		decisions = append(decisions, d)
		if d == domain.DecisionSellHalf {
			soldHalf = true
			continue
		}
		break
	}

	assert.Equal(t, []domain.Decision{domain.DecisionSellHalf, domain.DecisionSellAll}, decisions)
}

func TestEvaluate_DropBeforeHalfSellsAll(t *testing.T) {
	rules := testRules()
	for _, pct := range []float64{0, -5, -10, -29.999, -30} {
		d := usecase.Evaluate(rules, time.Second, pct, false)
		assert.NotEqual(t, domain.DecisionSellHalf, d)
		if pct <= rules.StopOutAt {
			assert.Equal(t, domain.DecisionSellAll, d)
		}
	}
}

func quote(in, out string, inAmt, outAmt uint64) *domain.Quote {
	return &domain.Quote{InputMint: in, OutputMint: out, InAmount: inAmt, OutAmount: outAmt}
}

func TestPercentChange_ZeroForEqualRateEitherSide(t *testing.T) {
	const token = "TokenMint1111111111111111111111111111111111"

	buy := quote(domain.MintSOL, token, 1_000_000, 4_000_000)
	sell := quote(token, domain.MintSOL, 4_000_000, 1_000_000)

	pct, err := usecase.PercentChange(buy, sell, domain.MintSOL)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)

	pct, err = usecase.PercentChange(sell, buy, domain.MintSOL)
	require.NoError(t, err)
	assert.Equal(t, 0.0, pct)
}

func TestPercentChange_Rounding(t *testing.T) {
	const token = "TokenMint1111111111111111111111111111111111"
	entry := quote(domain.MintSOL, token, 3, 3)
	// rate 4/3 vs 1 -> 33.333...%
	latest := quote(domain.MintSOL, token, 4, 3)

	pct, err := usecase.PercentChange(entry, latest, domain.MintSOL)
	require.NoError(t, err)
	assert.Equal(t, 33.333, pct)

	// selling side: token -> SOL with fewer SOL out is a loss
	latest = quote(token, domain.MintSOL, 1000, 780)
	entry = quote(token, domain.MintSOL, 1000, 1000)
	pct, err = usecase.PercentChange(entry, latest, domain.MintSOL)
	require.NoError(t, err)
	assert.Equal(t, -22.0, pct)
}

func TestPercentChange_MissingReference(t *testing.T) {
	q := quote("A", "B", 1, 1)
	_, err := usecase.PercentChange(q, q, domain.MintSOL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoReferenceAsset)
}

func TestPercentChange_ZeroTokenAmount(t *testing.T) {
	q := quote(domain.MintSOL, "B", 1, 0)
	_, err := usecase.PercentChange(q, q, domain.MintSOL)
	assert.Error(t, err)
}
