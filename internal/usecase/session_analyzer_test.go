package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"github.com/vitos/dex_exit_trader/internal/usecase"
)

func recorded(start time.Time, step time.Duration, outs ...uint64) []*domain.QuoteRecord {
	var recs []*domain.QuoteRecord
	for i, out := range outs {
		recs = append(recs, &domain.QuoteRecord{
			ID:        int64(i + 1),
			SessionID: "rec-1",
			Quote: domain.Quote{
				InputMint: testToken, OutputMint: domain.MintSOL,
				InAmount: 1_000_000, OutAmount: out,
				Timestamp: start.Add(time.Duration(i) * step),
			},
		})
	}
	return recs
}

func TestSessionAnalyzer_Summary(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	recs := recorded(start, time.Minute, 1_000_000, 1_300_000, 800_000, 1_100_000)
	// out of order input is sorted by timestamp
	recs[1], recs[3] = recs[3], recs[1]

	res, err := usecase.NewSessionAnalyzer(nil).Analyze(recs, domain.MintSOL, nil)
	require.NoError(t, err)

	assert.Equal(t, "rec-1", res.SessionID)
	assert.Equal(t, 4, res.Samples)
	assert.Equal(t, start, res.Start)
	assert.Equal(t, start.Add(3*time.Minute), res.End)
	assert.Equal(t, 10.0, res.ChangePct)
	assert.Equal(t, 30.0, res.PeakPct)
	assert.Equal(t, start.Add(time.Minute), res.PeakAt)
	assert.Equal(t, -20.0, res.TroughPct)
	assert.Equal(t, start.Add(2*time.Minute), res.TroughAt)
	assert.Empty(t, res.Exits)
}

func TestSessionAnalyzer_ReplaysRules(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rules := &domain.ExitRules{
		MaxDuration:     time.Hour,
		TakeHalfAt:      20,
		TakeAllAt:       200,
		StopOutAt:       -30,
		PollingInterval: time.Second,
	}

	tests := []struct {
		name string
		outs []uint64
		want []domain.Decision
		last float64
	}{
		{"half then stop out", []uint64{1_000_000, 1_250_000, 1_400_000, 650_000, 500_000}, []domain.Decision{domain.DecisionSellHalf, domain.DecisionSellAll}, -35},
		{"half has priority over take all", []uint64{1_000_000, 3_100_000}, []domain.Decision{domain.DecisionSellHalf}, 210},
		{"nothing fires", []uint64{1_000_000, 1_050_000, 950_000}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := usecase.NewSessionAnalyzer(nil).Analyze(recorded(start, time.Minute, tt.outs...), domain.MintSOL, rules)
			require.NoError(t, err)
			var got []domain.Decision
			for _, e := range res.Exits {
				got = append(got, e.Decision)
			}
			assert.Equal(t, tt.want, got)
			if len(res.Exits) > 0 {
				assert.Equal(t, tt.last, res.Exits[len(res.Exits)-1].PctChange)
			}
		})
	}
}

func TestSessionAnalyzer_TimeStop(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rules := &domain.ExitRules{MaxDuration: 2 * time.Minute, TakeHalfAt: 20, TakeAllAt: 200, StopOutAt: -30, PollingInterval: time.Second}

	res, err := usecase.NewSessionAnalyzer(nil).Analyze(recorded(start, time.Minute, 1_000_000, 1_010_000, 1_020_000, 1_030_000), domain.MintSOL, rules)
	require.NoError(t, err)
	require.Len(t, res.Exits, 1)
	assert.Equal(t, domain.DecisionSellAll, res.Exits[0].Decision)
	assert.Equal(t, 2*time.Minute, res.Exits[0].Elapsed)
	assert.Equal(t, 4, res.Samples)
}

func TestSessionAnalyzer_Errors(t *testing.T) {
	a := usecase.NewSessionAnalyzer(nil)
	_, err := a.Analyze(nil, domain.MintSOL, nil)
	assert.Error(t, err)

	_, err = a.Analyze(recorded(time.Now(), time.Second, 1_000_000), domain.MintUSDC, nil)
	assert.Error(t, err)
}
