package usecase

import (
	"fmt"
	"slices"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// ReplayedExit is a decision the exit rules would have taken on a recorded
// session, treating the first sample as the entry.
type ReplayedExit struct {
	Decision  domain.Decision
	At        time.Time
	Elapsed   time.Duration
	PctChange float64
}

type SessionAnalysis struct {
	SessionID string
	Samples   int
	Start     time.Time
	End       time.Time
	ChangePct float64 // last sample vs first
	PeakPct   float64
	PeakAt    time.Time
	TroughPct float64
	TroughAt  time.Time
	Exits     []ReplayedExit
}

type SessionAnalyzer struct {
	logger *zap.Logger
}

func NewSessionAnalyzer(logger *zap.Logger) *SessionAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionAnalyzer{logger: logger}
}

// Analyze summarizes a recorded quote session. When rules is non-nil the exit
// rules are replayed over the samples until the terminal sell.
func (a *SessionAnalyzer) Analyze(records []*domain.QuoteRecord, reference string, rules *domain.ExitRules) (*SessionAnalysis, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no samples to analyze")
	}
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(x, y *domain.QuoteRecord) int {
		return x.Quote.Timestamp.Compare(y.Quote.Timestamp)
	})

	entry := &sorted[0].Quote
	res := &SessionAnalysis{
		SessionID: sorted[0].SessionID,
		Start:     entry.Timestamp,
		PeakAt:    entry.Timestamp,
		TroughAt:  entry.Timestamp,
	}

	soldHalf, exited := false, false
	for _, r := range sorted {
		q := &r.Quote
		pct, err := PercentChange(entry, q, reference)
		if err != nil {
			a.logger.Warn("Skipping sample", zap.Int64("id", r.ID), zap.Error(err))
			continue
		}
		res.Samples++
		res.End = q.Timestamp
		res.ChangePct = pct
		if pct > res.PeakPct {
			res.PeakPct, res.PeakAt = pct, q.Timestamp
		}
		if pct < res.TroughPct {
			res.TroughPct, res.TroughAt = pct, q.Timestamp
		}

		if rules == nil || exited {
			continue
		}
		elapsed := q.Timestamp.Sub(entry.Timestamp)
		switch d := Evaluate(*rules, elapsed, pct, soldHalf); d {
		case domain.DecisionSellHalf:
			soldHalf = true
			res.Exits = append(res.Exits, ReplayedExit{Decision: d, At: q.Timestamp, Elapsed: elapsed, PctChange: pct})
		case domain.DecisionSellAll:
			exited = true
			res.Exits = append(res.Exits, ReplayedExit{Decision: d, At: q.Timestamp, Elapsed: elapsed, PctChange: pct})
		}
	}
	if res.Samples == 0 {
		return nil, fmt.Errorf("no usable samples in session %s", res.SessionID)
	}
	return res, nil
}
