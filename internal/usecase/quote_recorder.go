package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// LogScaleInterval spaces samples out as a recording progresses:
// min + log10(1 + 9*elapsed/total) * (max - min). Equal bounds give a fixed rate.
func LogScaleInterval(elapsed, total, min, max time.Duration) time.Duration {
	if total <= 0 {
		return min
	}
	frac := float64(elapsed) / float64(total)
	if frac < 0 {
		frac = 0
	}
	scale := math.Log10(1 + 9*frac)
	return min + time.Duration(scale*float64(max-min))
}

type QuoteRecorderConfig struct {
	InputMint  string
	OutputMint string
	Amount     uint64
	// Duration bounds the recording. Zero records until ctx is done at MinInterval.
	Duration    time.Duration
	MinInterval time.Duration
	MaxInterval time.Duration
	SessionID   string
}

// QuoteRecorder samples one pair on a log-scale schedule and stores every quote.
type QuoteRecorder struct {
	cfg    QuoteRecorderConfig
	quotes domain.QuoteSource
	repo   domain.QuoteRepository
	clock  Clock
	logger *zap.Logger
	onSave func(*domain.QuoteRecord)
}

func NewQuoteRecorder(cfg QuoteRecorderConfig, quotes domain.QuoteSource, repo domain.QuoteRepository, logger *zap.Logger) (*QuoteRecorder, error) {
	if quotes == nil || repo == nil {
		return nil, fmt.Errorf("quote source and repository are required")
	}
	if cfg.Amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	if cfg.MaxInterval < cfg.MinInterval {
		cfg.MaxInterval = cfg.MinInterval
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuoteRecorder{
		cfg:    cfg,
		quotes: quotes,
		repo:   repo,
		clock:  SystemClock,
		logger: logger.With(zap.String("session", cfg.SessionID)),
	}, nil
}

func (r *QuoteRecorder) WithClock(c Clock) *QuoteRecorder {
	r.clock = c
	return r
}

// OnSave registers a callback invoked after every stored quote.
func (r *QuoteRecorder) OnSave(fn func(*domain.QuoteRecord)) *QuoteRecorder {
	r.onSave = fn
	return r
}

func (r *QuoteRecorder) SessionID() string { return r.cfg.SessionID }

// Run records until the duration elapses or ctx is done. Failed samples are
// logged and skipped.
func (r *QuoteRecorder) Run(ctx context.Context) error {
	start := r.clock.Now()
	r.logger.Info("Quote recorder started",
		zap.String("input", r.cfg.InputMint),
		zap.String("output", r.cfg.OutputMint),
		zap.Uint64("amount", r.cfg.Amount),
		zap.Duration("duration", r.cfg.Duration))

	for {
		elapsed := r.clock.Now().Sub(start)
		if r.cfg.Duration > 0 && elapsed >= r.cfg.Duration {
			r.logger.Info("Quote recorder finished", zap.Duration("elapsed", elapsed))
			return nil
		}

		r.sample(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		interval := r.cfg.MinInterval
		if r.cfg.Duration > 0 {
			interval = LogScaleInterval(r.clock.Now().Sub(start), r.cfg.Duration, r.cfg.MinInterval, r.cfg.MaxInterval)
		}
		if err := sleepCtx(ctx, r.clock, interval); err != nil {
			return err
		}
	}
}

func (r *QuoteRecorder) sample(ctx context.Context) {
	q, err := r.quotes.Quote(ctx, r.cfg.InputMint, r.cfg.OutputMint, r.cfg.Amount)
	if err != nil {
		r.logger.Warn("Quote sample failed", zap.Error(err))
		return
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = r.clock.Now()
	}
	rec := &domain.QuoteRecord{SessionID: r.cfg.SessionID, Quote: *q}
	if err := r.repo.SaveQuote(ctx, rec); err != nil {
		r.logger.Warn("Failed to store quote", zap.Error(err))
		return
	}
	r.logger.Debug("Quote recorded",
		zap.Uint64("in", q.InAmount),
		zap.Uint64("out", q.OutAmount),
		zap.Float64("price_impact_pct", q.PriceImpactPct))
	if r.onSave != nil {
		r.onSave(rec)
	}
}
