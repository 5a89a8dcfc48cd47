package usecase

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// DefaultProbeAmount is the nominal input size used for exit quotes. Only the
// ratio matters, so the probe keeps trade size out of the decision.
const DefaultProbeAmount uint64 = 1_000_000

const DefaultMaxQuoteFailures = 5

type ExitPollerConfig struct {
	Rules         domain.ExitRules
	InputMint     string
	OutputMint    string
	ReferenceMint string
	ProbeAmount   uint64
	// MaxQuoteFailures consecutive failed fetches are surfaced to the caller.
	// Zero or less never surfaces them.
	MaxQuoteFailures int
	RateLimitBackoff time.Duration
	// StartedAt anchors max_duration. Zero means construction time.
	StartedAt time.Time
}

func (c ExitPollerConfig) withDefaults() ExitPollerConfig {
	if c.ProbeAmount == 0 {
		c.ProbeAmount = DefaultProbeAmount
	}
	if c.ReferenceMint == "" {
		c.ReferenceMint = domain.MintSOL
	}
	if c.RateLimitBackoff <= 0 {
		c.RateLimitBackoff = 2 * c.Rules.PollingInterval
	}
	return c
}

// PollSample is the last quote-driven observation of the poller.
type PollSample struct {
	Elapsed   time.Duration
	PctChange float64
	Quote     *domain.Quote
}

// PollerObserver receives poller activity, typically metrics.
type PollerObserver interface {
	QuoteFetched(err error)
	EventEmitted(cmd domain.Command, source domain.EventSource)
}

type nopPollerObserver struct{}

func (nopPollerObserver) QuoteFetched(error)                               {}
func (nopPollerObserver) EventEmitted(domain.Command, domain.EventSource) {}

// ExitPoller turns a stream of quotes and operator overrides into sell
// commands for one position. It is single-consumer and not restartable: after
// the terminal sell_all, Next returns domain.ErrPollerDone.
type ExitPoller struct {
	cfg       ExitPollerConfig
	quotes    domain.QuoteSource
	entry     *domain.Quote
	overrides *OverrideMailbox
	clock     Clock
	observer  PollerObserver
	logger    *zap.Logger

	start      time.Time
	soldHalf   bool
	done       bool
	sleepFor   time.Duration
	stashed    domain.Command
	failures   int
	last       PollSample
	lastSource domain.EventSource
}

func NewExitPoller(cfg ExitPollerConfig, quotes domain.QuoteSource, entry *domain.Quote, logger *zap.Logger) (*ExitPoller, error) {
	if quotes == nil {
		return nil, fmt.Errorf("quote source is required")
	}
	if entry == nil {
		return nil, fmt.Errorf("entry quote is required")
	}
	if cfg.InputMint == "" || cfg.OutputMint == "" {
		return nil, fmt.Errorf("input and output mints are required")
	}
	if cfg.Rules.PollingInterval <= 0 {
		return nil, fmt.Errorf("polling interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &ExitPoller{
		cfg:      cfg.withDefaults(),
		quotes:   quotes,
		entry:    entry,
		clock:    SystemClock,
		observer: nopPollerObserver{},
		logger:   logger,
	}
	p.start = cfg.StartedAt
	if p.start.IsZero() {
		p.start = p.clock.Now()
	}
	return p, nil
}

// WithOverrides attaches the operator mailbox checked before every sample.
func (p *ExitPoller) WithOverrides(m *OverrideMailbox) *ExitPoller {
	p.overrides = m
	return p
}

// WithClock replaces the clock; the start time is re-anchored unless it was configured.
func (p *ExitPoller) WithClock(c Clock) *ExitPoller {
	p.clock = c
	if p.cfg.StartedAt.IsZero() {
		p.start = c.Now()
	}
	return p
}

func (p *ExitPoller) WithObserver(o PollerObserver) *ExitPoller {
	if o != nil {
		p.observer = o
	}
	return p
}

// SoldHalf reports whether the half-exit rule has fired.
func (p *ExitPoller) SoldHalf() bool { return p.soldHalf }

// ReleaseHalf clears the half-exit latch after the sell it triggered did not
// go through. The rule is re-evaluated no sooner than the next polling tick.
func (p *ExitPoller) ReleaseHalf() {
	if !p.soldHalf {
		return
	}
	p.soldHalf = false
	p.sleepFor = p.cfg.Rules.PollingInterval
}

// LastSample returns the most recent quote-driven sample.
func (p *ExitPoller) LastSample() PollSample { return p.last }

// LastSource reports what produced the most recent command.
func (p *ExitPoller) LastSource() domain.EventSource { return p.lastSource }

// Done reports whether the terminal command has been returned.
func (p *ExitPoller) Done() bool { return p.done }

// Next blocks until the next control command. Quote failures are logged and
// retried on the next tick; after MaxQuoteFailures consecutive failures the
// last one is returned and the poller remains usable.
func (p *ExitPoller) Next(ctx context.Context) (domain.Command, error) {
	if p.done {
		return "", domain.ErrPollerDone
	}

	for {
		if cmd, ok := p.takeOverride(); ok {
			return p.emit(cmd, domain.SourceManual), nil
		}

		if p.sleepFor > 0 {
			d := p.sleepFor
			p.sleepFor = 0
			if err := p.wait(ctx, d); err != nil {
				return "", err
			}
			continue
		}

		elapsed := p.clock.Now().Sub(p.start)
		q, err := p.quotes.Quote(ctx, p.cfg.InputMint, p.cfg.OutputMint, p.cfg.ProbeAmount)
		p.observer.QuoteFetched(err)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if cmd, surfaced := p.handleQuoteFailure(elapsed, err); cmd != "" || surfaced != nil {
				return cmd, surfaced
			}
			continue
		}

		// an unusable quote counts as a failed tick
		pct, err := PercentChange(p.entry, q, p.cfg.ReferenceMint)
		if err != nil {
			if cmd, surfaced := p.handleQuoteFailure(elapsed, fmt.Errorf("percent change: %w", err)); cmd != "" || surfaced != nil {
				return cmd, surfaced
			}
			continue
		}
		p.failures = 0
		p.last = PollSample{Elapsed: elapsed, PctChange: pct, Quote: q}

		p.logger.Info("Exit poll sample",
			zap.Duration("elapsed", elapsed.Round(10*time.Millisecond)),
			zap.Float64("pct_change", pct),
			zap.Bool("sold_half", p.soldHalf))

		switch Evaluate(p.cfg.Rules, elapsed, pct, p.soldHalf) {
		case domain.DecisionSellHalf:
			p.soldHalf = true
			return p.emit(domain.CommandSellHalf, domain.SourceRule), nil
		case domain.DecisionSellAll:
			return p.emit(domain.CommandSellAll, domain.SourceRule), nil
		default:
			p.sleepFor = p.cfg.Rules.PollingInterval
		}
	}
}

// Events adapts Next to a range-over-func sequence. Errors are yielded and
// iteration continues unless ctx is done.
func (p *ExitPoller) Events(ctx context.Context) iter.Seq2[domain.Command, error] {
	return func(yield func(domain.Command, error) bool) {
		for {
			cmd, err := p.Next(ctx)
			if errors.Is(err, domain.ErrPollerDone) {
				return
			}
			if !yield(cmd, err) {
				return
			}
			if err != nil && ctx.Err() != nil {
				return
			}
		}
	}
}

func (p *ExitPoller) handleQuoteFailure(elapsed time.Duration, err error) (domain.Command, error) {
	p.failures++
	wait := p.cfg.Rules.PollingInterval
	fields := []zap.Field{zap.Error(err), zap.Int("consecutive", p.failures)}

	switch {
	case errors.Is(err, domain.ErrRateLimited):
		wait = p.cfg.RateLimitBackoff
		p.logger.Warn("Exit quote rate limited", append(fields, zap.Duration("backoff", wait))...)
	case errors.Is(err, domain.ErrNoRoute):
		p.logger.Warn("No quote route for pair", fields...)
	default:
		p.logger.Warn("Exit quote failed", fields...)
	}

	// a dead quote API must not hold the position past max duration
	if elapsed >= p.cfg.Rules.MaxDuration {
		p.logger.Warn("Max duration reached without a quote", zap.Duration("elapsed", elapsed))
		return p.emit(domain.CommandSellAll, domain.SourceRule), nil
	}

	p.sleepFor = wait
	if p.cfg.MaxQuoteFailures > 0 && p.failures >= p.cfg.MaxQuoteFailures {
		n := p.failures
		p.failures = 0
		return "", fmt.Errorf("exit quote failed %d consecutive times: %w", n, err)
	}
	return "", nil
}

func (p *ExitPoller) emit(cmd domain.Command, source domain.EventSource) domain.Command {
	if cmd.Terminal() {
		p.done = true
	}
	p.lastSource = source
	p.observer.EventEmitted(cmd, source)
	p.logger.Info("Exit event", zap.String("command", string(cmd)), zap.String("source", string(source)))
	return cmd
}

func (p *ExitPoller) takeOverride() (domain.Command, bool) {
	if p.stashed != "" {
		cmd := p.stashed
		p.stashed = ""
		return cmd, true
	}
	if p.overrides == nil {
		return "", false
	}
	return p.overrides.Take()
}

// wait sleeps for d, returning early when an override arrives.
func (p *ExitPoller) wait(ctx context.Context, d time.Duration) error {
	var notify <-chan struct{}
	if p.overrides != nil {
		notify = p.overrides.Notify()
	}
	timer := p.clock.After(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer:
			return nil
		case <-notify:
			if cmd, ok := p.overrides.Take(); ok {
				p.stashed = cmd
				return nil
			}
		}
	}
}
