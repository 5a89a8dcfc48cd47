package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type SubState int

const (
	StateDisconnected SubState = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateStopped
)

func (s SubState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

type SubscriptionConfig struct {
	Accounts     []string
	Kind         domain.SubscriptionKind
	IdleTimeout  time.Duration
	MaxBackoff   time.Duration
	HistoryLimit int
	MergeTick    time.Duration
	CloseTimeout time.Duration
	// RecentCapacity bounds the per-account set used to drop re-delivered signatures.
	RecentCapacity int

	maxRetries int
}

func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	if c.Kind == "" {
		c.Kind = domain.KindLogs
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.MergeTick <= 0 {
		c.MergeTick = 50 * time.Millisecond
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 5 * time.Second
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = 256
	}
	return c
}

// SubscriptionObserver receives subscription activity, typically metrics.
type SubscriptionObserver interface {
	Reconnecting(account string, attempt int, backoff time.Duration)
	EventDelivered(account string, backfilled bool)
	BackfillSkipped(account string)
}

type nopSubscriptionObserver struct{}

func (nopSubscriptionObserver) Reconnecting(string, int, time.Duration) {}
func (nopSubscriptionObserver) EventDelivered(string, bool)            {}
func (nopSubscriptionObserver) BackfillSkipped(string)                 {}

// ReconnectBackoff returns min(2^retries seconds, max).
func ReconnectBackoff(retries int, max time.Duration) time.Duration {
	if retries < 0 {
		retries = 0
	}
	if retries > 30 {
		return max
	}
	d := time.Duration(1<<uint(retries)) * time.Second
	if d > max {
		return max
	}
	return d
}

// ReconnectingSubscription keeps one push subscription per account alive,
// backfills gaps after reconnects and merges all accounts into one stream.
type ReconnectingSubscription struct {
	cfg       SubscriptionConfig
	transport domain.EventTransport
	history   domain.SignatureHistory
	clock     Clock
	observer  SubscriptionObserver
	logger    *zap.Logger

	streams map[string]*accountStream
	order   []string
	out     chan domain.SignatureEvent

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errs    error
}

// NewReconnectingSubscription retries every account indefinitely.
func NewReconnectingSubscription(cfg SubscriptionConfig, transport domain.EventTransport, history domain.SignatureHistory, logger *zap.Logger) *ReconnectingSubscription {
	cfg.maxRetries = 0
	return newSubscription(cfg, transport, history, logger)
}

// NewBoundedSubscription gives up on an account after maxRetries failed
// sessions. Other accounts keep streaming.
func NewBoundedSubscription(cfg SubscriptionConfig, maxRetries int, transport domain.EventTransport, history domain.SignatureHistory, logger *zap.Logger) *ReconnectingSubscription {
	cfg.maxRetries = maxRetries
	return newSubscription(cfg, transport, history, logger)
}

func newSubscription(cfg SubscriptionConfig, transport domain.EventTransport, history domain.SignatureHistory, logger *zap.Logger) *ReconnectingSubscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	s := &ReconnectingSubscription{
		cfg:       cfg,
		transport: transport,
		history:   history,
		clock:     SystemClock,
		observer:  nopSubscriptionObserver{},
		logger:    logger,
		streams:   make(map[string]*accountStream),
		out:       make(chan domain.SignatureEvent, 64),
	}
	for _, acct := range cfg.Accounts {
		if _, dup := s.streams[acct]; dup || acct == "" {
			continue
		}
		s.streams[acct] = newAccountStream(acct, cfg.RecentCapacity)
		s.order = append(s.order, acct)
	}
	return s
}

func (s *ReconnectingSubscription) WithClock(c Clock) *ReconnectingSubscription {
	s.clock = c
	return s
}

func (s *ReconnectingSubscription) WithObserver(o SubscriptionObserver) *ReconnectingSubscription {
	if o != nil {
		s.observer = o
	}
	return s
}

// Start spawns one task per account plus the merge task.
func (s *ReconnectingSubscription) Start(ctx context.Context) error {
	if len(s.order) == 0 {
		return fmt.Errorf("no accounts to watch")
	}
	if s.transport == nil {
		return fmt.Errorf("event transport is required")
	}
	if s.cfg.Kind != domain.KindLogs && s.cfg.Kind != domain.KindAccount {
		return fmt.Errorf("unknown subscription kind %q", s.cfg.Kind)
	}
	if s.cfg.Kind == domain.KindAccount && s.history == nil {
		return fmt.Errorf("account subscriptions need a signature history source")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("subscription already started")
	}
	if s.closed {
		return fmt.Errorf("subscription closed")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, acct := range s.order {
		stream := s.streams[acct]
		s.spawn(func() error { return s.runAccount(runCtx, stream) })
	}
	s.spawn(func() error { s.merge(runCtx); return nil })

	s.logger.Info("Wallet subscription started",
		zap.Strings("accounts", s.order),
		zap.String("kind", string(s.cfg.Kind)))
	return nil
}

// Events is the merged stream. It is closed after Close.
func (s *ReconnectingSubscription) Events() <-chan domain.SignatureEvent {
	return s.out
}

// State returns the connection state of account.
func (s *ReconnectingSubscription) State(account string) SubState {
	if st, ok := s.streams[account]; ok {
		return st.getState()
	}
	return StateStopped
}

// LastSeen returns the newest signature observed for account.
func (s *ReconnectingSubscription) LastSeen(account string) string {
	if st, ok := s.streams[account]; ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.lastSeen
	}
	return ""
}

// Close cancels all tasks and waits for them up to CloseTimeout.
// Cancellation errors are dropped; anything else is returned.
func (s *ReconnectingSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		close(s.out)
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.CloseTimeout):
		return fmt.Errorf("wallet subscription close timed out after %s", s.cfg.CloseTimeout)
	}

	s.logger.Info("Closed all wallet listeners")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errs
}

func (s *ReconnectingSubscription) spawn(fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscription task panicked: %v", r)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				s.mu.Lock()
				s.errs = multierr.Append(s.errs, err)
				s.mu.Unlock()
			}
		}()
		err = fn()
	}()
}

func (s *ReconnectingSubscription) runAccount(ctx context.Context, st *accountStream) error {
	log := s.logger.With(zap.String("account", st.account))
	retries := 0

	for {
		if ctx.Err() != nil {
			st.setState(StateStopped)
			return nil
		}

		st.setState(StateConnecting)
		subscribed, err := s.session(ctx, st, log)
		st.setState(StateDisconnected)
		if ctx.Err() != nil {
			st.setState(StateStopped)
			return nil
		}
		if subscribed {
			retries = 0
		}
		if errors.Is(err, domain.ErrIdleTimeout) {
			log.Warn("Subscription idle, reconnecting", zap.Duration("watchdog", s.cfg.IdleTimeout))
		} else {
			log.Warn("Subscription dropped", zap.Error(err))
		}

		retries++
		if s.cfg.maxRetries > 0 && retries >= s.cfg.maxRetries {
			log.Warn("Reconnect budget exhausted, giving up on account", zap.Int("retries", retries))
			st.setState(StateStopped)
			return nil
		}

		backoff := ReconnectBackoff(retries, s.cfg.MaxBackoff)
		s.observer.Reconnecting(st.account, retries, backoff)
		log.Info("Reconnecting", zap.Duration("backoff", backoff), zap.Int("retry", retries))
		if err := sleepCtx(ctx, s.clock, backoff); err != nil {
			st.setState(StateStopped)
			return nil
		}
	}
}

// session runs one connection until it fails. subscribed reports whether the
// subscription was accepted; a quiet account that idles out still counts as healthy.
func (s *ReconnectingSubscription) session(ctx context.Context, st *accountStream, log *zap.Logger) (subscribed bool, err error) {
	conn, err := s.transport.Dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.Subscribe(ctx, s.cfg.Kind, st.account); err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	st.setState(StateSubscribed)
	log.Info("Subscribed to wallet activity", zap.String("kind", string(s.cfg.Kind)))

	if st.backfillReady() {
		s.backfill(ctx, st, log)
	}

	for {
		n, err := conn.Receive(ctx, s.cfg.IdleTimeout)
		if err != nil {
			return true, fmt.Errorf("receive: %w", err)
		}
		st.setState(StateStreaming)

		sig := n.Signature
		if sig == "" && s.cfg.Kind == domain.KindAccount {
			sig, err = s.newestSignature(ctx, st.account)
			if err != nil {
				log.Warn("Failed to resolve signature for account change", zap.Error(err))
				continue
			}
		}
		if sig == "" || sig == domain.SentinelSignature {
			log.Debug("Ignored notification", zap.Uint64("slot", n.Slot))
			continue
		}
		if s.deliver(st, sig, false) {
			st.markLive(sig)
		}
	}
}

func (s *ReconnectingSubscription) newestSignature(ctx context.Context, account string) (string, error) {
	infos, err := s.history.RecentSignatures(ctx, account, "", 1)
	if err != nil {
		return "", err
	}
	if len(infos) == 0 {
		return "", nil
	}
	return infos[0].Signature, nil
}

// backfill emits signatures newer than the last seen one, oldest first. A
// full window without the anchor means the gap is too large; it is skipped.
func (s *ReconnectingSubscription) backfill(ctx context.Context, st *accountStream, log *zap.Logger) {
	if s.history == nil {
		return
	}
	anchor := st.anchor()
	infos, err := s.history.RecentSignatures(ctx, st.account, anchor, s.cfg.HistoryLimit)
	if err != nil {
		log.Warn("Backfill query failed, resuming live only", zap.Error(err))
		return
	}

	missed := make([]string, 0, len(infos))
	found := false
	for _, info := range infos {
		if info.Signature == anchor {
			found = true
			continue
		}
		missed = append(missed, info.Signature)
	}
	if !found && len(infos) >= s.cfg.HistoryLimit {
		log.Warn("Skipping backfill",
			zap.Error(domain.ErrSubscriptionDesync),
			zap.String("last_seen", anchor),
			zap.Int("window", s.cfg.HistoryLimit))
		s.observer.BackfillSkipped(st.account)
		return
	}

	emitted := 0
	for i := len(missed) - 1; i >= 0; i-- {
		sig := missed[i]
		if sig == "" || sig == domain.SentinelSignature {
			continue
		}
		if s.deliver(st, sig, true) {
			st.markLive(sig)
			emitted++
		}
	}
	if emitted > 0 {
		log.Info("Backfilled missed signatures", zap.Int("count", emitted))
	}
}

func (s *ReconnectingSubscription) deliver(st *accountStream, sig string, backfilled bool) bool {
	ev := domain.SignatureEvent{
		Account:    st.account,
		Signature:  sig,
		Backfilled: backfilled,
		ReceivedAt: s.clock.Now(),
	}
	if !st.push(ev) {
		return false
	}
	s.observer.EventDelivered(st.account, backfilled)
	return true
}

// merge drains the account buffers round-robin on a fixed tick.
func (s *ReconnectingSubscription) merge(ctx context.Context) {
	defer close(s.out)
	ticker := time.NewTicker(s.cfg.MergeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			progressed := false
			for _, acct := range s.order {
				ev, ok := s.streams[acct].pop()
				if !ok {
					continue
				}
				progressed = true
				select {
				case s.out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if !progressed {
				break
			}
		}
	}
}

// accountStream is the per-account gap tracking state and event buffer.
// Only the account's task writes it; the merge task pops from buf.
type accountStream struct {
	account string

	mu              sync.Mutex
	state           SubState
	lastSeen        string
	backfillEnabled bool
	buf             []domain.SignatureEvent
	recent          map[string]struct{}
	ring            []string
	ringPos         int
}

func newAccountStream(account string, capacity int) *accountStream {
	return &accountStream{
		account: account,
		recent:  make(map[string]struct{}, capacity),
		ring:    make([]string, capacity),
	}
}

func (a *accountStream) setState(st SubState) {
	a.mu.Lock()
	a.state = st
	a.mu.Unlock()
}

func (a *accountStream) getState() SubState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *accountStream) backfillReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.backfillEnabled && a.lastSeen != ""
}

func (a *accountStream) anchor() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

func (a *accountStream) markLive(sig string) {
	a.mu.Lock()
	a.lastSeen = sig
	a.backfillEnabled = true
	a.mu.Unlock()
}

// push buffers ev unless its signature was delivered recently.
func (a *accountStream) push(ev domain.SignatureEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.recent[ev.Signature]; seen {
		return false
	}
	if old := a.ring[a.ringPos]; old != "" {
		delete(a.recent, old)
	}
	a.ring[a.ringPos] = ev.Signature
	a.ringPos = (a.ringPos + 1) % len(a.ring)
	a.recent[ev.Signature] = struct{}{}
	a.buf = append(a.buf, ev)
	return true
}

func (a *accountStream) pop() (domain.SignatureEvent, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return domain.SignatureEvent{}, false
	}
	ev := a.buf[0]
	a.buf[0] = domain.SignatureEvent{}
	a.buf = a.buf[1:]
	return ev, true
}
