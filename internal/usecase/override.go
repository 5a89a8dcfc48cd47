package usecase

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
	"unicode"

	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

// OverrideSink receives operator commands.
type OverrideSink interface {
	Post(cmd domain.Command)
}

// InputAdapter produces operator commands into a sink until ctx is done.
type InputAdapter interface {
	Run(ctx context.Context, sink OverrideSink) error
}

// OverrideMailbox is a single-slot, latest-wins mailbox. Post may be called
// from any goroutine; Take is meant for the poller.
type OverrideMailbox struct {
	mu      sync.Mutex
	pending domain.Command
	notify  chan struct{}
	logger  *zap.Logger
}

func NewOverrideMailbox(logger *zap.Logger) *OverrideMailbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverrideMailbox{
		notify: make(chan struct{}, 1),
		logger: logger,
	}
}

// Post overwrites any unread command.
func (m *OverrideMailbox) Post(cmd domain.Command) {
	m.mu.Lock()
	prev := m.pending
	m.pending = cmd
	m.mu.Unlock()

	if prev != "" {
		m.logger.Info("Override replaced unread command", zap.String("dropped", string(prev)), zap.String("command", string(cmd)))
	} else {
		m.logger.Info("Override set", zap.String("command", string(cmd)))
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Take reads and clears the pending command.
func (m *OverrideMailbox) Take() (domain.Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cmd := m.pending
	m.pending = ""
	return cmd, cmd != ""
}

// Notify fires after a Post. It may fire once for a command already taken.
func (m *OverrideMailbox) Notify() <-chan struct{} {
	return m.notify
}

// DefaultKeyMap maps h -> sell_half and a -> sell_all.
func DefaultKeyMap() map[rune]domain.Command {
	return map[rune]domain.Command{
		'h': domain.CommandSellHalf,
		'a': domain.CommandSellAll,
	}
}

// KeyInput turns single key presses read from r into override commands.
// Keys are matched case-insensitively; unmapped keys are ignored.
type KeyInput struct {
	r      io.Reader
	keys   map[rune]domain.Command
	logger *zap.Logger
}

func NewKeyInput(r io.Reader, keys map[rune]domain.Command, logger *zap.Logger) *KeyInput {
	if keys == nil {
		keys = DefaultKeyMap()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyInput{r: r, keys: keys, logger: logger}
}

// Run returns nil on EOF or when ctx is cancelled. The blocking read runs on
// its own goroutine and only finishes when the reader does.
func (k *KeyInput) Run(ctx context.Context, sink OverrideSink) error {
	runes := make(chan rune)
	readErr := make(chan error, 1)

	go func() {
		br := bufio.NewReader(k.r)
		for {
			r, _, err := br.ReadRune()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case runes <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case r := <-runes:
			cmd, ok := k.keys[unicode.ToLower(r)]
			if !ok {
				continue
			}
			k.logger.Info("Key override", zap.String("key", string(r)), zap.String("command", string(cmd)))
			sink.Post(cmd)
		}
	}
}
