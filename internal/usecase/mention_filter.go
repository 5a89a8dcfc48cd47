package usecase

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/vitos/dex_exit_trader/internal/domain"
	"go.uber.org/zap"
)

var base58Candidate = regexp.MustCompile(`\b[1-9A-HJ-NP-Za-km-z]{32,44}\b`)

// ExtractAddresses returns the distinct valid public keys found in text, in
// order of first appearance.
func ExtractAddresses(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range base58Candidate.FindAllString(text, -1) {
		if _, dup := seen[m]; dup {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(m); err != nil {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// MentionFilter remembers which keys were already observed.
type MentionFilter struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	repo   domain.MentionRepository
	logger *zap.Logger
}

func NewMentionFilter(repo domain.MentionRepository, logger *zap.Logger) *MentionFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MentionFilter{
		seen:   make(map[string]time.Time),
		repo:   repo,
		logger: logger,
	}
}

// Restore preloads the seen set from the repository.
func (f *MentionFilter) Restore(ctx context.Context) error {
	if f.repo == nil {
		return nil
	}
	stored, err := f.repo.ListMentions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mentions: %w", err)
	}
	f.mu.Lock()
	for k, at := range stored {
		f.seen[k] = at
	}
	f.mu.Unlock()
	f.logger.Info("Restored mention memory", zap.Int("count", len(stored)))
	return nil
}

// Observe reports whether key is new and records it.
func (f *MentionFilter) Observe(key string) bool {
	return f.observeAt(key, time.Now())
}

func (f *MentionFilter) observeAt(key string, at time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[key]; ok {
		return false
	}
	f.seen[key] = at
	return true
}

// Len returns the number of remembered keys.
func (f *MentionFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// ProcessText extracts addresses from a message and calls handle once for each
// address never seen before. New mentions are persisted when a repository is set.
func (f *MentionFilter) ProcessText(ctx context.Context, text string, at time.Time, handle func(ctx context.Context, token string) error) error {
	for _, token := range ExtractAddresses(text) {
		if !f.observeAt(token, at) {
			f.logger.Info("Repeat mention", zap.String("token", token), zap.Time("at", at))
			continue
		}
		f.logger.Info("New token mentioned", zap.String("token", token), zap.Time("at", at))
		if f.repo != nil {
			if _, err := f.repo.SaveMention(ctx, token, at); err != nil {
				f.logger.Warn("Failed to persist mention", zap.String("token", token), zap.Error(err))
			}
		}
		if handle != nil {
			if err := handle(ctx, token); err != nil {
				return fmt.Errorf("handle mention %s: %w", token, err)
			}
		}
	}
	return nil
}

// TxHandler feeds a transaction's log messages through the filter. Addresses
// in ignore and the programs the transaction invoked are never handed on.
func (f *MentionFilter) TxHandler(ignore []string, handle func(ctx context.Context, token string) error) TxHandler {
	return func(ctx context.Context, ev domain.SignatureEvent, tx *domain.TransactionInfo) error {
		at := ev.ReceivedAt
		if at.IsZero() {
			at = time.Now()
		}
		return f.ProcessText(ctx, strings.Join(tx.LogMessages, "\n"), at, func(ctx context.Context, token string) error {
			if token == ev.Account || slices.Contains(ignore, token) || slices.Contains(tx.ProgramIDs, token) {
				return nil
			}
			return handle(ctx, token)
		})
	}
}
