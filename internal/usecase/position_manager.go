package usecase

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MinFreeBalance is the smallest free balance (in SOL) that still allows a new position.
var MinFreeBalance = decimal.RequireFromString("0.05")

// PositionManager splits a fixed budget across a bounded number of concurrent
// positions, independent of what a copied wallet does.
type PositionManager struct {
	mu             sync.Mutex
	free           decimal.Decimal
	maxPositions   int
	maxPerPosition decimal.Decimal
	positions      map[string]decimal.Decimal
	logger         *zap.Logger
}

func NewPositionManager(initial decimal.Decimal, maxPositions int, maxPerPosition decimal.Decimal, logger *zap.Logger) (*PositionManager, error) {
	if maxPositions <= 0 {
		return nil, fmt.Errorf("max positions must be positive")
	}
	if !maxPerPosition.IsPositive() {
		return nil, fmt.Errorf("max per position must be positive")
	}
	if initial.IsNegative() {
		return nil, fmt.Errorf("initial balance must not be negative")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Position manager initialized",
		zap.String("initial", initial.String()),
		zap.Int("slots", maxPositions),
		zap.String("per_position_limit", maxPerPosition.String()))
	return &PositionManager{
		free:           initial,
		maxPositions:   maxPositions,
		maxPerPosition: maxPerPosition,
		positions:      make(map[string]decimal.Decimal),
		logger:         logger,
	}, nil
}

func (m *PositionManager) canTrade() bool {
	return len(m.positions) < m.maxPositions && m.free.GreaterThanOrEqual(MinFreeBalance)
}

// CanTrade reports whether a slot and enough free balance are available.
func (m *PositionManager) CanTrade() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canTrade()
}

// Allocate reserves min(free/slotsLeft, maxPerPosition) for token. It returns
// false when the token is already held or no capacity is left.
func (m *PositionManager) Allocate(token string) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[token]; held || !m.canTrade() {
		m.logger.Info("Skipping allocation", zap.String("token", token), zap.Bool("held", held))
		return decimal.Zero, false
	}

	slotsLeft := decimal.NewFromInt(int64(m.maxPositions - len(m.positions)))
	alloc := decimal.Min(m.free.Div(slotsLeft), m.maxPerPosition)
	m.positions[token] = alloc
	m.free = m.free.Sub(alloc)
	m.logger.Info("Allocated position", zap.String("token", token), zap.String("amount", alloc.String()))
	return alloc, true
}

// Release frees the slot for token and credits what the exit returned.
func (m *PositionManager) Release(token string, returned decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[token]; !held {
		m.logger.Info("Token not held, skipping release", zap.String("token", token))
		return false
	}
	delete(m.positions, token)
	m.free = m.free.Add(returned)
	m.logger.Info("Released position", zap.String("token", token), zap.String("returned", returned.String()))
	return true
}

func (m *PositionManager) Free() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free
}

func (m *PositionManager) Open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions)
}
