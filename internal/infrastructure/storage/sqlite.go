package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/dex_exit_trader/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Raw token amounts can exceed int64, so they are stored as decimal text.
func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			input_mint TEXT NOT NULL,
			output_mint TEXT NOT NULL,
			in_amount TEXT NOT NULL,
			out_amount TEXT NOT NULL,
			price_impact_pct REAL NOT NULL DEFAULT 0,
			quoted_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_session ON quotes(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			input_mint TEXT NOT NULL,
			output_mint TEXT NOT NULL,
			in_amount TEXT NOT NULL,
			out_amount TEXT NOT NULL,
			signature TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created ON trades(created_at);`,
		`CREATE TABLE IF NOT EXISTS mentions (
			key TEXT PRIMARY KEY,
			seen_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad stored amount %q: %w", s, err)
	}
	return v, nil
}

// QuoteRepository Implementation

func (s *SQLiteStore) SaveQuote(ctx context.Context, rec *domain.QuoteRecord) error {
	query := `INSERT INTO quotes (session_id, input_mint, output_mint, in_amount, out_amount, price_impact_pct, quoted_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`
	q := rec.Quote
	res, err := s.db.ExecContext(ctx, query,
		rec.SessionID, q.InputMint, q.OutputMint, formatAmount(q.InAmount), formatAmount(q.OutAmount), q.PriceImpactPct, q.Timestamp.UTC())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

// ListQuotes returns a session's quotes oldest first. limit <= 0 returns all.
func (s *SQLiteStore) ListQuotes(ctx context.Context, sessionID string, limit int) ([]*domain.QuoteRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT id, session_id, input_mint, output_mint, in_amount, out_amount, price_impact_pct, quoted_at
			  FROM quotes WHERE session_id = ? ORDER BY id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.QuoteRecord
	for rows.Next() {
		var (
			r       domain.QuoteRecord
			in, amt string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Quote.InputMint, &r.Quote.OutputMint, &in, &amt, &r.Quote.PriceImpactPct, &r.Quote.Timestamp); err != nil {
			return nil, err
		}
		if r.Quote.InAmount, err = parseAmount(in); err != nil {
			return nil, err
		}
		if r.Quote.OutAmount, err = parseAmount(amt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// LatestQuoteSession returns the session of the most recent quote, or "" when
// nothing was recorded.
func (s *SQLiteStore) LatestQuoteSession(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT session_id FROM quotes ORDER BY id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, t *domain.TradeRecord) error {
	query := `INSERT INTO trades (id, session_id, kind, input_mint, output_mint, in_amount, out_amount, signature, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.SessionID, t.Kind, t.InputMint, t.OutputMint,
		formatAmount(t.InAmount), formatAmount(t.OutAmount), t.Signature, t.Reason, t.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT id, session_id, kind, input_mint, output_mint, in_amount, out_amount, signature, reason, created_at
			  FROM trades ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var (
			t       domain.TradeRecord
			in, out string
		)
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Kind, &t.InputMint, &t.OutputMint, &in, &out, &t.Signature, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		if t.InAmount, err = parseAmount(in); err != nil {
			return nil, err
		}
		if t.OutAmount, err = parseAmount(out); err != nil {
			return nil, err
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

// MentionRepository Implementation

// SaveMention stores key if absent and reports whether it was new.
func (s *SQLiteStore) SaveMention(ctx context.Context, key string, seenAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO mentions (key, seen_at) VALUES (?, ?)`, key, seenAt.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListMentions(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, seen_at FROM mentions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			key string
			at  time.Time
		)
		if err := rows.Scan(&key, &at); err != nil {
			return nil, err
		}
		out[key] = at
	}
	return out, rows.Err()
}
