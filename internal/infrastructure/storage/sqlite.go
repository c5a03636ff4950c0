package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/crypto_trend_engine/internal/domain"
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
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			order_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			size REAL NOT NULL,
			price REAL NOT NULL,
			realized_pnl REAL NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// TradeRepository Implementation

// SaveTrade journals one terminal order outcome. The order ID is the
// primary key, so replaying an outcome after a crash is a no-op.
func (s *SQLiteStore) SaveTrade(ctx context.Context, rec *domain.TradeRecord) error {
	query := `INSERT OR IGNORE INTO trades (order_id, strategy, symbol, side, size, price, realized_pnl, state, reason, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		rec.OrderID, rec.Strategy, rec.Symbol, string(rec.Side), rec.Size, rec.Price,
		rec.RealizedPnL, string(rec.State), rec.Reason, rec.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `SELECT order_id, strategy, symbol, side, size, price, realized_pnl, state, reason, created_at
			  FROM trades ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var side, state string
		if err := rows.Scan(&rec.OrderID, &rec.Strategy, &rec.Symbol, &side, &rec.Size, &rec.Price,
			&rec.RealizedPnL, &state, &rec.Reason, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Side = domain.Side(side)
		rec.State = domain.OrderState(state)
		trades = append(trades, &rec)
	}
	return trades, rows.Err()
}

// DailyStats sums the filled-trade count and realized losses for one UTC
// day. The RiskManager recovers its daily budget from this after a restart.
func (s *SQLiteStore) DailyStats(ctx context.Context, day time.Time) (int, float64, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := `SELECT COUNT(*), COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN -realized_pnl ELSE 0 END), 0)
			  FROM trades WHERE state = ? AND created_at >= ? AND created_at < ?`
	row := s.db.QueryRowContext(ctx, query, string(domain.OrderFilled), start, end)

	var trades int
	var realizedLoss float64
	if err := row.Scan(&trades, &realizedLoss); err != nil {
		return 0, 0, err
	}
	return trades, realizedLoss, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
