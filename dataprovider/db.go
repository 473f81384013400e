// File: dataprovider/db.go
package dataprovider

import (
	"Tradewarden/pkg/ledger"
	"Tradewarden/utilities"
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCache persists the closed-trade ledger and a rolling candle cache.
type SQLiteCache struct {
	db *sql.DB
}

var _ ledger.Store = (*SQLiteCache)(nil)

func NewSQLiteCache(cfg utilities.DatabaseConfig) (*SQLiteCache, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("sqlite: db_path is empty")
	}
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	schema := `
	CREATE TABLE IF NOT EXISTS ohlcv_bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		close_time INTEGER NOT NULL DEFAULT 0,
		UNIQUE(symbol, interval, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_symbol_interval_timestamp ON ohlcv_bars (symbol, interval, timestamp);

	CREATE TABLE IF NOT EXISTS closed_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		pnl REAL NOT NULL,
		percentage_gain REAL NOT NULL,
		take_profit_price REAL NOT NULL,
		stop_loss_price REAL NOT NULL,
		trade_duration_minutes REAL NOT NULL,
		result TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteCache{db: db}, nil
}

// --- Closed trade ledger ---

// AppendClosedTrade inserts one ledger row. Rows are never updated.
func (s *SQLiteCache) AppendClosedTrade(ctx context.Context, t ledger.ClosedTrade) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO closed_trades (order_id, timestamp, symbol, entry_price, exit_price, quantity, pnl, percentage_gain, take_profit_price, stop_loss_price, trade_duration_minutes, result) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.Timestamp.UnixMilli(), t.Symbol, t.EntryPrice, t.ExitPrice, t.Quantity, t.PnL, t.PercentageGain,
		t.TakeProfitPrice, t.StopLossPrice, t.TradeDurationMinutes, t.Result)
	if err != nil {
		return fmt.Errorf("failed to insert closed trade %s: %w", t.OrderID, err)
	}
	return nil
}

// ClosedTrades returns every ledger row in insertion order.
func (s *SQLiteCache) ClosedTrades(ctx context.Context) ([]ledger.ClosedTrade, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT order_id, timestamp, symbol, entry_price, exit_price, quantity, pnl, percentage_gain, take_profit_price, stop_loss_price, trade_duration_minutes, result FROM closed_trades ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []ledger.ClosedTrade
	for rows.Next() {
		var t ledger.ClosedTrade
		var ts int64
		if err := rows.Scan(&t.OrderID, &ts, &t.Symbol, &t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.PnL, &t.PercentageGain,
			&t.TakeProfitPrice, &t.StopLossPrice, &t.TradeDurationMinutes, &t.Result); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade row: %w", err)
		}
		t.Timestamp = time.UnixMilli(ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- OHLCV Bar Caching ---
func (s *SQLiteCache) SaveBar(ctx context.Context, symbol, interval string, bar utilities.OHLCVBar) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO ohlcv_bars (symbol, interval, timestamp, open, high, low, close, volume, close_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		symbol, interval, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.CloseTime)
	return err
}

// SaveBars stores bars in one transaction.
func (s *SQLiteCache) SaveBars(ctx context.Context, symbol, interval string, bars []utilities.OHLCVBar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO ohlcv_bars (symbol, interval, timestamp, open, high, low, close, volume, close_time) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, bar := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, interval, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.CloseTime); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to cache bar %d: %w", bar.Timestamp, err)
		}
	}
	return tx.Commit()
}

// GetBars returns up to limit of the most recent cached bars, oldest first.
func (s *SQLiteCache) GetBars(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, open, high, low, close, volume, close_time FROM ohlcv_bars WHERE symbol=? AND interval=? ORDER BY timestamp DESC LIMIT ?`,
		symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bars []utilities.OHLCVBar
	for rows.Next() {
		var bar utilities.OHLCVBar
		if err := rows.Scan(&bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.CloseTime); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	utilities.SortBarsByTimestamp(bars)
	return bars, nil
}

// --- Cleanup ---
func (s *SQLiteCache) CleanupOldBars(ctx context.Context, symbol string, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM ohlcv_bars WHERE symbol=? AND timestamp < ?`, symbol, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartScheduledCleanup prunes bars older than retention every interval until ctx is done.
func (s *SQLiteCache) StartScheduledCleanup(ctx context.Context, interval, retention time.Duration, symbol string, logger *utilities.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CleanupOldBars(ctx, symbol, time.Now().Add(-retention))
				if err != nil {
					logger.LogWarn("Cache: scheduled cleanup for %s failed: %v", symbol, err)
				} else if n > 0 {
					logger.LogDebug("Cache: pruned %d bars for %s", n, symbol)
				}
			}
		}
	}()
}

func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
