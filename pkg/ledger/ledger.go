// Package ledger records closed trades and summarises their performance.
package ledger

import (
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Exit reasons, stored in the result column.
const (
	ResultTakeProfit = "TAKE_PROFIT"
	ResultStopLoss   = "STOP_LOSS"
	ResultManual     = "MANUAL"
)

// ClosedTrade is one immutable ledger row.
type ClosedTrade struct {
	OrderID              string    `json:"order_id"`
	Timestamp            time.Time `json:"timestamp"` // exit time
	Symbol               string    `json:"symbol"`
	EntryPrice           float64   `json:"entry_price"`
	ExitPrice            float64   `json:"exit_price"`
	Quantity             float64   `json:"quantity"`
	PnL                  float64   `json:"pnl"`
	PercentageGain       float64   `json:"percentage_gain"`
	TakeProfitPrice      float64   `json:"take_profit_price"`
	StopLossPrice        float64   `json:"stop_loss_price"`
	TradeDurationMinutes float64   `json:"trade_duration_minutes"`
	Result               string    `json:"result"`
}

// NewClosedTrade derives P&L and duration for a long position closed at exitPrice.
func NewClosedTrade(orderID, symbol string, entryPrice, exitPrice, quantity, takeProfit, stopLoss float64, entryTime, exitTime time.Time, result string) (ClosedTrade, error) {
	if orderID == "" || symbol == "" {
		return ClosedTrade{}, errors.New("closed trade: order id and symbol are required")
	}
	if entryPrice <= 0 || exitPrice <= 0 || quantity <= 0 {
		return ClosedTrade{}, fmt.Errorf("closed trade %s: entry %v, exit %v and quantity %v must be positive", orderID, entryPrice, exitPrice, quantity)
	}
	if result == "" {
		result = ResultManual
	}
	duration := exitTime.Sub(entryTime).Minutes()
	if duration < 0 {
		duration = 0
	}
	return ClosedTrade{
		OrderID:              orderID,
		Timestamp:            exitTime,
		Symbol:               symbol,
		EntryPrice:           entryPrice,
		ExitPrice:            exitPrice,
		Quantity:             quantity,
		PnL:                  (exitPrice - entryPrice) * quantity,
		PercentageGain:       (exitPrice - entryPrice) / entryPrice * 100,
		TakeProfitPrice:      takeProfit,
		StopLossPrice:        stopLoss,
		TradeDurationMinutes: duration,
		Result:               result,
	}, nil
}

// Store is the append-only persistence behind a Ledger.
type Store interface {
	AppendClosedTrade(ctx context.Context, t ClosedTrade) error
	ClosedTrades(ctx context.Context) ([]ClosedTrade, error)
}

// Ledger is the audit trail of closed trades.
type Ledger struct {
	store  Store
	logger *utilities.Logger
}

func New(store Store, logger *utilities.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Record appends t. A failure is logged and returned; it is never swallowed.
func (l *Ledger) Record(ctx context.Context, t ClosedTrade) error {
	if err := l.store.AppendClosedTrade(ctx, t); err != nil {
		l.logger.LogError("Ledger: failed to record closed trade %s (%s %s pnl=%.8f): %v", t.OrderID, t.Symbol, t.Result, t.PnL, err)
		return fmt.Errorf("record closed trade %s: %w", t.OrderID, err)
	}
	l.logger.LogInfo("Ledger: recorded %s %s exit=%.8f pnl=%.8f (%.2f%%)", t.Symbol, t.Result, t.ExitPrice, t.PnL, t.PercentageGain)
	return nil
}

// Trades returns every recorded trade, oldest first.
func (l *Ledger) Trades(ctx context.Context) ([]ClosedTrade, error) {
	return l.store.ClosedTrades(ctx)
}

// Summarize aggregates every recorded trade.
func (l *Ledger) Summarize(ctx context.Context) (Summary, error) {
	trades, err := l.store.ClosedTrades(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load closed trades: %w", err)
	}
	return Summarize(trades), nil
}

// Summary is the performance report over a set of closed trades.
// ProfitFactor is +Inf when there are wins and no losses.
type Summary struct {
	TotalTrades        int     `json:"total_trades" yaml:"total_trades"`
	WinningTrades      int     `json:"winning_trades" yaml:"winning_trades"`
	LosingTrades       int     `json:"losing_trades" yaml:"losing_trades"`
	WinRate            float64 `json:"win_rate" yaml:"win_rate"`
	TotalPnL           float64 `json:"total_pnl" yaml:"total_pnl"`
	AvgWin             float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss            float64 `json:"avg_loss" yaml:"avg_loss"`
	TakeProfitTrades   int     `json:"take_profit_trades" yaml:"take_profit_trades"`
	StopLossTrades     int     `json:"stop_loss_trades" yaml:"stop_loss_trades"`
	ManualTrades       int     `json:"manual_trades" yaml:"manual_trades"`
	ProfitFactor       float64 `json:"profit_factor" yaml:"profit_factor"`
	MaxDrawdown        float64 `json:"max_drawdown" yaml:"max_drawdown"`
	LargestWin         float64 `json:"largest_win" yaml:"largest_win"`
	LargestLoss        float64 `json:"largest_loss" yaml:"largest_loss"`
	AvgDurationMinutes float64 `json:"avg_duration_minutes" yaml:"avg_duration_minutes"`
}

// Summarize is a pure aggregation over trades. The input is not modified.
func Summarize(trades []ClosedTrade) Summary {
	var s Summary
	s.TotalTrades = len(trades)
	if s.TotalTrades == 0 {
		return s
	}

	ordered := make([]ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var grossWin, grossLoss, duration, equity, peak float64
	for _, t := range ordered {
		s.TotalPnL += t.PnL
		duration += t.TradeDurationMinutes

		switch {
		case t.PnL > 0:
			s.WinningTrades++
			grossWin += t.PnL
			s.LargestWin = math.Max(s.LargestWin, t.PnL)
		case t.PnL < 0:
			s.LosingTrades++
			grossLoss += t.PnL
			s.LargestLoss = math.Min(s.LargestLoss, t.PnL)
		}

		switch t.Result {
		case ResultTakeProfit:
			s.TakeProfitTrades++
		case ResultStopLoss:
			s.StopLossTrades++
		default:
			s.ManualTrades++
		}

		equity += t.PnL
		peak = math.Max(peak, equity)
		s.MaxDrawdown = math.Max(s.MaxDrawdown, peak-equity)
	}

	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	s.AvgDurationMinutes = duration / float64(s.TotalTrades)
	if s.WinningTrades > 0 {
		s.AvgWin = grossWin / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = grossLoss / float64(s.LosingTrades)
	}
	switch {
	case grossLoss < 0:
		s.ProfitFactor = grossWin / -grossLoss
	case grossWin > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}

// MemoryStore keeps closed trades in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	trades []ClosedTrade
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendClosedTrade(_ context.Context, t ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *MemoryStore) ClosedTrades(_ context.Context) ([]ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClosedTrade, len(m.trades))
	copy(out, m.trades)
	return out, nil
}
