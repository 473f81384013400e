package monitor

import (
	"fmt"
	"sort"
	"time"
)

// Status is an ActiveTrade's position in its lifecycle.
type Status string

const (
	StatusPendingFill    Status = "PENDING_FILL"
	StatusFilled         Status = "FILLED"
	StatusProcessingExit Status = "PROCESSING_EXIT"
)

// ActiveTrade is a long position believed to be live on the exchange.
type ActiveTrade struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	EntryPrice    float64
	Quantity      float64
	TakeProfit    float64
	StopLoss      float64
	EntryTime     time.Time
	Status        Status
	FilledAt      time.Time
}

// Validate checks the fields the monitor relies on.
func (t ActiveTrade) Validate() error {
	switch {
	case t.OrderID == "":
		return fmt.Errorf("active trade: order id is required")
	case t.Symbol == "":
		return fmt.Errorf("active trade %s: symbol is required", t.OrderID)
	case t.Quantity <= 0 || t.EntryPrice <= 0:
		return fmt.Errorf("active trade %s: quantity %v and entry price %v must be positive", t.OrderID, t.Quantity, t.EntryPrice)
	case t.StopLoss < 0 || t.StopLoss >= t.TakeProfit:
		return fmt.Errorf("active trade %s: need 0 <= stop-loss %v < take-profit %v", t.OrderID, t.StopLoss, t.TakeProfit)
	case t.Status != StatusPendingFill && t.Status != StatusFilled:
		return fmt.Errorf("active trade %s: cannot start in status %q", t.OrderID, t.Status)
	}
	return nil
}

// Age is how long the trade has existed at now.
func (t ActiveTrade) Age(now time.Time) time.Duration {
	return now.Sub(t.EntryTime)
}

// Add hands a new trade to the monitor. It is the only way in from outside.
func (m *Monitor) Add(t ActiveTrade) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.EntryTime.IsZero() {
		t.EntryTime = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.trades[t.OrderID]; exists {
		return fmt.Errorf("active trade %s already tracked", t.OrderID)
	}
	m.trades[t.OrderID] = &t
	m.logger.LogInfo("Monitor: tracking %s order %s qty=%.8f entry=%.8f TP=%.8f SL=%.8f [%s]",
		t.Symbol, t.OrderID, t.Quantity, t.EntryPrice, t.TakeProfit, t.StopLoss, t.Status)
	return nil
}

// Snapshot returns copies of every tracked trade ordered by entry time.
func (m *Monitor) Snapshot() []ActiveTrade {
	m.mu.Lock()
	out := make([]ActiveTrade, 0, len(m.trades))
	for _, t := range m.trades {
		out = append(out, *t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Len is the number of tracked trades.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

// HasSymbol reports whether any trade on symbol is tracked.
func (m *Monitor) HasSymbol(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trades {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

// transition moves a trade from one status to another and reports whether it did.
// It is the compare-and-set that keeps a single exit in flight per trade.
func (m *Monitor) transition(orderID string, from, to Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[orderID]
	if !ok || t.Status != from {
		return false
	}
	t.Status = to
	return true
}

// markFilled records the fill details of a pending trade.
func (m *Monitor) markFilled(orderID string, qty, avgPrice float64, at time.Time) (ActiveTrade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[orderID]
	if !ok || t.Status != StatusPendingFill {
		return ActiveTrade{}, false
	}
	if qty > 0 {
		t.Quantity = qty
	}
	if avgPrice > 0 {
		t.EntryPrice = avgPrice
	}
	t.Status = StatusFilled
	t.FilledAt = at
	return *t, true
}

// reduce puts a trade back to FILLED holding only qty, after a partial exit.
func (m *Monitor) reduce(orderID string, qty float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trades[orderID]; ok {
		t.Quantity = qty
		t.Status = StatusFilled
	}
}

func (m *Monitor) remove(orderID string) {
	m.mu.Lock()
	delete(m.trades, orderID)
	m.mu.Unlock()
}
