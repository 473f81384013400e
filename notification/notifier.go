// Package notification fans trade events out to chat channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EventKind identifies what happened.
type EventKind string

const (
	KindStartup       EventKind = "STARTUP"
	KindShutdown      EventKind = "SHUTDOWN"
	KindOrderPlaced   EventKind = "ORDER_PLACED"
	KindOrderRejected EventKind = "ORDER_REJECTED"
	KindOrderFilled   EventKind = "ORDER_FILLED"
	KindTradeClosed   EventKind = "TRADE_CLOSED"
	KindTradeExpired  EventKind = "TRADE_EXPIRED"
	KindLedgerFailure EventKind = "LEDGER_FAILURE"
)

// Event is a single notification. Zero numeric fields are omitted from the text.
type Event struct {
	Kind     EventKind
	Session  string
	Symbol   string
	Side     string
	OrderID  string
	Price    float64
	Quantity float64
	PnL      float64
	PnLPct   float64
	Reason   string
	Details  string
	Time     time.Time
}

// Title is a one-line headline for the event.
func (e Event) Title() string {
	switch e.Kind {
	case KindStartup:
		return "🚀 Tradewarden started"
	case KindShutdown:
		return "🛑 Tradewarden stopped"
	case KindOrderPlaced:
		return fmt.Sprintf("📝 %s order placed: %s", e.Side, e.Symbol)
	case KindOrderRejected:
		return fmt.Sprintf("⚠️ %s order rejected: %s", e.Side, e.Symbol)
	case KindOrderFilled:
		return fmt.Sprintf("✅ %s order filled: %s", e.Side, e.Symbol)
	case KindTradeClosed:
		if e.PnL >= 0 {
			return fmt.Sprintf("💰 Trade closed in profit: %s", e.Symbol)
		}
		return fmt.Sprintf("🔻 Trade closed at a loss: %s", e.Symbol)
	case KindTradeExpired:
		return fmt.Sprintf("⌛ Unfilled order expired: %s", e.Symbol)
	case KindLedgerFailure:
		return fmt.Sprintf("‼️ Ledger write failed: %s", e.Symbol)
	}
	return string(e.Kind)
}

// Body renders the event's fields as "Label: value" lines.
func (e Event) Body() string {
	var b strings.Builder
	line := func(label, format string, v ...interface{}) {
		fmt.Fprintf(&b, "%s: "+format+"\n", append([]interface{}{label}, v...)...)
	}
	if e.OrderID != "" {
		line("Order ID", "%s", e.OrderID)
	}
	if e.Price != 0 {
		line("Price", "%.8f", e.Price)
	}
	if e.Quantity != 0 {
		line("Quantity", "%.8f", e.Quantity)
	}
	if e.Kind == KindTradeClosed {
		line("P&L", "%.8f (%.2f%%)", e.PnL, e.PnLPct)
	}
	if e.Reason != "" {
		line("Reason", "%s", e.Reason)
	}
	if e.Details != "" {
		b.WriteString(e.Details)
		b.WriteString("\n")
	}
	if e.Session != "" {
		line("Session", "%s", e.Session)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Notifier delivers events to one channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Multi delivers every event to all of its notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
