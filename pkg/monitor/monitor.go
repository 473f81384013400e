// Package monitor watches open long positions and exits them on take-profit,
// stop-loss or fill timeout.
package monitor

import (
	"Tradewarden/notification"
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/ledger"
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder receives closed trades.
type Recorder interface {
	Record(ctx context.Context, t ledger.ClosedTrade) error
}

// Config holds the monitor's timing.
type Config struct {
	PollInterval    time.Duration
	IdleInterval    time.Duration
	ErrorBackoff    time.Duration
	GatewayTimeout  time.Duration
	ShutdownTimeout time.Duration
	Expiry          time.Duration
}

// ConfigFromApp converts the configured timing, applying defaults for unset values.
func ConfigFromApp(cfg utilities.AppConfig) Config {
	c := Config{
		PollInterval:    time.Duration(cfg.Monitor.PollIntervalMs) * time.Millisecond,
		IdleInterval:    time.Duration(cfg.Monitor.IdleIntervalSec) * time.Second,
		ErrorBackoff:    time.Duration(cfg.Monitor.ErrorBackoffSec) * time.Second,
		GatewayTimeout:  time.Duration(cfg.Monitor.GatewayTimeoutSec) * time.Second,
		ShutdownTimeout: time.Duration(cfg.Monitor.ShutdownTimeoutSec) * time.Second,
		Expiry:          time.Duration(cfg.Orders.ExpiryMinutes * float64(time.Minute)),
	}
	return c.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = 5 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 10 * time.Second
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 15 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.Expiry <= 0 {
		c.Expiry = 10 * time.Minute
	}
	return c
}

// Monitor exclusively owns the set of active trades.
type Monitor struct {
	broker   broker.Broker
	ledger   Recorder
	notifier notification.Notifier
	logger   *utilities.Logger
	cfg      Config
	now      func() time.Time

	mu     sync.Mutex
	trades map[string]*ActiveTrade

	exits sync.WaitGroup
}

func New(b broker.Broker, rec Recorder, notifier notification.Notifier, cfg Config, logger *utilities.Logger) *Monitor {
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Monitor{
		broker:   b,
		ledger:   rec,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		trades:   make(map[string]*ActiveTrade),
	}
}

// Run polls until ctx is cancelled, then shuts down. A failed pass is logged and
// followed by the error back-off; it never stops the loop.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.LogInfo("Monitor: started (poll=%s idle=%s backoff=%s expiry=%s)", m.cfg.PollInterval, m.cfg.IdleInterval, m.cfg.ErrorBackoff, m.cfg.Expiry)
	for {
		active, err := m.RunOnce(ctx)
		wait := m.cfg.PollInterval
		switch {
		case err != nil:
			m.logger.LogError("Monitor: pass failed, backing off %s: %v", m.cfg.ErrorBackoff, err)
			wait = m.cfg.ErrorBackoff
		case active == 0:
			wait = m.cfg.IdleInterval
		}

		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case <-time.After(wait):
		}
	}
}

// RunOnce makes a single pass over the active trades and returns how many were
// tracked at its start. Panics are recovered into the returned error.
func (m *Monitor) RunOnce(ctx context.Context) (active int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor pass panicked: %v", r)
		}
	}()

	trades := m.Snapshot()
	if len(trades) == 0 {
		return 0, nil
	}

	var errs []error
	prices := make(map[string]float64)
	for _, t := range trades {
		if ctx.Err() != nil {
			break
		}
		switch t.Status {
		case StatusPendingFill:
			if err := m.checkPending(ctx, t); err != nil {
				errs = append(errs, err)
			}
		case StatusFilled:
			price, ok := prices[t.Symbol]
			if !ok {
				p, err := m.lastPrice(ctx, t.Symbol)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				price = p
				prices[t.Symbol] = p
			}
			m.checkExit(ctx, t, price)
		case StatusProcessingExit:
			m.logger.LogDebug("Monitor: exit for %s already in flight, skipping", t.OrderID)
		}
	}
	return len(trades), errors.Join(errs...)
}

func (m *Monitor) lastPrice(ctx context.Context, symbol string) (float64, error) {
	gctx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	defer cancel()
	t, err := m.broker.GetTicker(gctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("ticker %s: %w", symbol, err)
	}
	if t.LastPrice <= 0 {
		return 0, fmt.Errorf("ticker %s: invalid price %v", symbol, t.LastPrice)
	}
	return t.LastPrice, nil
}

// checkPending advances a PENDING_FILL trade: fill, exchange-side closure, or expiry.
func (m *Monitor) checkPending(ctx context.Context, t ActiveTrade) error {
	gctx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	defer cancel()
	order, err := m.broker.GetOrderStatus(gctx, t.Symbol, t.OrderID)
	if errors.Is(err, broker.ErrOrderNotFound) {
		m.remove(t.OrderID)
		m.logger.LogWarn("Monitor: removed %s order %s, exchange does not know it", t.Symbol, t.OrderID)
		m.notify(ctx, notification.Event{
			Kind: notification.KindTradeExpired, Symbol: t.Symbol, OrderID: t.OrderID,
			Reason: "order unknown to the exchange", Time: m.now(),
		})
		return nil
	}
	if err != nil {
		age := t.Age(m.now())
		if age <= m.cfg.Expiry {
			return fmt.Errorf("order status %s: %w", t.OrderID, err)
		}
		m.logger.LogWarn("Monitor: status of %s unavailable past expiry, cancelling blind: %v", t.OrderID, err)
		m.expire(ctx, t, broker.Order{}, age)
		return nil
	}

	switch order.Status {
	case broker.StatusFilled:
		if filled, ok := m.markFilled(t.OrderID, order.ExecutedQty, order.AvgFillPrice, m.now()); ok {
			m.logger.LogInfo("Monitor: order %s filled, %s qty=%.8f @ %.8f. Watching TP=%.8f SL=%.8f",
				t.OrderID, t.Symbol, filled.Quantity, filled.EntryPrice, filled.TakeProfit, filled.StopLoss)
			m.notify(ctx, notification.Event{
				Kind: notification.KindOrderFilled, Symbol: t.Symbol, Side: broker.SideBuy, OrderID: t.OrderID,
				Price: filled.EntryPrice, Quantity: filled.Quantity, Time: m.now(),
			})
		}
		return nil
	case broker.StatusCanceled, broker.StatusRejected, broker.StatusExpired:
		if order.ExecutedQty > 0 {
			m.adoptPartialFill(ctx, t, order)
			return nil
		}
		m.remove(t.OrderID)
		m.logger.LogWarn("Monitor: removed %s order %s, exchange reports %s", t.Symbol, t.OrderID, order.Status)
		m.notify(ctx, notification.Event{
			Kind: notification.KindTradeExpired, Symbol: t.Symbol, OrderID: t.OrderID,
			Reason: "exchange reports " + order.Status, Time: m.now(),
		})
		return nil
	}

	age := t.Age(m.now())
	if age <= m.cfg.Expiry {
		return nil
	}
	m.expire(ctx, t, order, age)
	return nil
}

// expire cancels an order that outlived the expiry window. A failed cancel leaves
// the trade pending so the next pass retries it.
func (m *Monitor) expire(ctx context.Context, t ActiveTrade, order broker.Order, age time.Duration) {
	m.logger.LogWarn("Monitor: order %s for %s unfilled after %s, cancelling.", t.OrderID, t.Symbol, age.Round(time.Second))
	gctx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	defer cancel()
	if err := m.broker.CancelOrder(gctx, t.Symbol, t.OrderID); err != nil {
		m.logger.LogWarn("Monitor: cancel of %s failed, will retry: %v", t.OrderID, err)
		return
	}

	// status unknown: look once more for a partial fill before dropping the trade
	if order.ID == "" {
		if o, err := m.broker.GetOrderStatus(gctx, t.Symbol, t.OrderID); err == nil {
			order = o
		}
	}

	if order.ExecutedQty > 0 {
		m.adoptPartialFill(ctx, t, order)
		return
	}
	m.remove(t.OrderID)
	m.logger.LogInfo("Monitor: order %s for %s cancelled and removed (expired).", t.OrderID, t.Symbol)
	m.notify(ctx, notification.Event{
		Kind: notification.KindTradeExpired, Symbol: t.Symbol, OrderID: t.OrderID, Price: t.EntryPrice,
		Quantity: t.Quantity, Reason: fmt.Sprintf("unfilled after %s", age.Round(time.Second)), Time: m.now(),
	})
}

// adoptPartialFill keeps watching the executed part of an order that will not fill further.
func (m *Monitor) adoptPartialFill(ctx context.Context, t ActiveTrade, order broker.Order) {
	filled, ok := m.markFilled(t.OrderID, order.ExecutedQty, order.AvgFillPrice, m.now())
	if !ok {
		return
	}
	m.logger.LogWarn("Monitor: order %s closed partially filled (%.8f of %.8f), watching the filled part.",
		t.OrderID, order.ExecutedQty, order.OrigQty)
	m.notify(ctx, notification.Event{
		Kind: notification.KindOrderFilled, Symbol: t.Symbol, Side: broker.SideBuy, OrderID: t.OrderID,
		Price: filled.EntryPrice, Quantity: filled.Quantity, Reason: "partial fill", Time: m.now(),
	})
}

// ExitReason returns the exit a price triggers for t, or "" for none.
// Take-profit is checked before stop-loss.
func ExitReason(t ActiveTrade, price float64) string {
	switch {
	case price >= t.TakeProfit:
		return ledger.ResultTakeProfit
	case price <= t.StopLoss:
		return ledger.ResultStopLoss
	}
	return ""
}

func (m *Monitor) checkExit(ctx context.Context, t ActiveTrade, price float64) {
	reason := ExitReason(t, price)
	if reason == "" {
		return
	}
	if !m.transition(t.OrderID, StatusFilled, StatusProcessingExit) {
		return
	}
	m.logger.LogInfo("Monitor: %s hit for %s order %s at %.8f (TP=%.8f SL=%.8f). Exiting.",
		reason, t.Symbol, t.OrderID, price, t.TakeProfit, t.StopLoss)

	// the sell must outlive shutdown of the polling loop
	exitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.GatewayTimeout)
	m.exits.Add(1)
	go func() {
		defer m.exits.Done()
		defer cancel()
		m.exit(exitCtx, t, reason, price)
	}()
}

// exit submits the market sell. Failure reverts the trade to FILLED for a later retry;
// a partial fill records the sold part and keeps the rest FILLED.
func (m *Monitor) exit(ctx context.Context, t ActiveTrade, reason string, trigger float64) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.LogError("Monitor: exit of %s panicked: %v", t.OrderID, r)
			m.transition(t.OrderID, StatusProcessingExit, StatusFilled)
		}
	}()

	ack, err := m.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        t.Symbol,
		Side:          broker.SideSell,
		Type:          broker.TypeMarket,
		Quantity:      t.Quantity,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		m.logger.LogError("Monitor: %s exit order for %s failed, will retry: %v", reason, t.OrderID, err)
		m.transition(t.OrderID, StatusProcessingExit, StatusFilled)
		return
	}
	if ack.ExecutedQty <= 0 && (ack.Status == broker.StatusExpired || ack.Status == broker.StatusRejected || ack.Status == broker.StatusCanceled) {
		m.logger.LogError("Monitor: %s exit order for %s came back %s unfilled, will retry", reason, t.OrderID, ack.Status)
		m.transition(t.OrderID, StatusProcessingExit, StatusFilled)
		return
	}

	exitPrice := ack.AvgFillPrice
	if exitPrice <= 0 {
		exitPrice = trigger
	}
	qty := t.Quantity
	if ack.ExecutedQty > 0 {
		qty = ack.ExecutedQty
	}
	remainder := t.Quantity - qty
	if remainder <= t.Quantity*1e-9 {
		remainder = 0
	}
	now := m.now()

	closed, err := ledger.NewClosedTrade(t.OrderID, t.Symbol, t.EntryPrice, exitPrice, qty, t.TakeProfit, t.StopLoss, t.EntryTime, now, reason)
	if err == nil && m.ledger != nil {
		err = m.ledger.Record(ctx, closed)
	}
	if remainder > 0 {
		m.reduce(t.OrderID, remainder)
		m.logger.LogWarn("Monitor: %s exit for %s order %s sold %.8f of %.8f (%s), still watching %.8f",
			reason, t.Symbol, t.OrderID, qty, t.Quantity, ack.Status, remainder)
		m.notify(ctx, notification.Event{
			Kind: notification.KindOrderFilled, Symbol: t.Symbol, Side: broker.SideSell, OrderID: t.OrderID,
			Price: exitPrice, Quantity: qty, Reason: fmt.Sprintf("partial exit, %.8f left", remainder), Time: now,
		})
	} else {
		m.remove(t.OrderID)
	}

	if err != nil {
		m.logger.LogError("Monitor: trade %s (%s) exited via sell %s but was NOT recorded in the ledger: %v", t.OrderID, t.Symbol, ack.OrderID, err)
		m.notify(ctx, notification.Event{
			Kind: notification.KindLedgerFailure, Symbol: t.Symbol, OrderID: t.OrderID, Price: exitPrice,
			Quantity: qty, Reason: err.Error(), Time: now,
		})
	}
	m.logger.LogInfo("Monitor: closed %s order %s via %s at %.8f, pnl=%.8f (%.2f%%)",
		t.Symbol, t.OrderID, reason, exitPrice, closed.PnL, closed.PercentageGain)
	m.notify(ctx, notification.Event{
		Kind: notification.KindTradeClosed, Symbol: t.Symbol, Side: broker.SideSell, OrderID: t.OrderID,
		Price: exitPrice, Quantity: qty, PnL: closed.PnL, PnLPct: closed.PercentageGain, Reason: reason, Time: now,
	})
}

// Shutdown cancels every unfilled order, then waits for in-flight exits up to the
// shutdown timeout and logs any that remain unresolved.
func (m *Monitor) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	for _, t := range m.Snapshot() {
		if t.Status != StatusPendingFill {
			continue
		}
		if err := m.broker.CancelOrder(ctx, t.Symbol, t.OrderID); err != nil {
			m.logger.LogWarn("Monitor: shutdown cancel of %s (%s) failed: %v", t.OrderID, t.Symbol, err)
			continue
		}
		m.remove(t.OrderID)
		m.logger.LogInfo("Monitor: cancelled open order %s (%s) on shutdown.", t.OrderID, t.Symbol)
	}

	done := make(chan struct{})
	go func() {
		m.exits.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		for _, t := range m.Snapshot() {
			if t.Status == StatusProcessingExit {
				m.logger.LogError("Monitor: exit for %s order %s unresolved at shutdown; check the exchange manually.", t.Symbol, t.OrderID)
			}
		}
	}

	for _, t := range m.Snapshot() {
		m.logger.LogWarn("Monitor: %s order %s (%s) still open at shutdown and will no longer be tracked.", t.Symbol, t.OrderID, t.Status)
	}
	m.logger.LogInfo("Monitor: stopped.")
}

// WaitExits blocks until every in-flight exit has resolved.
func (m *Monitor) WaitExits() {
	m.exits.Wait()
}

func (m *Monitor) notify(ctx context.Context, ev notification.Event) {
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.logger.LogWarn("Monitor: notification %s failed: %v", ev.Kind, err)
	}
}
