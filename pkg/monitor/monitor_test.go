package monitor

import (
	"Tradewarden/notification"
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/ledger"
	"Tradewarden/utilities"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeBroker struct {
	mu           sync.Mutex
	prices       map[string]float64
	tickerCalls  int
	tickerPanic  bool
	orders       map[string]broker.Order
	cancelErr    error
	cancelled    []string
	placeErr     error
	placed       []broker.OrderRequest
	placeGate    chan struct{}
	placeEntered chan struct{}
	statusErr    error
	exitStatus   string
	exitFraction float64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{prices: map[string]float64{}, orders: map[string]broker.Order{}}
}

func (f *fakeBroker) GetBalance(ctx context.Context, asset string) (broker.Balance, error) {
	return broker.Balance{Asset: asset}, nil
}

func (f *fakeBroker) GetTicker(ctx context.Context, symbol string) (broker.TickerData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickerPanic {
		panic("ticker exploded")
	}
	f.tickerCalls++
	return broker.TickerData{Symbol: symbol, LastPrice: f.prices[symbol]}, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	f.mu.Lock()
	gate, entered := f.placeGate, f.placeEntered
	f.placed = append(f.placed, req)
	err := f.placeErr
	price := f.prices[req.Symbol]
	n := len(f.placed)
	status, executed := broker.StatusFilled, req.Quantity
	if f.exitFraction > 0 {
		status, executed = f.exitStatus, req.Quantity*f.exitFraction
	}
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return broker.OrderAck{}, err
	}
	return broker.OrderAck{OrderID: "sell-" + string(rune('0'+n)), Status: status, ExecutedQty: executed, AvgFillPrice: price}, nil
}

func (f *fakeBroker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeBroker) GetOrderStatus(ctx context.Context, symbol, orderID string) (broker.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return broker.Order{}, f.statusErr
	}
	o, ok := f.orders[orderID]
	if !ok {
		return broker.Order{}, broker.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeBroker) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error) {
	return nil, nil
}

func (f *fakeBroker) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeBroker) set(fn func(f *fakeBroker)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, ledger.ClosedTrade) error {
	return errors.New("database is locked")
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notification.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) kinds() []notification.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

// syncBuffer lets exit goroutines and the test share a log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, b broker.Broker, rec Recorder) (*Monitor, *time.Time) {
	t.Helper()
	m := New(b, rec, nil, Config{Expiry: 10 * time.Minute}, utilities.NewLogger(utilities.Fatal))
	clock := start
	m.now = func() time.Time { return clock }
	return m, &clock
}

func filledTrade(id string) ActiveTrade {
	return ActiveTrade{OrderID: id, Symbol: "BTCUSDT", EntryPrice: 100, Quantity: 2, TakeProfit: 102, StopLoss: 99, EntryTime: start, Status: StatusFilled}
}

func pendingTrade(id string) ActiveTrade {
	tr := filledTrade(id)
	tr.Status = StatusPendingFill
	return tr
}

func mustAdd(t *testing.T, m *Monitor, tr ActiveTrade) {
	t.Helper()
	if err := m.Add(tr); err != nil {
		t.Fatalf("Add: %v", err)
	}
}

func TestExitTriggers(t *testing.T) {
	tests := []struct {
		name       string
		price      float64
		wantResult string
	}{
		{"take profit", 102.5, ledger.ResultTakeProfit},
		{"take profit at boundary", 102, ledger.ResultTakeProfit},
		{"stop loss", 98.7, ledger.ResultStopLoss},
		{"stop loss at boundary", 99, ledger.ResultStopLoss},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeBroker()
			fb.prices["BTCUSDT"] = tt.price
			store := ledger.NewMemoryStore()
			m, _ := newTestMonitor(t, fb, ledger.New(store, utilities.NewLogger(utilities.Fatal)))
			mustAdd(t, m, filledTrade("1"))

			if _, err := m.RunOnce(context.Background()); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			m.WaitExits()

			if fb.placedCount() != 1 {
				t.Fatalf("expected one sell, got %d", fb.placedCount())
			}
			req := fb.placed[0]
			if req.Side != broker.SideSell || req.Type != broker.TypeMarket || req.Quantity != 2 {
				t.Errorf("unexpected exit order %+v", req)
			}
			rows, _ := store.ClosedTrades(context.Background())
			if len(rows) != 1 || rows[0].Result != tt.wantResult {
				t.Fatalf("expected one %s ledger row, got %+v", tt.wantResult, rows)
			}
			if m.Len() != 0 {
				t.Errorf("expected trade removed, %d left", m.Len())
			}
		})
	}
}

func TestNoExitInsideBand(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 100.5
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, filledTrade("1"))
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	m.WaitExits()
	if fb.placedCount() != 0 || m.Len() != 1 {
		t.Errorf("expected no exit, placed=%d len=%d", fb.placedCount(), m.Len())
	}
}

func TestExitInFlightIsNotDuplicated(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 103
	fb.placeGate = make(chan struct{})
	fb.placeEntered = make(chan struct{}, 4)
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, filledTrade("1"))

	ctx := context.Background()
	if _, err := m.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	<-fb.placeEntered

	for i := 0; i < 3; i++ {
		if _, err := m.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}
	if got := m.Snapshot()[0].Status; got != StatusProcessingExit {
		t.Fatalf("expected PROCESSING_EXIT while the sell is in flight, got %s", got)
	}
	if fb.placedCount() != 1 {
		t.Fatalf("expected a single sell submission, got %d", fb.placedCount())
	}

	close(fb.placeGate)
	m.WaitExits()
	if m.Len() != 0 {
		t.Errorf("expected trade removed after the exit, %d left", m.Len())
	}
}

func TestFailedExitRevertsAndRetries(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 98
	fb.placeErr = errors.New("connection reset")
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, filledTrade("1"))

	ctx := context.Background()
	m.RunOnce(ctx)
	m.WaitExits()
	if got := m.Snapshot()[0].Status; got != StatusFilled {
		t.Fatalf("expected revert to FILLED, got %s", got)
	}

	fb.set(func(f *fakeBroker) { f.placeErr = nil })
	m.RunOnce(ctx)
	m.WaitExits()
	if fb.placedCount() != 2 {
		t.Errorf("expected a retried sell, got %d submissions", fb.placedCount())
	}
	if m.Len() != 0 {
		t.Errorf("expected trade removed after the retry, %d left", m.Len())
	}
}

func TestPendingTradeExpires(t *testing.T) {
	fb := newFakeBroker()
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusNew}
	m, clock := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))

	*clock = start.Add(9 * time.Minute)
	m.RunOnce(context.Background())
	if len(fb.cancelled) != 0 || m.Len() != 1 {
		t.Fatalf("expected no cancel before expiry")
	}

	*clock = start.Add(11 * time.Minute)
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(fb.cancelled) != 1 || fb.cancelled[0] != "1" {
		t.Fatalf("expected order 1 cancelled, got %v", fb.cancelled)
	}
	if m.Len() != 0 {
		t.Errorf("expected expired trade removed")
	}
}

func TestFillBeforeExpiryIsNeverCancelled(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 100.5
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusFilled, ExecutedQty: 1.5, AvgFillPrice: 99.8}
	m, clock := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))

	*clock = start.Add(5 * time.Minute)
	m.RunOnce(context.Background())
	tr := m.Snapshot()[0]
	if tr.Status != StatusFilled {
		t.Fatalf("expected FILLED, got %s", tr.Status)
	}
	if tr.Quantity != 1.5 || tr.EntryPrice != 99.8 {
		t.Errorf("expected fill details adopted, got qty=%v entry=%v", tr.Quantity, tr.EntryPrice)
	}

	*clock = start.Add(30 * time.Minute)
	m.RunOnce(context.Background())
	if len(fb.cancelled) != 0 {
		t.Errorf("expected no cancel for a filled trade, got %v", fb.cancelled)
	}
	if m.Len() != 1 {
		t.Errorf("expected the filled trade to stay tracked")
	}
}

func TestCancelFailureIsRetried(t *testing.T) {
	fb := newFakeBroker()
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusNew}
	fb.cancelErr = errors.New("timeout")
	m, clock := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))
	*clock = start.Add(15 * time.Minute)

	m.RunOnce(context.Background())
	if tr := m.Snapshot(); len(tr) != 1 || tr[0].Status != StatusPendingFill {
		t.Fatalf("expected trade left PENDING_FILL after a failed cancel, got %+v", tr)
	}

	fb.set(func(f *fakeBroker) { f.cancelErr = nil })
	m.RunOnce(context.Background())
	if m.Len() != 0 {
		t.Errorf("expected removal after the retried cancel")
	}
}

func TestExpiredPartialFillIsKept(t *testing.T) {
	fb := newFakeBroker()
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusPartiallyFilled, OrigQty: 2, ExecutedQty: 0.5, AvgFillPrice: 100}
	m, clock := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))
	*clock = start.Add(11 * time.Minute)

	m.RunOnce(context.Background())
	tr := m.Snapshot()
	if len(tr) != 1 || tr[0].Status != StatusFilled || tr[0].Quantity != 0.5 {
		t.Fatalf("expected the filled half to be watched, got %+v", tr)
	}
}

func TestExchangeClosedOrderIsRemoved(t *testing.T) {
	fb := newFakeBroker()
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusRejected}
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))
	m.RunOnce(context.Background())
	if m.Len() != 0 {
		t.Errorf("expected rejected order removed")
	}
}

func TestPriceFetchedOncePerSymbol(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 100.5
	m, _ := newTestMonitor(t, fb, nil)
	for _, id := range []string{"1", "2", "3"} {
		mustAdd(t, m, filledTrade(id))
	}
	m.RunOnce(context.Background())
	if fb.tickerCalls != 1 {
		t.Errorf("expected one ticker call, got %d", fb.tickerCalls)
	}
}

func TestRunOnceRecoversPanics(t *testing.T) {
	fb := newFakeBroker()
	fb.tickerPanic = true
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, filledTrade("1"))
	if _, err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
	if m.Len() != 1 {
		t.Error("expected the trade to survive a failed pass")
	}
}

func TestLedgerFailureStillRemovesTrade(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 105
	m, _ := newTestMonitor(t, fb, failingRecorder{})
	mustAdd(t, m, filledTrade("1"))
	m.RunOnce(context.Background())
	m.WaitExits()
	if m.Len() != 0 {
		t.Errorf("expected the sold trade removed even though the ledger failed")
	}
}

func TestShutdownCancelsPendingOrders(t *testing.T) {
	fb := newFakeBroker()
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))
	mustAdd(t, m, filledTrade("2"))

	m.Shutdown()
	if len(fb.cancelled) != 1 || fb.cancelled[0] != "1" {
		t.Errorf("expected only the pending order cancelled, got %v", fb.cancelled)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fb := newFakeBroker()
	m, _ := newTestMonitor(t, fb, nil)
	m.cfg.IdleInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestAddRejectsInvalidTrades(t *testing.T) {
	m, _ := newTestMonitor(t, newFakeBroker(), nil)
	bad := filledTrade("1")
	bad.StopLoss = 103
	if err := m.Add(bad); err == nil {
		t.Error("expected error for stop-loss above take-profit")
	}
	mustAdd(t, m, filledTrade("2"))
	if err := m.Add(filledTrade("2")); err == nil {
		t.Error("expected error for a duplicate order id")
	}
	if !m.HasSymbol("BTCUSDT") || m.HasSymbol("ETHUSDT") {
		t.Error("unexpected HasSymbol result")
	}
}

func TestExitReasonPrefersTakeProfit(t *testing.T) {
	tr := ActiveTrade{TakeProfit: 100, StopLoss: 100}
	if got := ExitReason(tr, 100); got != ledger.ResultTakeProfit {
		t.Errorf("expected TAKE_PROFIT on a tie, got %q", got)
	}
}

func TestUnknownPendingOrderIsRemoved(t *testing.T) {
	fb := newFakeBroker()
	m, _ := newTestMonitor(t, fb, nil)
	rec := &recordingNotifier{}
	m.notifier = rec
	mustAdd(t, m, pendingTrade("1"))

	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected an unknown order to be handled, got %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("expected the unknown order removed, %d left", m.Len())
	}
	if kinds := rec.kinds(); len(kinds) != 1 || kinds[0] != notification.KindTradeExpired {
		t.Errorf("expected one TRADE_EXPIRED event, got %v", kinds)
	}
}

func TestPendingStatusErrorStillExpires(t *testing.T) {
	fb := newFakeBroker()
	fb.orders["1"] = broker.Order{ID: "1", Status: broker.StatusNew}
	fb.statusErr = errors.New("gateway timeout")
	m, clock := newTestMonitor(t, fb, nil)
	mustAdd(t, m, pendingTrade("1"))

	*clock = start.Add(5 * time.Minute)
	if _, err := m.RunOnce(context.Background()); err == nil {
		t.Fatal("expected the status error surfaced before expiry")
	}
	if len(fb.cancelled) != 0 || m.Len() != 1 {
		t.Fatalf("expected the trade kept before expiry, cancelled=%v len=%d", fb.cancelled, m.Len())
	}

	*clock = start.Add(11 * time.Minute)
	if _, err := m.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error once the order is cancelled, got %v", err)
	}
	if len(fb.cancelled) != 1 || fb.cancelled[0] != "1" {
		t.Errorf("expected order 1 cancelled past expiry, got %v", fb.cancelled)
	}
	if m.Len() != 0 {
		t.Errorf("expected the expired trade removed, %d left", m.Len())
	}
}

func TestPartialExitKeepsRemainder(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 103
	fb.exitStatus = broker.StatusExpired
	fb.exitFraction = 0.25
	store := ledger.NewMemoryStore()
	m, _ := newTestMonitor(t, fb, ledger.New(store, utilities.NewLogger(utilities.Fatal)))
	mustAdd(t, m, filledTrade("1"))

	ctx := context.Background()
	m.RunOnce(ctx)
	m.WaitExits()

	rows, _ := store.ClosedTrades(ctx)
	if len(rows) != 1 || rows[0].Quantity != 0.5 {
		t.Fatalf("expected the sold 0.5 recorded, got %+v", rows)
	}
	tr := m.Snapshot()
	if len(tr) != 1 || tr[0].Status != StatusFilled || tr[0].Quantity != 1.5 {
		t.Fatalf("expected 1.5 still watched as FILLED, got %+v", tr)
	}

	fb.set(func(f *fakeBroker) { f.exitFraction = 0 })
	m.RunOnce(ctx)
	m.WaitExits()

	if fb.placedCount() != 2 || fb.placed[1].Quantity != 1.5 {
		t.Errorf("expected a second sell for the remainder, got %+v", fb.placed)
	}
	rows, _ = store.ClosedTrades(ctx)
	if len(rows) != 2 || m.Len() != 0 {
		t.Errorf("expected two ledger rows and nothing tracked, got rows=%d len=%d", len(rows), m.Len())
	}
}

func TestShutdownWaitsForExits(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 103
	fb.placeGate = make(chan struct{})
	fb.placeEntered = make(chan struct{}, 1)
	m, _ := newTestMonitor(t, fb, nil)
	mustAdd(t, m, filledTrade("1"))

	m.RunOnce(context.Background())
	<-fb.placeEntered

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Shutdown returned while an exit was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(fb.placeGate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return after the exit resolved")
	}
	if m.Len() != 0 {
		t.Errorf("expected the exited trade removed, %d left", m.Len())
	}
}

func TestShutdownReportsUnresolvedExits(t *testing.T) {
	fb := newFakeBroker()
	fb.prices["BTCUSDT"] = 103
	fb.placeGate = make(chan struct{})
	fb.placeEntered = make(chan struct{}, 1)
	m, _ := newTestMonitor(t, fb, nil)
	var logs syncBuffer
	m.logger = utilities.NewLoggerTo(&logs, utilities.Warn)
	m.cfg.ShutdownTimeout = 20 * time.Millisecond
	mustAdd(t, m, filledTrade("1"))

	m.RunOnce(context.Background())
	<-fb.placeEntered

	m.Shutdown()
	if !strings.Contains(logs.String(), "unresolved at shutdown") {
		t.Errorf("expected the in-flight exit reported as unresolved, got %s", logs.String())
	}
	if tr := m.Snapshot(); len(tr) != 1 || tr[0].Status != StatusProcessingExit {
		t.Errorf("expected the trade still PROCESSING_EXIT, got %+v", tr)
	}

	close(fb.placeGate)
	m.WaitExits()
}
