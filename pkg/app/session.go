package app

import (
	"Tradewarden/notification"
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/executor"
	"Tradewarden/pkg/monitor"
	"Tradewarden/pkg/risk"
	"Tradewarden/strategy"
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// BarCache is the persistent candle store used to seed and back up the buffer.
type BarCache interface {
	SaveBar(ctx context.Context, symbol, interval string, bar utilities.OHLCVBar) error
	SaveBars(ctx context.Context, symbol, interval string, bars []utilities.OHLCVBar) error
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error)
}

// Executor submits sized orders.
type Executor interface {
	Execute(ctx context.Context, order executor.Order) executor.Result
}

// TradingSession runs the decision pipeline for one symbol. Candles are processed
// one at a time; the monitor runs alongside on its own goroutine.
type TradingSession struct {
	ID       string
	symbol   string
	interval string

	broker   broker.Broker
	strategy strategy.Strategy
	executor Executor
	monitor  *monitor.Monitor
	cache    BarCache
	logger   *utilities.Logger

	stateMutex   sync.RWMutex
	cfg          utilities.AppConfig
	candles      []utilities.OHLCVBar
	historyLimit int
}

func NewTradingSession(id string, cfg utilities.AppConfig, b broker.Broker, strat strategy.Strategy, exec Executor, mon *monitor.Monitor, cache BarCache, logger *utilities.Logger) *TradingSession {
	limit := cfg.Trading.HistoryLimit
	if limit <= 0 {
		limit = 500
	}
	return &TradingSession{
		ID:           id,
		symbol:       strings.ToUpper(cfg.Trading.Symbol),
		interval:     cfg.Trading.Interval,
		broker:       b,
		strategy:     strat,
		executor:     exec,
		monitor:      mon,
		cache:        cache,
		logger:       logger,
		cfg:          cfg,
		historyLimit: limit,
	}
}

// Seed fills the candle buffer from the exchange, falling back to the local cache.
func (s *TradingSession) Seed(ctx context.Context) error {
	bars, err := s.broker.GetHistoricalCandles(ctx, s.symbol, s.interval, s.historyLimit)
	if err == nil && len(bars) > 0 {
		if s.cache != nil {
			if cacheErr := s.cache.SaveBars(ctx, s.symbol, s.interval, bars); cacheErr != nil {
				s.logger.LogWarn("Session: could not cache %d seed candles: %v", len(bars), cacheErr)
			}
		}
		s.setCandles(bars)
		s.logger.LogInfo("Session: seeded %d %s %s candles from the exchange", len(bars), s.symbol, s.interval)
		return nil
	}
	if err == nil {
		err = errors.New("exchange returned no candles")
	}
	s.logger.LogWarn("Session: exchange history unavailable (%v), trying the local cache", err)
	if s.cache == nil {
		return fmt.Errorf("seed %s: %w", s.symbol, err)
	}
	cached, cacheErr := s.cache.GetBars(ctx, s.symbol, s.interval, s.historyLimit)
	if cacheErr != nil || len(cached) == 0 {
		return fmt.Errorf("seed %s: %w", s.symbol, errors.Join(err, cacheErr))
	}
	s.setCandles(cached)
	s.logger.LogInfo("Session: seeded %d %s %s candles from the cache", len(cached), s.symbol, s.interval)
	return nil
}

func (s *TradingSession) setCandles(bars []utilities.OHLCVBar) {
	sorted := make([]utilities.OHLCVBar, len(bars))
	copy(sorted, bars)
	utilities.SortBarsByTimestamp(sorted)
	if len(sorted) > s.historyLimit {
		sorted = sorted[len(sorted)-s.historyLimit:]
	}
	s.stateMutex.Lock()
	s.candles = sorted
	s.stateMutex.Unlock()
}

// appendCandle adds bar to the buffer. A bar with the latest timestamp replaces it;
// an older bar is dropped. It reports whether the buffer changed.
func (s *TradingSession) appendCandle(bar utilities.OHLCVBar) bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if n := len(s.candles); n > 0 {
		last := s.candles[n-1].Timestamp
		switch {
		case bar.Timestamp < last:
			return false
		case bar.Timestamp == last:
			s.candles[n-1] = bar
			return true
		}
	}
	s.candles = append(s.candles, bar)
	if len(s.candles) > s.historyLimit {
		s.candles = append([]utilities.OHLCVBar(nil), s.candles[len(s.candles)-s.historyLimit:]...)
	}
	return true
}

// Candles returns a copy of the buffer, oldest first.
func (s *TradingSession) Candles() []utilities.OHLCVBar {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	out := make([]utilities.OHLCVBar, len(s.candles))
	copy(out, s.candles)
	return out
}

// Config returns the runtime configuration.
func (s *TradingSession) Config() utilities.AppConfig {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.cfg
}

// ApplyConfig swaps in a reloaded configuration. Only the aggregator settings, the
// sizing inputs and the log level take effect; symbol and interval need a restart.
func (s *TradingSession) ApplyConfig(cfg utilities.AppConfig) {
	s.stateMutex.Lock()
	old := s.cfg
	cfg.Trading.Symbol = old.Trading.Symbol
	cfg.Trading.Interval = old.Trading.Interval
	s.cfg = cfg
	s.stateMutex.Unlock()

	s.strategy.SetAggregator(strategy.NewAggregator(cfg.Signals.SignalWeights(), cfg.Signals.Threshold))
	if level, err := utilities.ParseLogLevel(cfg.Logging.Level); err == nil {
		s.logger.SetLogLevel(level)
	}
	s.logger.LogInfo("Session: configuration reloaded (threshold %.4f, weights %v, amount %.2f, max risk %.2f%%)",
		cfg.Signals.Threshold, cfg.Signals.SignalWeights(), cfg.Trading.TradingAmount, cfg.Trading.MaxRiskPercent)
}

// CycleResult is what one decision cycle did.
type CycleResult struct {
	Evaluation strategy.Evaluation
	Skipped    string // why no order was sent; empty when Executed
	Executed   bool
	Execution  executor.Result
}

// OnCandle runs one decision cycle for a closed candle.
func (s *TradingSession) OnCandle(ctx context.Context, bar utilities.OHLCVBar) CycleResult {
	if !s.appendCandle(bar) {
		return CycleResult{Skipped: "stale candle"}
	}
	if s.cache != nil {
		if err := s.cache.SaveBar(ctx, s.symbol, s.interval, bar); err != nil {
			s.logger.LogWarn("Session: could not cache candle %d: %v", bar.Timestamp, err)
		}
	}

	cfg := s.Config()
	candles := s.Candles()
	ev := s.strategy.Evaluate(ctx, candles)
	res := CycleResult{Evaluation: ev}
	s.logger.LogInfo("Session: %s close=%.8f candles=%d %s", s.symbol, bar.Close, len(candles), ev.Decision)

	if !ev.Decision.ShouldTrade {
		res.Skipped = ev.Decision.Reason
		return res
	}
	if s.monitor.HasSymbol(s.symbol) {
		res.Skipped = "trade already active on " + s.symbol
		s.logger.LogInfo("Session: %s", res.Skipped)
		return res
	}

	var lower, target float64
	if ev.MonteCarlo != nil {
		lower = ev.MonteCarlo.LowerBound
	}
	if ev.Forecast != nil {
		target = ev.Forecast.TargetPrice
	}
	plan, err := risk.Size(bar.Close, lower, target, cfg.Trading.TradingAmount, cfg.Trading.MaxRiskPercent)
	if err != nil {
		res.Skipped = fmt.Sprintf("sizing failed: %v", err)
		s.logger.LogWarn("Session: %s", res.Skipped)
		return res
	}
	s.logger.LogInfo("Session: plan entry=%.8f SL=%.8f (%.2f%%) TP=%.8f size=%.8f value=%.2f R:R=%.2f",
		plan.EntryPrice, plan.StopLossPrice, plan.StopLossPct, plan.TakeProfitPrice, plan.PositionSize, plan.PositionValue, plan.RewardRisk())

	order := executor.NewBuyOrder(s.symbol, cfg.Orders.TimeInForce, plan, ev.Decision)
	res.Execution = s.executor.Execute(ctx, order)
	res.Executed = true
	return res
}

// Run consumes feed until it closes or ctx is done.
func (s *TradingSession) Run(ctx context.Context, candles <-chan utilities.OHLCVBar) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-candles:
			if !ok {
				s.logger.LogWarn("Session: candle feed closed")
				return
			}
			s.OnCandle(ctx, bar)
		}
	}
}

// Status is a short human-readable state line.
func (s *TradingSession) Status(ctx context.Context) string {
	candles := s.Candles()
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n%s %s, %d candles", s.ID, s.symbol, s.interval, len(candles))
	if n := len(candles); n > 0 {
		fmt.Fprintf(&b, ", last close %.8f", candles[n-1].Close)
	}
	trades := s.monitor.Snapshot()
	fmt.Fprintf(&b, "\nActive trades: %d", len(trades))
	for _, t := range trades {
		fmt.Fprintf(&b, "\n%s %s qty=%.8f entry=%.8f TP=%.8f SL=%.8f", t.OrderID, t.Status, t.Quantity, t.EntryPrice, t.TakeProfit, t.StopLoss)
	}
	return b.String()
}

// sessionNotifier stamps the session id on every event.
type sessionNotifier struct {
	id    string
	inner notification.Notifier
}

func (n sessionNotifier) Notify(ctx context.Context, ev notification.Event) error {
	if ev.Session == "" {
		ev.Session = n.id
	}
	return n.inner.Notify(ctx, ev)
}
