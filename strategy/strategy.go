package strategy

import (
	"Tradewarden/utilities"
	"context"
	"fmt"
	"sync"
)

// Evaluation is everything one decision cycle produced.
type Evaluation struct {
	Forecast   *ForecastRecord
	Indicator  *IndicatorRecord
	MonteCarlo *MonteCarloRecord
	Decision   CombinedDecision
}

// Strategy turns a candle history into a trading decision.
type Strategy interface {
	Evaluate(ctx context.Context, candles []utilities.OHLCVBar) Evaluation
	SetAggregator(agg Aggregator)
}

type strategyImpl struct {
	forecast   Provider[ForecastRecord]
	indicators Provider[IndicatorRecord]
	monteCarlo Provider[MonteCarloRecord]
	logger     *utilities.Logger

	mu  sync.RWMutex
	agg Aggregator
}

// NewStrategy constructs a new strategy instance over the three signal sources.
func NewStrategy(forecast Provider[ForecastRecord], indicators Provider[IndicatorRecord], monteCarlo Provider[MonteCarloRecord], agg Aggregator, logger *utilities.Logger) Strategy {
	return &strategyImpl{
		forecast:   forecast,
		indicators: indicators,
		monteCarlo: monteCarlo,
		agg:        agg,
		logger:     logger,
	}
}

// NewStrategyFromConfig wires the providers selected by cfg.
func NewStrategyFromConfig(cfg utilities.AppConfig, logger *utilities.Logger) Strategy {
	return NewStrategy(
		NewForecastProvider(cfg.Forecast, cfg.Trading.Symbol, logger),
		NewIndicatorProvider(cfg.Indicators),
		NewMonteCarloProvider(cfg.MonteCarlo),
		NewAggregator(cfg.Signals.SignalWeights(), cfg.Signals.Threshold),
		logger,
	)
}

// SetAggregator swaps the weight table and threshold used by later evaluations.
func (s *strategyImpl) SetAggregator(agg Aggregator) {
	s.mu.Lock()
	s.agg = agg
	s.mu.Unlock()
}

// Evaluate runs the providers concurrently and aggregates their records.
func (s *strategyImpl) Evaluate(ctx context.Context, candles []utilities.OHLCVBar) Evaluation {
	var ev Evaluation
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		ev.Forecast = safeCompute(ctx, s.forecast, candles, s.logger)
	}()
	go func() {
		defer wg.Done()
		ev.Indicator = safeCompute(ctx, s.indicators, candles, s.logger)
	}()
	go func() {
		defer wg.Done()
		ev.MonteCarlo = safeCompute(ctx, s.monteCarlo, candles, s.logger)
	}()
	wg.Wait()

	s.mu.RLock()
	agg := s.agg
	s.mu.RUnlock()
	ev.Decision = agg.Aggregate(ev.Forecast, ev.Indicator, ev.MonteCarlo)
	return ev
}

// safeCompute treats a nil or panicking provider as missing data.
func safeCompute[R any](ctx context.Context, p Provider[R], candles []utilities.OHLCVBar, logger *utilities.Logger) (rec *R) {
	if p == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			logger.LogError("Strategy: provider %s panicked: %v", p.Name(), fmt.Sprint(r))
			rec = nil
		}
	}()
	rec = p.Compute(ctx, candles)
	if rec == nil {
		logger.LogDebug("Strategy: provider %s returned no data (%d candles)", p.Name(), len(candles))
	}
	return rec
}
