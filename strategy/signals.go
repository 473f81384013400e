package strategy

import (
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Signal is the categorical output of a signal provider.
type Signal string

const (
	StrongBuy  Signal = "STRONG_BUY"
	Buy        Signal = "BUY"
	Hold       Signal = "HOLD"
	Neutral    Signal = "NEUTRAL"
	Sell       Signal = "SELL"
	StrongSell Signal = "STRONG_SELL"
	Oversold   Signal = "OVERSOLD"
	Overbought Signal = "OVERBOUGHT"
)

var signalScores = map[Signal]float64{
	StrongBuy:  2,
	Buy:        1,
	Hold:       0,
	Neutral:    0,
	Sell:       -1,
	StrongSell: -2,
	Oversold:   0.5,
	Overbought: -0.5,
}

// Score maps s onto the aggregator's numeric scale. Unknown signals score 0.
func (s Signal) Score() float64 {
	return signalScores[s]
}

// Known reports whether s is one of the recognised signals.
func (s Signal) Known() bool {
	_, ok := signalScores[s]
	return ok
}

// ParseSignal normalises free-form provider output such as "strong_buy".
func ParseSignal(raw string) Signal {
	return Signal(strings.ToUpper(strings.TrimSpace(raw)))
}

func validPrice(name string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s must be a positive finite number, got %v", name, v)
	}
	return nil
}

// ForecastRecord is the output of the price-forecast ("lstm") source.
// TargetPrice is zero when the forecast carries no target.
type ForecastRecord struct {
	Signal        Signal
	Price         float64
	TargetPrice   float64
	Trend         string
	TrendStrength float64
}

func NewForecastRecord(signal Signal, price, targetPrice float64, trend string, strength float64) (*ForecastRecord, error) {
	if signal == "" {
		return nil, errors.New("forecast: signal is required")
	}
	if err := validPrice("forecast price", price); err != nil {
		return nil, err
	}
	if targetPrice != 0 {
		if err := validPrice("forecast target_price", targetPrice); err != nil {
			return nil, err
		}
	}
	return &ForecastRecord{
		Signal:        signal,
		Price:         price,
		TargetPrice:   targetPrice,
		Trend:         trend,
		TrendStrength: strength,
	}, nil
}

// IndicatorRecord carries the RSI and EMA readings. Its two signals are scored
// separately under the "rsi" and "ema" weights.
type IndicatorRecord struct {
	Price     float64
	RSI       float64
	RSISignal Signal
	EMAFast   float64
	EMAMid    float64
	EMASlow   float64
	EMASignal Signal
}

func NewIndicatorRecord(price, rsi float64, rsiSignal Signal, emaFast, emaMid, emaSlow float64, emaSignal Signal) (*IndicatorRecord, error) {
	if err := validPrice("indicator price", price); err != nil {
		return nil, err
	}
	if rsi < 0 || rsi > 100 || math.IsNaN(rsi) {
		return nil, fmt.Errorf("indicator: rsi %v out of [0, 100]", rsi)
	}
	if rsiSignal == "" || emaSignal == "" {
		return nil, errors.New("indicator: rsi and ema signals are required")
	}
	return &IndicatorRecord{
		Price:     price,
		RSI:       rsi,
		RSISignal: rsiSignal,
		EMAFast:   emaFast,
		EMAMid:    emaMid,
		EMASlow:   emaSlow,
		EMASignal: emaSignal,
	}, nil
}

// MonteCarloRecord summarises a batch of simulated price paths.
type MonteCarloRecord struct {
	Signal        Signal
	Price         float64
	ExpectedPrice float64
	LowerBound    float64
	UpperBound    float64
	ProbIncrease  float64
	Simulations   int
	Periods       int
}

func NewMonteCarloRecord(signal Signal, price, expected, lower, upper, probIncrease float64, simulations, periods int) (*MonteCarloRecord, error) {
	if signal == "" {
		return nil, errors.New("monte carlo: signal is required")
	}
	for _, p := range []struct {
		name string
		v    float64
	}{{"price", price}, {"expected_price", expected}, {"lower_bound", lower}, {"upper_bound", upper}} {
		if err := validPrice("monte carlo "+p.name, p.v); err != nil {
			return nil, err
		}
	}
	if lower > upper {
		return nil, fmt.Errorf("monte carlo: lower_bound %v above upper_bound %v", lower, upper)
	}
	if probIncrease < 0 || probIncrease > 1 {
		return nil, fmt.Errorf("monte carlo: prob_increase %v out of [0, 1]", probIncrease)
	}
	if simulations <= 0 || periods <= 0 {
		return nil, errors.New("monte carlo: simulations and periods must be positive")
	}
	return &MonteCarloRecord{
		Signal:        signal,
		Price:         price,
		ExpectedPrice: expected,
		LowerBound:    lower,
		UpperBound:    upper,
		ProbIncrease:  probIncrease,
		Simulations:   simulations,
		Periods:       periods,
	}, nil
}

// Provider computes one record from candles ordered oldest first.
// A nil record means there was not enough data.
type Provider[R any] interface {
	Name() string
	Compute(ctx context.Context, candles []utilities.OHLCVBar) *R
}
