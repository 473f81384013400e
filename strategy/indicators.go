package strategy

import (
	"Tradewarden/utilities"
	"context"
)

// CalculateRSI calculates the Relative Strength Index over the last period bars.
func CalculateRSI(bars []utilities.OHLCVBar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 50.0 // neutral
	}
	gains, losses := 0.0, 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}
	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// ComputeEMASeries computes the exponential moving average of data, seeded with the first value.
func ComputeEMASeries(data []float64, period int) []float64 {
	if period <= 0 || len(data) == 0 {
		return nil
	}

	ema := make([]float64, len(data))
	multiplier := 2.0 / float64(period+1)

	ema[0] = data[0]
	for i := 1; i < len(data); i++ {
		ema[i] = (data[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}

// RSISignal classifies an RSI move from prev to curr. Crossing back out of an
// extreme zone is the actionable signal; sitting inside one is only a bias.
func RSISignal(prev, curr, oversold, overbought float64) Signal {
	switch {
	case prev < oversold && curr >= oversold:
		return Buy
	case prev > overbought && curr <= overbought:
		return Sell
	case curr < oversold:
		return Oversold
	case curr > overbought:
		return Overbought
	}
	return Neutral
}

// EMASignal classifies the fast/mid crossover, strengthened when the slow EMA confirms the trend.
func EMASignal(prevFast, prevMid, fast, mid, slow float64) Signal {
	crossUp := prevFast <= prevMid && fast > mid
	crossDown := prevFast >= prevMid && fast < mid
	switch {
	case crossUp && mid > slow:
		return StrongBuy
	case crossDown && mid < slow:
		return StrongSell
	case crossUp:
		return Buy
	case crossDown:
		return Sell
	}
	return Neutral
}

// IndicatorProvider produces the RSI and EMA readings of the latest closed candle.
type IndicatorProvider struct {
	cfg utilities.IndicatorsConfig
}

var _ Provider[IndicatorRecord] = (*IndicatorProvider)(nil)

func NewIndicatorProvider(cfg utilities.IndicatorsConfig) *IndicatorProvider {
	return &IndicatorProvider{cfg: cfg}
}

func (p *IndicatorProvider) Name() string { return "indicators" }

// MinCandles is the history needed for a reading, including the previous bar used for crossings.
func (p *IndicatorProvider) MinCandles() int {
	need := p.cfg.EMASlow
	if p.cfg.RSIPeriod+1 > need {
		need = p.cfg.RSIPeriod + 1
	}
	return need + 1
}

func (p *IndicatorProvider) Compute(_ context.Context, bars []utilities.OHLCVBar) *IndicatorRecord {
	n := len(bars)
	if n < p.MinCandles() || p.cfg.EMAFast <= 0 || p.cfg.EMAMid <= 0 || p.cfg.EMASlow <= 0 {
		return nil
	}

	rsiPrev := CalculateRSI(bars[:n-1], p.cfg.RSIPeriod)
	rsi := CalculateRSI(bars, p.cfg.RSIPeriod)

	closes := utilities.Closes(bars)
	fast := ComputeEMASeries(closes, p.cfg.EMAFast)
	mid := ComputeEMASeries(closes, p.cfg.EMAMid)
	slow := ComputeEMASeries(closes, p.cfg.EMASlow)

	rec, err := NewIndicatorRecord(
		closes[n-1],
		rsi, RSISignal(rsiPrev, rsi, p.cfg.RSIOversold, p.cfg.RSIOverbought),
		fast[n-1], mid[n-1], slow[n-1],
		EMASignal(fast[n-2], mid[n-2], fast[n-1], mid[n-1], slow[n-1]),
	)
	if err != nil {
		return nil
	}
	return rec
}
