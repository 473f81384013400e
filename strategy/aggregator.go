package strategy

import (
	"fmt"
	"strings"
)

// Weight table keys.
const (
	SourceLSTM = "lstm"
	SourceRSI  = "rsi"
	SourceEMA  = "ema"
	SourceMC   = "mc"
)

// Factor is one weighted component of a decision.
type Factor struct {
	Source string  `json:"source"`
	Signal Signal  `json:"signal"`
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
}

// Contribution is the factor's share of the total score.
func (f Factor) Contribution() float64 {
	return f.Score * f.Weight
}

// CombinedDecision is the aggregator's verdict.
type CombinedDecision struct {
	TotalScore  float64
	ShouldTrade bool
	Threshold   float64
	Factors     []Factor
	Reason      string
}

func (d CombinedDecision) String() string {
	parts := make([]string, 0, len(d.Factors))
	for _, f := range d.Factors {
		parts = append(parts, fmt.Sprintf("%s=%s(%.2f)", f.Source, f.Signal, f.Contribution()))
	}
	return fmt.Sprintf("score=%.4f threshold=%.4f trade=%t [%s] %s",
		d.TotalScore, d.Threshold, d.ShouldTrade, strings.Join(parts, " "), d.Reason)
}

// Aggregator combines provider records into a single long-only decision.
type Aggregator struct {
	Weights   map[string]float64
	Threshold float64
}

func NewAggregator(weights map[string]float64, threshold float64) Aggregator {
	return Aggregator{Weights: weights, Threshold: threshold}
}

// Aggregate returns ShouldTrade only when every record is present and the weighted
// score strictly exceeds the threshold. Missing data is a no-trade, never an error.
func (a Aggregator) Aggregate(lstm *ForecastRecord, indicator *IndicatorRecord, mc *MonteCarloRecord) CombinedDecision {
	d := CombinedDecision{Threshold: a.Threshold}

	var missing []string
	if lstm == nil {
		missing = append(missing, SourceLSTM)
	}
	if indicator == nil {
		missing = append(missing, "indicator")
	}
	if mc == nil {
		missing = append(missing, SourceMC)
	}
	if len(missing) > 0 {
		d.Reason = "insufficient data: " + strings.Join(missing, ", ")
		return d
	}

	d.Factors = []Factor{
		a.factor(SourceLSTM, lstm.Signal),
		a.factor(SourceRSI, indicator.RSISignal),
		a.factor(SourceEMA, indicator.EMASignal),
		a.factor(SourceMC, mc.Signal),
	}
	for _, f := range d.Factors {
		d.TotalScore += f.Contribution()
	}
	d.ShouldTrade = d.TotalScore > a.Threshold
	if d.ShouldTrade {
		d.Reason = "score above threshold"
	} else {
		d.Reason = "score at or below threshold"
	}
	return d
}

func (a Aggregator) factor(source string, s Signal) Factor {
	return Factor{Source: source, Signal: s, Score: s.Score(), Weight: a.Weights[source]}
}
