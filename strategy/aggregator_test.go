package strategy

import (
	"math"
	"testing"
)

func mustForecast(t *testing.T, s Signal) *ForecastRecord {
	t.Helper()
	r, err := NewForecastRecord(s, 100, 98, "DOWN", 0.2)
	if err != nil {
		t.Fatalf("NewForecastRecord: %v", err)
	}
	return r
}

func mustIndicator(t *testing.T, rsi, ema Signal) *IndicatorRecord {
	t.Helper()
	r, err := NewIndicatorRecord(100, 30, rsi, 99, 98, 97, ema)
	if err != nil {
		t.Fatalf("NewIndicatorRecord: %v", err)
	}
	return r
}

func mustMonteCarlo(t *testing.T, s Signal) *MonteCarloRecord {
	t.Helper()
	r, err := NewMonteCarloRecord(s, 100, 101, 97, 105, 0.35, 1000, 10)
	if err != nil {
		t.Fatalf("NewMonteCarloRecord: %v", err)
	}
	return r
}

func TestAggregateWeightedScore(t *testing.T) {
	weights := map[string]float64{SourceLSTM: 0.35, SourceRSI: 0.25, SourceEMA: 0.20, SourceMC: 0.20}
	lstm := mustForecast(t, Buy)
	ind := mustIndicator(t, Oversold, Neutral)
	mc := mustMonteCarlo(t, Sell)

	tests := []struct {
		name      string
		threshold float64
		want      bool
	}{
		{"trades at 0.1", 0.1, true},
		{"holds at 0.3", 0.3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewAggregator(weights, tt.threshold).Aggregate(lstm, ind, mc)
			if math.Abs(d.TotalScore-0.275) > 1e-9 {
				t.Fatalf("expected total score 0.275, got %v", d.TotalScore)
			}
			if d.ShouldTrade != tt.want {
				t.Errorf("expected ShouldTrade=%t, got %t (%s)", tt.want, d.ShouldTrade, d)
			}
			if len(d.Factors) != 4 {
				t.Errorf("expected 4 factors, got %d", len(d.Factors))
			}
		})
	}
}

func TestAggregateFailsClosed(t *testing.T) {
	agg := NewAggregator(map[string]float64{SourceLSTM: 1, SourceRSI: 1, SourceEMA: 1, SourceMC: 1}, -100)
	lstm := mustForecast(t, StrongBuy)
	ind := mustIndicator(t, Buy, StrongBuy)
	mc := mustMonteCarlo(t, StrongBuy)

	for mask := 0; mask < 7; mask++ {
		l, i, m := lstm, ind, mc
		if mask&1 == 0 {
			l = nil
		}
		if mask&2 == 0 {
			i = nil
		}
		if mask&4 == 0 {
			m = nil
		}
		d := agg.Aggregate(l, i, m)
		if d.ShouldTrade {
			t.Errorf("mask %03b: expected no trade with missing input", mask)
		}
		if d.Reason == "" {
			t.Errorf("mask %03b: expected a reason", mask)
		}
	}
	if d := agg.Aggregate(lstm, ind, mc); !d.ShouldTrade {
		t.Errorf("expected trade with all inputs present, got %s", d)
	}
}

func TestSignalScores(t *testing.T) {
	tests := map[Signal]float64{
		StrongBuy:          2,
		Buy:                1,
		Hold:               0,
		Neutral:            0,
		Sell:               -1,
		StrongSell:         -2,
		Oversold:           0.5,
		Overbought:         -0.5,
		Signal("SIDEWAYS"): 0,
	}
	for s, want := range tests {
		if got := s.Score(); got != want {
			t.Errorf("%q: expected %v, got %v", s, want, got)
		}
	}
	if s := ParseSignal(" strong_buy "); s != StrongBuy {
		t.Errorf("expected ParseSignal to normalise to STRONG_BUY, got %q", s)
	}
}

func TestAggregateMissingWeightScoresZero(t *testing.T) {
	d := NewAggregator(map[string]float64{SourceLSTM: 1}, 0).Aggregate(
		mustForecast(t, Buy), mustIndicator(t, StrongSell, StrongSell), mustMonteCarlo(t, StrongSell))
	if d.TotalScore != 1 {
		t.Errorf("expected unweighted sources to contribute nothing, got %v", d.TotalScore)
	}
}

func TestRecordValidation(t *testing.T) {
	if _, err := NewForecastRecord("", 100, 0, "", 0); err == nil {
		t.Error("expected error for empty forecast signal")
	}
	if _, err := NewForecastRecord(Buy, 0, 0, "", 0); err == nil {
		t.Error("expected error for zero forecast price")
	}
	if _, err := NewIndicatorRecord(100, 120, Buy, 1, 1, 1, Buy); err == nil {
		t.Error("expected error for rsi above 100")
	}
	if _, err := NewMonteCarloRecord(Buy, 100, 100, 110, 90, 0.5, 10, 10); err == nil {
		t.Error("expected error for inverted bounds")
	}
	if _, err := NewMonteCarloRecord(Buy, 100, 100, 90, 110, 1.5, 10, 10); err == nil {
		t.Error("expected error for probability above 1")
	}
}
