package strategy

import (
	"Tradewarden/utilities"
	"context"
	"testing"
)

func barsFromCloses(closes []float64) []utilities.OHLCVBar {
	bars := make([]utilities.OHLCVBar, len(closes))
	for i, c := range closes {
		bars[i] = utilities.OHLCVBar{Timestamp: int64(i) * 60_000, Open: c, High: c, Low: c, Close: c, Volume: 1}
	}
	return bars
}

func linearCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func defaultIndicators() utilities.IndicatorsConfig {
	return utilities.IndicatorsConfig{RSIPeriod: 14, RSIOversold: 35, RSIOverbought: 65, EMAFast: 9, EMAMid: 20, EMASlow: 50}
}

func TestCalculateRSI(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		want   float64
	}{
		{"insufficient data", []float64{1, 2, 3}, 50},
		{"only gains", linearCloses(20, 100, 1), 100},
		{"only losses", linearCloses(20, 100, -1), 0},
		{"flat", linearCloses(20, 100, 0), 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateRSI(barsFromCloses(tt.closes), 14); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRSISignal(t *testing.T) {
	tests := []struct {
		prev, curr float64
		want       Signal
	}{
		{30, 36, Buy},
		{70, 64, Sell},
		{30, 32, Oversold},
		{70, 68, Overbought},
		{50, 52, Neutral},
		{35, 35, Neutral},
	}
	for _, tt := range tests {
		if got := RSISignal(tt.prev, tt.curr, 35, 65); got != tt.want {
			t.Errorf("RSISignal(%v, %v): expected %s, got %s", tt.prev, tt.curr, tt.want, got)
		}
	}
}

func TestEMASignal(t *testing.T) {
	tests := []struct {
		name                              string
		prevFast, prevMid, fast, mid, slow float64
		want                              Signal
	}{
		{"cross up in uptrend", 9, 10, 11, 10.5, 10, StrongBuy},
		{"cross up below slow", 9, 10, 11, 10.5, 12, Buy},
		{"cross down in downtrend", 11, 10, 9, 9.5, 10, StrongSell},
		{"cross down above slow", 11, 10, 9, 9.5, 8, Sell},
		{"aligned without cross", 12, 11, 13, 12, 10, Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EMASignal(tt.prevFast, tt.prevMid, tt.fast, tt.mid, tt.slow); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestComputeEMASeries(t *testing.T) {
	ema := ComputeEMASeries([]float64{10, 10, 10, 10}, 3)
	for i, v := range ema {
		if v != 10 {
			t.Errorf("index %d: expected 10 for a constant series, got %v", i, v)
		}
	}
	if ComputeEMASeries(nil, 3) != nil {
		t.Error("expected nil for empty input")
	}
}

func TestIndicatorProviderCompute(t *testing.T) {
	p := NewIndicatorProvider(defaultIndicators())
	if p.MinCandles() != 51 {
		t.Fatalf("expected 51 candles required, got %d", p.MinCandles())
	}
	if rec := p.Compute(context.Background(), barsFromCloses(linearCloses(50, 100, 1))); rec != nil {
		t.Fatalf("expected nil with too little history, got %+v", rec)
	}

	rec := p.Compute(context.Background(), barsFromCloses(linearCloses(80, 100, 1)))
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.Price != 179 {
		t.Errorf("expected price 179, got %v", rec.Price)
	}
	if rec.RSISignal != Overbought {
		t.Errorf("expected OVERBOUGHT on a steady rally, got %s", rec.RSISignal)
	}
	if !(rec.EMAFast > rec.EMAMid && rec.EMAMid > rec.EMASlow) {
		t.Errorf("expected bullish EMA alignment, got %v/%v/%v", rec.EMAFast, rec.EMAMid, rec.EMASlow)
	}
	if rec.EMASignal != Neutral {
		t.Errorf("expected no fresh cross, got %s", rec.EMASignal)
	}
}
