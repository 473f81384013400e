package strategy

import (
	"Tradewarden/utilities"
	"context"
	"math"
	"testing"
)

func TestMonteCarloProviderDeterministicWithSeed(t *testing.T) {
	cfg := utilities.MonteCarloConfig{Simulations: 500, Periods: 10, MinHistory: 30, Seed: 42}
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%7) - float64(i%3)
	}
	bars := barsFromCloses(closes)

	a := NewMonteCarloProvider(cfg).Compute(context.Background(), bars)
	b := NewMonteCarloProvider(cfg).Compute(context.Background(), bars)
	if a == nil || b == nil {
		t.Fatal("expected records")
	}
	if *a != *b {
		t.Errorf("expected identical records for identical seeds:\n%+v\n%+v", a, b)
	}
	if !(a.LowerBound <= a.ExpectedPrice && a.ExpectedPrice <= a.UpperBound) {
		t.Errorf("expected lower <= expected <= upper, got %v %v %v", a.LowerBound, a.ExpectedPrice, a.UpperBound)
	}
	if a.Simulations != 500 || a.Periods != 10 {
		t.Errorf("unexpected simulation shape %d/%d", a.Simulations, a.Periods)
	}
	if a.Signal != MonteCarloSignal(a.ProbIncrease) {
		t.Errorf("signal %s does not match probability %v", a.Signal, a.ProbIncrease)
	}
}

func TestMonteCarloProviderNeedsHistory(t *testing.T) {
	p := NewMonteCarloProvider(utilities.MonteCarloConfig{Seed: 1})
	if rec := p.Compute(context.Background(), barsFromCloses(linearCloses(29, 100, 1))); rec != nil {
		t.Errorf("expected nil below 30 closes, got %+v", rec)
	}
	if rec := p.Compute(context.Background(), barsFromCloses(append(linearCloses(40, 100, 1), 0))); rec != nil {
		t.Errorf("expected nil with a non-positive close, got %+v", rec)
	}
}

func TestMonteCarloSignal(t *testing.T) {
	tests := []struct {
		p    float64
		want Signal
	}{
		{0.75, StrongBuy},
		{0.65, Buy},
		{0.5, Neutral},
		{0.35, Sell},
		{0.2, StrongSell},
		{0.7, Buy},
		{0.4, Neutral},
	}
	for _, tt := range tests {
		if got := MonteCarloSignal(tt.p); got != tt.want {
			t.Errorf("MonteCarloSignal(%v): expected %s, got %s", tt.p, tt.want, got)
		}
	}
}

func TestPercentile(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	if got := percentile(xs, 0.5); got != 3 {
		t.Errorf("expected median 3, got %v", got)
	}
	if got := percentile(xs, 0.25); got != 2 {
		t.Errorf("expected 2, got %v", got)
	}
	if got := percentile(xs, 0.1); math.Abs(got-1.4) > 1e-12 {
		t.Errorf("expected 1.4, got %v", got)
	}
}
