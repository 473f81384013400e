package strategy

import (
	"Tradewarden/utilities"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// MonteCarloProvider simulates future prices as geometric Brownian motion fitted
// to the log returns of the recent closes.
type MonteCarloProvider struct {
	cfg utilities.MonteCarloConfig

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Provider[MonteCarloRecord] = (*MonteCarloProvider)(nil)

// NewMonteCarloProvider seeds from cfg.Seed, or from the clock when it is zero.
func NewMonteCarloProvider(cfg utilities.MonteCarloConfig) *MonteCarloProvider {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if cfg.Simulations <= 0 {
		cfg.Simulations = 1000
	}
	if cfg.Periods <= 0 {
		cfg.Periods = 10
	}
	if cfg.MinHistory < 2 {
		cfg.MinHistory = 30
	}
	return &MonteCarloProvider{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (p *MonteCarloProvider) Name() string { return "monte_carlo" }

func (p *MonteCarloProvider) Compute(_ context.Context, bars []utilities.OHLCVBar) *MonteCarloRecord {
	if len(bars) < p.cfg.MinHistory {
		return nil
	}
	closes := utilities.Closes(bars)
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			return nil
		}
		returns = append(returns, math.Log(closes[i]/closes[i-1]))
	}

	mu, sigma := meanStd(returns)
	drift := mu - 0.5*sigma*sigma
	last := closes[len(closes)-1]

	finals := make([]float64, p.cfg.Simulations)
	up := 0
	p.mu.Lock()
	for s := range finals {
		price := last
		for t := 0; t < p.cfg.Periods; t++ {
			price *= math.Exp(drift + sigma*p.rng.NormFloat64())
		}
		finals[s] = price
		if price > last {
			up++
		}
	}
	p.mu.Unlock()

	sort.Float64s(finals)
	expected, _ := meanStd(finals)
	prob := float64(up) / float64(len(finals))

	rec, err := NewMonteCarloRecord(
		MonteCarloSignal(prob), last, expected,
		percentile(finals, 0.05), percentile(finals, 0.95),
		prob, p.cfg.Simulations, p.cfg.Periods,
	)
	if err != nil {
		return nil
	}
	return rec
}

// MonteCarloSignal maps the probability of a price increase onto a signal.
func MonteCarloSignal(probIncrease float64) Signal {
	switch {
	case probIncrease > 0.7:
		return StrongBuy
	case probIncrease > 0.6:
		return Buy
	case probIncrease < 0.3:
		return StrongSell
	case probIncrease < 0.4:
		return Sell
	}
	return Neutral
}

// meanStd returns the mean and sample standard deviation of xs.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

// percentile interpolates linearly within sorted.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
