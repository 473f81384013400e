package strategy

import (
	"Tradewarden/utilities"
	"context"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewForecastProvider returns the remote prediction client when a URL is configured,
// otherwise the local trend projection.
func NewForecastProvider(cfg utilities.ForecastConfig, symbol string, logger *utilities.Logger) Provider[ForecastRecord] {
	if cfg.URL != "" {
		return NewRemoteForecastProvider(cfg, symbol, logger)
	}
	return NewTrendForecastProvider(cfg.Lookback, cfg.Periods)
}

type forecastRequest struct {
	Symbol  string    `json:"symbol"`
	Closes  []float64 `json:"closes"`
	Periods int       `json:"periods"`
}

type forecastResponse struct {
	Signal        string  `json:"signal"`
	TargetPrice   float64 `json:"target_price"`
	Trend         string  `json:"trend"`
	TrendStrength float64 `json:"trend_strength"`
}

// RemoteForecastProvider asks an external prediction service for a forecast.
// Any failure yields nil so the aggregator does not trade.
type RemoteForecastProvider struct {
	client   *resty.Client
	url      string
	symbol   string
	lookback int
	periods  int
	logger   *utilities.Logger
}

var _ Provider[ForecastRecord] = (*RemoteForecastProvider)(nil)

func NewRemoteForecastProvider(cfg utilities.ForecastConfig, symbol string, logger *utilities.Logger) *RemoteForecastProvider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &RemoteForecastProvider{
		client:   client,
		url:      cfg.URL,
		symbol:   symbol,
		lookback: cfg.Lookback,
		periods:  cfg.Periods,
		logger:   logger,
	}
}

func (p *RemoteForecastProvider) Name() string { return "remote_forecast" }

func (p *RemoteForecastProvider) Compute(ctx context.Context, bars []utilities.OHLCVBar) *ForecastRecord {
	if len(bars) == 0 || (p.lookback > 0 && len(bars) < p.lookback) {
		return nil
	}
	window := bars
	if p.lookback > 0 {
		window = bars[len(bars)-p.lookback:]
	}
	closes := utilities.Closes(window)

	var out forecastResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(forecastRequest{Symbol: p.symbol, Closes: closes, Periods: p.periods}).
		SetResult(&out).
		Post(p.url)
	if err != nil {
		p.logger.LogWarn("Forecast: request to %s failed: %v", p.url, err)
		return nil
	}
	if resp.IsError() {
		p.logger.LogWarn("Forecast: %s returned %d: %s", p.url, resp.StatusCode(), resp.String())
		return nil
	}

	rec, err := NewForecastRecord(ParseSignal(out.Signal), closes[len(closes)-1], out.TargetPrice, out.Trend, out.TrendStrength)
	if err != nil {
		p.logger.LogWarn("Forecast: discarding malformed reply: %v", err)
		return nil
	}
	return rec
}

// TrendForecastProvider fits a least-squares line through the recent closes and
// projects it forward.
type TrendForecastProvider struct {
	lookback int
	periods  int
}

var _ Provider[ForecastRecord] = (*TrendForecastProvider)(nil)

func NewTrendForecastProvider(lookback, periods int) *TrendForecastProvider {
	if lookback < 2 {
		lookback = 60
	}
	if periods <= 0 {
		periods = 10
	}
	return &TrendForecastProvider{lookback: lookback, periods: periods}
}

func (p *TrendForecastProvider) Name() string { return "trend_forecast" }

func (p *TrendForecastProvider) Compute(_ context.Context, bars []utilities.OHLCVBar) *ForecastRecord {
	if len(bars) < p.lookback {
		return nil
	}
	closes := utilities.Closes(bars[len(bars)-p.lookback:])
	slope, intercept := linearFit(closes)
	last := closes[len(closes)-1]
	if last <= 0 {
		return nil
	}

	slopePct := slope / last * 100
	target := intercept + slope*float64(len(closes)-1+p.periods)
	if target <= 0 {
		target = 0
	}

	trend := "FLAT"
	if slopePct > 0 {
		trend = "UP"
	} else if slopePct < 0 {
		trend = "DOWN"
	}

	rec, err := NewForecastRecord(TrendSignal(slopePct), last, target, trend, math.Abs(slopePct))
	if err != nil {
		return nil
	}
	return rec
}

// TrendSignal maps a per-bar slope, in percent of price, onto a signal.
func TrendSignal(slopePct float64) Signal {
	switch {
	case slopePct > 0.3:
		return StrongBuy
	case slopePct > 0.1:
		return Buy
	case slopePct < -0.3:
		return StrongSell
	case slopePct < -0.1:
		return Sell
	}
	return Neutral
}

// linearFit returns the least-squares slope and intercept of ys against 0..n-1.
func linearFit(ys []float64) (slope, intercept float64) {
	n := float64(len(ys))
	if n < 2 {
		if n == 1 {
			return 0, ys[0]
		}
		return 0, 0
	}
	var sx, sy, sxx, sxy float64
	for i, y := range ys {
		x := float64(i)
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, sy / n
	}
	slope = (n*sxy - sx*sy) / den
	intercept = (sy - slope*sx) / n
	return slope, intercept
}
