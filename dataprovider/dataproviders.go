package dataprovider

import (
	"Tradewarden/pkg/broker"
	"Tradewarden/utilities"
	"context"
	"strings"
	"time"
)

// CandleFeed delivers closed candles, oldest first, until ctx is done.
// The channel is closed when the feed stops.
type CandleFeed interface {
	Candles(ctx context.Context) (<-chan utilities.OHLCVBar, error)
}

// PollingFeed emits closed candles by polling the REST kline endpoint. It is
// the fallback when no websocket stream is configured.
type PollingFeed struct {
	market   broker.MarketData
	symbol   string
	interval string
	every    time.Duration
	logger   *utilities.Logger
	now      func() time.Time
}

var _ CandleFeed = (*PollingFeed)(nil)

// NewPollingFeed polls every `every`; zero means a fifth of the candle interval, at least one second.
func NewPollingFeed(market broker.MarketData, symbol, interval string, every time.Duration, logger *utilities.Logger) (*PollingFeed, error) {
	if every <= 0 {
		d, err := utilities.ConvertTFToDuration(interval)
		if err != nil {
			return nil, err
		}
		every = d / 5
		if every < time.Second {
			every = time.Second
		}
	}
	return &PollingFeed{
		market:   market,
		symbol:   strings.ToUpper(symbol),
		interval: interval,
		every:    every,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (f *PollingFeed) Candles(ctx context.Context) (<-chan utilities.OHLCVBar, error) {
	out := make(chan utilities.OHLCVBar, 16)
	go func() {
		defer close(out)
		var last int64
		ticker := time.NewTicker(f.every)
		defer ticker.Stop()
		for {
			bars, err := f.market.GetHistoricalCandles(ctx, f.symbol, f.interval, 3)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.logger.LogWarn("PollingFeed: %s candles: %v", f.symbol, err)
			}
			for _, bar := range f.closedSince(bars, last) {
				select {
				case out <- bar:
					last = bar.Timestamp
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out, nil
}

// closedSince filters bars to those already closed and newer than last. On the
// first poll only the latest closed bar is returned.
func (f *PollingFeed) closedSince(bars []utilities.OHLCVBar, last int64) []utilities.OHLCVBar {
	nowMs := f.now().UnixMilli()
	var closed []utilities.OHLCVBar
	for _, b := range bars {
		if b.CloseTime > 0 && b.CloseTime < nowMs {
			closed = append(closed, b)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	utilities.SortBarsByTimestamp(closed)
	if last == 0 {
		return closed[len(closed)-1:]
	}
	var fresh []utilities.OHLCVBar
	for _, b := range closed {
		if b.Timestamp > last {
			fresh = append(fresh, b)
		}
	}
	return fresh
}
