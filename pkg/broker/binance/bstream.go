package binance

import (
	"Tradewarden/utilities"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// KlineStream subscribes to the exchange kline websocket and emits closed candles only.
type KlineStream struct {
	URL            string
	Symbol         string
	Interval       string
	ReconnectDelay time.Duration
	logger         *utilities.Logger
	dialer         *websocket.Dialer
}

func NewKlineStream(wsURL, symbol, interval string, logger *utilities.Logger) *KlineStream {
	return &KlineStream{
		URL:            strings.TrimRight(wsURL, "/"),
		Symbol:         strings.ToUpper(symbol),
		Interval:       interval,
		ReconnectDelay: 5 * time.Second,
		logger:         logger,
		dialer:         websocket.DefaultDialer,
	}
}

// Candles connects and streams closed candles until ctx is done, reconnecting on
// any read or dial failure. The channel is closed when the stream stops.
func (s *KlineStream) Candles(ctx context.Context) (<-chan utilities.OHLCVBar, error) {
	out := make(chan utilities.OHLCVBar, 16)
	go func() {
		defer close(out)
		for {
			err := s.runOnce(ctx, out)
			if ctx.Err() != nil {
				return
			}
			s.logger.LogWarn("KlineStream: %s disconnected: %v. Reconnecting in %s.", s.Symbol, err, s.ReconnectDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.ReconnectDelay):
			}
		}
	}()
	return out, nil
}

func (s *KlineStream) streamURL() string {
	return fmt.Sprintf("%s/%s@kline_%s", s.URL, strings.ToLower(s.Symbol), s.Interval)
}

func (s *KlineStream) runOnce(ctx context.Context, out chan<- utilities.OHLCVBar) error {
	conn, _, err := s.dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	s.logger.LogInfo("KlineStream: subscribed to %s", s.streamURL())

	// unblock ReadMessage on cancellation
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		bar, closed, err := parseKlineMessage(msg)
		if err != nil {
			s.logger.LogWarn("KlineStream: skipping malformed message: %v", err)
			continue
		}
		if !closed {
			continue
		}
		select {
		case out <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parseKlineMessage decodes a kline event and reports whether the candle is closed.
func parseKlineMessage(msg []byte) (utilities.OHLCVBar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return utilities.OHLCVBar{}, false, err
	}
	if ev.EventType != "kline" {
		return utilities.OHLCVBar{}, false, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	k := ev.Kline
	bar := utilities.OHLCVBar{Timestamp: k.StartTime, CloseTime: k.CloseTime}
	fields := []struct {
		raw string
		dst *float64
	}{
		{k.Open, &bar.Open}, {k.High, &bar.High}, {k.Low, &bar.Low}, {k.Close, &bar.Close}, {k.Volume, &bar.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return utilities.OHLCVBar{}, false, fmt.Errorf("kline field %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return bar, k.IsClosed, nil
}
