package binance

import (
	"Tradewarden/utilities"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openKline   = `{"e":"kline","E":1700000030000,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"100.0","c":"100.5","h":"101.0","l":"99.5","v":"3.2","x":false}}`
	closedKline = `{"e":"kline","E":1700000060000,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"100.0","c":"100.8","h":"101.0","l":"99.5","v":"4.0","x":true}}`
)

func TestParseKlineMessage(t *testing.T) {
	bar, closed, err := parseKlineMessage([]byte(closedKline))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !closed || bar.Timestamp != 1700000000000 || bar.Close != 100.8 || bar.Volume != 4 || bar.CloseTime != 1700000059999 {
		t.Errorf("unexpected bar %+v closed=%v", bar, closed)
	}
	if _, closed, _ := parseKlineMessage([]byte(openKline)); closed {
		t.Error("expected an open candle")
	}
	for _, bad := range []string{`{"e":"trade"}`, `not json`, strings.Replace(closedKline, `"c":"100.8"`, `"c":"x"`, 1)} {
		if _, _, err := parseKlineMessage([]byte(bad)); err == nil {
			t.Errorf("expected an error for %s", bad)
		}
	}
}

func TestKlineStreamEmitsClosedCandlesOnly(t *testing.T) {
	upgrader := websocket.Upgrader{}
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case paths <- r.URL.Path:
		default:
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range []string{openKline, `garbage`, closedKline} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	stream := NewKlineStream("ws"+strings.TrimPrefix(srv.URL, "http"), "BTCUSDT", "1m", utilities.NewLogger(utilities.Fatal))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := stream.Candles(ctx)
	if err != nil {
		t.Fatalf("candles: %v", err)
	}

	select {
	case bar := <-ch:
		if bar.Close != 100.8 {
			t.Errorf("expected the closed candle, got %+v", bar)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a candle")
	}
	if p := <-paths; p != "/btcusdt@kline_1m" {
		t.Errorf("expected the kline stream path, got %s", p)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected no further candles")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop after cancel")
	}
}
