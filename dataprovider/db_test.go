package dataprovider

import (
	"Tradewarden/pkg/ledger"
	"Tradewarden/utilities"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	cache, err := NewSQLiteCache(utilities.DatabaseConfig{DBPath: filepath.Join(t.TempDir(), "tradewarden.db")})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestNewSQLiteCacheRequiresPath(t *testing.T) {
	if _, err := NewSQLiteCache(utilities.DatabaseConfig{}); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestClosedTradesRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	entry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, _ := ledger.NewClosedTrade("1", "BTCUSDT", 100, 102, 2, 102, 99, entry, entry.Add(30*time.Minute), ledger.ResultTakeProfit)
	second, _ := ledger.NewClosedTrade("2", "BTCUSDT", 100, 99, 1, 102, 99, entry, entry.Add(90*time.Minute), ledger.ResultStopLoss)
	for _, tr := range []ledger.ClosedTrade{first, second} {
		if err := cache.AppendClosedTrade(ctx, tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := cache.ClosedTrades(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].OrderID != "1" || got[1].OrderID != "2" {
		t.Errorf("expected insertion order, got %s, %s", got[0].OrderID, got[1].OrderID)
	}
	if got[0].PnL != 4 || got[1].Result != ledger.ResultStopLoss || got[1].TradeDurationMinutes != 90 {
		t.Errorf("unexpected rows %+v", got)
	}
	if !got[0].Timestamp.Equal(first.Timestamp) {
		t.Errorf("expected timestamp %v, got %v", first.Timestamp, got[0].Timestamp)
	}
}

func TestLedgerOverSQLite(t *testing.T) {
	cache := newTestCache(t)
	l := ledger.New(cache, utilities.NewLogger(utilities.Fatal))
	ctx := context.Background()
	entry := time.Now().Add(-time.Hour)

	tr, _ := ledger.NewClosedTrade("9", "ETHUSDT", 2000, 2100, 0.5, 2100, 1950, entry, time.Now(), ledger.ResultTakeProfit)
	if err := l.Record(ctx, tr); err != nil {
		t.Fatalf("record: %v", err)
	}
	sum, err := l.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.TotalTrades != 1 || sum.TotalPnL != 50 {
		t.Errorf("expected one trade worth 50, got %+v", sum)
	}
}

func TestBarsCache(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	var bars []utilities.OHLCVBar
	for i := 0; i < 5; i++ {
		ts := int64(i) * 60_000
		bars = append(bars, utilities.OHLCVBar{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: float64(100 + i), Volume: 10, CloseTime: ts + 59_999})
	}
	if err := cache.SaveBars(ctx, "BTCUSDT", "1m", bars[:4]); err != nil {
		t.Fatalf("save bars: %v", err)
	}
	if err := cache.SaveBar(ctx, "BTCUSDT", "1m", bars[4]); err != nil {
		t.Fatalf("save bar: %v", err)
	}
	// replacing a bar must not duplicate it
	if err := cache.SaveBar(ctx, "BTCUSDT", "1m", bars[4]); err != nil {
		t.Fatalf("save bar again: %v", err)
	}

	got, err := cache.GetBars(ctx, "BTCUSDT", "1m", 3)
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(got) != 3 || got[0].Close != 102 || got[2].Close != 104 {
		t.Fatalf("expected the 3 latest bars oldest first, got %+v", got)
	}
	if got[2].CloseTime != bars[4].CloseTime {
		t.Errorf("expected close time kept, got %d", got[2].CloseTime)
	}

	other, err := cache.GetBars(ctx, "BTCUSDT", "5m", 10)
	if err != nil || len(other) != 0 {
		t.Errorf("expected no bars for another interval, got %d (%v)", len(other), err)
	}

	n, err := cache.CleanupOldBars(ctx, "BTCUSDT", time.UnixMilli(2*60_000))
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 bars pruned, got %d", n)
	}
}
