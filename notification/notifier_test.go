package notification

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("webhook down")}
	c := &recordingNotifier{}
	err := Multi{a, nil, b, c}.Notify(context.Background(), Event{Kind: KindStartup})
	if err == nil || !strings.Contains(err.Error(), "webhook down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 || len(c.events) != 1 {
		t.Errorf("expected every notifier to receive the event")
	}
}

func TestEventRendering(t *testing.T) {
	ev := Event{Kind: KindTradeClosed, Symbol: "BTCUSDT", OrderID: "9", Price: 102, Quantity: 0.5, PnL: -1, PnLPct: -0.5, Reason: "STOP_LOSS"}
	if !strings.Contains(ev.Title(), "loss") {
		t.Errorf("expected a loss headline, got %q", ev.Title())
	}
	body := ev.Body()
	for _, want := range []string{"Order ID: 9", "P&L: -1.00000000 (-0.50%)", "Reason: STOP_LOSS"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected body to contain %q, got:\n%s", want, body)
		}
	}
	if strings.Contains((Event{Kind: KindStartup}).Body(), "P&L") {
		t.Error("expected no P&L line outside closed trades")
	}
}
