package utilities

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestConvertTFToDuration(t *testing.T) {
	tests := map[string]time.Duration{"1m": time.Minute, "15m": 15 * time.Minute, "1H": time.Hour, "1d": 24 * time.Hour}
	for tf, want := range tests {
		got, err := ConvertTFToDuration(tf)
		if err != nil || got != want {
			t.Errorf("ConvertTFToDuration(%q): expected %v, got %v (%v)", tf, want, got, err)
		}
	}
	if _, err := ConvertTFToDuration("2y"); err == nil {
		t.Error("expected an error for an unsupported timeframe")
	}
}

func TestGenerateHMACSignature(t *testing.T) {
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := GenerateHMACSignature(secret, payload); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestDoJSONRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"price":"42.5"}`)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	var out struct {
		Price string `json:"price"`
	}
	if err := DoJSONRequest(srv.Client(), req, 2, time.Millisecond, &out); err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if out.Price != "42.5" || calls.Load() != 3 {
		t.Errorf("expected price 42.5 after 3 calls, got %q after %d", out.Price, calls.Load())
	}
}

func TestDoJSONRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1013,"msg":"Filter failure"}`)
	}))
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	err := DoJSONRequest(srv.Client(), req, 3, time.Millisecond, nil)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected HTTPStatusError 400, got %v", err)
	}
	if string(statusErr.Body) != `{"code":-1013,"msg":"Filter failure"}` {
		t.Errorf("expected the body kept, got %s", statusErr.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("expected one attempt, got %d", calls.Load())
	}
}

func TestDoJSONRequestGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err := DoJSONRequest(srv.Client(), req, 1, time.Millisecond, nil); err == nil {
		t.Error("expected an error after exhausting retries")
	}
}
