package utilities

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// HTTPStatusError is returned by DoJSONRequest for a non-2xx, non-5xx response.
// Body holds up to 4KB of the response so callers can decode exchange error payloads.
type HTTPStatusError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, string(e.Body))
}

// ConvertTFToDuration converts a standard timeframe string (e.g., "1h") to its duration.
// The accepted strings are also the exchange's kline interval names.
func ConvertTFToDuration(tf string) (time.Duration, error) {
	switch strings.ToLower(tf) {
	case "1m":
		return time.Minute, nil
	case "3m":
		return 3 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	case "1w":
		return 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

// DoJSONRequest performs an HTTP request, retries on transport errors and 5xx responses,
// and unmarshals a JSON response. It stops early when the request context is done.
func DoJSONRequest(client *http.Client, req *http.Request, maxRetries int, retryDelay time.Duration, result interface{}) error {
	first := true
	return DoJSONRequestFunc(req.Context(), client, func() (*http.Request, error) {
		if first || req.GetBody == nil {
			first = false
			return req, nil
		}
		bodyReader, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("could not reset request body: %w", err)
		}
		r := req.Clone(req.Context())
		r.Body = bodyReader
		return r, nil
	}, maxRetries, retryDelay, result)
}

// DoJSONRequestFunc is DoJSONRequest with the request rebuilt for every attempt,
// for requests that carry a timestamp or signature.
func DoJSONRequestFunc(ctx context.Context, client *http.Client, build func() (*http.Request, error), maxRetries int, retryDelay time.Duration, result interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("request cancelled after %d attempt(s): %w", attempt, errors.Join(ctx.Err(), lastErr))
			case <-time.After(retryDelay):
			}
		}

		req, err := build()
		if err != nil {
			return fmt.Errorf("attempt %d: %w", attempt+1, err)
		}

		done, err := doOnce(client, req, result)
		if done {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}

// doOnce reports done=false when the attempt may be retried.
func doOnce(client *http.Client, req *http.Request, result interface{}) (bool, error) {
	resp, err := client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return true, err
		}
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 && resp.StatusCode <= 599 {
		return false, fmt.Errorf("server error %d %s", resp.StatusCode, resp.Status)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return true, &HTTPStatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	if result == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return true, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return true, nil
}

// GenerateHMACSignature signs payload with secret using HMAC-SHA256 and returns it hex encoded.
func GenerateHMACSignature(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SortBarsByTimestamp sorts a slice of OHLCVBar by ascending Timestamp.
func SortBarsByTimestamp(bars []OHLCVBar) {
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp < bars[j].Timestamp
	})
}

// Closes extracts the close prices of bars in order.
func Closes(bars []OHLCVBar) []float64 {
	out := make([]float64, len(bars))
	for i, bar := range bars {
		out[i] = bar.Close
	}
	return out
}
