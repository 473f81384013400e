// File: pkg/broker/binance/bclient.go
package binance

import (
	"Tradewarden/pkg/broker"
	"Tradewarden/utilities"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// codeUnknownOrder is returned by query/cancel for an order id the exchange does not know.
const codeUnknownOrder = -2013

// Client is the low-level Binance spot REST client: signing, rate limiting and
// exchange filter caching. Adapter turns it into a broker.Broker.
type Client struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	logger     *utilities.Logger
	cfg        *utilities.BinanceConfig
	now        func() time.Time

	dataMu  sync.RWMutex
	symbols map[string]SymbolInfo
	filters map[string]SymbolFilters
}

func NewClient(appCfg *utilities.BinanceConfig, httpClient *http.Client, logger *utilities.Logger) *Client {
	if appCfg == nil {
		panic("Binance Client requires non-nil BinanceConfig")
	}

	if logger == nil {
		logger = utilities.NewLogger(utilities.Info)
		logger.LogWarn("Binance.NewClient: Logger fallback used.")
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: time.Duration(appCfg.RequestTimeoutSec) * time.Second,
		}
	}

	limit := rate.Limit(appCfg.RateLimitPerSec)
	if appCfg.RateLimitPerSec <= 0 {
		limit = rate.Inf
	}
	burst := appCfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		BaseURL:    strings.TrimRight(appCfg.BaseURL, "/"),
		APIKey:     appCfg.APIKey,
		APISecret:  appCfg.APISecret,
		HTTPClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		cfg:        appCfg,
		now:        time.Now,
		symbols:    make(map[string]SymbolInfo),
		filters:    make(map[string]SymbolFilters),
	}
}

// GetSymbolInfo returns cached exchangeInfo for symbol, fetching it on first use.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	symbol = strings.ToUpper(symbol)
	c.dataMu.RLock()
	info, ok := c.symbols[symbol]
	c.dataMu.RUnlock()
	if ok {
		return info, nil
	}

	c.logger.LogInfo("Binance Client: exchange info for %s not cached, fetching...", symbol)
	if err := c.RefreshSymbol(ctx, symbol); err != nil {
		return SymbolInfo{}, err
	}

	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	info, ok = c.symbols[symbol]
	if !ok {
		return SymbolInfo{}, fmt.Errorf("symbol %s not found in exchange info", symbol)
	}
	return info, nil
}

// GetSymbolFilters returns the parsed order filters for symbol.
func (c *Client) GetSymbolFilters(ctx context.Context, symbol string) (SymbolFilters, error) {
	symbol = strings.ToUpper(symbol)
	c.dataMu.RLock()
	f, ok := c.filters[symbol]
	c.dataMu.RUnlock()
	if ok {
		return f, nil
	}
	if _, err := c.GetSymbolInfo(ctx, symbol); err != nil {
		return SymbolFilters{}, err
	}
	c.dataMu.RLock()
	defer c.dataMu.RUnlock()
	return c.filters[symbol], nil
}

// RefreshSymbol re-fetches exchangeInfo for one symbol and replaces its cache entry.
func (c *Client) RefreshSymbol(ctx context.Context, symbol string) error {
	var resp exchangeInfoResponse
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if err := c.callPublic(ctx, "/v3/exchangeInfo", params, &resp); err != nil {
		return fmt.Errorf("binance: exchangeInfo for %s: %w", symbol, err)
	}

	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	for _, s := range resp.Symbols {
		c.symbols[s.Symbol] = s
		c.filters[s.Symbol] = parseFilters(s.Filters)
	}
	c.logger.LogInfo("Binance Client: Refreshed exchange info for %d symbol(s).", len(resp.Symbols))
	return nil
}

func parseFilters(raw []SymbolFilter) SymbolFilters {
	var f SymbolFilters
	for _, r := range raw {
		switch r.FilterType {
		case "PRICE_FILTER":
			f.MinPrice = parseDecimal(r.MinPrice)
			f.MaxPrice = parseDecimal(r.MaxPrice)
			f.TickSize = parseDecimal(r.TickSize)
		case "LOT_SIZE":
			f.MinQty = parseDecimal(r.MinQty)
			f.MaxQty = parseDecimal(r.MaxQty)
			f.StepSize = parseDecimal(r.StepSize)
		case "MIN_NOTIONAL", "NOTIONAL":
			f.MinNotional = parseDecimal(r.MinNotional)
		}
	}
	return f
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (c *Client) GetAccountAPI(ctx context.Context) (accountResponse, error) {
	var resp accountResponse
	if err := c.callSigned(ctx, http.MethodGet, "/v3/account", nil, &resp, c.cfg.MaxRetries); err != nil {
		return accountResponse{}, err
	}
	return resp, nil
}

func (c *Client) GetTickerPriceAPI(ctx context.Context, symbol string) (tickerPriceResponse, error) {
	var resp tickerPriceResponse
	params := url.Values{"symbol": {strings.ToUpper(symbol)}}
	if err := c.callPublic(ctx, "/v3/ticker/price", params, &resp); err != nil {
		return tickerPriceResponse{}, err
	}
	return resp, nil
}

// NewOrderAPI submits an order exactly once; transport failures are not retried.
func (c *Client) NewOrderAPI(ctx context.Context, params url.Values) (orderResponse, error) {
	params.Set("newOrderRespType", "FULL")
	var resp orderResponse
	if err := c.callSigned(ctx, http.MethodPost, "/v3/order", params, &resp, 0); err != nil {
		return orderResponse{}, err
	}
	return resp, nil
}

func (c *Client) CancelOrderAPI(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	var resp orderResponse
	return c.callSigned(ctx, http.MethodDelete, "/v3/order", params, &resp, c.cfg.MaxRetries)
}

func (c *Client) QueryOrderAPI(ctx context.Context, symbol, orderID string) (orderResponse, error) {
	params := url.Values{"symbol": {strings.ToUpper(symbol)}, "orderId": {orderID}}
	var resp orderResponse
	if err := c.callSigned(ctx, http.MethodGet, "/v3/order", params, &resp, c.cfg.MaxRetries); err != nil {
		return orderResponse{}, err
	}
	return resp, nil
}

func (c *Client) KlinesAPI(ctx context.Context, symbol, interval string, limit int) (rawKlines, error) {
	params := url.Values{
		"symbol":   {strings.ToUpper(symbol)},
		"interval": {interval},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp rawKlines
	if err := c.callPublic(ctx, "/v3/klines", params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) callPublic(ctx context.Context, path string, params url.Values, target interface{}) error {
	query := ""
	if len(params) > 0 {
		query = params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, func() string { return query }, false, target, c.cfg.MaxRetries)
}

func (c *Client) callSigned(ctx context.Context, method, path string, params url.Values, target interface{}, maxRetries int) error {
	if c.APIKey == "" || c.APISecret == "" {
		return errors.New("binance: API key or secret not configured")
	}
	if params == nil {
		params = url.Values{}
	}
	if c.cfg.RecvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	}
	// re-signed on every attempt with a fresh timestamp
	sign := func() string {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		payload := params.Encode()
		return payload + "&signature=" + utilities.GenerateHMACSignature(c.APISecret, payload)
	}
	return c.do(ctx, method, path, sign, true, target, maxRetries)
}

func (c *Client) do(ctx context.Context, method, path string, query func() string, signed bool, target interface{}, maxRetries int) error {
	build := func() (*http.Request, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("binance: rate limiter: %w", err)
		}
		endpoint := c.BaseURL + path
		if q := query(); q != "" {
			endpoint += "?" + q
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("binance: create request for %s: %w", path, err)
		}
		req.Header.Set("User-Agent", "Tradewarden/1.0")
		if signed {
			req.Header.Set("X-MBX-APIKEY", c.APIKey)
		}
		c.logger.LogDebug("Binance %s %s", method, path)
		return req, nil
	}

	retryDelay := time.Duration(c.cfg.RetryDelaySec) * time.Second
	err := utilities.DoJSONRequestFunc(ctx, c.HTTPClient, build, maxRetries, retryDelay, target)
	if err == nil {
		return nil
	}

	var statusErr *utilities.HTTPStatusError
	if errors.As(err, &statusErr) {
		var apiErr broker.APIError
		if jsonErr := json.Unmarshal(statusErr.Body, &apiErr); jsonErr == nil && apiErr.Code != 0 {
			return &apiErr
		}
	}
	return fmt.Errorf("binance: %s %s: %w", method, path, err)
}
