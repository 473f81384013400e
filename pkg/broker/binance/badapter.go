// File: pkg/broker/binance/badapter.go
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
	"time"

	"github.com/shopspring/decimal"
)

// codeUnknownCancel is returned when cancelling an order that is already closed or unknown.
const codeUnknownCancel = -2011

// Adapter implements broker.Broker on top of Client, applying exchange filters
// to every outgoing quantity and price.
type Adapter struct {
	client    *Client
	logger    *utilities.Logger
	appConfig *utilities.BinanceConfig
}

var _ broker.Broker = (*Adapter)(nil)

func NewAdapter(appCfg *utilities.BinanceConfig, httpClient *http.Client, logger *utilities.Logger) (*Adapter, error) {
	if appCfg == nil {
		return nil, errors.New("binance adapter: BinanceConfig cannot be nil")
	}
	if appCfg.BaseURL == "" {
		return nil, errors.New("binance adapter: base_url is required")
	}
	if logger == nil {
		logger = utilities.NewLogger(utilities.Info)
		logger.LogWarn("Binance.Adapter: Logger fallback used for adapter.")
	}

	logger.LogInfo("Initializing Binance Adapter (%s)...", appCfg.BaseURL)
	return &Adapter{
		client:    NewClient(appCfg, httpClient, logger),
		logger:    logger,
		appConfig: appCfg,
	}, nil
}

func (a *Adapter) GetBalance(ctx context.Context, asset string) (broker.Balance, error) {
	account, err := a.client.GetAccountAPI(ctx)
	if err != nil {
		return broker.Balance{}, fmt.Errorf("GetBalance: %w", err)
	}
	asset = strings.ToUpper(asset)
	for _, b := range account.Balances {
		if b.Asset != asset {
			continue
		}
		free, _ := strconv.ParseFloat(b.Free, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		return broker.Balance{Asset: asset, Free: free, Locked: locked}, nil
	}
	return broker.Balance{Asset: asset}, nil
}

func (a *Adapter) GetTicker(ctx context.Context, symbol string) (broker.TickerData, error) {
	resp, err := a.client.GetTickerPriceAPI(ctx, symbol)
	if err != nil {
		return broker.TickerData{}, fmt.Errorf("GetTicker %s: %w", symbol, err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil || price <= 0 {
		return broker.TickerData{}, fmt.Errorf("GetTicker %s: invalid price %q", symbol, resp.Price)
	}
	return broker.TickerData{Symbol: resp.Symbol, LastPrice: price, Timestamp: time.Now()}, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	filters, err := a.client.GetSymbolFilters(ctx, req.Symbol)
	if err != nil {
		return broker.OrderAck{}, fmt.Errorf("PlaceOrder: filters for %s: %w", req.Symbol, err)
	}

	qty := FormatQuantity(req.Quantity, filters)
	params := url.Values{
		"symbol": {strings.ToUpper(req.Symbol)},
		"side":   {strings.ToUpper(req.Side)},
		"type":   {strings.ToUpper(req.Type)},
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	switch strings.ToUpper(req.Type) {
	case broker.TypeLimit:
		if req.Price <= 0 {
			return broker.OrderAck{}, errors.New("PlaceOrder: price is required for LIMIT orders")
		}
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		price := FormatPrice(req.Price, filters)
		qty = EnsureMinNotional(qty, price, filters)
		params.Set("price", price.String())
		params.Set("timeInForce", tif)
	case broker.TypeMarket:
	default:
		if req.StopPrice > 0 {
			params.Set("stopPrice", FormatPrice(req.StopPrice, filters).String())
		}
		if req.Price > 0 {
			params.Set("price", FormatPrice(req.Price, filters).String())
		}
		if req.TimeInForce != "" {
			params.Set("timeInForce", req.TimeInForce)
		}
	}

	if !qty.IsPositive() {
		return broker.OrderAck{}, fmt.Errorf("PlaceOrder: quantity %v formats to %s", req.Quantity, qty.String())
	}
	params.Set("quantity", qty.String())

	a.logger.LogInfo("Binance: placing %s %s %s qty=%s price=%s", params.Get("side"), params.Get("type"), params.Get("symbol"), params.Get("quantity"), params.Get("price"))
	resp, err := a.client.NewOrderAPI(ctx, params)
	if err != nil {
		return broker.OrderAck{}, err
	}

	executed, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)
	orig, _ := strconv.ParseFloat(resp.OrigQty, 64)
	ack := broker.OrderAck{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Status:        resp.Status,
		OrigQty:       orig,
		ExecutedQty:   executed,
		TransactTime:  time.UnixMilli(resp.TransactTime),
	}
	if executed > 0 {
		ack.AvgFillPrice = quote / executed
	}
	return ack, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := a.client.CancelOrderAPI(ctx, symbol, orderID)
	if apiErr, ok := broker.IsAPIError(err); ok && apiErr.Code == codeUnknownCancel {
		return fmt.Errorf("CancelOrder %s: %w: %s", orderID, broker.ErrOrderNotFound, apiErr.Message)
	}
	return err
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (broker.Order, error) {
	resp, err := a.client.QueryOrderAPI(ctx, symbol, orderID)
	if err != nil {
		if apiErr, ok := broker.IsAPIError(err); ok && apiErr.Code == codeUnknownOrder {
			return broker.Order{}, fmt.Errorf("GetOrderStatus %s: %w", orderID, broker.ErrOrderNotFound)
		}
		return broker.Order{}, err
	}
	return orderFromResponse(resp), nil
}

func orderFromResponse(resp orderResponse) broker.Order {
	price, _ := strconv.ParseFloat(resp.Price, 64)
	orig, _ := strconv.ParseFloat(resp.OrigQty, 64)
	executed, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(resp.CummulativeQuoteQty, 64)

	order := broker.Order{
		ID:            strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          resp.Side,
		Type:          resp.Type,
		Status:        resp.Status,
		Price:         price,
		OrigQty:       orig,
		ExecutedQty:   executed,
		CreatedAt:     time.UnixMilli(resp.Time),
		UpdatedAt:     time.UnixMilli(resp.UpdateTime),
	}
	if executed > 0 {
		order.AvgFillPrice = quote / executed
	}
	return order
}

func (a *Adapter) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error) {
	raw, err := a.client.KlinesAPI(ctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("GetHistoricalCandles %s %s: %w", symbol, interval, err)
	}
	bars := make([]utilities.OHLCVBar, 0, len(raw))
	for i, row := range raw {
		bar, err := parseKlineRow(row)
		if err != nil {
			return nil, fmt.Errorf("GetHistoricalCandles: row %d: %w", i, err)
		}
		bars = append(bars, bar)
	}
	utilities.SortBarsByTimestamp(bars)
	return bars, nil
}

// parseKlineRow decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlineRow(row []json.RawMessage) (utilities.OHLCVBar, error) {
	if len(row) < 7 {
		return utilities.OHLCVBar{}, fmt.Errorf("kline has %d fields, want at least 7", len(row))
	}
	var bar utilities.OHLCVBar
	if err := json.Unmarshal(row[0], &bar.Timestamp); err != nil {
		return bar, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &bar.CloseTime); err != nil {
		return bar, fmt.Errorf("close time: %w", err)
	}
	fields := []*float64{&bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume}
	for i, dst := range fields {
		var s string
		if err := json.Unmarshal(row[i+1], &s); err != nil {
			return bar, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bar, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = v
	}
	return bar, nil
}

// SymbolRules exposes the symbol's assets and lot rules for symbol metadata lookups.
func (a *Adapter) SymbolRules(ctx context.Context, symbol string) (broker.SymbolRules, error) {
	info, err := a.client.GetSymbolInfo(ctx, symbol)
	if err != nil {
		return broker.SymbolRules{}, err
	}
	f, err := a.client.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return broker.SymbolRules{}, err
	}
	return broker.SymbolRules{
		Symbol:      info.Symbol,
		BaseAsset:   info.BaseAsset,
		QuoteAsset:  info.QuoteAsset,
		MinQty:      f.MinQty.InexactFloat64(),
		StepSize:    f.StepSize.InexactFloat64(),
		TickSize:    f.TickSize.InexactFloat64(),
		MinNotional: f.MinNotional.InexactFloat64(),
	}, nil
}

// FormatQuantity floors qty to the LOT_SIZE step and clamps it into [minQty, maxQty].
func FormatQuantity(qty float64, f SymbolFilters) decimal.Decimal {
	q := decimal.NewFromFloat(qty)
	if f.StepSize.IsPositive() {
		q = q.Div(f.StepSize).Floor().Mul(f.StepSize)
	}
	if f.MinQty.IsPositive() && q.LessThan(f.MinQty) {
		q = f.MinQty
	}
	if f.MaxQty.IsPositive() && q.GreaterThan(f.MaxQty) {
		q = f.MaxQty
		if f.StepSize.IsPositive() {
			q = q.Div(f.StepSize).Floor().Mul(f.StepSize)
		}
	}
	return q
}

// FormatPrice clamps price into the PRICE_FILTER bounds and rounds it to the tick size.
func FormatPrice(price float64, f SymbolFilters) decimal.Decimal {
	p := decimal.NewFromFloat(price)
	if f.MinPrice.IsPositive() && p.LessThan(f.MinPrice) {
		p = f.MinPrice
	}
	if f.MaxPrice.IsPositive() && p.GreaterThan(f.MaxPrice) {
		p = f.MaxPrice
	}
	if f.TickSize.IsPositive() {
		p = p.Div(f.TickSize).Round(0).Mul(f.TickSize)
	}
	return p
}

// EnsureMinNotional raises qty to the smallest step multiple whose notional at price
// meets the symbol's minimum notional.
func EnsureMinNotional(qty, price decimal.Decimal, f SymbolFilters) decimal.Decimal {
	if !f.MinNotional.IsPositive() || !price.IsPositive() {
		return qty
	}
	if qty.Mul(price).GreaterThanOrEqual(f.MinNotional) {
		return qty
	}
	required := f.MinNotional.Div(price)
	if f.StepSize.IsPositive() {
		return required.Div(f.StepSize).Ceil().Mul(f.StepSize)
	}
	return required
}
