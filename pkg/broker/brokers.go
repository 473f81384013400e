// File: pkg/broker/brokers.go
package broker

import (
	"Tradewarden/utilities"
	"context"
	"errors"
	"fmt"
	"time"
)

// Order sides, types and statuses as reported by the exchange.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	TypeLimit  = "LIMIT"
	TypeMarket = "MARKET"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusPendingCancel   = "PENDING_CANCEL"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

// ErrOrderNotFound is returned when the exchange does not know an order id.
var ErrOrderNotFound = errors.New("order not found")

// Broker defines the interface for interacting with a cryptocurrency exchange.
// Every call is bounded by ctx.
type Broker interface {
	// GetBalance retrieves the free and locked balance for an asset.
	GetBalance(ctx context.Context, asset string) (Balance, error)

	// GetTicker retrieves the last traded price for a symbol.
	GetTicker(ctx context.Context, symbol string) (TickerData, error)

	// PlaceOrder submits a new order. A refusal by the exchange is returned as *APIError.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, symbol, orderID string) error

	// GetOrderStatus retrieves the current state of an order.
	GetOrderStatus(ctx context.Context, symbol, orderID string) (Order, error)

	// GetHistoricalCandles retrieves the most recent limit candles, oldest first.
	GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error)
}

// MarketData is the read-only half of Broker, enough to drive a simulated account.
type MarketData interface {
	GetTicker(ctx context.Context, symbol string) (TickerData, error)
	GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error)
}

// APIError is an exchange-side refusal carrying the exchange's error code.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// IsAPIError reports whether err wraps an exchange refusal.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// OrderRequest defines the parameters required to place a new order.
// Quantity and Price are unformatted; the gateway applies exchange filters.
type OrderRequest struct {
	Symbol        string
	Side          string
	Type          string
	Quantity      float64
	Price         float64 // limit price, ignored for MARKET
	StopPrice     float64
	TimeInForce   string
	ClientOrderID string
}

// OrderAck is the exchange's acknowledgment of a new order.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Status        string
	OrigQty       float64 // quantity as accepted, after exchange formatting
	ExecutedQty   float64
	AvgFillPrice  float64
	TransactTime  time.Time
}

// Filled reports whether the order was completely filled on submission.
func (a OrderAck) Filled() bool {
	return a.Status == StatusFilled
}

// Order represents a trade order's state and details.
type Order struct {
	ID            string    `json:"id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Price         float64   `json:"price,omitempty"`
	OrigQty       float64   `json:"orig_qty"`
	ExecutedQty   float64   `json:"executed_qty"`
	AvgFillPrice  float64   `json:"avg_fill_price,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// IsTerminal reports whether the order can no longer fill.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// SymbolRules describes a symbol's assets and exchange lot rules. Zero means unknown.
type SymbolRules struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	MinQty      float64
	StepSize    float64
	TickSize    float64
	MinNotional float64
}

// RulesSource is implemented by gateways that can describe a symbol's trading rules.
type RulesSource interface {
	SymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
}

// TickerData contains current market ticker information for a symbol.
type TickerData struct {
	Symbol    string    `json:"symbol"`
	LastPrice float64   `json:"last_price"`
	Timestamp time.Time `json:"timestamp"`
}

// Balance represents the balance of a single asset.
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// Total is free plus locked.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}
