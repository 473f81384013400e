package binance

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// SymbolInfo is one entry of the exchangeInfo response.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// SymbolFilter is a raw exchange filter. Only the fields used for order formatting are kept.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinPrice    string `json:"minPrice,omitempty"`
	MaxPrice    string `json:"maxPrice,omitempty"`
	TickSize    string `json:"tickSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// SymbolFilters are the parsed PRICE_FILTER, LOT_SIZE and (MIN_)NOTIONAL rules of a symbol.
// Zero values mean the rule is absent.
type SymbolFilters struct {
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	TickSize    decimal.Decimal
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

type exchangeInfoResponse struct {
	Symbols []SymbolInfo `json:"symbols"`
}

type accountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type accountResponse struct {
	Balances []accountBalance `json:"balances"`
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// orderResponse covers both the FULL new-order response and the query-order response.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
}

// klineEvent is the websocket kline payload.
type klineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Symbol    string `json:"s"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

type rawKlines [][]json.RawMessage
