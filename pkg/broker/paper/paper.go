// Package paper implements broker.Broker as a simulated account on top of live market data.
package paper

import (
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/mapper"
	"Tradewarden/utilities"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Binance-compatible error codes so callers see the same rejections as on the exchange.
const (
	codeInsufficientBalance = -2010
	codeBadQuantity         = -1013
)

// Broker is an in-memory exchange account. Market data comes from the wrapped source;
// orders, fills and balances are simulated. LIMIT orders fill when the last price
// crosses the limit, MARKET orders fill immediately at the last price.
type Broker struct {
	market broker.MarketData
	logger *utilities.Logger
	now    func() time.Time

	mu       sync.Mutex
	balances map[string]*broker.Balance
	orders   map[string]*broker.Order
	nextID   int64
}

var _ broker.Broker = (*Broker)(nil)

// New creates a paper account holding the given free balances.
func New(market broker.MarketData, balances map[string]float64, logger *utilities.Logger) *Broker {
	b := &Broker{
		market:   market,
		logger:   logger,
		now:      time.Now,
		balances: make(map[string]*broker.Balance),
		orders:   make(map[string]*broker.Order),
		nextID:   1,
	}
	for asset, free := range balances {
		a := strings.ToUpper(asset)
		b.balances[a] = &broker.Balance{Asset: a, Free: free}
	}
	return b
}

func (b *Broker) GetBalance(ctx context.Context, asset string) (broker.Balance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.balance(asset), nil
}

func (b *Broker) GetTicker(ctx context.Context, symbol string) (broker.TickerData, error) {
	t, err := b.market.GetTicker(ctx, symbol)
	if err != nil {
		return broker.TickerData{}, err
	}
	b.mu.Lock()
	b.matchOpenOrders(symbol, t.LastPrice)
	b.mu.Unlock()
	return t, nil
}

func (b *Broker) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int) ([]utilities.OHLCVBar, error) {
	return b.market.GetHistoricalCandles(ctx, symbol, interval, limit)
}

func (b *Broker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderAck, error) {
	base, quote, err := mapper.SplitSymbol(req.Symbol)
	if err != nil {
		return broker.OrderAck{}, err
	}
	if req.Quantity <= 0 {
		return broker.OrderAck{}, &broker.APIError{Code: codeBadQuantity, Message: "Invalid quantity."}
	}

	t, err := b.market.GetTicker(ctx, req.Symbol)
	if err != nil {
		return broker.OrderAck{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	side := strings.ToUpper(req.Side)
	typ := strings.ToUpper(req.Type)
	price := req.Price
	if typ == broker.TypeMarket {
		price = t.LastPrice
	}
	if price <= 0 {
		return broker.OrderAck{}, &broker.APIError{Code: codeBadQuantity, Message: "Invalid price."}
	}

	// reserve funds
	switch side {
	case broker.SideBuy:
		q := b.balance(quote)
		cost := req.Quantity * price
		if cost > q.Free {
			return broker.OrderAck{}, &broker.APIError{Code: codeInsufficientBalance, Message: "Account has insufficient balance for requested action."}
		}
		q.Free -= cost
		q.Locked += cost
	case broker.SideSell:
		bb := b.balance(base)
		if req.Quantity > bb.Free {
			return broker.OrderAck{}, &broker.APIError{Code: codeInsufficientBalance, Message: "Account has insufficient balance for requested action."}
		}
		bb.Free -= req.Quantity
		bb.Locked += req.Quantity
	default:
		return broker.OrderAck{}, &broker.APIError{Code: -1100, Message: "Illegal side."}
	}

	id := strconv.FormatInt(b.nextID, 10)
	b.nextID++
	now := b.now()
	order := &broker.Order{
		ID:            id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        strings.ToUpper(req.Symbol),
		Side:          side,
		Type:          typ,
		Status:        broker.StatusNew,
		Price:         price,
		OrigQty:       req.Quantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	b.orders[id] = order

	if typ == broker.TypeMarket || crosses(order, t.LastPrice) {
		b.fill(order, t.LastPrice)
	}
	b.logger.LogInfo("Paper: %s %s %s qty=%.8f price=%.8f -> %s", side, typ, order.Symbol, req.Quantity, price, order.Status)

	return broker.OrderAck{
		OrderID:       id,
		ClientOrderID: req.ClientOrderID,
		Symbol:        order.Symbol,
		Status:        order.Status,
		OrigQty:       order.OrigQty,
		ExecutedQty:   order.ExecutedQty,
		AvgFillPrice:  order.AvgFillPrice,
		TransactTime:  now,
	}, nil
}

func (b *Broker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok || order.IsTerminal() {
		return fmt.Errorf("paper cancel %s: %w", orderID, broker.ErrOrderNotFound)
	}
	b.release(order)
	order.Status = broker.StatusCanceled
	order.UpdatedAt = b.now()
	return nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, symbol, orderID string) (broker.Order, error) {
	t, err := b.market.GetTicker(ctx, symbol)
	if err != nil {
		return broker.Order{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.matchOpenOrders(symbol, t.LastPrice)
	order, ok := b.orders[orderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("paper order %s: %w", orderID, broker.ErrOrderNotFound)
	}
	return *order, nil
}

// balance must be called with mu held.
func (b *Broker) balance(asset string) *broker.Balance {
	a := strings.ToUpper(asset)
	bal, ok := b.balances[a]
	if !ok {
		bal = &broker.Balance{Asset: a}
		b.balances[a] = bal
	}
	return bal
}

func crosses(o *broker.Order, last float64) bool {
	if o.Side == broker.SideBuy {
		return last <= o.Price
	}
	return last >= o.Price
}

func (b *Broker) matchOpenOrders(symbol string, last float64) {
	symbol = strings.ToUpper(symbol)
	for _, o := range b.orders {
		if o.Symbol == symbol && !o.IsTerminal() && crosses(o, last) {
			b.fill(o, last)
		}
	}
}

// fill executes the whole order. A limit buy never pays more than its limit.
func (b *Broker) fill(o *broker.Order, last float64) {
	base, quote, _ := mapper.SplitSymbol(o.Symbol)
	px := last
	if o.Type == broker.TypeLimit {
		if o.Side == broker.SideBuy && px > o.Price {
			px = o.Price
		}
		if o.Side == broker.SideSell && px < o.Price {
			px = o.Price
		}
	}

	b.release(o)
	qb, bb := b.balance(quote), b.balance(base)
	if o.Side == broker.SideBuy {
		qb.Free -= o.OrigQty * px
		bb.Free += o.OrigQty
	} else {
		bb.Free -= o.OrigQty
		qb.Free += o.OrigQty * px
	}

	o.ExecutedQty = o.OrigQty
	o.AvgFillPrice = px
	o.Status = broker.StatusFilled
	o.UpdatedAt = b.now()
}

// release returns the funds reserved by an open order to Free.
func (b *Broker) release(o *broker.Order) {
	base, quote, _ := mapper.SplitSymbol(o.Symbol)
	if o.Side == broker.SideBuy {
		q := b.balance(quote)
		q.Locked -= o.OrigQty * o.Price
		q.Free += o.OrigQty * o.Price
		return
	}
	bb := b.balance(base)
	bb.Locked -= o.OrigQty
	bb.Free += o.OrigQty
}
