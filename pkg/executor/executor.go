// Package executor validates a sized order against funds and exchange minimums
// and submits it exactly once.
package executor

import (
	"Tradewarden/notification"
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/monitor"
	"Tradewarden/pkg/risk"
	"Tradewarden/strategy"
	"Tradewarden/utilities"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies an execution.
type Outcome int

const (
	Placed Outcome = iota
	Rejected
	FundsAdjusted
	Error
)

func (o Outcome) String() string {
	switch o {
	case Placed:
		return "PLACED"
	case Rejected:
		return "REJECTED"
	case FundsAdjusted:
		return "FUNDS_ADJUSTED"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Order is an outbound intent. Quantity and Price are not exchange-formatted.
type Order struct {
	Symbol          string
	Side            string
	Type            string
	TimeInForce     string
	Quantity        float64
	Price           float64
	StopLoss        float64
	TakeProfit      float64
	PositionValue   float64
	RiskAmount      float64
	RiskPercentage  float64
	DecisionFactors []strategy.Factor
	DecisionScore   float64
}

// NewBuyOrder builds a limit buy at the plan's entry price.
func NewBuyOrder(symbol, timeInForce string, plan risk.Plan, decision strategy.CombinedDecision) Order {
	return Order{
		Symbol:          strings.ToUpper(symbol),
		Side:            broker.SideBuy,
		Type:            broker.TypeLimit,
		TimeInForce:     timeInForce,
		Quantity:        plan.PositionSize,
		Price:           plan.EntryPrice,
		StopLoss:        plan.StopLossPrice,
		TakeProfit:      plan.TakeProfitPrice,
		PositionValue:   plan.PositionValue,
		RiskAmount:      plan.RiskAmount,
		RiskPercentage:  plan.StopLossPct,
		DecisionFactors: decision.Factors,
		DecisionScore:   decision.TotalScore,
	}
}

// Result is what one Execute call did. OrderID and Trade are set for Placed and
// FundsAdjusted; OriginalQuantity and Quantity differ only for FundsAdjusted.
type Result struct {
	Outcome          Outcome
	OrderID          string
	Trade            *monitor.ActiveTrade
	Reason           string
	Err              error
	OriginalQuantity float64
	Quantity         float64
}

// Succeeded reports whether an order reached the exchange and was accepted.
func (r Result) Succeeded() bool {
	return r.Outcome == Placed || r.Outcome == FundsAdjusted
}

// SymbolResolver supplies a symbol's quote asset and minimum quantity.
type SymbolResolver interface {
	Resolve(ctx context.Context, symbol string) (broker.SymbolRules, error)
}

// TradeSink receives newly opened trades.
type TradeSink interface {
	Add(t monitor.ActiveTrade) error
}

type Executor struct {
	broker           broker.Broker
	symbols          SymbolResolver
	trades           TradeSink
	notifier         notification.Notifier
	logger           *utilities.Logger
	fundsUtilization float64
	newClientID      func() string
	now              func() time.Time
}

// New creates an Executor. fundsUtilization is the share of free funds an order
// may use after shrinking; values outside (0, 1] mean 0.99.
func New(b broker.Broker, symbols SymbolResolver, trades TradeSink, notifier notification.Notifier, fundsUtilization float64, logger *utilities.Logger) *Executor {
	if fundsUtilization <= 0 || fundsUtilization > 1 {
		fundsUtilization = 0.99
	}
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Executor{
		broker:           b,
		symbols:          symbols,
		trades:           trades,
		notifier:         notifier,
		logger:           logger,
		fundsUtilization: fundsUtilization,
		newClientID:      uuid.NewString,
		now:              time.Now,
	}
}

// Execute runs the funds and minimum checks and submits order once. Nothing is retried.
func (e *Executor) Execute(ctx context.Context, order Order) Result {
	res := Result{OriginalQuantity: order.Quantity, Quantity: order.Quantity}

	rules, err := e.symbols.Resolve(ctx, order.Symbol)
	if err != nil {
		return e.fail(ctx, order, res, fmt.Errorf("resolve %s: %w", order.Symbol, err))
	}

	price := order.Price
	if price <= 0 {
		t, err := e.broker.GetTicker(ctx, order.Symbol)
		if err != nil {
			return e.fail(ctx, order, res, fmt.Errorf("ticker %s: %w", order.Symbol, err))
		}
		price = t.LastPrice
	}
	if order.PositionValue <= 0 {
		order.PositionValue = order.Quantity * price
	}

	adjusted := false
	if order.Side == broker.SideBuy {
		bal, err := e.broker.GetBalance(ctx, rules.QuoteAsset)
		if err != nil {
			return e.fail(ctx, order, res, fmt.Errorf("balance %s: %w", rules.QuoteAsset, err))
		}
		if order.PositionValue > bal.Free {
			affordable := bal.Free * e.fundsUtilization / price
			e.logger.LogWarn("Executor: %s position value %.8f exceeds free %s %.8f, shrinking qty %.8f -> %.8f",
				order.Symbol, order.PositionValue, rules.QuoteAsset, bal.Free, order.Quantity, affordable)
			order.Quantity = affordable
			order.PositionValue = affordable * price
			adjusted = true
			if order.Quantity <= 0 {
				return e.reject(ctx, order, res, fmt.Sprintf("insufficient %s funds (free %.8f)", rules.QuoteAsset, bal.Free), nil)
			}
		}
	}

	if order.Quantity > 0 && order.Quantity < rules.MinQty {
		e.logger.LogInfo("Executor: %s qty %.8f below minimum %.8f, raising to the minimum", order.Symbol, order.Quantity, rules.MinQty)
		order.Quantity = rules.MinQty
		order.PositionValue = order.Quantity * price
	}
	res.Quantity = order.Quantity
	if order.Quantity <= 0 {
		return e.reject(ctx, order, res, fmt.Sprintf("quantity %.8f is not positive", order.Quantity), nil)
	}

	clientID := e.newClientID()
	ack, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity,
		Price:         order.Price,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: clientID,
	})
	if err != nil {
		if apiErr, ok := broker.IsAPIError(err); ok {
			return e.reject(ctx, order, res, apiErr.Error(), apiErr)
		}
		return e.fail(ctx, order, res, fmt.Errorf("place order: %w", err))
	}
	if ack.OrderID == "" {
		return e.fail(ctx, order, res, fmt.Errorf("place order: acknowledgment carries no order id"))
	}

	res.Outcome = Placed
	if adjusted {
		res.Outcome = FundsAdjusted
	}
	res.OrderID = ack.OrderID

	e.logger.LogInfo("Executor: %s %s %s %s qty=%.8f price=%.8f status=%s TP=%.8f SL=%.8f score=%.4f",
		res.Outcome, order.Side, order.Type, order.Symbol, order.Quantity, price, ack.Status, order.TakeProfit, order.StopLoss, order.DecisionScore)
	e.notify(ctx, notification.Event{
		Kind: notification.KindOrderPlaced, Symbol: order.Symbol, Side: order.Side, OrderID: ack.OrderID,
		Price: price, Quantity: order.Quantity, Details: factorLines(order), Time: e.now(),
	})

	if order.Side != broker.SideBuy {
		return res
	}

	trade := monitor.ActiveTrade{
		OrderID:       ack.OrderID,
		ClientOrderID: clientID,
		Symbol:        order.Symbol,
		EntryPrice:    price,
		Quantity:      order.Quantity,
		TakeProfit:    order.TakeProfit,
		StopLoss:      order.StopLoss,
		EntryTime:     e.now(),
		Status:        monitor.StatusPendingFill,
	}
	if ack.OrigQty > 0 {
		trade.Quantity = ack.OrigQty
	}
	if ack.Filled() {
		trade.Status = monitor.StatusFilled
		trade.FilledAt = trade.EntryTime
		if ack.ExecutedQty > 0 {
			trade.Quantity = ack.ExecutedQty
		}
		if ack.AvgFillPrice > 0 {
			trade.EntryPrice = ack.AvgFillPrice
		}
	}
	if err := e.trades.Add(trade); err != nil {
		// the order is live but unwatched; surface loudly
		e.logger.LogError("Executor: order %s placed but could not be tracked: %v", ack.OrderID, err)
		res.Err = err
	}
	res.Trade = &trade
	return res
}

func (e *Executor) reject(ctx context.Context, order Order, res Result, reason string, err error) Result {
	res.Outcome = Rejected
	res.Reason = reason
	if err != nil {
		res.Err = err
	}
	e.logger.LogWarn("Executor: %s %s rejected: %s | factors: %s", order.Side, order.Symbol, reason, strings.ReplaceAll(factorLines(order), "\n", ", "))
	e.notify(ctx, notification.Event{
		Kind: notification.KindOrderRejected, Symbol: order.Symbol, Side: order.Side, Price: order.Price,
		Quantity: order.Quantity, Reason: reason, Details: factorLines(order), Time: e.now(),
	})
	return res
}

func (e *Executor) fail(ctx context.Context, order Order, res Result, err error) Result {
	res.Outcome = Error
	res.Err = err
	res.Reason = err.Error()
	e.logger.LogError("Executor: %s %s failed: %v", order.Side, order.Symbol, err)
	return res
}

func (e *Executor) notify(ctx context.Context, ev notification.Event) {
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.LogWarn("Executor: notification %s failed: %v", ev.Kind, err)
	}
}

func factorLines(order Order) string {
	if len(order.DecisionFactors) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Score: %.4f", order.DecisionScore)
	for _, f := range order.DecisionFactors {
		fmt.Fprintf(&b, "\n%s: %s (%.2f x %.2f)", f.Source, f.Signal, f.Score, f.Weight)
	}
	return b.String()
}
