// Package risk derives stop-loss, take-profit and position size for long entries.
package risk

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is returned for non-positive or non-finite sizing inputs.
var ErrInvalidInput = errors.New("invalid sizing input")

// rewardRiskRatio is the take-profit distance, in stop distances, used when the
// forecast target is not above entry.
const rewardRiskRatio = 2.0

// degenerateFraction of the allocation is deployed when the stop distance is unusable.
const degenerateFraction = 0.95

// Plan is a sized long entry. Prices and quantities are not exchange-formatted.
type Plan struct {
	EntryPrice      float64 `json:"entry_price"`
	StopLossPrice   float64 `json:"stop_loss_price"`
	TakeProfitPrice float64 `json:"take_profit_price"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	RiskAmount      float64 `json:"risk_amount"`
	PositionSize    float64 `json:"position_size"`
	PositionValue   float64 `json:"position_value"`
}

// RewardRisk is the take-profit distance divided by the stop distance.
func (p Plan) RewardRisk() float64 {
	d := p.EntryPrice - p.StopLossPrice
	if d <= 0 {
		return 0
	}
	return (p.TakeProfitPrice - p.EntryPrice) / d
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Size computes a Plan for a long entry at entryPrice.
//
// lowerBound and targetPrice are optional; pass 0 when absent. The stop sits at the
// lower confidence bound but never further than maxRiskPct below entry. The take
// profit is targetPrice when it is above entry, otherwise twice the stop distance.
// The position risks tradingAmount*maxRiskPct/100 and never costs more than tradingAmount.
func Size(entryPrice, lowerBound, targetPrice, tradingAmount, maxRiskPct float64) (Plan, error) {
	if !finitePositive(entryPrice) {
		return Plan{}, fmt.Errorf("%w: entry price %v", ErrInvalidInput, entryPrice)
	}
	if !finitePositive(tradingAmount) {
		return Plan{}, fmt.Errorf("%w: trading amount %v", ErrInvalidInput, tradingAmount)
	}
	if !finitePositive(maxRiskPct) || maxRiskPct >= 100 {
		return Plan{}, fmt.Errorf("%w: max risk %v%%", ErrInvalidInput, maxRiskPct)
	}

	slPct := maxRiskPct
	if finitePositive(lowerBound) && lowerBound < entryPrice {
		if implied := (entryPrice - lowerBound) / entryPrice * 100; implied < slPct {
			slPct = implied
		}
	}
	stopLoss := entryPrice * (1 - slPct/100)
	if stopLoss >= entryPrice && slPct < maxRiskPct {
		// the bound is too close to entry to place a distinct stop
		slPct = maxRiskPct
		stopLoss = entryPrice * (1 - slPct/100)
	}
	if stopLoss >= entryPrice || stopLoss <= 0 {
		return Plan{}, fmt.Errorf("%w: stop-loss %v does not sit below entry %v", ErrInvalidInput, stopLoss, entryPrice)
	}

	takeProfit := entryPrice + (entryPrice-stopLoss)*rewardRiskRatio
	if finitePositive(targetPrice) && targetPrice > entryPrice {
		takeProfit = targetPrice
	}

	riskAmount := tradingAmount * maxRiskPct / 100
	var size float64
	if distance := entryPrice - stopLoss; distance > 0 {
		size = riskAmount / distance
		if size*entryPrice > tradingAmount {
			size = tradingAmount / entryPrice
		}
	} else {
		size = degenerateFraction * tradingAmount / entryPrice
	}
	if !finitePositive(size) {
		return Plan{}, fmt.Errorf("%w: position size %v", ErrInvalidInput, size)
	}

	return Plan{
		EntryPrice:      entryPrice,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
		StopLossPct:     slPct,
		RiskAmount:      riskAmount,
		PositionSize:    size,
		PositionValue:   size * entryPrice,
	}, nil
}
