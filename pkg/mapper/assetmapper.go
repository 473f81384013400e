package mapper

import (
	"Tradewarden/pkg/broker"
	"Tradewarden/utilities"
	"context"
	"fmt"
	"strings"
	"sync"
)

// knownQuotes is checked longest-first so that e.g. FDUSD wins over USD.
var knownQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB", "EUR", "TRY", "USD"}

// SplitSymbol splits an exchange symbol such as "BTCUSDT" into base and quote assets.
func SplitSymbol(symbol string) (base, quote string, err error) {
	s := strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}
	return "", "", fmt.Errorf("cannot determine quote asset of symbol %q", symbol)
}

// AssetMapper resolves and caches a symbol's assets and minimum order quantity.
// Exchange rules win; the configured table and default fill the gaps.
type AssetMapper struct {
	source        broker.RulesSource
	orders        utilities.OrdersConfig
	logger        *utilities.Logger
	identityCache sync.Map // map[string]broker.SymbolRules
}

// NewAssetMapper creates a new instance of the AssetMapper. source may be nil.
func NewAssetMapper(source broker.RulesSource, orders utilities.OrdersConfig, logger *utilities.Logger) *AssetMapper {
	return &AssetMapper{
		source: source,
		orders: orders,
		logger: logger,
	}
}

// Resolve returns the trading rules of symbol.
func (m *AssetMapper) Resolve(ctx context.Context, symbol string) (broker.SymbolRules, error) {
	upper := strings.ToUpper(symbol)
	if rules, ok := m.identityCache.Load(upper); ok {
		return rules.(broker.SymbolRules), nil
	}

	var rules broker.SymbolRules
	fromExchange := false
	if m.source != nil {
		r, err := m.source.SymbolRules(ctx, upper)
		if err != nil {
			m.logger.LogWarn("Mapper: exchange rules for %s unavailable, using configured values: %v", upper, err)
		} else {
			rules = r
			fromExchange = true
		}
	}

	rules.Symbol = upper
	if rules.BaseAsset == "" || rules.QuoteAsset == "" {
		base, quote, err := SplitSymbol(upper)
		if err != nil {
			return broker.SymbolRules{}, err
		}
		rules.BaseAsset, rules.QuoteAsset = base, quote
	}
	if rules.MinQty <= 0 {
		rules.MinQty = m.orders.MinQuantity(upper)
	}

	if fromExchange {
		m.identityCache.Store(upper, rules)
	}
	return rules, nil
}

// MinQuantity returns the minimum order quantity floor for symbol.
func (m *AssetMapper) MinQuantity(ctx context.Context, symbol string) (float64, error) {
	rules, err := m.Resolve(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return rules.MinQty, nil
}

// QuoteAsset returns the asset orders on symbol are paid in.
func (m *AssetMapper) QuoteAsset(ctx context.Context, symbol string) (string, error) {
	rules, err := m.Resolve(ctx, symbol)
	if err != nil {
		return "", err
	}
	return rules.QuoteAsset, nil
}
