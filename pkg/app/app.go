package app

import (
	"Tradewarden/dataprovider"
	"Tradewarden/notification"
	"Tradewarden/notification/discord"
	"Tradewarden/notification/telegram"
	"Tradewarden/pkg/broker"
	"Tradewarden/pkg/broker/binance"
	"Tradewarden/pkg/broker/paper"
	"Tradewarden/pkg/executor"
	"Tradewarden/pkg/ledger"
	"Tradewarden/pkg/mapper"
	"Tradewarden/pkg/monitor"
	"Tradewarden/strategy"
	"Tradewarden/utilities"
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	cacheRetention       = 14 * 24 * time.Hour
	cacheCleanupInterval = 24 * time.Hour
)

// Run wires the gateway, signal pipeline, monitor and notifiers and trades until
// ctx is cancelled. v, when non-nil, is watched for config edits.
func Run(ctx context.Context, cfg utilities.AppConfig, v *viper.Viper, logger *utilities.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}
	sessionID := uuid.NewString()
	sessionLog := logger.With("session", sessionID)
	sessionLog.LogInfo("AppRun: starting session %s for %s %s (paper=%v)", sessionID, cfg.Trading.Symbol, cfg.Trading.Interval, cfg.PaperTrading)

	sqliteCache, err := OpenCache(cfg.DB)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: sqlite cache init failed: %w", err)
	}
	defer sqliteCache.Close()
	sqliteCache.StartScheduledCleanup(ctx, cacheCleanupInterval, cacheRetention, strings.ToUpper(cfg.Trading.Symbol), sessionLog)

	sharedHTTPClient := &http.Client{Timeout: 15 * time.Second}
	sessionLog.LogInfo("Pre-Flight: initializing broker (Binance %s)...", cfg.Environment)
	adapter, err := binance.NewAdapter(&cfg.Binance, sharedHTTPClient, sessionLog)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: could not initialize Binance adapter: %w", err)
	}
	symbols := mapper.NewAssetMapper(adapter, cfg.Orders, sessionLog)
	gateway, err := selectBroker(cfg, adapter, sessionLog)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}

	rules, err := symbols.Resolve(ctx, cfg.Trading.Symbol)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}
	if bal, err := gateway.GetBalance(ctx, rules.QuoteAsset); err != nil {
		sessionLog.LogWarn("Pre-Flight: could not read %s balance: %v", rules.QuoteAsset, err)
	} else {
		sessionLog.LogInfo("Pre-Flight: free %s balance %.8f", rules.QuoteAsset, bal.Free)
	}

	notifiers, tg := buildNotifiers(cfg, sessionLog)
	notifier := sessionNotifier{id: sessionID, inner: notifiers}

	tradeLedger := ledger.New(sqliteCache, sessionLog)
	mon := monitor.New(gateway, tradeLedger, notifier, monitor.ConfigFromApp(cfg), sessionLog)
	exec := executor.New(gateway, symbols, mon, notifier, cfg.Orders.FundsUtilization, sessionLog)
	strat := strategy.NewStrategyFromConfig(cfg, sessionLog)
	session := NewTradingSession(sessionID, cfg, gateway, strat, exec, mon, sqliteCache, sessionLog)

	if err := session.Seed(ctx); err != nil {
		sessionLog.LogWarn("Pre-Flight: starting without history, signals stay silent until enough candles arrive: %v", err)
	}

	feed, err := selectFeed(cfg, gateway, sessionLog)
	if err != nil {
		return fmt.Errorf("pre-flight check failed: %w", err)
	}
	candles, err := feed.Candles(ctx)
	if err != nil {
		return fmt.Errorf("candle feed: %w", err)
	}

	if v != nil {
		utilities.WatchConfig(v, func(next utilities.AppConfig) {
			session.ApplyConfig(next)
			if level, err := utilities.ParseLogLevel(next.Logging.Level); err == nil {
				logger.SetLogLevel(level)
			}
		}, func(err error) {
			sessionLog.LogWarn("AppRun: ignoring config change: %v", err)
		})
	}

	var wg sync.WaitGroup
	if tg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := tg.Listen(ctx, map[string]telegram.CommandFunc{
				"status":  session.Status,
				"summary": func(ctx context.Context) string { return summaryText(ctx, tradeLedger) },
			})
			if err != nil {
				sessionLog.LogWarn("AppRun: telegram listener stopped: %v", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		mon.Run(ctx)
	}()

	sendLifecycle(notifier, notification.KindStartup, cfg, sessionLog)
	session.Run(ctx, candles)

	// the feed may close on its own; the monitor still needs ctx to stop
	<-ctx.Done()
	wg.Wait()
	sendLifecycle(notifier, notification.KindShutdown, cfg, sessionLog)
	sessionLog.LogInfo("AppRun: session %s stopped", sessionID)
	return nil
}

// OpenCache opens the sqlite ledger and candle cache, creating its directory.
func OpenCache(cfg utilities.DatabaseConfig) (*dataprovider.SQLiteCache, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return dataprovider.NewSQLiteCache(cfg)
}

// Summary reads the closed-trade ledger and returns its performance summary.
func Summary(ctx context.Context, cfg utilities.DatabaseConfig, logger *utilities.Logger) (ledger.Summary, error) {
	cache, err := OpenCache(cfg)
	if err != nil {
		return ledger.Summary{}, err
	}
	defer cache.Close()
	return ledger.New(cache, logger).Summarize(ctx)
}

// FormatSummary renders s for chat and terminal output.
func FormatSummary(s ledger.Summary) string {
	if s.TotalTrades == 0 {
		return "No closed trades yet."
	}
	pf := fmt.Sprintf("%.2f", s.ProfitFactor)
	if math.IsInf(s.ProfitFactor, 1) {
		pf = "∞"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Trades: %d (%d won, %d lost), win rate %.1f%%\n", s.TotalTrades, s.WinningTrades, s.LosingTrades, s.WinRate)
	fmt.Fprintf(&b, "Total P&L: %.8f, profit factor %s, max drawdown %.8f\n", s.TotalPnL, pf, s.MaxDrawdown)
	fmt.Fprintf(&b, "Avg win %.8f, avg loss %.8f, largest win %.8f, largest loss %.8f\n", s.AvgWin, s.AvgLoss, s.LargestWin, s.LargestLoss)
	fmt.Fprintf(&b, "Exits: %d take-profit, %d stop-loss, %d manual. Avg duration %.1f min", s.TakeProfitTrades, s.StopLossTrades, s.ManualTrades, s.AvgDurationMinutes)
	return b.String()
}

func summaryText(ctx context.Context, l *ledger.Ledger) string {
	s, err := l.Summarize(ctx)
	if err != nil {
		return "Could not read the ledger: " + err.Error()
	}
	return FormatSummary(s)
}

// selectBroker returns the live adapter, or a paper account priced by it.
func selectBroker(cfg utilities.AppConfig, adapter *binance.Adapter, logger *utilities.Logger) (broker.Broker, error) {
	if !cfg.PaperTrading {
		return adapter, nil
	}
	_, quote, err := mapper.SplitSymbol(cfg.Trading.Symbol)
	if err != nil {
		return nil, err
	}
	logger.LogInfo("AppRun: paper trading with %.2f %s", cfg.Trading.PaperBalance, quote)
	return paper.New(adapter, map[string]float64{quote: cfg.Trading.PaperBalance}, logger), nil
}

// selectFeed prefers the websocket kline stream and falls back to REST polling.
func selectFeed(cfg utilities.AppConfig, market broker.MarketData, logger *utilities.Logger) (dataprovider.CandleFeed, error) {
	if cfg.Binance.WSURL != "" {
		return binance.NewKlineStream(cfg.Binance.WSURL, cfg.Trading.Symbol, cfg.Trading.Interval, logger), nil
	}
	return dataprovider.NewPollingFeed(market, cfg.Trading.Symbol, cfg.Trading.Interval, 0, logger)
}

// buildNotifiers fans out to every configured channel. The telegram client is also
// returned so its command listener can be started.
func buildNotifiers(cfg utilities.AppConfig, logger *utilities.Logger) (notification.Notifier, *telegram.Client) {
	var out notification.Multi
	if cfg.Discord.WebhookURL != "" {
		out = append(out, discord.NewClient(cfg.Discord.WebhookURL, logger))
	}
	var tg *telegram.Client
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != 0 {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, "", logger)
		if err != nil {
			logger.LogWarn("AppRun: telegram disabled: %v", err)
		} else {
			tg = client
			out = append(out, client)
		}
	}
	if len(out) == 0 {
		logger.LogInfo("AppRun: no notification channels configured")
		return notification.Nop{}, nil
	}
	return out, tg
}

func sendLifecycle(n notification.Notifier, kind notification.EventKind, cfg utilities.AppConfig, logger *utilities.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev := notification.Event{
		Kind:    kind,
		Symbol:  strings.ToUpper(cfg.Trading.Symbol),
		Details: fmt.Sprintf("Version %s, %s %s, paper=%v", cfg.Version, cfg.Trading.Symbol, cfg.Trading.Interval, cfg.PaperTrading),
		Time:    time.Now(),
	}
	if err := n.Notify(ctx, ev); err != nil {
		logger.LogWarn("AppRun: %s notification failed: %v", kind, err)
	}
}
