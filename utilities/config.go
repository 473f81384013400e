package utilities

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRADEWARDEN_BINANCE_API_SECRET.
const EnvPrefix = "TRADEWARDEN"

// DefaultSignalWeights is the aggregator weight table used when none is configured.
var DefaultSignalWeights = map[string]float64{
	"lstm": 0.35,
	"rsi":  0.25,
	"ema":  0.20,
	"mc":   0.20,
}

// SetDefaults registers every default value on v. Registering a key is also what
// makes its environment override visible to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "Tradewarden")
	v.SetDefault("version", "0.1.0")
	v.SetDefault("environment", "testnet")
	v.SetDefault("paper_trading", false)

	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.api_secret", "")
	v.SetDefault("binance.base_url", "https://testnet.binance.vision/api")
	v.SetDefault("binance.ws_url", "wss://stream.testnet.binance.vision/ws")
	v.SetDefault("binance.recv_window", 5000)
	v.SetDefault("binance.request_timeout_sec", 10)
	v.SetDefault("binance.max_retries", 2)
	v.SetDefault("binance.retry_delay_sec", 2)
	v.SetDefault("binance.rate_limit_per_sec", 10)
	v.SetDefault("binance.rate_limit_burst", 5)

	v.SetDefault("database.database_path", "data/tradewarden.db")
	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)

	v.SetDefault("forecast.url", "")
	v.SetDefault("forecast.api_key", "")
	v.SetDefault("forecast.timeout_sec", 10)
	v.SetDefault("forecast.lookback", 60)
	v.SetDefault("forecast.periods", 10)

	v.SetDefault("indicators.rsi_period", 14)
	v.SetDefault("indicators.rsi_oversold", 35.0)
	v.SetDefault("indicators.rsi_overbought", 65.0)
	v.SetDefault("indicators.ema_fast", 9)
	v.SetDefault("indicators.ema_mid", 20)
	v.SetDefault("indicators.ema_slow", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.log_to_file", false)
	v.SetDefault("logging.log_file_path", "logs/tradewarden.log")

	v.SetDefault("monte_carlo.simulations", 1000)
	v.SetDefault("monte_carlo.periods", 10)
	v.SetDefault("monte_carlo.min_history", 30)
	v.SetDefault("monte_carlo.seed", 0)

	v.SetDefault("monitor.poll_interval_ms", 1000)
	v.SetDefault("monitor.idle_interval_sec", 5)
	v.SetDefault("monitor.error_backoff_sec", 10)
	v.SetDefault("monitor.gateway_timeout_sec", 15)
	v.SetDefault("monitor.shutdown_timeout_sec", 30)

	v.SetDefault("orders.expiry_minutes", 10.0)
	v.SetDefault("orders.funds_utilization", 0.99)
	v.SetDefault("orders.time_in_force", "GTC")
	v.SetDefault("orders.min_quantities", map[string]float64{"BTCUSDT": 0.001})
	v.SetDefault("orders.default_min_quantity", 0.1)

	v.SetDefault("signals.weights", DefaultSignalWeights)
	v.SetDefault("signals.threshold", 0.1)

	v.SetDefault("trading.symbol", "BTCUSDT")
	v.SetDefault("trading.interval", "1m")
	v.SetDefault("trading.trading_amount", 1000.0)
	v.SetDefault("trading.max_risk_percent", 1.0)
	v.SetDefault("trading.history_limit", 500)
	v.SetDefault("trading.paper_balance", 10000.0)
}

// NewViper returns a viper instance with defaults and environment overrides wired.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads a .env file if present, then the JSON config at path, and
// returns the validated AppConfig together with the viper instance that produced it.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(path string) (*viper.Viper, AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, AppConfig{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := NewViper()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, AppConfig{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, AppConfig{}, err
	}
	return v, cfg, nil
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// WatchConfig re-decodes the config file on every write and hands valid results to onChange.
// Invalid edits are reported through onError and otherwise ignored.
func WatchConfig(v *viper.Viper, onChange func(AppConfig), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate rejects configurations the trading core cannot run with.
func (c AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Trading.Symbol) == "" {
		errs = append(errs, errors.New("trading.symbol must not be empty"))
	}
	if _, err := ConvertTFToDuration(c.Trading.Interval); err != nil {
		errs = append(errs, fmt.Errorf("trading.interval: %w", err))
	}
	if c.Trading.TradingAmount <= 0 {
		errs = append(errs, errors.New("trading.trading_amount must be positive"))
	}
	if c.Trading.MaxRiskPercent <= 0 || c.Trading.MaxRiskPercent >= 100 {
		errs = append(errs, errors.New("trading.max_risk_percent must be in (0, 100)"))
	}
	for name, w := range c.Signals.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("signals.weights.%s must not be negative", name))
		}
	}
	if c.Orders.FundsUtilization <= 0 || c.Orders.FundsUtilization > 1 {
		errs = append(errs, errors.New("orders.funds_utilization must be in (0, 1]"))
	}
	if c.Orders.ExpiryMinutes <= 0 {
		errs = append(errs, errors.New("orders.expiry_minutes must be positive"))
	}
	if c.Monitor.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("monitor.poll_interval_ms must be positive"))
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SignalWeights returns the configured weights, falling back to the defaults when none are set.
func (c SignalsConfig) SignalWeights() map[string]float64 {
	if len(c.Weights) == 0 {
		return DefaultSignalWeights
	}
	return c.Weights
}

// MinQuantity returns the configured minimum order quantity for symbol.
func (c OrdersConfig) MinQuantity(symbol string) float64 {
	if q, ok := c.MinQuantities[strings.ToLower(symbol)]; ok {
		return q
	}
	if q, ok := c.MinQuantities[strings.ToUpper(symbol)]; ok {
		return q
	}
	return c.DefaultMinQuantity
}
