package utilities

import (
	"time"
)

// LogLevel defines the severity of a log message.
type LogLevel int

// Logging Level
const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Fatal
)

// --- Types (Alphabetized) ---

// AppConfig is the root configuration structure, holding all other config sections.
type AppConfig struct {
	AppName      string           `mapstructure:"app_name" yaml:"app_name"`
	Version      string           `mapstructure:"version" yaml:"version"`
	Environment  string           `mapstructure:"environment" yaml:"environment"`
	PaperTrading bool             `mapstructure:"paper_trading" yaml:"paper_trading"`
	Binance      BinanceConfig    `mapstructure:"binance" yaml:"binance"`
	DB           DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Discord      DiscordConfig    `mapstructure:"discord" yaml:"discord"`
	Forecast     ForecastConfig   `mapstructure:"forecast" yaml:"forecast"`
	Indicators   IndicatorsConfig `mapstructure:"indicators" yaml:"indicators"`
	Logging      LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	MonteCarlo   MonteCarloConfig `mapstructure:"monte_carlo" yaml:"monte_carlo"`
	Monitor      MonitorConfig    `mapstructure:"monitor" yaml:"monitor"`
	Orders       OrdersConfig     `mapstructure:"orders" yaml:"orders"`
	Signals      SignalsConfig    `mapstructure:"signals" yaml:"signals"`
	Telegram     TelegramConfig   `mapstructure:"telegram" yaml:"telegram"`
	Trading      TradingConfig    `mapstructure:"trading" yaml:"trading"`
}

// BinanceConfig holds all settings for the Binance spot (testnet) integration.
type BinanceConfig struct {
	APIKey            string  `mapstructure:"api_key" yaml:"api_key"`
	APISecret         string  `mapstructure:"api_secret" yaml:"api_secret"`
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	WSURL             string  `mapstructure:"ws_url" yaml:"ws_url"`
	RecvWindow        int64   `mapstructure:"recv_window" yaml:"recv_window"`
	RequestTimeoutSec int     `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelaySec     int     `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec"`
	RateLimitPerSec   float64 `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec"`
	RateLimitBurst    int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// DatabaseConfig holds settings for the sqlite ledger and candle cache.
type DatabaseConfig struct {
	DBPath string `mapstructure:"database_path" yaml:"database_path"`
}

// DiscordConfig holds settings for sending notifications via Discord.
type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// ForecastConfig points the price-forecast signal at a remote prediction service.
// An empty URL selects the local trend projection instead.
type ForecastConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	Lookback   int    `mapstructure:"lookback" yaml:"lookback"`
	Periods    int    `mapstructure:"periods" yaml:"periods"`
}

// IndicatorsConfig holds parameters for the RSI and EMA indicator signals.
type IndicatorsConfig struct {
	RSIPeriod     int     `mapstructure:"rsi_period" yaml:"rsi_period"`
	RSIOversold   float64 `mapstructure:"rsi_oversold" yaml:"rsi_oversold"`
	RSIOverbought float64 `mapstructure:"rsi_overbought" yaml:"rsi_overbought"`
	EMAFast       int     `mapstructure:"ema_fast" yaml:"ema_fast"`
	EMAMid        int     `mapstructure:"ema_mid" yaml:"ema_mid"`
	EMASlow       int     `mapstructure:"ema_slow" yaml:"ema_slow"`
}

// LoggingConfig holds settings related to logging.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	LogToFile   bool   `mapstructure:"log_to_file" yaml:"log_to_file"`
	LogFilePath string `mapstructure:"log_file_path" yaml:"log_file_path"`
}

// MonitorConfig holds the trade monitor's timing.
type MonitorConfig struct {
	PollIntervalMs     int `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	IdleIntervalSec    int `mapstructure:"idle_interval_sec" yaml:"idle_interval_sec"`
	ErrorBackoffSec    int `mapstructure:"error_backoff_sec" yaml:"error_backoff_sec"`
	GatewayTimeoutSec  int `mapstructure:"gateway_timeout_sec" yaml:"gateway_timeout_sec"`
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec" yaml:"shutdown_timeout_sec"`
}

// MonteCarloConfig holds parameters for the price-path simulation signal.
type MonteCarloConfig struct {
	Simulations int   `mapstructure:"simulations" yaml:"simulations"`
	Periods     int   `mapstructure:"periods" yaml:"periods"`
	MinHistory  int   `mapstructure:"min_history" yaml:"min_history"`
	Seed        int64 `mapstructure:"seed" yaml:"seed"` // 0 seeds from the clock
}

// OHLCVBar represents a single Open, High, Low, Close, Volume data point.
// Timestamp is the bar open time in Unix milliseconds.
type OHLCVBar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"close_time"`
}

// Time returns the bar open time.
func (b OHLCVBar) Time() time.Time {
	return time.UnixMilli(b.Timestamp)
}

// OrdersConfig holds settings for order placement and the fill-expiry reaper.
type OrdersConfig struct {
	ExpiryMinutes      float64            `mapstructure:"expiry_minutes" yaml:"expiry_minutes"`
	FundsUtilization   float64            `mapstructure:"funds_utilization" yaml:"funds_utilization"`
	TimeInForce        string             `mapstructure:"time_in_force" yaml:"time_in_force"`
	MinQuantities      map[string]float64 `mapstructure:"min_quantities" yaml:"min_quantities"`
	DefaultMinQuantity float64            `mapstructure:"default_min_quantity" yaml:"default_min_quantity"`
}

// SignalsConfig holds the aggregator weight table and decision threshold.
type SignalsConfig struct {
	Weights   map[string]float64 `mapstructure:"weights" yaml:"weights"`
	Threshold float64            `mapstructure:"threshold" yaml:"threshold"`
}

// TelegramConfig holds settings for the Telegram bot notifier.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token" yaml:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// TradingConfig holds general trading parameters.
type TradingConfig struct {
	Symbol         string  `mapstructure:"symbol" yaml:"symbol"`
	Interval       string  `mapstructure:"interval" yaml:"interval"`
	TradingAmount  float64 `mapstructure:"trading_amount" yaml:"trading_amount"`
	MaxRiskPercent float64 `mapstructure:"max_risk_percent" yaml:"max_risk_percent"`
	HistoryLimit   int     `mapstructure:"history_limit" yaml:"history_limit"`
	PaperBalance   float64 `mapstructure:"paper_balance" yaml:"paper_balance"`
}
