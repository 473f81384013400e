package cmd

import (
	"Tradewarden/pkg/app"
	"Tradewarden/utilities"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	cfgFile   string
	paperFlag bool
	cfg       utilities.AppConfig
	v         *viper.Viper
	logger    *utilities.Logger
)

// rootCmd represents the base command for the Tradewarden CLI.
var rootCmd = &cobra.Command{
	Use:           "tradewarden",
	Short:         "Tradewarden signal-driven spot trading bot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		v, cfg, err = utilities.LoadConfig(cfgFile)
		if err != nil {
			return err
		}
		if paperFlag {
			cfg.PaperTrading = true
		}
		logger, err = utilities.NewLoggerFromConfig(cfg.Logging)
		if err != nil {
			return fmt.Errorf("invalid logging config: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context(), cfg, v, logger)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the performance summary of the closed-trade ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := app.Summary(cmd.Context(), cfg.DB, logger)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), app.FormatSummary(s))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML, secrets redacted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeConfigYAML(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.json", "config file")
	rootCmd.PersistentFlags().BoolVar(&paperFlag, "paper", false, "trade against a simulated account priced by live market data")
	rootCmd.AddCommand(summaryCmd, configCmd)
}

// redact blanks every credential in c.
func redact(c utilities.AppConfig) utilities.AppConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Binance.APIKey = mask(c.Binance.APIKey)
	c.Binance.APISecret = mask(c.Binance.APISecret)
	c.Forecast.APIKey = mask(c.Forecast.APIKey)
	c.Telegram.BotToken = mask(c.Telegram.BotToken)
	c.Discord.WebhookURL = mask(c.Discord.WebhookURL)
	return c
}

func writeConfigYAML(w io.Writer, c utilities.AppConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(redact(c)); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Execute runs the root command under ctx.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
