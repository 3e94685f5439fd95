package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"screener/internal/config"
	"screener/internal/logger"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "screener",
		Short: "IDX daily momentum and volatility screener",
		Long: `Screener fetches daily bars for Indonesia Stock Exchange tickers, derives
change%, ATR%, volume ratio and an edge score per symbol, and grades each one.

Examples:
  screener scan --universe lq45 --sort edge
  screener scan --symbols BBCA,TLKM,ASII --policy classic
  screener scan --file watchlist.csv --format json
  screener serve --port 8080 --interval 30s`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level: debug, info, warn, error")

	rootCmd.AddCommand(newScanCmd(), newServeCmd(), newPoliciesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies persistent flag overrides
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logger.New(cfg.Log), nil
}
