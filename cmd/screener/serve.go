package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screener/internal/refresh"
	"screener/internal/web"
)

func newServeCmd() *cobra.Command {
	var (
		port       int
		interval   time.Duration
		universe   string
		file       string
		symbolList string
		policy     string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the auto-refreshing dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Web.Port = port
			}
			if interval > 0 {
				cfg.Web.RefreshInterval = interval
			}
			if universe != "" {
				cfg.Scanner.Universe = universe
			}
			if policy != "" {
				cfg.Grading.Policy = policy
				cfg.Grading.Overrides = nil
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			tickers, err := resolveUniverse(symbolList, file, cfg.Scanner.Universe)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			p, err := buildPipeline(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer p.Close()

			ref := refresh.New(p.scanner, tickers, p.runCfg, cfg.Web.RefreshInterval, log)
			srv, err := web.NewServer(ref, p.registry, loadLocation(cfg.Web.Timezone), log)
			if err != nil {
				return err
			}
			if err := ref.Start(ctx); err != nil {
				return err
			}
			defer ref.Stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start(cfg.Web.Port)
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case <-sigChan:
				log.Info("shutting down")
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("web server: %w", err)
				}
			}

			cancel()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (default from config, 8080)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "refresh interval (default from config, 30s)")
	cmd.Flags().StringVar(&universe, "universe", "", "predefined universe: idx-watchlist, lq45, test")
	cmd.Flags().StringVar(&file, "file", "", "CSV or text file with one ticker per row")
	cmd.Flags().StringVar(&symbolList, "symbols", "", "comma-separated tickers")
	cmd.Flags().StringVar(&policy, "policy", "", "grading policy: momentum, classic")
	return cmd
}

// loadLocation falls back to a fixed UTC+7 zone when tzdata is missing
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("WIB", 7*60*60)
	}
	return loc
}
