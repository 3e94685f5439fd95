package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"screener/internal/scanner"
	"screener/internal/symbols"
	"screener/pkg/model"
)

type scanFlags struct {
	symbolList string
	file       string
	universe   string
	policy     string
	sortBy     string
	grade      string
	workers    int
	lookback   int
	format     string
	noProgress bool
}

func newScanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the pipeline once and print the graded table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.symbolList, "symbols", "", "comma-separated tickers to scan (overrides --file and --universe)")
	cmd.Flags().StringVar(&f.file, "file", "", "CSV or text file with one ticker per row")
	cmd.Flags().StringVar(&f.universe, "universe", "", "predefined universe: idx-watchlist, lq45, test")
	cmd.Flags().StringVar(&f.policy, "policy", "", "grading policy: momentum, classic")
	cmd.Flags().StringVar(&f.sortBy, "sort", "", "sort key: atr, change, edge, volume_ratio, symbol")
	cmd.Flags().StringVar(&f.grade, "grade", "", "only show one grade: A, B, C, none")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "number of parallel workers")
	cmd.Flags().IntVar(&f.lookback, "lookback", 0, "trading days of history to fetch")
	cmd.Flags().StringVar(&f.format, "format", "table", "output format: table, json")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "hide the progress bar")
	return cmd
}

func runScan(cmd *cobra.Command, f scanFlags) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	// Override config with CLI flags
	if f.workers > 0 {
		cfg.Scanner.Workers = f.workers
	}
	if f.lookback > 0 {
		cfg.Scanner.Lookback = f.lookback
	}
	if f.sortBy != "" {
		cfg.Scanner.SortBy = f.sortBy
	}
	if f.policy != "" {
		cfg.Grading.Policy = f.policy
		cfg.Grading.Overrides = nil
	}
	if f.universe != "" {
		cfg.Scanner.Universe = f.universe
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var gradeFilter *model.Grade
	if f.grade != "" {
		g, err := model.ParseGrade(f.grade)
		if err != nil {
			return err
		}
		gradeFilter = &g
	}

	universe, err := resolveUniverse(f.symbolList, f.file, cfg.Scanner.Universe)
	if err != nil {
		return err
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted. Stopping scan...")
		cancel()
	}()

	p, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer p.Close()

	out := cmd.OutOrStdout()
	tickers, _ := symbols.Clean(universe)
	if f.format != "json" {
		fmt.Fprintf(out, "Scanning %d IDX tickers (policy %s, lookback %d days)...\n\n",
			len(tickers), p.runCfg.Metrics.Policy.Name, p.runCfg.Lookback)
	}

	if !f.noProgress && f.format != "json" {
		bar := progressbar.NewOptions(len(tickers),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]█[reset]",
				SaucerHead:    "[green]█[reset]",
				SaucerPadding: "░",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		p.scanner.SetProgressCallback(func(scanned, total int) {
			bar.Set(scanned)
		})
		defer func() {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
		}()
	}

	rs, runErr := p.scanner.Run(ctx, universe, p.runCfg)
	if rs == nil {
		return runErr
	}

	view := rs
	if gradeFilter != nil {
		view = rs.Filter(*gradeFilter)
	}

	if f.format == "json" {
		if err := outputJSON(out, view); err != nil {
			return err
		}
	} else {
		outputTable(out, view)
	}

	if errors.Is(runErr, scanner.ErrEmptyResultSet) || errors.Is(runErr, scanner.ErrEmptyUniverse) {
		return fmt.Errorf("%w: %d of %d symbols skipped", scanner.ErrEmptyResultSet, rs.SkippedCount, rs.Total)
	}
	return runErr
}

func outputTable(w io.Writer, rs *model.ResultSet) {
	if rs.Empty() {
		fmt.Fprintln(w, "No symbols produced metrics.")
	} else {
		table := tablewriter.NewTable(w,
			tablewriter.WithHeader([]string{"Symbol", "Price", "Change%", "ATR%", "Vol Ratio", "Volume", "Edge", "Grade"}),
		)
		for _, r := range rs.Records {
			ratio := "-"
			if r.VolumeRatio != nil {
				ratio = fmt.Sprintf("%.2fx", *r.VolumeRatio)
			}
			table.Append([]string{
				r.Symbol,
				fmt.Sprintf("%.0f", r.Price),
				fmt.Sprintf("%+.2f", r.ChangePct),
				fmt.Sprintf("%.2f", r.ATRPct),
				ratio,
				formatVolume(r.Volume),
				fmt.Sprintf("%.2f", r.Edge),
				r.Grade.String(),
			})
		}
		table.Render()
	}

	fmt.Fprintf(w, "\nGrade A: %d | Grade B: %d | Grade C: %d | No Grade: %d\n",
		rs.CountGrade(model.GradeA), rs.CountGrade(model.GradeB),
		rs.CountGrade(model.GradeC), rs.CountGrade(model.NoGrade))

	if rs.SkippedCount > 0 {
		fmt.Fprintf(w, "Skipped %d of %d: %s\n", rs.SkippedCount, rs.Total, skipSummary(rs.SkipReasons))
	}
	fmt.Fprintf(w, "Sorted by %s | policy %s | scanned in %s\n", rs.SortKey, rs.Policy, rs.Duration.Round(time.Millisecond))
}

func skipSummary(reasons map[model.SkipReason]int) string {
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, reasons[model.SkipReason(k)])
	}
	return strings.Join(parts, ", ")
}

func formatVolume(v int64) string {
	switch {
	case v >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(v)/1e9)
	case v >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(v)/1e6)
	case v >= 1_000:
		return fmt.Sprintf("%.1fK", float64(v)/1e3)
	}
	return fmt.Sprintf("%d", v)
}

func outputJSON(w io.Writer, rs *model.ResultSet) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rs)
}
