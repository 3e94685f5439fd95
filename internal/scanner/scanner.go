package scanner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"screener/internal/engine"
	"screener/internal/fetcher"
	"screener/internal/logger"
	"screener/internal/symbols"
	"screener/pkg/model"
)

var (
	// ErrEmptyResultSet means every symbol in a non-empty universe failed
	ErrEmptyResultSet = errors.New("no data available, retry")
	// ErrEmptyUniverse means there was nothing to scan
	ErrEmptyUniverse = errors.New("empty universe")
)

// ProgressCallback is called with progress updates
type ProgressCallback func(scanned, total int)

// Fetcher retrieves one symbol's series
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, lookback int) (*model.SymbolSeries, error)
}

// RunConfig carries everything one run needs; nothing is read from globals
type RunConfig struct {
	Lookback int
	Metrics  engine.Options
	SortBy   model.SortKey
}

// DefaultRunConfig returns a 20-day lookback, default engine options and ATR sort
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Lookback: 20,
		Metrics:  engine.DefaultOptions(),
		SortBy:   model.SortByATR,
	}
}

// Scanner runs fetch-then-compute for a universe on a bounded worker pool
type Scanner struct {
	fetcher      Fetcher
	workers      int
	timeout      time.Duration
	perMinute    int
	log          *logger.Logger
	metrics      *Metrics
	progressFunc ProgressCallback
}

// runSlack is added on top of the time the rate limit needs for a universe
const runSlack = time.Minute

// NewScanner creates a new scanner. timeout bounds the whole run; 0 leaves
// the run unbounded and relies on per-symbol timeouts.
func NewScanner(f Fetcher, workers int, timeout time.Duration, log *logger.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{
		fetcher: f,
		workers: workers,
		timeout: timeout,
		log:     log.Component("scanner"),
	}
}

// SetProgressCallback sets the progress callback function
func (s *Scanner) SetProgressCallback(fn ProgressCallback) {
	s.progressFunc = fn
}

// SetRequestRate tells the scanner how many upstream requests per minute the
// provider admits, so a run deadline always covers the whole universe.
func (s *Scanner) SetRequestRate(perMinute int) {
	s.perMinute = perMinute
}

// RunTimeout is the deadline applied to a run over n symbols: the configured
// timeout, raised to what the request rate needs plus runSlack.
func (s *Scanner) RunTimeout(n int) time.Duration {
	if s.timeout <= 0 || s.perMinute <= 0 {
		return s.timeout
	}
	need := time.Duration(n)*time.Minute/time.Duration(s.perMinute) + runSlack
	if need > s.timeout {
		return need
	}
	return s.timeout
}

// SetMetrics attaches Prometheus collectors
func (s *Scanner) SetMetrics(m *Metrics) {
	s.metrics = m
}

// Run scans the universe. Per-symbol failures only ever become skips; the
// returned error is ErrEmptyUniverse, ErrEmptyResultSet (with the populated
// ResultSet) or nil.
func (s *Scanner) Run(ctx context.Context, universe []string, cfg RunConfig) (*model.ResultSet, error) {
	startTime := time.Now()
	runID := uuid.NewString()
	log := s.log.WithField("run_id", runID)

	tickers, rejected := symbols.Clean(universe)
	outcomes := make([]engine.Outcome, 0, len(tickers)+len(rejected))
	for _, r := range rejected {
		outcomes = append(outcomes, engine.Skipped(r, model.SkipFetchFailed, symbols.ErrInvalidSymbol))
	}

	if len(tickers) == 0 && len(rejected) == 0 {
		rs := s.finish(runID, cfg, startTime, outcomes)
		return rs, ErrEmptyUniverse
	}

	if timeout := s.RunTimeout(len(tickers)); timeout > 0 {
		if timeout > s.timeout {
			log.Infof("run deadline raised to %s for %d symbols", timeout, len(tickers))
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	jobChan := make(chan string, len(tickers))
	resultChan := make(chan engine.Outcome, len(tickers))

	for _, t := range tickers {
		jobChan <- t
	}
	close(jobChan)

	var scannedCount int64

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ticker := range jobChan {
				resultChan <- s.processSymbol(ctx, ticker, cfg, log)

				count := atomic.AddInt64(&scannedCount, 1)
				if s.progressFunc != nil {
					s.progressFunc(int(count), len(tickers))
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for o := range resultChan {
		outcomes = append(outcomes, o)
	}

	rs := s.finish(runID, cfg, startTime, outcomes)

	log.WithFields(map[string]interface{}{
		"total":    rs.Total,
		"records":  len(rs.Records),
		"skipped":  rs.SkippedCount,
		"grade_a":  rs.CountGrade(model.GradeA),
		"policy":   rs.Policy,
		"duration": rs.Duration.String(),
	}).Info("scan complete")

	if rs.Empty() {
		log.Warn("every symbol failed")
		return rs, ErrEmptyResultSet
	}
	return rs, nil
}

func (s *Scanner) finish(runID string, cfg RunConfig, startTime time.Time, outcomes []engine.Outcome) *model.ResultSet {
	rs := engine.Aggregate(outcomes, cfg.SortBy)
	rs.RunID = runID
	rs.Policy = cfg.Metrics.Policy.Name
	rs.StartedAt = startTime
	rs.Duration = time.Since(startTime)
	if s.metrics != nil {
		s.metrics.ObserveRun(rs)
	}
	return rs
}

// processSymbol never fails: every error becomes a tagged skip
func (s *Scanner) processSymbol(ctx context.Context, ticker string, cfg RunConfig, log *logger.Logger) engine.Outcome {
	if err := ctx.Err(); err != nil {
		return engine.Skipped(ticker, model.SkipFetchFailed, err)
	}

	series, err := s.fetcher.Fetch(ctx, ticker, cfg.Lookback)
	if err != nil {
		reason := ClassifyError(err)
		log.WithField("symbol", ticker).WithError(err).Debugf("skipped: %s", reason)
		return engine.Skipped(ticker, reason, err)
	}

	rec, err := engine.Compute(series, cfg.Metrics)
	if err != nil {
		reason := ClassifyError(err)
		log.WithField("symbol", ticker).WithError(err).Debugf("skipped: %s", reason)
		return engine.Skipped(series.Symbol, reason, err)
	}
	return engine.Ok(rec)
}

// ClassifyError maps a per-symbol error onto the skip taxonomy
func ClassifyError(err error) model.SkipReason {
	switch {
	case errors.Is(err, fetcher.ErrTooFewBars), errors.Is(err, engine.ErrInsufficientData):
		return model.SkipInsufficientData
	case errors.Is(err, engine.ErrDegenerateInput):
		return model.SkipDegenerateInput
	default:
		return model.SkipFetchFailed
	}
}
