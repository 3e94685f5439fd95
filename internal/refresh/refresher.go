// Package refresh re-runs the pipeline on a schedule and keeps the latest result.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"screener/internal/engine"
	"screener/internal/logger"
	"screener/internal/scanner"
	"screener/pkg/model"
)

var (
	// ErrNoRun means no run has completed yet
	ErrNoRun = errors.New("no run completed yet")
	// ErrRunInProgress rejects a manual refresh while another run is active
	ErrRunInProgress = errors.New("refresh already in progress")
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context, universe []string, cfg scanner.RunConfig) (*model.ResultSet, error)
}

// Listener is notified after every completed run
type Listener func(rs *model.ResultSet, err error)

// Refresher owns the schedule and the most recent ResultSet
type Refresher struct {
	runner   Runner
	cfg      scanner.RunConfig
	interval time.Duration
	log      *logger.Logger

	cron    *cron.Cron
	running sync.Mutex

	mu        sync.RWMutex
	universe  []string
	latest    *model.ResultSet
	lastErr   error
	listeners []Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Refresher. interval must be positive.
func New(runner Runner, universe []string, cfg scanner.RunConfig, interval time.Duration, log *logger.Logger) *Refresher {
	if log == nil {
		log = logger.Nop()
	}
	return &Refresher{
		runner:   runner,
		cfg:      cfg,
		interval: interval,
		log:      log.Component("refresh"),
		universe: append([]string(nil), universe...),
	}
}

// Start schedules a run every interval and kicks off the first one
// immediately. Scheduled runs never overlap.
func (r *Refresher) Start(ctx context.Context) error {
	if r.interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", r.interval)
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", r.interval)
	if _, err := r.cron.AddFunc(spec, r.tick); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	r.cron.Start()
	r.log.Infof("refresh scheduled every %s", r.interval)

	go r.tick()
	return nil
}

// Stop halts the schedule and waits for an in-flight run to return
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	// wait for a manual or initial run
	r.running.Lock()
	r.running.Unlock()
	r.log.Info("refresh stopped")
}

func (r *Refresher) tick() {
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := r.Refresh(ctx); errors.Is(err, ErrRunInProgress) {
		r.log.Debug("previous run still active, skipping tick")
	}
}

// Refresh runs the pipeline once now. It returns ErrRunInProgress instead of
// starting a second concurrent run. ctx only gates the start: the run itself
// belongs to the refresher and is cancelled by Stop, not by the caller.
func (r *Refresher) Refresh(ctx context.Context) (*model.ResultSet, error) {
	if !r.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	runCtx := r.ctx
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	universe := r.Universe()
	rs, err := r.runner.Run(runCtx, universe, r.cfg)
	// a cancelled run is partial; the previous result stays in place
	if cerr := runCtx.Err(); cerr != nil {
		r.log.WithError(cerr).Info("refresh cancelled, keeping previous result")
		if err == nil {
			err = cerr
		}
		return rs, err
	}
	if err != nil {
		r.log.WithError(err).Warn("refresh finished without data")
	}

	r.mu.Lock()
	r.latest = rs
	r.lastErr = err
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(rs, err)
	}
	return rs, err
}

// Latest returns the last completed run and the error it ended with
func (r *Refresher) Latest() (*model.ResultSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil && r.lastErr == nil {
		return nil, ErrNoRun
	}
	return r.latest, r.lastErr
}

// Subscribe registers fn for every subsequent run
func (r *Refresher) Subscribe(fn Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Universe returns a copy of the current universe
func (r *Refresher) Universe() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.universe...)
}

// SetUniverse replaces the universe used from the next run on
func (r *Refresher) SetUniverse(universe []string) {
	r.mu.Lock()
	r.universe = append([]string(nil), universe...)
	r.mu.Unlock()
	r.log.Infof("universe replaced: %d symbols", len(universe))
}

// Policy returns the grading policy used by every run
func (r *Refresher) Policy() engine.GradingPolicy {
	return r.cfg.Metrics.Policy
}

// Interval returns the schedule period
func (r *Refresher) Interval() time.Duration {
	return r.interval
}
