// Package fetcher turns bare tickers into validated bar series.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"screener/internal/provider"
	"screener/internal/symbols"
	"screener/pkg/model"
)

// MinBars is the fewest bars a series needs to produce a day-over-day change
const MinBars = 2

var (
	// ErrTooFewBars is the cause when the provider returned fewer than MinBars bars
	ErrTooFewBars = errors.New("fewer than 2 bars returned")
	// ErrBadLookback rejects lookbacks below MinBars
	ErrBadLookback = errors.New("lookback must be at least 2")
)

// FetchFailed is the tagged failure for one symbol
type FetchFailed struct {
	Symbol string
	Cause  error
}

func (e *FetchFailed) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Symbol, e.Cause)
}

func (e *FetchFailed) Unwrap() error {
	return e.Cause
}

// Fetcher retrieves daily history for bare tickers
type Fetcher struct {
	provider provider.Provider
	suffix   string
	timeout  time.Duration
}

// New creates a Fetcher. suffix is appended before querying (".JK" for IDX);
// timeout bounds each symbol's query, zero means no extra bound.
func New(p provider.Provider, suffix string, timeout time.Duration) *Fetcher {
	return &Fetcher{provider: p, suffix: suffix, timeout: timeout}
}

// Fetch returns the series for ticker over lookback trading days. Every
// failure comes back as *FetchFailed; nothing is retried.
func (f *Fetcher) Fetch(ctx context.Context, ticker string, lookback int) (*model.SymbolSeries, error) {
	symbol := symbols.Normalize(ticker)
	if err := symbols.Validate(symbol); err != nil {
		return nil, &FetchFailed{Symbol: symbol, Cause: err}
	}
	if lookback < MinBars {
		return nil, &FetchFailed{Symbol: symbol, Cause: ErrBadLookback}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	qualified := symbols.Qualify(symbol, f.suffix)
	bars, err := f.provider.GetDailyBars(ctx, qualified, lookback)
	if err != nil {
		return nil, &FetchFailed{Symbol: symbol, Cause: err}
	}
	if len(bars) == 0 {
		return nil, &FetchFailed{Symbol: symbol, Cause: provider.ErrNoData}
	}
	if len(bars) < MinBars {
		return nil, &FetchFailed{Symbol: symbol, Cause: ErrTooFewBars}
	}

	return &model.SymbolSeries{
		Symbol: symbols.Unqualify(qualified, f.suffix),
		Bars:   bars,
	}, nil
}
