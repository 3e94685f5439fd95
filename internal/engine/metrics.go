// Package engine derives per-symbol metrics, grades them and aggregates a run.
package engine

import (
	"errors"
	"fmt"
	"math"

	"screener/pkg/model"
)

const (
	DefaultATRWindow    = 14
	DefaultVolumeWindow = 14

	// edge = change_pct*EdgeChangeWeight + atr_pct*EdgeATRWeight
	EdgeChangeWeight = 0.7
	EdgeATRWeight    = 0.3
)

var (
	// ErrInsufficientData means fewer bars than the computation needs
	ErrInsufficientData = errors.New("insufficient data")
	// ErrDegenerateInput means a zero, missing or non-finite price that would yield NaN/Inf
	ErrDegenerateInput = errors.New("degenerate input")
)

// Options configures one run's metric computation
type Options struct {
	ATRWindow    int
	VolumeWindow int
	Policy       GradingPolicy
}

// DefaultOptions returns 14-bar windows and the default policy
func DefaultOptions() Options {
	return Options{
		ATRWindow:    DefaultATRWindow,
		VolumeWindow: DefaultVolumeWindow,
		Policy:       DefaultPolicy(),
	}
}

// Compute turns one series into a graded MetricRecord
func Compute(series *model.SymbolSeries, opts Options) (model.MetricRecord, error) {
	if series == nil || len(series.Bars) < 2 {
		return model.MetricRecord{}, fmt.Errorf("%w: need 2 bars", ErrInsufficientData)
	}
	bars := series.Bars
	last := bars[len(bars)-1]

	change, err := ChangePct(bars)
	if err != nil {
		return model.MetricRecord{}, err
	}
	atr, err := ATRPct(bars, opts.ATRWindow)
	if err != nil {
		return model.MetricRecord{}, err
	}
	ratio, ok := VolumeRatio(bars, opts.VolumeWindow)
	var ratioPtr *float64
	if ok {
		ratioPtr = &ratio
	}

	edge := Edge(change, atr)
	if !finite(edge) {
		return model.MetricRecord{}, fmt.Errorf("%w: non-finite edge", ErrDegenerateInput)
	}

	return model.MetricRecord{
		Symbol:      series.Symbol,
		Price:       last.Close,
		ChangePct:   change,
		ATRPct:      atr,
		VolumeRatio: ratioPtr,
		Volume:      last.Volume,
		Edge:        edge,
		Grade:       opts.Policy.Grade(change, atr, ratioPtr),
	}, nil
}

// ChangePct is (last.close - prev.close) / prev.close * 100
func ChangePct(bars []model.Bar) (float64, error) {
	if len(bars) < 2 {
		return 0, fmt.Errorf("%w: need 2 bars", ErrInsufficientData)
	}
	last, prev := bars[len(bars)-1].Close, bars[len(bars)-2].Close
	if !validPrice(last) || !validPrice(prev) {
		return 0, fmt.Errorf("%w: close %v, previous close %v", ErrDegenerateInput, last, prev)
	}
	return (last - prev) / prev * 100, nil
}

// ATRPct is the mean high-low range over the trailing window (or all bars
// when fewer) as a percentage of the last close
func ATRPct(bars []model.Bar, window int) (float64, error) {
	if len(bars) == 0 {
		return 0, fmt.Errorf("%w: no bars", ErrInsufficientData)
	}
	if window < 1 {
		window = DefaultATRWindow
	}
	last := bars[len(bars)-1].Close
	if !validPrice(last) {
		return 0, fmt.Errorf("%w: close %v", ErrDegenerateInput, last)
	}

	start := len(bars) - window
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, b := range bars[start:] {
		tr := b.TrueRange()
		if !finite(tr) || tr < 0 {
			return 0, fmt.Errorf("%w: bar %s has high %v below low %v", ErrDegenerateInput, b.Time.Format("2006-01-02"), b.High, b.Low)
		}
		sum += tr
	}
	mean := sum / float64(len(bars)-start)
	return mean / last * 100, nil
}

// VolumeRatio is last.volume over the mean volume of up to window bars before
// it. ok is false when that mean is zero, leaving the ratio undefined.
func VolumeRatio(bars []model.Bar, window int) (ratio float64, ok bool) {
	if len(bars) < 2 {
		return 0, false
	}
	if window < 1 {
		window = DefaultVolumeWindow
	}
	end := len(bars) - 1
	start := end - window
	if start < 0 {
		start = 0
	}

	var sum int64
	for _, b := range bars[start:end] {
		sum += b.Volume
	}
	avg := float64(sum) / float64(end-start)
	if avg <= 0 {
		return 0, false
	}
	return float64(bars[end].Volume) / avg, true
}

// Edge blends change and volatility into one ranking score
func Edge(changePct, atrPct float64) float64 {
	return changePct*EdgeChangeWeight + atrPct*EdgeATRWeight
}

func validPrice(p float64) bool {
	return p > 0 && finite(p)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
