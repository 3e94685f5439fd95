package provider

import (
	"context"
	"errors"

	"screener/pkg/model"
)

// Provider defines the interface for historical bar sources
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetDailyBars fetches up to days daily bars for an exchange-qualified symbol,
	// ordered oldest first
	GetDailyBars(ctx context.Context, symbol string, days int) ([]model.Bar, error)

	// RateLimit returns the rate limit per minute
	RateLimit() int
}

// ErrNoData is returned when the provider answers but has no bars
var ErrNoData = errors.New("no data available")

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient provider failure
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
