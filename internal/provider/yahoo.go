package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"screener/internal/ratelimit"
	"screener/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider implements the Provider interface for Yahoo Finance (unofficial API)
type YahooProvider struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	baseURL   string
	rateLimit int
}

// NewYahooProvider creates a new Yahoo Finance provider. An empty baseURL uses
// the public chart endpoint.
func NewYahooProvider(baseURL string, perMinute int, timeout time.Duration) *YahooProvider {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &YahooProvider{
		client:    &http.Client{Timeout: timeout},
		limiter:   ratelimit.NewLimiter("yahoo", perMinute),
		baseURL:   baseURL,
		rateLimit: perMinute,
	}
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo"
}

// RateLimit returns the rate limit per minute
func (p *YahooProvider) RateLimit() int {
	return p.rateLimit
}

// yahooResponse represents the chart API response. Quote fields are pointers
// because Yahoo emits null for halted or holiday sessions.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// rangeFor picks the smallest Yahoo range covering days trading sessions
func rangeFor(days int) string {
	switch {
	case days <= 5:
		return "5d"
	case days <= 21:
		return "1mo"
	case days <= 63:
		return "3mo"
	case days <= 126:
		return "6mo"
	case days <= 252:
		return "1y"
	default:
		return "2y"
	}
}

// GetDailyBars fetches daily OHLCV bars
func (p *YahooProvider) GetDailyBars(ctx context.Context, symbol string, days int) ([]model.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s?interval=1d&range=%s&includePrePost=false",
		p.baseURL, url.PathEscape(symbol), rangeFor(days))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("rate limited"), Retryable: true}
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: true}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: false}
	}

	p.limiter.ResetBackoff()

	var data yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err), Retryable: false}
	}

	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description), Retryable: false}
	}

	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 ||
		len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	result := data.Chart.Result[0]
	bars := toBars(result.Timestamp, result.Indicators.Quote[0].Open, result.Indicators.Quote[0].High,
		result.Indicators.Quote[0].Low, result.Indicators.Quote[0].Close, result.Indicators.Quote[0].Volume)

	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// toBars zips the quote columns into bars, dropping sessions with a missing
// price, sorting by time and keeping the last bar for a repeated timestamp
func toBars(ts []int64, open, high, low, closes []*float64, volume []*int64) []model.Bar {
	byTime := make(map[int64]model.Bar, len(ts))
	for i, t := range ts {
		o, h, l, c := at(open, i), at(high, i), at(low, i), at(closes, i)
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		var v int64
		if i < len(volume) && volume[i] != nil {
			v = *volume[i]
		}
		byTime[t] = model.Bar{
			Time:   time.Unix(t, 0).UTC(),
			Open:   *o,
			High:   *h,
			Low:    *l,
			Close:  *c,
			Volume: v,
		}
	}

	bars := make([]model.Bar, 0, len(byTime))
	for _, b := range byTime {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Time.Before(bars[j].Time)
	})
	return bars
}

func at(col []*float64, i int) *float64 {
	if i >= len(col) {
		return nil
	}
	return col[i]
}
