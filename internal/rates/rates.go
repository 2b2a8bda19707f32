// Package rates resolves historical currency conversion rates.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/service"
)

// HTTPRateSource fetches historical rates from a Frankfurter-compatible
// API. Every failure mode, transport, bad status, or a missing rate in the
// body, surfaces as ErrConversionUnavailable so callers can degrade to an
// unstamped default-currency amount instead of failing the write.
type HTTPRateSource struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPRateSource creates a rate source against the given API base URL.
func NewHTTPRateSource(baseURL string) *HTTPRateSource {
	return &HTTPRateSource{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: slog.Default().With("component", "rates"),
	}
}

type rateResponse struct {
	Rates map[string]json.Number `json:"rates"`
}

// Rate returns the conversion rate from one currency to another as of the
// given date. Identical currencies short-circuit to one without a request.
func (s *HTTPRateSource) Rate(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	endpoint := fmt.Sprintf("%s/%s?%s", s.baseURL, asOf.UTC().Format("2006-01-02"), url.Values{
		"from": {from},
		"to":   {to},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", common.ErrConversionUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Rate lookup failed", "from", from, "to", to, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %v", common.ErrConversionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("Rate lookup failed", "from", from, "to", to, "status", resp.StatusCode)
		return decimal.Zero, fmt.Errorf("%w: rate API returned status %d", common.ErrConversionUnavailable, resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("%w: malformed rate response: %v", common.ErrConversionUnavailable, err)
	}

	raw, ok := body.Rates[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no %s rate in response", common.ErrConversionUnavailable, to)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: unparseable %s rate %q", common.ErrConversionUnavailable, to, raw.String())
	}

	return rate, nil
}

// StaticRateSource serves fixed rates, keyed "FROM/TO". Unknown pairs
// return ErrConversionUnavailable. It is the test double for the HTTP
// source.
type StaticRateSource struct {
	Rates map[string]decimal.Decimal
}

// Rate implements service.RateSource.
func (s *StaticRateSource) Rate(_ context.Context, from, to string, _ time.Time) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := s.Rates[from+"/"+to]; ok {
		return rate, nil
	}
	return decimal.Zero, fmt.Errorf("%w: no rate for %s/%s", common.ErrConversionUnavailable, from, to)
}

var (
	_ service.RateSource = (*HTTPRateSource)(nil)
	_ service.RateSource = (*StaticRateSource)(nil)
)
