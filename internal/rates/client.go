// Package rates fetches the USD to ARS exchange rate from the configured
// upstream quote service.
package rates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	domain "github.com/visionwholesale/api/internal/domain"
)

const quotePath = "/api/v1/rates/usd-ars"

// quoteResponse mirrors the upstream JSON payload.
type quoteResponse struct {
	Rate float64   `json:"rate"`
	AsOf time.Time `json:"asOf"`
}

// Client retrieves exchange rates over HTTP. It satisfies the order service's
// rate provider contract.
type Client struct {
	http  *resty.Client
	clock func() time.Time
}

// Option customises the client.
type Option func(*Client)

// WithClock injects a custom clock primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewClient builds a rate client against the given base URL. The timeout bounds
// every fetch; callers still pass a context for cancellation.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("rates: base url is required")
	}
	if timeout <= 0 {
		return nil, errors.New("rates: timeout must be positive")
	}

	client := &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		clock: time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	return client, nil
}

// CurrentRate fetches the live USD to ARS rate. Any transport failure,
// non-200 response, or non-positive rate is returned as an error; callers
// decide whether the operation can proceed without it.
func (c *Client) CurrentRate(ctx context.Context) (domain.ExchangeRate, error) {
	if ctx == nil {
		return domain.ExchangeRate{}, errors.New("rates: context is required")
	}

	var quote quoteResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&quote).
		Get(quotePath)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("rates: fetch failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.ExchangeRate{}, fmt.Errorf("rates: unexpected status %d", resp.StatusCode())
	}
	if quote.Rate <= 0 {
		return domain.ExchangeRate{}, fmt.Errorf("rates: invalid rate %f", quote.Rate)
	}

	asOf := quote.AsOf
	if asOf.IsZero() {
		asOf = c.clock().UTC()
	}

	return domain.ExchangeRate{Value: quote.Rate, AsOf: asOf}, nil
}
