// Package httpx is the outbound HTTP client shared by all upstream API
// consumers. Every call is rate limited and passes through a circuit
// breaker, so a degraded upstream sheds load instead of piling up requests.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/radarlab/radar/internal/apperr"
)

// Client wraps http.Client with a token bucket and a circuit breaker.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Options configure one upstream client.
type Options struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// New builds a client. The breaker opens after 5 consecutive failures and
// probes again after 30 seconds.
func New(opts Options) *Client {
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = int(opts.RPS)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    opts.Name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("client", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	return &Client{
		name:    opts.Name,
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		hc:      &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// GetJSON performs a GET against path with query params and decodes the JSON
// body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.New(apperr.KindShutdown, err)
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doGet(ctx, path, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.New(apperr.KindDownstreamFailure,
				fmt.Errorf("%s: circuit open: %w", c.name, err))
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return apperr.New(apperr.KindDataValidation,
			fmt.Errorf("%s: failed to decode response: %w", c.name, err))
	}
	return nil
}

// PostJSON performs a POST with a JSON body and decodes the JSON response
// into out.
func (c *Client) PostJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.New(apperr.KindShutdown, err)
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return apperr.New(apperr.KindDataValidation,
			fmt.Errorf("%s: failed to encode request: %w", c.name, err))
	}

	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, http.MethodPost, c.baseURL+path, encoded)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperr.New(apperr.KindDownstreamFailure,
				fmt.Errorf("%s: circuit open: %w", c.name, err))
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return apperr.New(apperr.KindDataValidation,
			fmt.Errorf("%s: failed to decode response: %w", c.name, err))
	}
	return nil
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil)
}

func (c *Client) do(ctx context.Context, method, u string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, fmt.Errorf("%s: bad request: %w", c.name, err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("%s: request failed: %w", c.name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("%s: read failed: %w", c.name, err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.Newf(apperr.KindNotFound, "%s: %s not found", c.name, u)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperr.Newf(apperr.KindUnauthorized, "%s: status %d", c.name, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperr.Newf(apperr.KindDownstreamFailure, "%s: status %d", c.name, resp.StatusCode)
	default:
		return nil, apperr.Newf(apperr.KindDataValidation, "%s: unexpected status %d", c.name, resp.StatusCode)
	}
}
