// Package peer contains HTTP clients for calls between platform services.
// Every call runs under its own timeout and a circuit breaker; transport
// failures, timeouts, 5xx answers and an open breaker all surface as
// common.ErrServiceUnavailable so callers never mistake an outage for a
// rejected credential.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/chatauth/internal/common"
	"github.com/dmitrijs2005/chatauth/internal/logging"
	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

const (
	DefaultTimeout         = 5 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 10 * time.Second
	defaultRetries         = 2
	retryBase              = 50 * time.Millisecond
	maxResponseBytes       = 1 << 20
)

// Options configure a peer client.
type Options struct {
	// BaseURL of the remote service, e.g. "http://users:8080".
	BaseURL string
	// Timeout bounds each attempt, including reading the response body.
	Timeout time.Duration
	// Retries is the number of extra attempts for idempotent calls.
	Retries uint64
	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// HTTPClient defaults to a client without its own timeout; the per-call
	// context deadline applies instead.
	HTTPClient *http.Client
	Logger     logging.Logger
}

type client struct {
	name    string
	base    string
	timeout time.Duration
	retries uint64
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

func newClient(name string, o Options) *client {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = defaultBreakerFailures
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = defaultBreakerCooldown
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	logger := o.Logger.With("peer", name)
	failures := o.BreakerFailures

	return &client{
		name:    name,
		base:    strings.TrimRight(o.BaseURL, "/"),
		timeout: o.Timeout,
		retries: o.Retries,
		http:    o.HTTPClient,
		logger:  logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: o.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
	}
}

// request describes one call. Exactly one of jsonBody and form may be set.
type request struct {
	method     string
	path       string
	jsonBody   any
	form       map[string]string
	headers    map[string]string
	idempotent bool
}

// response is what survived the breaker: any status below 500.
type response struct {
	status int
	body   []byte
}

func (r *response) decode(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", common.ErrServiceUnavailable, err)
	}
	return nil
}

// do performs req, retrying idempotent calls on availability errors.
func (c *client) do(ctx context.Context, req request) (*response, error) {
	if !req.idempotent || c.retries == 0 {
		return c.attempt(ctx, req)
	}

	var resp *response
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		resp, err = c.attempt(ctx, req)
		if err != nil && !errors.Is(err, gobreaker.ErrOpenState) {
			return retry.RetryableError(err)
		}
		return err
	})
	return resp, err
}

func (c *client) attempt(ctx context.Context, req request) (*response, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		return c.roundTrip(ctx, req)
	})
	if err != nil {
		if errors.Is(err, common.ErrServiceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", common.ErrServiceUnavailable, c.name, err)
	}
	return out.(*response), nil
}

func (c *client) roundTrip(ctx context.Context, req request) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case req.jsonBody != nil:
		b, err := json.Marshal(req.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body, contentType = bytes.NewReader(b), "application/json"
	case req.form != nil:
		values := make(url.Values, len(req.form))
		for k, v := range req.form {
			values.Set(k, v)
		}
		body, contentType = strings.NewReader(values.Encode()), "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.base+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn(ctx, "peer call failed", "path", req.path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", common.ErrServiceUnavailable, req.method, req.path, err)
	}
	defer httpResp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", common.ErrServiceUnavailable, err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		c.logger.Warn(ctx, "peer returned server error", "path", req.path, "status", httpResp.StatusCode)
		return nil, fmt.Errorf("%w: %s %s: status %d", common.ErrServiceUnavailable, req.method, req.path, httpResp.StatusCode)
	}
	return &response{status: httpResp.StatusCode, body: b}, nil
}

func unexpected(resp *response) error {
	return fmt.Errorf("%w: unexpected status %d", common.ErrServiceUnavailable, resp.status)
}
