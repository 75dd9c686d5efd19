// Package apiclient is the shared client for third-party REST APIs (email,
// SMS and push providers). It adds per-service rate limiting, retry with
// exponential backoff and uniform error mapping on top of resty.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
	"github.com/healthmate/healthmate/internal/platform/metrics"
	"github.com/healthmate/healthmate/internal/platform/ratelimit"
	"github.com/healthmate/healthmate/internal/platform/retry"
)

// Config describes one upstream service.
type Config struct {
	// Name identifies the service in errors, logs and metrics.
	Name    string
	BaseURL string
	Timeout time.Duration
	Headers map[string]string

	BearerToken string
	BasicUser   string
	BasicPass   string

	// RateLimit calls are admitted per RateWindow. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration

	Retry retry.Config
	// MaxRetryAfter caps how long a Retry-After header may delay a retry.
	MaxRetryAfter time.Duration
}

// Request is a single call. Body is JSON-encoded unless FormData is set.
type Request struct {
	Method   string
	Path     string
	Query    map[string]string
	Headers  map[string]string
	Body     interface{}
	FormData map[string]string
	// Result, when non-nil, receives the decoded JSON response body.
	Result interface{}
}

// Response is the final response after retries.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

type Client struct {
	name          string
	http          *resty.Client
	limiter       *ratelimit.SlidingWindow
	retry         retry.Config
	maxRetryAfter time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.MaxRetryAfter == 0 {
		cfg.MaxRetryAfter = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "healthmate/1.0")
	for k, v := range cfg.Headers {
		rc.SetHeader(k, v)
	}
	if cfg.BearerToken != "" {
		rc.SetAuthToken(cfg.BearerToken)
	}
	if cfg.BasicUser != "" {
		rc.SetBasicAuth(cfg.BasicUser, cfg.BasicPass)
	}

	c := &Client{
		name:          cfg.Name,
		http:          rc,
		retry:         cfg.Retry,
		maxRetryAfter: cfg.MaxRetryAfter,
		logger:        zerolog.Nop(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = ratelimit.New(cfg.RateLimit, cfg.RateWindow)
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Get(ctx context.Context, path string, query map[string]string, result interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query, Result: result})
}

func (c *Client) Post(ctx context.Context, path string, body, result interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Result: result})
}

func (c *Client) Put(ctx context.Context, path string, body, result interface{}) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body, Result: result})
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Do executes req, waiting on the rate limiter before every attempt and
// retrying transport errors, 429 and 5xx. A Retry-After header lengthens
// the following backoff. Other 4xx responses fail immediately.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var retryAfter time.Duration
	cfg := c.retry
	baseSleep := cfg.Sleep
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		if retryAfter > d {
			d = retryAfter
		}
		retryAfter = 0
		if baseSleep != nil {
			return baseSleep(ctx, d)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}

	var out *Response
	err := retry.DoIf(ctx, cfg, apperr.IsRetryable, func(attempt int) error {
		resp, ra, err := c.attempt(ctx, req)
		if resp != nil {
			resp.Attempts = attempt
			out = resp
		}
		retryAfter = ra
		if err != nil {
			c.logger.Debug().Err(err).Str("service", c.name).Int("attempt", attempt).Msg("external request attempt failed")
		}
		return err
	})
	if err != nil {
		c.metrics.ExternalRequest(c.name, "error")
		if ae, ok := apperr.As(err); ok {
			return out, ae
		}
		return out, apperr.External(c.name, 0, err)
	}
	c.metrics.ExternalRequest(c.name, "ok")
	return out, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, time.Duration, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, err
		}
	}

	r := c.http.R().SetContext(ctx)
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.FormData != nil {
		r.SetFormData(req.FormData)
	} else if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	resp, err := r.Execute(method, req.Path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, apperr.External(c.name, 0, err)
	}

	out := &Response{StatusCode: resp.StatusCode(), Header: resp.Header(), Body: resp.Body()}
	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		ra := c.parseRetryAfter(resp.Header().Get("Retry-After"))
		return out, ra, apperr.RateLimited(fmt.Sprintf("%s rate limit exceeded", c.name), ra).
			WithDetail("service", c.name).
			WithDetail("status_code", resp.StatusCode())
	case resp.StatusCode() >= 400:
		ra := time.Duration(0)
		if resp.StatusCode() == http.StatusServiceUnavailable {
			ra = c.parseRetryAfter(resp.Header().Get("Retry-After"))
		}
		return out, ra, apperr.External(c.name, resp.StatusCode(), fmt.Errorf("%s %s: %s", method, req.Path, truncate(resp.Body(), 256)))
	}

	if req.Result != nil && len(out.Body) > 0 {
		if err := json.Unmarshal(out.Body, req.Result); err != nil {
			return out, 0, apperr.External(c.name, resp.StatusCode(), fmt.Errorf("decode response: %w", err)).
				WithDetail("decode", true)
		}
	}
	return out, 0, nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func (c *Client) parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	if d < 0 {
		return 0
	}
	if d > c.maxRetryAfter {
		return c.maxRetryAfter
	}
	return d
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
