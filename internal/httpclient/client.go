// Package httpclient is the provider-neutral HTTP adapter. One logical
// request may span several attempts: retryable failures back off
// exponentially, and a 401 triggers exactly one token refresh.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dashsync/internal/config"
	"dashsync/internal/metrics"
)

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeFatal
	OutcomeUnauthorized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	case OutcomeUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

const (
	ReasonStatus    = "status"
	ReasonTransport = "transport"
)

// Result classifies one attempt.
type Result struct {
	Outcome  Outcome
	Response *Response
	Err      error
	// RetryAfter is the provider's requested delay, -1 when none was sent.
	RetryAfter time.Duration
	Reason     string
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body   any
	Header http.Header
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) Decode(v any) error {
	if r == nil {
		return errors.New("httpclient: nil response")
	}
	return json.Unmarshal(r.Body, v)
}

// Authorizer supplies the Authorization header and can renew it once when
// the provider answers 401.
type Authorizer interface {
	Authorize(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
}

type Options struct {
	// Provider labels logs and metrics; Name identifies the breaker.
	Provider string
	Name     string
	BaseURL  string

	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxJitter  time.Duration
	RateLimit  float64
	Burst      int
	Breaker    config.BreakerConfig

	Header     http.Header
	Authorizer Authorizer
	HTTP       *http.Client
	Logger     *zap.Logger

	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(max time.Duration) time.Duration
	Now    func() time.Time
}

// OptionsFromConfig maps one provider's http section onto Options.
func OptionsFromConfig(provider, baseURL string, cfg config.HTTPClientConfig) Options {
	return Options{
		Provider:   provider,
		Name:       provider,
		BaseURL:    baseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		MaxDelay:   cfg.MaxDelay,
		MaxJitter:  cfg.MaxJitter,
		RateLimit:  cfg.RateLimit,
		Burst:      cfg.Burst,
		Breaker:    cfg.Breaker,
	}
}

type Client struct {
	provider string
	name     string
	baseURL  string

	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	maxJitter  time.Duration

	header  http.Header
	auth    Authorizer
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Response]
	logger  *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
	now    func() time.Time
}

func New(opts Options) *Client {
	c := &Client{
		provider:   opts.Provider,
		name:       opts.Name,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		maxJitter:  opts.MaxJitter,
		header:     opts.Header.Clone(),
		auth:       opts.Authorizer,
		http:       opts.HTTP,
		logger:     opts.Logger,
		sleep:      opts.Sleep,
		jitter:     opts.Jitter,
		now:        opts.Now,
	}
	if c.name == "" {
		c.name = c.provider
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.jitter == nil {
		c.jitter = randomJitter
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.Breaker.Enabled {
		c.breaker = newBreaker(c.name, opts.Breaker, c.logger)
	}
	return c
}

// Do performs one logical request.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if c.breaker == nil {
		return c.do(ctx, req)
	}
	resp, err := c.breaker.Execute(func() (*Response, error) {
		return c.do(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s %s: %w", c.name, req.Path, err)
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = b
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	retries := 0
	refreshed := false
	for {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		res := c.attempt(ctx, req, body)
		metrics.HTTPRequests.WithLabelValues(c.provider, res.Outcome.String()).Inc()

		switch res.Outcome {
		case OutcomeSuccess:
			return res.Response, nil
		case OutcomeFatal:
			return nil, res.Err
		case OutcomeUnauthorized:
			if c.auth == nil || refreshed {
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, res.Err)
			}
			refreshed = true
			c.logger.Info("provider returned 401, refreshing token",
				zap.String("provider", c.provider),
				zap.String("path", req.Path),
			)
			if err := c.auth.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("refresh after 401: %w", err)
			}
		case OutcomeRetryable:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if retries >= c.maxRetries {
				return nil, &RetryExhaustedError{Attempts: retries + 1, Err: res.Err}
			}
			delay := c.delay(retries, res.RetryAfter)
			c.logger.Warn("provider request retry",
				zap.String("provider", c.provider),
				zap.String("method", req.Method),
				zap.String("path", req.Path),
				zap.Int("attempt", retries+1),
				zap.Duration("delay", delay),
				zap.String("reason", res.Reason),
				zap.Error(res.Err),
			)
			metrics.HTTPRetries.WithLabelValues(c.provider, res.Reason).Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			retries++
		}
	}
}

func (c *Client) delay(retry int, retryAfter time.Duration) time.Duration {
	if retryAfter >= 0 {
		return retryAfter
	}
	return Backoff(c.baseDelay, c.maxDelay, retry) + c.jitter(c.maxJitter)
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte) Result {
	httpReq, err := c.newRequest(ctx, req, body)
	if err != nil {
		return Result{Outcome: OutcomeFatal, Err: err, RetryAfter: -1}
	}
	if c.timeout > 0 {
		actx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		httpReq = httpReq.WithContext(actx)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.HTTPDuration.WithLabelValues(c.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		return c.transportFailure(ctx, req, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportFailure(ctx, req, err)
	}
	return classify(resp.StatusCode, resp.Header, raw, c.now())
}

func (c *Client) transportFailure(ctx context.Context, req Request, err error) Result {
	if ctx.Err() != nil {
		return Result{Outcome: OutcomeFatal, Err: ctx.Err(), RetryAfter: -1}
	}
	return Result{
		Outcome:    OutcomeRetryable,
		Err:        fmt.Errorf("%s %s: %w", req.Method, req.Path, err),
		RetryAfter: -1,
		Reason:     ReasonTransport,
	}
}

func classify(status int, header http.Header, body []byte, now time.Time) Result {
	resp := &Response{Status: status, Header: header, Body: body}
	if status >= 200 && status < 300 {
		return Result{Outcome: OutcomeSuccess, Response: resp, RetryAfter: -1}
	}
	apiErr := &APIError{Status: status, Body: string(body)}
	switch {
	case status == http.StatusUnauthorized:
		return Result{Outcome: OutcomeUnauthorized, Response: resp, Err: apiErr, RetryAfter: -1, Reason: ReasonStatus}
	case apiErr.Retryable():
		return Result{
			Outcome:    OutcomeRetryable,
			Response:   resp,
			Err:        apiErr,
			RetryAfter: ParseRetryAfter(header.Get("Retry-After"), now),
			Reason:     ReasonStatus,
		}
	default:
		return Result{Outcome: OutcomeFatal, Response: resp, Err: apiErr, RetryAfter: -1, Reason: ReasonStatus}
	}
}

func (c *Client) newRequest(ctx context.Context, req Request, body []byte) (*http.Request, error) {
	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL = fullURL + "?" + req.Query.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, vals := range c.header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	for k, vals := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	if c.auth != nil {
		authz, err := c.auth.Authorize(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", authz)
	}
	return httpReq, nil
}
