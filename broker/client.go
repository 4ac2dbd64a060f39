package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-fiware-sync/core"
	"github.com/goliatone/go-fiware-sync/ratelimit"
	"github.com/goliatone/go-fiware-sync/transport"
)

const (
	defaultMaxAttempts     = 3
	defaultRequestTimeout  = 10 * time.Second
	defaultMaxPayloadBytes = 400000

	headerService     = "Fiware-Service"
	headerServicePath = "Fiware-ServicePath"
)

type Option func(*Client)

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(c *Client) {
		if client != nil {
			c.adapter.Client = client
		}
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Client) {
		c.observer.Logger = logger
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(c *Client) {
		if metrics != nil {
			c.observer.Metrics = metrics
		}
	}
}

func WithBackoff(scheduler core.BackoffScheduler) Option {
	return func(c *Client) {
		if scheduler != nil {
			c.backoff = scheduler
		}
	}
}

// RateLimiter shares throttling signals across concurrent requests.
type RateLimiter interface {
	BeforeCall(ctx context.Context, key string) error
	AfterCall(ctx context.Context, key string, res transport.Response) error
}

func WithRateLimiter(limiter RateLimiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client talks NGSI-v2 to the context broker. Every request carries a token
// from the TokenProvider and is retried according to the response class.
type Client struct {
	adapter *transport.RESTAdapter
	tokens  core.TokenProvider

	baseURL     string
	service     string
	servicePath string
	tokenHeader string

	timeout     time.Duration
	maxAttempts int
	maxBackoff  time.Duration
	maxPayload  int
	backoff     core.BackoffScheduler
	sleep       func(ctx context.Context, delay time.Duration) error
	now         func() time.Time
	observer    core.Observer
	limiter     RateLimiter
}

func NewClient(cfg core.BrokerConfig, tokens core.TokenProvider, opts ...Option) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("broker: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("broker: invalid base url: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("broker: token provider is required")
	}

	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = defaultMaxPayloadBytes
	}

	client := &Client{
		adapter:     transport.NewRESTAdapter(&http.Client{}),
		tokens:      tokens,
		baseURL:     baseURL,
		service:     strings.TrimSpace(cfg.Service),
		servicePath: strings.TrimSpace(cfg.ServicePath),
		tokenHeader: strings.TrimSpace(cfg.TokenHeader),
		timeout:     timeout,
		maxAttempts: maxAttempts,
		maxBackoff:  cfg.MaxBackoff(),
		maxPayload:  maxPayload,
		backoff: core.ExponentialBackoffScheduler{
			Initial: cfg.InitialBackoff(),
			Max:     cfg.MaxBackoff(),
		},
		sleep:    core.WaitWithContext,
		now:      time.Now,
		observer: core.NewObserver(nil, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// send executes req with auth and transient retries. Responses classified as
// success or permanent are returned without error so callers can interpret
// statuses such as 404 or 422 themselves.
func (c *Client) send(ctx context.Context, req transport.Request) (transport.Response, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return transport.Response{}, err
	}

	authRetried := false
	attempt := 1
	var lastErr error
	lastStatus := 0
	for {
		if err := c.waitForRateLimit(ctx, req, attempt); err != nil {
			return transport.Response{}, err
		}
		res, err := c.adapter.Do(ctx, c.authorize(req, token))
		if err == nil && c.limiter != nil {
			if limitErr := c.limiter.AfterCall(ctx, c.rateLimitKey(), res); limitErr != nil {
				c.observer.Warn(ctx, "broker rate limit state update failed", map[string]any{"error": limitErr.Error()})
			}
		}
		var retryAfter time.Duration
		switch {
		case err != nil && ctx.Err() != nil:
			return transport.Response{}, core.NewTransientError("broker: request cancelled", ctx.Err(), requestMetadata(req, 0, attempt))
		case err != nil && core.IsTransientError(err):
			lastErr, lastStatus = err, 0
		case err != nil:
			return transport.Response{}, err
		default:
			switch res.Class() {
			case transport.ClassSuccess, transport.ClassPermanent:
				return res, nil
			case transport.ClassAuth:
				if authRetried {
					return res, core.NewAuthError("broker: token rejected after refresh", nil, responseMetadata(req, res, attempt))
				}
				authRetried = true
				c.observer.Info(ctx, "broker rejected token, forcing refresh", requestMetadata(req, res.StatusCode, attempt))
				token, err = c.tokens.ForceRefresh(ctx, token)
				if err != nil {
					return res, err
				}
				continue
			default:
				lastErr = core.NewTransientError(
					fmt.Sprintf("broker: %s %s returned %d", req.Method, req.URL, res.StatusCode),
					nil,
					responseMetadata(req, res, attempt),
				)
				lastStatus = res.StatusCode
				retryAfter, _ = transport.RetryAfter(res.Headers, c.now())
			}
		}

		if attempt >= c.maxAttempts {
			return transport.Response{}, core.NewTransientError(
				fmt.Sprintf("broker: giving up after %d attempts", attempt),
				lastErr,
				requestMetadata(req, lastStatus, attempt),
			)
		}
		delay := c.backoff.NextDelay(attempt)
		if retryAfter > delay {
			delay = retryAfter
			if c.maxBackoff > 0 && delay > c.maxBackoff {
				delay = c.maxBackoff
			}
		}
		attempt++
		if err := c.sleep(ctx, delay); err != nil {
			return transport.Response{}, core.NewTransientError("broker: retry interrupted", err, requestMetadata(req, 0, attempt))
		}
	}
}

// waitForRateLimit sleeps once while the broker bucket is throttled. The wait
// is capped by the retry backoff ceiling.
func (c *Client) waitForRateLimit(ctx context.Context, req transport.Request, attempt int) error {
	if c.limiter == nil {
		return nil
	}
	err := c.limiter.BeforeCall(ctx, c.rateLimitKey())
	if err == nil {
		return nil
	}
	var throttled ratelimit.ThrottledError
	if !errors.As(err, &throttled) {
		c.observer.Warn(ctx, "broker rate limit check failed", map[string]any{"error": err.Error()})
		return nil
	}
	delay := throttled.RetryAfter
	if c.maxBackoff > 0 && delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	c.observer.Debug(ctx, "broker throttled, waiting", requestMetadata(req, 0, attempt))
	if err := c.sleep(ctx, delay); err != nil {
		return core.NewTransientError("broker: throttle wait interrupted", throttled.ToSyncError(), requestMetadata(req, 0, attempt))
	}
	return nil
}

func (c *Client) rateLimitKey() string {
	return c.baseURL + "|" + c.service
}

func (c *Client) authorize(req transport.Request, token string) transport.Request {
	headers := make(map[string]string, len(req.Headers)+5)
	for key, value := range req.Headers {
		headers[key] = value
	}
	headers["Accept"] = "application/json"
	if len(req.Body) > 0 {
		headers["Content-Type"] = "application/json"
	}
	if c.service != "" {
		headers[headerService] = c.service
	}
	if c.servicePath != "" {
		headers[headerServicePath] = c.servicePath
	}
	if c.tokenHeader != "" {
		headers[c.tokenHeader] = token
	} else {
		headers["Authorization"] = "Bearer " + token
	}
	req.Headers = headers
	req.Timeout = c.timeout
	return req
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return c.baseURL + "/v2/" + strings.Join(escaped, "/")
}

func permanentError(message string, req transport.Request, res transport.Response) error {
	return core.NewPermanentError(
		fmt.Sprintf("%s: broker returned %d", message, res.StatusCode),
		nil,
		responseMetadata(req, res, 0),
	)
}

func requestMetadata(req transport.Request, status int, attempt int) map[string]any {
	metadata := map[string]any{
		"method": req.Method,
		"url":    req.URL,
	}
	if attempt > 0 {
		metadata["attempt"] = attempt
	}
	if status > 0 {
		metadata["status_code"] = status
	}
	return metadata
}

func responseMetadata(req transport.Request, res transport.Response, attempt int) map[string]any {
	metadata := requestMetadata(req, res.StatusCode, attempt)
	if snippet := transport.Snippet(res.Body); snippet != "" {
		metadata["response"] = snippet
	}
	return metadata
}
