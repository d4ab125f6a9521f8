// Package api is the request client for the monitoring backend. It attaches
// credentials to every outgoing request and turns every failed response into
// a classified, user-facing Failure that is both returned to the caller and
// broadcast to failure subscribers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sitewatch/monitor/internal/broadcast"
	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/metrics"
)

// maxErrorBody caps how much of a failed response body is kept in Error.
const maxErrorBody = 4 << 10

// Config holds the client's endpoint settings.
type Config struct {
	BaseURL string        // e.g. "https://api.example.com"
	Timeout time.Duration // per-request timeout; 0 means 30s
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithFailures publishes classified failures to b instead of a private
// broadcaster.
func WithFailures(b *broadcast.Broadcaster[Failure]) Option {
	return func(c *Client) { c.failures = b }
}

// WithToken sets the initial bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.SetToken(token) }
}

// OnSessionExpired registers fn to run on the first 401 of a logical request.
func OnSessionExpired(fn func()) Option {
	return func(c *Client) { c.onExpired = fn }
}

// WithLogger sets the logger; the default is the "api" component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client issues JSON requests against one backend.
type Client struct {
	base      string
	http      *http.Client
	token     atomic.Pointer[string]
	failures  *broadcast.Broadcaster[Failure]
	onExpired func()
	logger    zerolog.Logger
}

// New creates a Client for cfg. The client owns no goroutines.
func New(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.failures == nil {
		c.failures = broadcast.New[Failure]()
	}
	return c
}

// SetToken replaces the bearer token. An empty token disables the header.
func (c *Client) SetToken(token string) {
	c.token.Store(&token)
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	if t := c.token.Load(); t != nil {
		return *t
	}
	return ""
}

// Failures returns the broadcaster classified failures are published to.
func (c *Client) Failures() *broadcast.Broadcaster[Failure] {
	return c.failures
}

// Get fetches path and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, NewRequest(http.MethodGet, path, nil, opts...), out)
}

// Post sends body to path and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, NewRequest(http.MethodPost, path, body, opts...), out)
}

// Put sends body to path and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, NewRequest(http.MethodPut, path, body, opts...), out)
}

// Delete removes path and decodes the response, if any, into out.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, NewRequest(http.MethodDelete, path, nil, opts...), out)
}

// Do sends req and decodes a successful response into out, which may be nil.
// Every failed response is classified, published to Failures and returned
// as *Error. Cancellation by the caller is returned unclassified.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(req.Method, "failed", start)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return fmt.Errorf("api: %s %s: %w", req.Method, req.Path, ctx.Err())
		}
		return c.fail(req, 0, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.observe(req.Method, "failed", start)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return c.fail(req, resp.StatusCode, strings.TrimSpace(string(body)), nil)
	}
	c.observe(req.Method, "ok", start)

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("api: %s %s: decode response: %w", req.Method, req.Path, err)
	}
	return nil
}

func (c *Client) build(ctx context.Context, req *Request) (*http.Request, error) {
	target := c.base + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("api: %s %s: encode body: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.Path, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	httpReq.Header.Set("X-Request-ID", uuid.New().String())
	for k, vs := range req.Header {
		httpReq.Header[k] = vs
	}
	return httpReq, nil
}

// fail classifies one failed attempt, runs the session-expiry side effects
// on the first 401, and publishes the result.
func (c *Client) fail(req *Request, status int, body string, cause error) error {
	retried := false
	if status == http.StatusUnauthorized {
		retried = !req.retried.CompareAndSwap(false, true)
	}

	failure, sentinel := classify(status, retried)
	e := &Error{
		Failure:  failure,
		Sentinel: sentinel,
		Method:   req.Method,
		Path:     req.Path,
		Status:   status,
		Body:     body,
		Err:      cause,
	}

	metrics.RequestFailures.WithLabelValues(string(failure.Category)).Inc()
	c.logger.Warn().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Str("category", string(failure.Category)).
		Err(cause).
		Msg("request failed")

	if failure.Category == CategoryAuth && c.onExpired != nil {
		c.onExpired()
	}
	c.failures.Publish(failure)
	return e
}

func (c *Client) observe(method, outcome string, start time.Time) {
	metrics.RequestDuration.WithLabelValues(method, outcome).Observe(time.Since(start).Seconds())
}
