// Licensed to Andrew Kroh under one or more agreements.
// Andrew Kroh licenses this file to you under the Apache 2.0 License.
// See the LICENSE file in the project root for more information.

// Package rest provides a JSON HTTP client that retries requests which fail
// with a transient timeout, using capped exponential backoff.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultMaxRetries  = 3
	DefaultTimeout     = 10 * time.Second
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffMax  = 10 * time.Second

	instrumentationName = "github.com/andrewkroh/access-manager/internal/rest"
)

// emptyBody is returned for 204 responses and responses without content.
var emptyBody = json.RawMessage("{}")

// Request describes a single logical API call. Headers are fixed when the
// Client is constructed and cannot be set per request.
type Request struct {
	Method string
	Path   string // Relative to the base URL, or an absolute URL.
	Body   any    // Encoded as JSON when non-nil.
	Query  url.Values
}

// Response is the decoded result of a request that reached the server.
type Response struct {
	Method     string
	Path       string
	StatusCode int
	Header     http.Header
	Body       json.RawMessage
}

// OK reports whether the response has a 2xx status code.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StatusError returns a *StatusError for non-2xx responses and nil otherwise.
func (r *Response) StatusError() error {
	if r.OK() {
		return nil
	}
	var body struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(r.Body, &body)
	return &StatusError{
		Method:     r.Method,
		Path:       r.Path,
		StatusCode: r.StatusCode,
		Message:    body.Message,
	}
}

// Empty reports whether the server sent no content (204 or an empty body).
func (r *Response) Empty() bool {
	return bytes.Equal(r.Body, emptyBody)
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Client sends JSON requests to a single API host.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	header      http.Header
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *slog.Logger

	tracer  trace.Tracer
	retries metric.Int64Counter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the URL that relative request paths are joined to.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the underlying HTTP client. Its Timeout is used as the
// per-attempt timeout and WithTimeout is ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithMaxRetries sets the maximum number of attempts per request.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBackoff sets the delay before the second attempt and the cap that
// later delays are limited to. The delay doubles after each attempt.
func WithBackoff(base, max time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = max
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a Client. Without options it retries up to 3 times with a
// 10s per-attempt timeout and a 1s..10s backoff, logging to slog.Default().
func New(opts ...Option) *Client {
	c := &Client{
		header:      make(http.Header),
		timeout:     DefaultTimeout,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		log:         slog.Default(),
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}

	retries, _ := otel.Meter(instrumentationName).Int64Counter("access_manager.http.retries",
		metric.WithDescription("Number of requests retried after a transient timeout"),
	)
	c.retries = retries
	return c
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Do sends req, retrying while attempts fail with a transient timeout.
//
// Non-2xx responses are logged and returned without an error. When every
// attempt times out the response is nil and the error is an *ExhaustedError.
// Any other failure (connection refused or reset, invalid JSON) is returned
// after the first attempt.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "rest.request")
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	)

	fail := func(err error, msg string) (*Response, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.ErrorContext(ctx, msg,
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var payload []byte
	if req.Body != nil {
		var err error
		if payload, err = json.Marshal(req.Body); err != nil {
			return fail(fmt.Errorf("rest: encoding request body: %w", err), "failed to encode request")
		}
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return fail(fmt.Errorf("rest: building URL: %w", err), "failed to build request URL")
	}

	start := time.Now()
	attempts := 0
	resp, err := backoff.Retry(ctx,
		func() (*Response, error) {
			attempts++
			c.log.DebugContext(ctx, "sending request",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("attempt", attempts),
			)
			r, err := c.send(ctx, req.Method, target, payload)
			if err != nil {
				if isTransient(err) {
					return nil, err
				}
				return nil, backoff.Permanent(err)
			}
			return r, nil
		},
		backoff.WithBackOff(newBackOff(c.backoffBase, c.backoffMax)),
		backoff.WithMaxTries(uint(c.maxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("http.request.method", req.Method)))
			c.log.WarnContext(ctx, "request timed out, retrying",
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Int("attempt", attempts),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	span.SetAttributes(attribute.Int("rest.attempts", attempts))

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
		if ctx.Err() == nil && isTransient(err) {
			return fail(&ExhaustedError{Method: req.Method, Path: req.Path, Attempts: attempts, Err: err}, "request retries exhausted")
		}
		return fail(fmt.Errorf("rest: %s %s: %w", req.Method, req.Path, err), "request failed")
	}

	resp.Method = req.Method
	resp.Path = req.Path
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	switch {
	case rateLimited(resp):
		c.log.WarnContext(ctx, "rate limited by API",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
		)
	case !resp.OK():
		statusErr := resp.StatusError()
		span.SetStatus(codes.Error, statusErr.Error())
		c.log.ErrorContext(ctx, "unexpected response",
			slog.String("method", req.Method),
			slog.String("path", req.Path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", statusErr.Error()),
		)
	}

	c.log.DebugContext(ctx, "request completed",
		slog.String("method", req.Method),
		slog.String("path", req.Path),
		slog.Int("status", resp.StatusCode),
		slog.Int("attempts", attempts),
		slog.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// send performs a single attempt.
func (c *Client) send(ctx context.Context, method, target string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = append([]string(nil), v...)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       emptyBody,
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	out.Body = raw
	return out, nil
}

// resolve joins path to the base URL unless it is already absolute and
// merges query into the result.
func (c *Client) resolve(path string, query url.Values) (string, error) {
	raw := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		raw = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// newBackOff returns a policy yielding base, 2*base, 4*base, ... capped at max.
func newBackOff(base, max time.Duration) *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
}

// isTransient reports whether err is a network timeout, the only failure
// class that is retried.
func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// rateLimited reports whether the response signals rate limit exhaustion,
// either with HTTP 429 or X-RateLimit-Remaining: 0.
func rateLimited(resp *Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return false
	}
	n, err := strconv.Atoi(remaining)
	return err == nil && n == 0
}
