// Package fetch issues upstream HTTP requests with a bounded retry policy.
//
// Transport errors (handshake, timeout, connection reset) and 5xx responses
// are retried up to a fixed number of attempts. Any other non-2xx response is
// returned immediately as a *StatusError.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 120 * time.Second
)

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Retryable decides whether a failed attempt should be retried.
// err is the transport error, or nil when the server answered with statusCode.
type Retryable func(statusCode int, err error) bool

// TransientFailure retries every transport error and every 5xx response.
func TransientFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}
	return statusCode >= http.StatusInternalServerError
}

// Client wraps an *http.Client with the retry policy.
type Client struct {
	http        *http.Client
	maxAttempts int
	retryable   Retryable
	newBackOff  func() backoff.BackOff
	logger      *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxAttempts sets the total number of attempts per request, including the first.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func WithRetryable(r Retryable) Option {
	return func(c *Client) { c.retryable = r }
}

// WithBackOff sets the delay policy between attempts. The factory is called once per request.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.newBackOff = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: DefaultTimeout},
		maxAttempts: DefaultMaxAttempts,
		retryable:   TransientFailure,
		newBackOff:  defaultBackOff,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Get issues a GET with the given query parameters.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, params)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, http.MethodHead, rawURL, nil)
}

// Do issues the request, retrying transient failures.
func (c *Client) Do(ctx context.Context, method string, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", rawURL)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	// Query strings carry API keys; never log or return them.
	display := redact(u)

	attempt := 0
	op := func() (*Response, error) {
		attempt++
		res, err := c.once(ctx, method, u, display)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			if c.retryable(0, err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return res, nil
		}

		statusErr := &StatusError{Method: method, URL: display, StatusCode: res.StatusCode}
		if c.retryable(res.StatusCode, nil) {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("upstream request failed, retrying",
			zap.String("method", method),
			zap.String("url", display),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.maxAttempts-1)), ctx)
	res, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s failed after %d attempt(s)", method, display, attempt)
	}

	return res, nil
}

func (c *Client) once(ctx context.Context, method string, u *url.URL, display string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = display
		}
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s response body", display)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}

func redact(u *url.URL) string {
	r := *u
	r.RawQuery = ""
	r.User = nil
	return r.String()
}
