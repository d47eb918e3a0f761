package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/jobtrack/internal/shared"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetryDelay = time.Second
	maxTries          = 2
)

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsJSON reports whether the body parses as JSON.
func (r *APIResponse) IsJSON() bool {
	return gjson.ValidBytes(r.Body)
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying [http.Client].
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClientLogger sets the logger for request tracing.
func WithClientLogger(l *log.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = shared.WithLogger(l, "component", "api")
		}
	}
}

// Client makes requests to the remote job service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	limiter    *rate.Limiter
	timeout    time.Duration
	retryDelay time.Duration
	userAgent  string
	logger     *log.Logger
}

// NewClient creates a Client from the [api] config section. creds may be nil for
// unauthenticated use; see [Client.WithCredentials].
func NewClient(cfg shared.APIConfig, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{},
		creds:      creds,
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		userAgent:  cfg.UserAgent,
		logger:     shared.WithLogger(log.Default(), "component", "api"),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCredentials returns a copy of c that authorizes calls with creds.
// The copy shares the rate limiter and HTTP client.
func (c *Client) WithCredentials(creds Credentials) *Client {
	cp := *c
	cp.creds = creds
	return &cp
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// request describes one logical call. body is rebuilt for every attempt.
type request struct {
	method  string
	path    string
	body    func() (io.Reader, string, error)
	headers http.Header
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// withReauth runs exchange with the current credential. When the server answers
// 401 it refreshes (unless another caller already replaced the credential) and
// replays exchange exactly once. A second 401 expires the session and returns an
// [shared.AuthError] with reason session-expired; no further refresh happens.
func withReauth[T any](ctx context.Context, creds Credentials, exchange func(ctx context.Context, token string) (T, int, error)) (T, error) {
	var zero T

	token := creds.AccessToken()
	if token == "" {
		return zero, fmt.Errorf("%w: log in first", shared.ErrNotAuthenticated)
	}

	res, status, err := exchange(ctx, token)
	if err != nil {
		return zero, err
	}
	if status != http.StatusUnauthorized {
		return res, nil
	}

	if creds.AccessToken() == token {
		if _, err := creds.Refresh(ctx); err != nil {
			return zero, err
		}
	}

	res, status, err = exchange(ctx, creds.AccessToken())
	if err != nil {
		return zero, err
	}
	if status == http.StatusUnauthorized {
		creds.Expire()
		return zero, &shared.AuthError{Reason: shared.ReasonSessionExpired, Err: errors.New("credential rejected after refresh")}
	}
	return res, nil
}

// call performs an authorized request through [withReauth] and maps the final status to an error.
func (c *Client) call(ctx context.Context, r request) (*APIResponse, error) {
	if c.creds == nil {
		return nil, fmt.Errorf("%w: client has no credentials", shared.ErrNotAuthenticated)
	}
	resp, err := withReauth(ctx, c.creds, func(ctx context.Context, token string) (*APIResponse, int, error) {
		resp, err := c.retry(ctx, r, token)
		if err != nil {
			return nil, 0, err
		}
		return resp, resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	return resp, statusError(resp)
}

// send performs a request with an explicit token (possibly empty) and no reauthorization.
func (c *Client) send(ctx context.Context, r request, token string) (*APIResponse, error) {
	resp, err := c.retry(ctx, r, token)
	if err != nil {
		return nil, err
	}
	return resp, statusError(resp)
}

// retry runs one attempt and, if it failed transiently, one more after the fixed delay.
func (c *Client) retry(ctx context.Context, r request, token string) (*APIResponse, error) {
	op := func() (*APIResponse, error) {
		resp, err := c.do(ctx, r, token)
		if err == nil {
			err = statusError(resp)
			if err == nil || !shared.IsTransient(err) {
				return resp, nil
			}
		}
		if !shared.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Debug("transient failure", "method", r.method, "path", r.path, "error", err)
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(maxTries),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return resp, err
}

// do performs a single HTTP exchange under the per-request timeout and reads the whole body.
func (c *Client) do(ctx context.Context, r request, token string) (*APIResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(reqCtx, r, token)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	c.logger.Debug("response", "method", r.method, "path", r.path, "status", resp.StatusCode)
	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (c *Client) newRequest(ctx context.Context, r request, token string) (*http.Request, error) {
	var (
		body        io.Reader
		contentType string
	)
	if r.body != nil {
		var err error
		if body, contentType, err = r.body(); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range r.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	return req, nil
}

// transportError classifies a failed exchange. A cancelled parent context is returned as is.
func transportError(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return &shared.NetworkError{Reason: shared.ReasonTimeout, Err: err}
	}
	return &shared.NetworkError{Reason: shared.ReasonUnreachable, Err: err}
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *APIResponse) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: status 401", shared.ErrNotAuthenticated)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status 404", shared.ErrNotFound)
	case code == http.StatusConflict:
		ve := parseAPIError(resp)
		if ve.Code == "JOB_FINISHED" {
			return fmt.Errorf("%w: %s", shared.ErrJobFinished, ve.Message)
		}
		return fmt.Errorf("%w: %s", shared.ErrJobNotTerminal, ve.Message)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status 429", shared.ErrRateLimited)
	case code >= 500:
		return fmt.Errorf("%w: status %d", shared.ErrServerError, code)
	case code == http.StatusBadRequest, code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnsupportedMediaType, code == http.StatusUnprocessableEntity:
		return parseAPIError(resp)
	default:
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, code, string(resp.Body))
	}
}

// parseAPIError reads the {"error":{"code","message"}} envelope. A top-level
// "message" is accepted too.
func parseAPIError(resp *APIResponse) *shared.ValidationError {
	ve := &shared.ValidationError{Status: resp.StatusCode}
	if !gjson.ValidBytes(resp.Body) {
		ve.Message = strings.TrimSpace(string(resp.Body))
		return ve
	}

	ve.Code = gjson.GetBytes(resp.Body, "error.code").String()
	ve.Message = gjson.GetBytes(resp.Body, "error.message").String()
	if ve.Message == "" {
		ve.Message = gjson.GetBytes(resp.Body, "message").String()
	}
	return ve
}

func decode(resp *APIResponse, v any) error {
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", shared.ErrAPIRequest, err)
	}
	return nil
}

// Get performs an authorized GET on path and returns the raw response.
func (c *Client) Get(ctx context.Context, path string) (*APIResponse, error) {
	return c.call(ctx, request{method: http.MethodGet, path: path})
}

// Post performs an authorized POST of a JSON document on path and returns the raw response.
func (c *Client) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	return c.call(ctx, request{
		method: http.MethodPost,
		path:   path,
		body: func() (io.Reader, string, error) {
			return bytes.NewReader(data), "application/json", nil
		},
	})
}
