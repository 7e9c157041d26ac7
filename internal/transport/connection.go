// Package transport talks HTTP to the platform's asynchronous bulk API.
//
// A Connection only moves bytes: it authenticates, paces, retries and
// guards requests, then hands the decoded body back. Interpreting the
// payload, including exception documents the platform embeds in it, is
// left to the caller.
package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/bulk-loader/internal/circuitbreaker"
	"github.com/bulk-loader/internal/errors"
	"github.com/bulk-loader/internal/logging"
	"github.com/bulk-loader/internal/retry"
)

// SessionHeader carries the session id on every request
const SessionHeader = "X-SFDC-Session"

// maxBodySize bounds how much of a response is read into memory
const maxBodySize = 256 << 20

// Budget is a shared request allowance consulted before every request
type Budget interface {
	Allow(ctx context.Context) error
}

// Config configures a Connection
type Config struct {
	// InstanceURL is the scheme and host of the platform instance
	InstanceURL string
	SessionID   string
	APIVersion  string

	// HTTPTimeout bounds a single request (default: 120s)
	HTTPTimeout time.Duration
	// RateLimit is requests per second (default: 10); RateBurst the burst size (default: 5)
	RateLimit float64
	RateBurst int

	Retry   *retry.RetryConfig
	Breaker *circuitbreaker.Config
	// Budget is optional
	Budget Budget

	// RoundTripper allows injecting a custom HTTP transport (for tests)
	RoundTripper http.RoundTripper
}

// Counters reports how many requests of each verb were issued
type Counters struct {
	Get  int64 `json:"httpGet"`
	Post int64 `json:"httpPost"`
}

// Connection is a rate-limited, retrying, breaker-guarded client for the bulk API
type Connection struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   *retry.RetryConfig
	// postRetryCfg only resends requests the platform never acted on
	postRetryCfg *retry.RetryConfig
	breaker      *circuitbreaker.CircuitBreaker
	budget       Budget

	gets  atomic.Int64
	posts atomic.Int64
}

// NewConnection creates a Connection from cfg
func NewConnection(cfg Config) (*Connection, error) {
	if cfg.InstanceURL == "" {
		return nil, errors.NewValidationError("instance url", "is required")
	}
	if cfg.APIVersion == "" {
		return nil, errors.NewValidationError("api version", "is required")
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}

	retryCfg := cfg.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultRetryConfig()
	}
	rc := *retryCfg
	rc.ShouldRetry = errors.IsRetryable
	// Creating a job or adding a batch twice loads the records twice
	prc := rc
	prc.ShouldRetry = errors.IsRetryableUnsent

	breakerCfg := cfg.Breaker
	if breakerCfg == nil {
		breakerCfg = circuitbreaker.DefaultConfig("bulk-api")
	}
	bc := *breakerCfg
	bc.IsFailure = errors.IsRetryable

	return &Connection{
		baseURL: strings.TrimSuffix(cfg.InstanceURL, "/") +
			"/services/async/" + cfg.APIVersion + "/",
		sessionID: cfg.SessionID,
		httpClient: &http.Client{
			Timeout:   cfg.HTTPTimeout,
			Transport: cfg.RoundTripper,
		},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		retryCfg:     &rc,
		postRetryCfg: &prc,
		breaker:      circuitbreaker.NewCircuitBreaker(&bc),
		budget:       cfg.Budget,
	}, nil
}

// BaseURL returns the URL every path is resolved against
func (c *Connection) BaseURL() string {
	return c.baseURL
}

// PostPayload posts body to path and returns the response body. A post is
// only sent again when it never reached the platform or was throttled.
func (c *Connection) PostPayload(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error) {
	c.posts.Add(1)
	return c.do(ctx, c.postRetryCfg, http.MethodPost, path, body, headers)
}

// GetResource fetches path and returns the response body
func (c *Connection) GetResource(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	c.gets.Add(1)
	return c.do(ctx, c.retryCfg, http.MethodGet, path, nil, headers)
}

// Counters returns the number of GET and POST calls made so far
func (c *Connection) Counters() Counters {
	return Counters{Get: c.gets.Load(), Post: c.posts.Load()}
}

func (c *Connection) do(ctx context.Context, retryCfg *retry.RetryConfig, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	op := method + " " + path

	if c.budget != nil {
		if err := c.budget.Allow(ctx); err != nil {
			terr := errors.NewTransportError(op, err)
			terr.Code = "BUDGET_EXHAUSTED"
			return nil, terr
		}
	}

	var out []byte
	err := retry.Do(ctx, retryCfg, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			terr := errors.NewTransportError(op, err)
			terr.Code = "RATE_LIMIT_WAIT"
			return terr
		}

		err := c.breaker.Execute(ctx, func() error {
			resp, err := c.doOnce(ctx, method, path, body, headers)
			if err != nil {
				return err
			}
			out = resp
			return nil
		})
		if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
			terr := errors.NewTransportError(op, err)
			terr.Code = "CIRCUIT_OPEN"
			return terr
		}
		return err
	})
	if err != nil {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
		}).WithError(err).Warn("Bulk API request failed")
		return nil, err
	}
	return out, nil
}

func (c *Connection) doOnce(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to create request %s", op), err)
	}
	req.Header.Set(SessionHeader, c.sessionID)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, errors.NewTransportError(op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	// Client errors that carry an exception document are protocol level;
	// pass them up for the caller to interpret.
	if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests &&
		bytes.Contains(data, []byte("exceptionCode")) {
		return data, nil
	}

	return nil, errors.NewHTTPStatusError(op, resp.StatusCode, string(data))
}
