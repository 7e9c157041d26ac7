// Package ratelimit enforces the platform's API request allowance across
// every loader process sharing one Redis instance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultWindow    = 24 * time.Hour
	DefaultKeyPrefix = "bulk:requests:"
)

// ErrBudgetExhausted is returned when the window's allowance is used up.
var ErrBudgetExhausted = errors.New("request budget exhausted")

// RequestBudget counts requests per fixed window in Redis.
type RequestBudget struct {
	redis     redis.Cmdable
	limit     int
	window    time.Duration
	keyPrefix string
	now       func() time.Time
}

// RequestBudgetConfig holds configuration for the budget.
type RequestBudgetConfig struct {
	// Redis is the shared client. Required.
	Redis redis.Cmdable

	// Limit is the number of requests allowed per window. Required.
	Limit int

	// Window is the accounting period. Default: 24h.
	Window time.Duration

	// KeyPrefix namespaces the counters. Default: "bulk:requests:".
	KeyPrefix string
}

// Validate checks if the configuration is valid.
func (c *RequestBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewRequestBudget creates a budget with the given configuration.
func NewRequestBudget(cfg *RequestBudgetConfig) (*RequestBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RequestBudget{
		redis:     cfg.Redis,
		limit:     cfg.Limit,
		window:    window,
		keyPrefix: prefix,
		now:       time.Now,
	}, nil
}

func (b *RequestBudget) windowStart() time.Time {
	return b.now().Truncate(b.window)
}

func (b *RequestBudget) key() string {
	return b.keyPrefix + strconv.FormatInt(b.windowStart().Unix(), 10)
}

// Allow consumes one request from the current window. It returns an error
// wrapping ErrBudgetExhausted once the allowance is spent; the denied
// request is not counted.
func (b *RequestBudget) Allow(ctx context.Context) error {
	key := b.key()

	count, err := b.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment request budget: %w", err)
	}
	if count == 1 {
		// A little past the window end so late writers still see the counter
		if err := b.redis.Expire(ctx, key, b.window+time.Minute).Err(); err != nil {
			return fmt.Errorf("failed to set request budget expiry: %w", err)
		}
	}

	if count > int64(b.limit) {
		_ = b.redis.Decr(ctx, key).Err()
		resetIn := b.windowStart().Add(b.window).Sub(b.now())
		return fmt.Errorf("%w: %d requests per %s, resets in %s",
			ErrBudgetExhausted, b.limit, b.window, resetIn.Round(time.Second))
	}
	return nil
}

// Used returns the number of requests consumed in the current window.
func (b *RequestBudget) Used(ctx context.Context) (int, error) {
	val, err := b.redis.Get(ctx, b.key()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read request budget: %w", err)
	}
	return val, nil
}

// Remaining returns the requests left in the current window.
func (b *RequestBudget) Remaining(ctx context.Context) (int, error) {
	used, err := b.Used(ctx)
	if err != nil {
		return 0, err
	}
	if used >= b.limit {
		return 0, nil
	}
	return b.limit - used, nil
}
