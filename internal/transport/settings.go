package transport

import (
	"github.com/bulk-loader/internal/circuitbreaker"
	"github.com/bulk-loader/internal/config"
	"github.com/bulk-loader/internal/retry"
)

// ConfigFromSettings maps loaded configuration onto a Connection config.
// budget may be nil.
func ConfigFromSettings(b *config.BulkConfig, t *config.TransportConfig, budget Budget) Config {
	retryCfg := retry.DefaultRetryConfig()
	if t.MaxRetries > 0 {
		retryCfg.MaxAttempts = t.MaxRetries
	}
	if t.RetryInitialDelay > 0 {
		retryCfg.InitialDelay = t.RetryInitialDelay
	}

	breakerCfg := circuitbreaker.DefaultConfig("bulk-api")
	if t.BreakerMaxFailures > 0 {
		breakerCfg.MaxFailures = t.BreakerMaxFailures
	}
	if t.BreakerTimeout > 0 {
		breakerCfg.Timeout = t.BreakerTimeout
	}

	return Config{
		InstanceURL: b.InstanceURL,
		SessionID:   b.SessionID,
		APIVersion:  b.APIVersion,
		HTTPTimeout: t.HTTPTimeout,
		RateLimit:   t.RateLimit,
		RateBurst:   t.RateBurst,
		Retry:       retryCfg,
		Breaker:     breakerCfg,
		Budget:      budget,
	}
}
