package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig. Non-positive
// values keep the defaults.
func FromRetryConfig(maxAttempts int, attemptTimeout time.Duration, initialBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if attemptTimeout > 0 {
		cfg.AttemptTimeout = attemptTimeout
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	return cfg
}

// Named returns a copy of cfg that logs retries under service/operation.
func (cfg RetryConfig) Named(service, operation string) RetryConfig {
	cfg.OnRetry = RetryLogger(service, operation)
	return cfg
}
