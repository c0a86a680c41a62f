package providers

import (
	"time"

	"github.com/ternarybob/narro/internal/common"
)

// RetryConfig defines backoff behavior between attempts on one provider.
// The registry applies it uniformly; providers never sleep on their own.
type RetryConfig struct {
	// InitialBackoff is the wait before the first retry (default: 2s)
	InitialBackoff time.Duration

	// MaxBackoff is the ceiling for any single wait (default: 30s)
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each retry (default: 2.0)
	BackoffMultiplier float64
}

// Default retry constants for voice provider calls
const (
	DefaultInitialBackoff    = 2 * time.Second
	DefaultMaxBackoff        = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// NewDefaultRetryConfig returns a RetryConfig with the package defaults
func NewDefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// RetryConfigFrom builds a RetryConfig from the providers section, falling
// back to defaults for missing or unparseable values
func RetryConfigFrom(cfg *common.ProvidersConfig) *RetryConfig {
	rc := NewDefaultRetryConfig()
	if cfg == nil {
		return rc
	}

	if d, err := time.ParseDuration(cfg.InitialBackoff); err == nil && d > 0 {
		rc.InitialBackoff = d
	}
	if d, err := time.ParseDuration(cfg.MaxBackoff); err == nil && d > 0 {
		rc.MaxBackoff = d
	}
	if cfg.BackoffMultiplier > 1 {
		rc.BackoffMultiplier = cfg.BackoffMultiplier
	}
	return rc
}

// CalculateBackoff computes the wait before retry number attempt+1.
// Attempt 0 waits InitialBackoff; each later attempt multiplies the wait,
// capped at MaxBackoff.
func (c *RetryConfig) CalculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= c.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.InitialBackoff) * multiplier)
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}
