package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/telemetry"
)

const (
	// DefaultAttemptTimeout bounds a single Execute call when a descriptor
	// does not set one
	DefaultAttemptTimeout = 30 * time.Second

	// DefaultHealthCheckTimeout bounds one health probe
	DefaultHealthCheckTimeout = 5 * time.Second

	// healthSweepConcurrency caps parallel probes during a sweep
	healthSweepConcurrency = 4
)

// candidate pairs a provider with its descriptor in a capability chain
type candidate struct {
	desc     models.ProviderDescriptor
	provider interfaces.VoiceProvider
}

// Registry implements ProviderRegistry. Candidates for a capability are tried
// in ascending priority order; each candidate gets its own retry budget with
// exponential backoff between attempts. Unhealthy candidates are skipped
// without consuming that budget. Configuration errors abort the whole
// invocation: retrying cannot fix missing credentials.
type Registry struct {
	chains        map[models.Capability][]*candidate
	byName        map[string]*candidate
	retry         *RetryConfig
	healthTimeout time.Duration
	validate      *validator.Validate
	logger        arbor.ILogger
	mu            sync.RWMutex

	invokeDuration metric.Float64Histogram
	healthyGauge   metric.Int64Gauge
}

// NewRegistry creates a provider registry. A nil retry config uses defaults;
// healthTimeout <= 0 uses DefaultHealthCheckTimeout.
func NewRegistry(retry *RetryConfig, healthTimeout time.Duration, logger arbor.ILogger) *Registry {
	if retry == nil {
		retry = NewDefaultRetryConfig()
	}
	if healthTimeout <= 0 {
		healthTimeout = DefaultHealthCheckTimeout
	}

	meter := telemetry.Meter("narro/providers")
	invokeDur, _ := meter.Float64Histogram("narro.provider.invoke.duration",
		metric.WithDescription("Provider invocation wall time (ms)"),
		metric.WithUnit("ms"),
	)
	healthy, _ := meter.Int64Gauge("narro.providers.healthy",
		metric.WithDescription("Providers healthy at the last sweep"),
	)

	return &Registry{
		chains:         make(map[models.Capability][]*candidate),
		byName:         make(map[string]*candidate),
		retry:          retry,
		healthTimeout:  healthTimeout,
		validate:       validator.New(),
		logger:         logger,
		invokeDuration: invokeDur,
		healthyGauge:   healthy,
	}
}

// Register adds a provider under a descriptor. Names are unique across the
// registry and priorities are unique within a capability.
func (r *Registry) Register(desc models.ProviderDescriptor, provider interfaces.VoiceProvider) error {
	if provider == nil {
		return models.NewConfigurationError("providers", "provider cannot be nil")
	}
	if desc.Name == "" {
		return models.NewConfigurationError("providers", "provider name cannot be empty")
	}
	if desc.Capability == "" {
		return models.NewConfigurationError("providers", "provider %s has no capability", desc.Name)
	}
	if desc.Timeout <= 0 {
		desc.Timeout = DefaultAttemptTimeout
	}
	if desc.MaxRetries < 0 {
		desc.MaxRetries = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[desc.Name]; exists {
		return models.NewConfigurationError("providers", "provider %s is already registered", desc.Name)
	}
	for _, existing := range r.chains[desc.Capability] {
		if existing.desc.Priority == desc.Priority {
			return models.NewConfigurationError("providers",
				"providers %s and %s share priority %d for capability %s",
				existing.desc.Name, desc.Name, desc.Priority, desc.Capability)
		}
	}

	cand := &candidate{desc: desc, provider: provider}
	r.byName[desc.Name] = cand
	chain := append(r.chains[desc.Capability], cand)
	sort.Slice(chain, func(i, j int) bool {
		return chain[i].desc.Priority < chain[j].desc.Priority
	})
	r.chains[desc.Capability] = chain

	r.logger.Info().
		Str("provider", desc.Name).
		Str("capability", string(desc.Capability)).
		Int("priority", desc.Priority).
		Int("max_retries", desc.MaxRetries).
		Msg("Voice provider registered")

	return nil
}

// Invoke validates the request and walks the capability's candidate chain
// until a provider succeeds. Every candidate exhausting its retry budget
// yields a ProviderExhaustedError carrying the last underlying failure.
func (r *Registry) Invoke(ctx context.Context, capability models.Capability, req *models.VoiceRequest) (*models.VoiceResult, error) {
	if req == nil {
		return nil, models.NewConfigurationError("providers", "voice request cannot be nil")
	}
	if string(req.Kind) != string(capability) {
		return nil, models.NewConfigurationError("providers", "request kind %q does not match capability %q", req.Kind, capability)
	}
	if err := r.validate.Struct(req); err != nil {
		return nil, models.NewConfigurationError("providers", "invalid voice request: %v", err)
	}

	r.mu.RLock()
	chain := make([]*candidate, len(r.chains[capability]))
	copy(chain, r.chains[capability])
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil, &models.ProviderExhaustedError{
			Capability: string(capability),
			Candidates: 0,
			Attempts:   0,
			LastErr:    fmt.Errorf("no providers registered"),
		}
	}

	started := time.Now()
	attempts := 0
	var lastErr error

	for _, cand := range chain {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Skip unhealthy candidates without spending their retry budget.
		// A configuration error from the probe is fatal: no amount of
		// falling through fixes bad credentials.
		probeCtx, cancel := context.WithTimeout(ctx, r.healthTimeout)
		healthErr := cand.provider.HealthCheck(probeCtx)
		cancel()
		if healthErr != nil {
			if models.IsConfigurationError(healthErr) {
				r.recordInvoke(ctx, started, cand.desc.Name, "config_error")
				return nil, healthErr
			}
			r.logger.Warn().
				Err(healthErr).
				Str("provider", cand.desc.Name).
				Msg("Skipping unhealthy provider")
			lastErr = fmt.Errorf("provider %s unhealthy: %w", cand.desc.Name, healthErr)
			continue
		}

		result, err := r.invokeCandidate(ctx, cand, req, &attempts)
		if err == nil {
			r.recordInvoke(ctx, started, result.Provider, "success")
			return result, nil
		}
		if models.IsConfigurationError(err) {
			r.recordInvoke(ctx, started, cand.desc.Name, "config_error")
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		r.logger.Warn().
			Str("provider", cand.desc.Name).
			Int("budget", cand.desc.MaxRetries+1).
			Msg("Provider retry budget exhausted, trying next candidate")
	}

	r.recordInvoke(ctx, started, "", "exhausted")
	return nil, &models.ProviderExhaustedError{
		Capability: string(capability),
		Candidates: len(chain),
		Attempts:   attempts,
		LastErr:    lastErr,
	}
}

// recordInvoke writes the invocation duration histogram point
func (r *Registry) recordInvoke(ctx context.Context, started time.Time, provider, outcome string) {
	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if provider != "" {
		attrs = append(attrs, attribute.String("provider", provider))
	}
	r.invokeDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(attrs...))
}

// invokeCandidate runs one provider's attempt loop: the first try plus
// MaxRetries retries, each under the descriptor's per-attempt deadline
func (r *Registry) invokeCandidate(ctx context.Context, cand *candidate, req *models.VoiceRequest, attempts *int) (*models.VoiceResult, error) {
	desc := cand.desc
	var lastErr error

	for attempt := 0; attempt <= desc.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		*attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
		result, err := cand.provider.Execute(attemptCtx, req)
		cancel()

		if err == nil && result == nil {
			err = fmt.Errorf("provider returned no result")
		}
		if err == nil {
			if result.Provider == "" {
				result.Provider = desc.Name
			}
			r.logger.Info().
				Str("provider", desc.Name).
				Str("voice_id", result.VoiceID).
				Int("attempt", attempt+1).
				Msg("Provider invocation succeeded")
			return result, nil
		}

		if models.IsConfigurationError(err) {
			return nil, err
		}

		var provErr *models.ProviderError
		if !errors.As(err, &provErr) {
			err = &models.ProviderError{Provider: desc.Name, Err: err}
		}
		lastErr = err

		if attempt < desc.MaxRetries {
			backoff := r.retry.CalculateBackoff(attempt)
			r.logger.Warn().
				Err(err).
				Str("provider", desc.Name).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("Provider attempt failed, retrying")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		} else {
			r.logger.Warn().
				Err(err).
				Str("provider", desc.Name).
				Int("attempt", attempt+1).
				Msg("Provider attempt failed")
		}
	}

	return nil, lastErr
}

// Descriptors returns the registered descriptors for a capability in
// invocation order
func (r *Registry) Descriptors(capability models.Capability) []models.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := r.chains[capability]
	descs := make([]models.ProviderDescriptor, len(chain))
	for i, cand := range chain {
		descs[i] = cand.desc
	}
	return descs
}

// HealthSweep probes every registered provider concurrently and returns the
// per-provider outcome keyed by name. A nil map value means healthy.
func (r *Registry) HealthSweep(ctx context.Context) map[string]error {
	r.mu.RLock()
	cands := make([]*candidate, 0, len(r.byName))
	for _, cand := range r.byName {
		cands = append(cands, cand)
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(cands))
	var resultsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(healthSweepConcurrency)
	for _, cand := range cands {
		cand := cand
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, r.healthTimeout)
			err := cand.provider.HealthCheck(probeCtx)
			cancel()

			resultsMu.Lock()
			results[cand.desc.Name] = err
			resultsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	healthy := 0
	for _, err := range results {
		if err == nil {
			healthy++
		}
	}
	r.healthyGauge.Record(ctx, int64(healthy))
	r.logger.Debug().
		Int("healthy", healthy).
		Int("total", len(results)).
		Msg("Provider health sweep completed")

	return results
}
