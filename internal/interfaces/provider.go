package interfaces

import (
	"context"

	"github.com/ternarybob/narro/internal/models"
)

// VoiceProvider is the capability interface implemented by every voice
// backend. Cross-cutting behavior (retry, per-attempt deadline, backoff,
// logging, metrics) is layered on by the registry, not by providers.
type VoiceProvider interface {
	// Name returns the stable provider name used in descriptors and results
	Name() string

	// Execute performs the requested work. A ConfigurationError return
	// (missing credentials) aborts the whole invocation chain immediately.
	Execute(ctx context.Context, req *models.VoiceRequest) (*models.VoiceResult, error)

	// HealthCheck probes provider readiness. Non-nil means the provider is
	// skipped without consuming its retry budget; a ConfigurationError is
	// fatal to the invocation instead.
	HealthCheck(ctx context.Context) error
}

// ProviderRegistry routes capability invocations across registered providers
// in ascending priority order with per-provider retry budgets.
type ProviderRegistry interface {
	// Register adds a provider under a descriptor. Duplicate names, and
	// duplicate priorities within a capability, are configuration errors.
	Register(desc models.ProviderDescriptor, provider VoiceProvider) error

	// Invoke validates the request, then walks the capability's candidate
	// chain until a provider succeeds. Returns ProviderExhaustedError when
	// every candidate's retry budget is spent.
	Invoke(ctx context.Context, capability models.Capability, req *models.VoiceRequest) (*models.VoiceResult, error)

	// Descriptors returns registered descriptors for a capability in
	// invocation order
	Descriptors(capability models.Capability) []models.ProviderDescriptor

	// HealthSweep probes every registered provider concurrently and returns
	// the per-provider outcome keyed by name
	HealthSweep(ctx context.Context) map[string]error
}
