package providers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
	"github.com/ternarybob/narro/internal/services/providers/elevenlabs"
	"github.com/ternarybob/narro/internal/services/providers/local"
	"github.com/ternarybob/narro/internal/services/providers/playht"
)

// BuildRegistry wires the voice provider chain from configuration.
//
// Modes:
//   - "offline": only the local engine, no credentials needed
//   - "cloud":   enabled cloud providers only
//   - "hybrid":  enabled cloud providers plus the local engine as fallback
//
// An enabled cloud provider whose credentials cannot be resolved is a
// configuration error: the operator asked for it, so silently dropping it
// would hide the misconfiguration until the first training run.
func BuildRegistry(ctx context.Context, config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (interfaces.ProviderRegistry, error) {
	retry := RetryConfigFrom(&config.Providers)
	registry := NewRegistry(retry, config.ParseHealthCheckTimeout(), logger)

	mode := config.Providers.Mode
	useCloud := mode == "cloud" || mode == "hybrid"
	useLocal := mode == "offline" || mode == "hybrid"

	registered := 0

	if useCloud {
		n, err := registerCloudProviders(ctx, registry, config, kvStorage, logger)
		if err != nil {
			return nil, err
		}
		registered += n
	}

	if useLocal {
		if !config.Providers.Local.Enabled {
			if mode == "offline" {
				return nil, models.NewConfigurationError("providers", "offline mode requires the local engine to be enabled")
			}
		} else {
			cfg := config.Providers.Local
			engine := local.NewEngine(parseDurationOr(cfg.Latency, 50*time.Millisecond), logger)
			desc := models.ProviderDescriptor{
				Name:       engine.Name(),
				Capability: models.CapabilityVoiceTraining,
				Priority:   cfg.Priority,
				Timeout:    parseDurationOr(cfg.Timeout, 10*time.Second),
				MaxRetries: cfg.MaxRetries,
			}
			if err := registry.Register(desc, engine); err != nil {
				return nil, err
			}
			registered++
		}
	}

	if registered == 0 {
		return nil, models.NewConfigurationError("providers", "no voice providers enabled for mode %q", mode)
	}

	logger.Info().
		Str("mode", mode).
		Int("providers", registered).
		Msg("Voice provider registry built")

	return registry, nil
}

// registerCloudProviders wires the enabled cloud backends, resolving their
// credentials from environment, KV store, then config
func registerCloudProviders(ctx context.Context, registry *Registry, config *common.Config, kvStorage interfaces.KeyValueStorage, logger arbor.ILogger) (int, error) {
	registered := 0

	if cfg := config.Providers.ElevenLabs; cfg.Enabled {
		apiKey, err := common.ResolveAPIKey(ctx, kvStorage, "elevenlabs_api_key", cfg.APIKey)
		if err != nil {
			return 0, models.NewConfigurationError("providers", "elevenlabs enabled but no API key: %v", err)
		}

		client := elevenlabs.NewClient(apiKey,
			elevenlabs.WithBaseURL(cfg.BaseURL),
			elevenlabs.WithRequestSpacing(parseDurationOr(cfg.RateLimit, 500*time.Millisecond)),
			elevenlabs.WithLogger(logger),
		)
		desc := models.ProviderDescriptor{
			Name:       client.Name(),
			Capability: models.CapabilityVoiceTraining,
			Priority:   cfg.Priority,
			Timeout:    parseDurationOr(cfg.Timeout, 2*time.Minute),
			MaxRetries: cfg.MaxRetries,
		}
		if err := registry.Register(desc, client); err != nil {
			return 0, err
		}
		registered++
	}

	if cfg := config.Providers.PlayHT; cfg.Enabled {
		apiKey, err := common.ResolveAPIKey(ctx, kvStorage, "playht_api_key", cfg.APIKey)
		if err != nil {
			return 0, models.NewConfigurationError("providers", "playht enabled but no API key: %v", err)
		}
		userID, err := common.ResolveAPIKey(ctx, kvStorage, "playht_user_id", cfg.UserID)
		if err != nil {
			return 0, models.NewConfigurationError("providers", "playht enabled but no user id: %v", err)
		}

		client := playht.NewClient(apiKey, userID,
			playht.WithBaseURL(cfg.BaseURL),
			playht.WithRequestSpacing(parseDurationOr(cfg.RateLimit, 500*time.Millisecond)),
			playht.WithLogger(logger),
		)
		desc := models.ProviderDescriptor{
			Name:       client.Name(),
			Capability: models.CapabilityVoiceTraining,
			Priority:   cfg.Priority,
			Timeout:    parseDurationOr(cfg.Timeout, 2*time.Minute),
			MaxRetries: cfg.MaxRetries,
		}
		if err := registry.Register(desc, client); err != nil {
			return 0, err
		}
		registered++
	}

	if registered == 0 && config.Providers.Mode == "cloud" {
		return 0, models.NewConfigurationError("providers", "cloud mode requires at least one enabled cloud provider")
	}

	return registered, nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
