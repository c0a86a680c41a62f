package providers

import (
	"context"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/common"
	"github.com/ternarybob/narro/internal/models"
)

// TestBuildRegistryOffline verifies offline mode wires only the local engine
func TestBuildRegistryOffline(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Providers.Mode = "offline"

	registry, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	descs := registry.Descriptors(models.CapabilityVoiceTraining)
	if len(descs) != 1 || descs[0].Name != "local" {
		t.Errorf("Expected only the local engine, got %+v", descs)
	}
}

// TestBuildRegistryOfflineRequiresLocal verifies disabling the engine in
// offline mode is a configuration error
func TestBuildRegistryOfflineRequiresLocal(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Providers.Mode = "offline"
	config.Providers.Local.Enabled = false

	_, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError, got: %v", err)
	}
}

// TestBuildRegistryCloudNeedsEnabledProvider verifies cloud mode with nothing
// enabled fails fast
func TestBuildRegistryCloudNeedsEnabledProvider(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Providers.Mode = "cloud"

	_, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError, got: %v", err)
	}
}

// TestBuildRegistryCloudMissingKey verifies an enabled provider without
// credentials is a configuration error, not a silent drop
func TestBuildRegistryCloudMissingKey(t *testing.T) {
	config := common.NewDefaultConfig()
	config.Providers.Mode = "cloud"
	config.Providers.ElevenLabs.Enabled = true

	_, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError for missing API key, got: %v", err)
	}
}

// TestBuildRegistryHybrid verifies hybrid mode layers cloud over the local engine
func TestBuildRegistryHybrid(t *testing.T) {
	t.Setenv("NARRO_ELEVENLABS_API_KEY", "test-key")

	config := common.NewDefaultConfig()
	config.Providers.Mode = "hybrid"
	config.Providers.ElevenLabs.Enabled = true

	registry, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	descs := registry.Descriptors(models.CapabilityVoiceTraining)
	if len(descs) != 2 {
		t.Fatalf("Expected 2 providers, got %d", len(descs))
	}
	// ElevenLabs at priority 10 leads, local engine at 100 backs it up
	if descs[0].Name != "elevenlabs" || descs[1].Name != "local" {
		t.Errorf("Expected [elevenlabs local], got [%s %s]", descs[0].Name, descs[1].Name)
	}
}

// TestBuildRegistryHybridBothClouds verifies both cloud providers register
// with their configured priorities
func TestBuildRegistryHybridBothClouds(t *testing.T) {
	t.Setenv("NARRO_ELEVENLABS_API_KEY", "el-key")
	t.Setenv("NARRO_PLAYHT_API_KEY", "ph-key")
	t.Setenv("NARRO_PLAYHT_USER_ID", "ph-user")

	config := common.NewDefaultConfig()
	config.Providers.Mode = "hybrid"
	config.Providers.ElevenLabs.Enabled = true
	config.Providers.PlayHT.Enabled = true

	registry, err := BuildRegistry(context.Background(), config, nil, arbor.NewLogger())
	if err != nil {
		t.Fatalf("BuildRegistry failed: %v", err)
	}

	descs := registry.Descriptors(models.CapabilityVoiceTraining)
	want := []string{"elevenlabs", "playht", "local"}
	if len(descs) != len(want) {
		t.Fatalf("Expected %d providers, got %d", len(want), len(descs))
	}
	for i, name := range want {
		if descs[i].Name != name {
			t.Errorf("Position %d: expected %s, got %s", i, name, descs[i].Name)
		}
	}
}
