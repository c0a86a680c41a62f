package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/narro/internal/interfaces"
)

// TestKVCaseInsensitiveKeys verifies keys are normalized so lookups match
// regardless of casing and surrounding whitespace.
func TestKVCaseInsensitiveKeys(t *testing.T) {
	manager := newTestManager(t)
	kv := manager.KeyValueStorage()
	ctx := context.Background()

	if err := kv.Set(ctx, "ElevenLabs_API_Key", "secret-1", "test key"); err != nil {
		t.Fatalf("Failed to set key: %v", err)
	}

	value, err := kv.Get(ctx, "  elevenlabs_api_key ")
	if err != nil {
		t.Fatalf("Failed to get key: %v", err)
	}
	if value != "secret-1" {
		t.Errorf("Expected secret-1, got %q", value)
	}
}

// TestKVSetPreservesCreatedAt verifies updating a key keeps the original
// creation timestamp while moving UpdatedAt forward.
func TestKVSetPreservesCreatedAt(t *testing.T) {
	manager := newTestManager(t)
	kv := manager.KeyValueStorage()
	ctx := context.Background()

	if err := kv.Set(ctx, "playht_api_key", "first", ""); err != nil {
		t.Fatalf("Failed to set key: %v", err)
	}
	original, err := kv.GetPair(ctx, "playht_api_key")
	if err != nil {
		t.Fatalf("Failed to get pair: %v", err)
	}

	if err := kv.Set(ctx, "playht_api_key", "second", ""); err != nil {
		t.Fatalf("Failed to update key: %v", err)
	}
	updated, err := kv.GetPair(ctx, "playht_api_key")
	if err != nil {
		t.Fatalf("Failed to get updated pair: %v", err)
	}

	if updated.Value != "second" {
		t.Errorf("Expected second, got %q", updated.Value)
	}
	if !updated.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("Expected CreatedAt preserved, got %v then %v", original.CreatedAt, updated.CreatedAt)
	}
	if updated.UpdatedAt.Before(original.UpdatedAt) {
		t.Error("Expected UpdatedAt to move forward")
	}
}

// TestKVMissingKey verifies missing keys return ErrKeyNotFound from every
// read path.
func TestKVMissingKey(t *testing.T) {
	manager := newTestManager(t)
	kv := manager.KeyValueStorage()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "absent"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound from Get, got %v", err)
	}
	if _, err := kv.GetPair(ctx, "absent"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound from GetPair, got %v", err)
	}
	if err := kv.Delete(ctx, "absent"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound from Delete, got %v", err)
	}
}

// TestSeedSecrets verifies config secrets land in the store once and never
// overwrite a value already present.
func TestSeedSecrets(t *testing.T) {
	manager := newTestManager(t)
	kv := manager.KeyValueStorage()
	ctx := context.Background()
	logger := arbor.NewLogger()

	if err := kv.Set(ctx, "elevenlabs_api_key", "rotated-value", "set by operator"); err != nil {
		t.Fatalf("Failed to pre-set key: %v", err)
	}

	secrets := map[string]string{
		"elevenlabs_api_key": "stale-config-value",
		"playht_api_key":     "fresh-value",
		"empty_secret":       "",
	}
	seeded, err := SeedSecrets(ctx, kv, secrets, logger)
	if err != nil {
		t.Fatalf("Failed to seed secrets: %v", err)
	}
	if seeded != 1 {
		t.Errorf("Expected 1 seeded secret, got %d", seeded)
	}

	rotated, err := kv.Get(ctx, "elevenlabs_api_key")
	if err != nil {
		t.Fatalf("Failed to get rotated key: %v", err)
	}
	if rotated != "rotated-value" {
		t.Errorf("Expected existing value preserved, got %q", rotated)
	}

	fresh, err := kv.Get(ctx, "playht_api_key")
	if err != nil {
		t.Fatalf("Failed to get seeded key: %v", err)
	}
	if fresh != "fresh-value" {
		t.Errorf("Expected fresh-value, got %q", fresh)
	}

	if _, err := kv.Get(ctx, "empty_secret"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Expected empty secret to be skipped, got %v", err)
	}
}
