package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func createTestKVMap() map[string]string {
	return map[string]string{
		"elevenlabs_api_key": "el-sk-12345",
		"playht_api_key":     "ph-sk-67890",
		"playht_user_id":     "user-333",
		"ntfy_topic":         "https://ntfy.sh/narro-jobs",
	}
}

func TestReplaceKeyReferences_Simple(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"elevenlabs_api_key": "el-sk-12345"}

	result := ReplaceKeyReferences("api_key = {elevenlabs_api_key}", kvMap, logger)
	assert.Equal(t, "api_key = el-sk-12345", result)
}

func TestReplaceKeyReferences_Multiple(t *testing.T) {
	logger := createTestLogger()
	kvMap := createTestKVMap()

	input := "{playht_user_id}:{playht_api_key}"
	result := ReplaceKeyReferences(input, kvMap, logger)
	assert.Equal(t, "user-333:ph-sk-67890", result)
}

func TestReplaceKeyReferences_MissingKeyLeftIntact(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"other_key": "value"}

	input := "api_key = {missing_key}"
	result := ReplaceKeyReferences(input, kvMap, logger)
	assert.Equal(t, input, result)
}

func TestReplaceKeyReferences_EmptyInput(t *testing.T) {
	logger := createTestLogger()

	result := ReplaceKeyReferences("", createTestKVMap(), logger)
	assert.Equal(t, "", result)
}

func TestReplaceKeyReferences_CaseSensitive(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"Elevenlabs_Api_Key": "wrong-case"}

	input := "{elevenlabs_api_key}"
	result := ReplaceKeyReferences(input, kvMap, logger)
	assert.Equal(t, input, result, "lookup must be case-sensitive")
}

func TestReplaceKeyReferences_InvalidSyntaxIgnored(t *testing.T) {
	logger := createTestLogger()
	kvMap := map[string]string{"invalid key": "value"}

	// Space in key name never matches the reference pattern
	input := "api_key = {invalid key}"
	result := ReplaceKeyReferences(input, kvMap, logger)
	assert.Equal(t, input, result)
}

func TestReplaceInStruct_ProviderCredentials(t *testing.T) {
	logger := createTestLogger()

	config := NewDefaultConfig()
	config.Providers.ElevenLabs.APIKey = "{elevenlabs_api_key}"
	config.Providers.PlayHT.APIKey = "{playht_api_key}"
	config.Providers.PlayHT.UserID = "{playht_user_id}"
	config.Notifications.Topic = "{ntfy_topic}"

	err := ReplaceInStruct(config, createTestKVMap(), logger)
	require.NoError(t, err)

	assert.Equal(t, "el-sk-12345", config.Providers.ElevenLabs.APIKey)
	assert.Equal(t, "ph-sk-67890", config.Providers.PlayHT.APIKey)
	assert.Equal(t, "user-333", config.Providers.PlayHT.UserID)
	assert.Equal(t, "https://ntfy.sh/narro-jobs", config.Notifications.Topic)

	// Untouched fields keep their defaults
	assert.Equal(t, "https://api.elevenlabs.io", config.Providers.ElevenLabs.BaseURL)
}

func TestReplaceInStruct_MissingKeyPreserved(t *testing.T) {
	logger := createTestLogger()

	config := NewDefaultConfig()
	config.Providers.ElevenLabs.APIKey = "{unseeded_key}"

	err := ReplaceInStruct(config, createTestKVMap(), logger)
	require.NoError(t, err)

	// Unresolved references stay visible so provider errors point at them
	assert.Equal(t, "{unseeded_key}", config.Providers.ElevenLabs.APIKey)
}

func TestReplaceInStruct_SliceMapAndPointerFields(t *testing.T) {
	logger := createTestLogger()

	type inner struct {
		Token string
	}
	type outer struct {
		Endpoints []string
		Labels    map[string]string
		Nested    *inner
	}

	target := &outer{
		Endpoints: []string{"{playht_api_key}", "plain"},
		Labels:    map[string]string{"topic": "{ntfy_topic}"},
		Nested:    &inner{Token: "{elevenlabs_api_key}"},
	}

	err := ReplaceInStruct(target, createTestKVMap(), logger)
	require.NoError(t, err)

	assert.Equal(t, "ph-sk-67890", target.Endpoints[0])
	assert.Equal(t, "plain", target.Endpoints[1])
	assert.Equal(t, "https://ntfy.sh/narro-jobs", target.Labels["topic"])
	assert.Equal(t, "el-sk-12345", target.Nested.Token)
}

func TestReplaceInStruct_UnexportedFieldsSkipped(t *testing.T) {
	logger := createTestLogger()

	type hidden struct {
		Visible string
		secret  string
	}

	target := &hidden{Visible: "{elevenlabs_api_key}", secret: "{elevenlabs_api_key}"}

	err := ReplaceInStruct(target, createTestKVMap(), logger)
	require.NoError(t, err)

	assert.Equal(t, "el-sk-12345", target.Visible)
	assert.Equal(t, "{elevenlabs_api_key}", target.secret)
}

func TestReplaceInStruct_RequiresPointer(t *testing.T) {
	logger := createTestLogger()

	err := ReplaceInStruct(struct{ Field string }{}, createTestKVMap(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a pointer")
}

func TestReplaceInStruct_RequiresStructPointer(t *testing.T) {
	logger := createTestLogger()

	value := "not a struct"
	err := ReplaceInStruct(&value, createTestKVMap(), logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "struct pointer")
}

func TestReplaceInMap_NestedStructures(t *testing.T) {
	logger := createTestLogger()

	m := map[string]interface{}{
		"api_key": "{elevenlabs_api_key}",
		"nested": map[string]interface{}{
			"user_id": "{playht_user_id}",
		},
		"list": []interface{}{
			"{playht_api_key}",
			map[string]interface{}{"topic": "{ntfy_topic}"},
		},
		"count": 3,
	}

	err := ReplaceInMap(m, createTestKVMap(), logger)
	require.NoError(t, err)

	assert.Equal(t, "el-sk-12345", m["api_key"])
	assert.Equal(t, "user-333", m["nested"].(map[string]interface{})["user_id"])

	list := m["list"].([]interface{})
	assert.Equal(t, "ph-sk-67890", list[0])
	assert.Equal(t, "https://ntfy.sh/narro-jobs", list[1].(map[string]interface{})["topic"])
	assert.Equal(t, 3, m["count"])
}
