package elevenlabs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/narro/internal/models"
)

func testClient(serverURL string) *Client {
	return NewClient("test-key",
		WithBaseURL(serverURL),
		WithRequestSpacing(time.Millisecond),
	)
}

func writeSample(t *testing.T, name, content string) models.VoiceSample {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write sample: %v", err)
	}
	return models.VoiceSample{Name: name, Path: path, MimeType: "audio/mpeg"}
}

// TestExecuteTrainsVoice verifies the multipart request shape and response parsing
func TestExecuteTrainsVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/add" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Unexpected method: %s", r.Method)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Errorf("Missing or wrong api key header: %q", r.Header.Get("xi-api-key"))
		}

		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("Failed to parse multipart form: %v", err)
		}
		if name := r.FormValue("name"); name != "Narrator One" {
			t.Errorf("Expected name field Narrator One, got %q", name)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Errorf("Expected 2 sample files, got %d", len(files))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"voice_id":"el_voice_123","requires_verification":false}`))
	}))
	defer server.Close()

	client := testClient(server.URL)
	req := &models.VoiceRequest{
		Kind:      models.RequestKindTraining,
		SubjectID: "subject-1",
		Category:  "narration",
		VoiceName: "Narrator One",
		Samples: []models.VoiceSample{
			writeSample(t, "sample1.mp3", "audio-bytes-1"),
			writeSample(t, "sample2.mp3", "audio-bytes-2"),
		},
		Labels: map[string]string{"category": "narration"},
	}

	result, err := client.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.VoiceID != "el_voice_123" {
		t.Errorf("Expected voice_id el_voice_123, got %s", result.VoiceID)
	}
	if result.Provider != ProviderName {
		t.Errorf("Expected provider %s, got %s", ProviderName, result.Provider)
	}
	if count, ok := result.Metadata["sample_count"].(int); !ok || count != 2 {
		t.Errorf("Expected sample_count 2, got %v", result.Metadata["sample_count"])
	}
}

// TestExecuteRejectedKeyIsConfigError verifies 401 becomes a configuration error
func TestExecuteRejectedKeyIsConfigError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL)
	req := &models.VoiceRequest{
		Kind:      models.RequestKindTraining,
		SubjectID: "subject-1",
		Category:  "narration",
		VoiceName: "Narrator One",
		Samples:   []models.VoiceSample{writeSample(t, "sample.mp3", "audio")},
	}

	_, err := client.Execute(context.Background(), req)
	if !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError, got: %v", err)
	}
}

// TestExecuteServerErrorIsRetryable verifies 5xx becomes a plain provider error
func TestExecuteServerErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(server.URL)
	req := &models.VoiceRequest{
		Kind:      models.RequestKindTraining,
		SubjectID: "subject-1",
		Category:  "narration",
		VoiceName: "Narrator One",
		Samples:   []models.VoiceSample{writeSample(t, "sample.mp3", "audio")},
	}

	_, err := client.Execute(context.Background(), req)
	if err == nil {
		t.Fatal("Expected error for 503 response")
	}
	if models.IsConfigurationError(err) {
		t.Errorf("Expected retryable provider error, got configuration error: %v", err)
	}
}

// TestExecuteMissingSampleFile verifies a missing sample fails before any HTTP call
func TestExecuteMissingSampleFile(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := testClient(server.URL)
	req := &models.VoiceRequest{
		Kind:      models.RequestKindTraining,
		SubjectID: "subject-1",
		Category:  "narration",
		VoiceName: "Narrator One",
		Samples:   []models.VoiceSample{{Name: "ghost.mp3", Path: "/nonexistent/ghost.mp3", MimeType: "audio/mpeg"}},
	}

	if _, err := client.Execute(context.Background(), req); err == nil {
		t.Error("Expected error for missing sample file")
	}
	if called {
		t.Error("Expected no HTTP request for missing sample file")
	}
}

// TestHealthCheck verifies probe outcomes map to error classes
func TestHealthCheck(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(status)
	}))
	defer server.Close()

	client := testClient(server.URL)

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("Expected healthy, got: %v", err)
	}

	status = http.StatusUnauthorized
	if err := client.HealthCheck(context.Background()); !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError for 401, got: %v", err)
	}

	status = http.StatusInternalServerError
	err := client.HealthCheck(context.Background())
	if err == nil || models.IsConfigurationError(err) {
		t.Errorf("Expected transient error for 500, got: %v", err)
	}

	empty := NewClient("", WithBaseURL(server.URL))
	if err := empty.HealthCheck(context.Background()); !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError for empty key, got: %v", err)
	}
}
