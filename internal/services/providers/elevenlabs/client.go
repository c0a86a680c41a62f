// Package elevenlabs provides the ElevenLabs voice training client.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/narro/internal/models"
)

const (
	// DefaultBaseURL is the base URL for the ElevenLabs API
	DefaultBaseURL = "https://api.elevenlabs.io"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 2 * time.Minute

	// DefaultRequestSpacing is the default minimum gap between API requests
	DefaultRequestSpacing = 500 * time.Millisecond

	// ProviderName is the stable registry name for this backend
	ProviderName = "elevenlabs"
)

// Client trains custom voices through the ElevenLabs voice-add API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRequestSpacing sets the minimum gap between API requests.
func WithRequestSpacing(spacing time.Duration) ClientOption {
	return func(c *Client) {
		if spacing > 0 {
			c.limiter = rate.NewLimiter(rate.Every(spacing), 1)
		}
	}
}

// NewClient creates a new ElevenLabs API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(DefaultRequestSpacing), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Name returns the registry name for this provider
func (c *Client) Name() string {
	return ProviderName
}

// HealthCheck probes the account endpoint. A rejected key is a configuration
// error; anything else (network, 5xx) is a transient failure.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return models.NewConfigurationError(ProviderName, "api key is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/user", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewConfigurationError(ProviderName, "api key rejected (status %d)", resp.StatusCode)
	default:
		return fmt.Errorf("elevenlabs health check failed with status %d", resp.StatusCode)
	}
}

// addVoiceResponse is the documented shape of POST /v1/voices/add
type addVoiceResponse struct {
	VoiceID              string `json:"voice_id"`
	RequiresVerification bool   `json:"requires_verification"`
}

// Execute trains a voice from the request's sample files via the multipart
// voice-add endpoint
func (c *Client) Execute(ctx context.Context, req *models.VoiceRequest) (*models.VoiceResult, error) {
	if req.Kind != models.RequestKindTraining {
		return nil, fmt.Errorf("elevenlabs does not support request kind %q", req.Kind)
	}

	start := time.Now()

	body, contentType, err := c.buildTrainingForm(req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voices/add", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)
	httpReq.Header.Set("Content-Type", contentType)

	if c.logger != nil {
		c.logger.Debug().
			Str("voice_name", req.VoiceName).
			Int("samples", len(req.Samples)).
			Msg("ElevenLabs voice training request")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.ProviderError{Provider: ProviderName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, models.NewConfigurationError(ProviderName, "api key rejected (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.ProviderError{
			Provider: ProviderName,
			Err:      fmt.Errorf("voice add failed with status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed addVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &models.ProviderError{Provider: ProviderName, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if parsed.VoiceID == "" {
		return nil, &models.ProviderError{Provider: ProviderName, Err: fmt.Errorf("response missing voice_id")}
	}

	return &models.VoiceResult{
		Kind:     req.Kind,
		Provider: ProviderName,
		VoiceID:  parsed.VoiceID,
		Duration: time.Since(start),
		Metadata: map[string]interface{}{
			"sample_count":          len(req.Samples),
			"requires_verification": parsed.RequiresVerification,
		},
	}, nil
}

// buildTrainingForm assembles the multipart body: name, optional labels JSON,
// and one files part per sample
func (c *Client) buildTrainingForm(req *models.VoiceRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("name", req.VoiceName); err != nil {
		return nil, "", fmt.Errorf("failed to write name field: %w", err)
	}

	if len(req.Labels) > 0 {
		labels, err := json.Marshal(req.Labels)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal labels: %w", err)
		}
		if err := writer.WriteField("labels", string(labels)); err != nil {
			return nil, "", fmt.Errorf("failed to write labels field: %w", err)
		}
	}

	for _, sample := range req.Samples {
		file, err := os.Open(sample.Path)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open sample %s: %w", sample.Name, err)
		}

		part, err := writer.CreateFormFile("files", sample.Name)
		if err != nil {
			file.Close()
			return nil, "", fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, file); err != nil {
			file.Close()
			return nil, "", fmt.Errorf("failed to copy sample %s: %w", sample.Name, err)
		}
		file.Close()
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
