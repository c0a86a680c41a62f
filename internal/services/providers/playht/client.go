// Package playht provides the Play.ht instant voice clone client.
package playht

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
	// DefaultBaseURL is the base URL for the Play.ht API
	DefaultBaseURL = "https://api.play.ht"

	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 2 * time.Minute

	// DefaultRequestSpacing is the default minimum gap between API requests
	DefaultRequestSpacing = 500 * time.Millisecond

	// ProviderName is the stable registry name for this backend
	ProviderName = "playht"
)

// Client creates instant voice clones through the Play.ht API. The instant
// clone endpoint accepts a single sample file, so the first sample carries
// the training material and the rest are reported in result metadata.
type Client struct {
	baseURL    string
	apiKey     string
	userID     string
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

// NewClient creates a new Play.ht API client.
func NewClient(apiKey, userID string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		userID:  userID,
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

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("AUTHORIZATION", c.apiKey)
	req.Header.Set("X-USER-ID", c.userID)
}

// HealthCheck lists cloned voices to verify credentials and reachability
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" || c.userID == "" {
		return models.NewConfigurationError(ProviderName, "api key or user id is empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/cloned-voices", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("playht unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewConfigurationError(ProviderName, "credentials rejected (status %d)", resp.StatusCode)
	default:
		return fmt.Errorf("playht health check failed with status %d", resp.StatusCode)
	}
}

// instantCloneResponse is the documented shape of POST /api/v2/cloned-voices/instant
type instantCloneResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Execute clones a voice from the first sample file
func (c *Client) Execute(ctx context.Context, req *models.VoiceRequest) (*models.VoiceResult, error) {
	if req.Kind != models.RequestKindTraining {
		return nil, fmt.Errorf("playht does not support request kind %q", req.Kind)
	}
	if len(req.Samples) == 0 {
		return nil, fmt.Errorf("playht instant clone requires at least one sample")
	}

	start := time.Now()

	body, contentType, err := c.buildCloneForm(req)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/cloned-voices/instant", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(httpReq)
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	if c.logger != nil {
		c.logger.Debug().
			Str("voice_name", req.VoiceName).
			Int("samples", len(req.Samples)).
			Msg("Play.ht instant clone request")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &models.ProviderError{Provider: ProviderName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, models.NewConfigurationError(ProviderName, "credentials rejected (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &models.ProviderError{
			Provider: ProviderName,
			Err:      fmt.Errorf("instant clone failed with status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed instantCloneResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &models.ProviderError{Provider: ProviderName, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if parsed.ID == "" {
		return nil, &models.ProviderError{Provider: ProviderName, Err: fmt.Errorf("response missing voice id")}
	}

	return &models.VoiceResult{
		Kind:     req.Kind,
		Provider: ProviderName,
		VoiceID:  parsed.ID,
		Duration: time.Since(start),
		Metadata: map[string]interface{}{
			"clone_type":    parsed.Type,
			"samples_sent":  1,
			"samples_total": len(req.Samples),
		},
	}, nil
}

// buildCloneForm assembles the multipart body: voice_name plus the first
// sample as sample_file
func (c *Client) buildCloneForm(req *models.VoiceRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("voice_name", req.VoiceName); err != nil {
		return nil, "", fmt.Errorf("failed to write voice_name field: %w", err)
	}

	sample := req.Samples[0]
	file, err := os.Open(sample.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sample %s: %w", sample.Name, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("sample_file", sample.Name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("failed to copy sample %s: %w", sample.Name, err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
