// Package local provides the offline voice engine used in development and as
// the last-resort fallback in hybrid mode. It needs no credentials and no
// network; voice IDs are derived deterministically from the request so
// repeated runs are stable.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/models"
)

// ProviderName is the stable registry name for the offline engine
const ProviderName = "local"

// Engine is the offline voice training backend.
type Engine struct {
	latency time.Duration
	logger  arbor.ILogger
}

// NewEngine creates an offline engine with a simulated synthesis latency
func NewEngine(latency time.Duration, logger arbor.ILogger) *Engine {
	if latency < 0 {
		latency = 0
	}
	return &Engine{latency: latency, logger: logger}
}

// Name returns the registry name for this provider
func (e *Engine) Name() string {
	return ProviderName
}

// HealthCheck always succeeds; the engine has no external dependencies
func (e *Engine) HealthCheck(ctx context.Context) error {
	return nil
}

// Execute simulates a training run and returns a deterministic voice ID
func (e *Engine) Execute(ctx context.Context, req *models.VoiceRequest) (*models.VoiceResult, error) {
	start := time.Now()

	if e.latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.latency):
		}
	}

	voiceID := deriveVoiceID(req)

	if e.logger != nil {
		e.logger.Debug().
			Str("voice_id", voiceID).
			Str("subject_id", req.SubjectID).
			Int("samples", len(req.Samples)).
			Msg("Local engine trained voice")
	}

	return &models.VoiceResult{
		Kind:     req.Kind,
		Provider: ProviderName,
		VoiceID:  voiceID,
		Duration: time.Since(start),
		Metadata: map[string]interface{}{
			"sample_count": len(req.Samples),
			"offline":      true,
		},
	}, nil
}

// deriveVoiceID hashes the identifying request fields into a stable ID
func deriveVoiceID(req *models.VoiceRequest) string {
	h := sha256.New()
	h.Write([]byte(req.SubjectID))
	h.Write([]byte{0})
	h.Write([]byte(req.Category))
	h.Write([]byte{0})
	h.Write([]byte(req.VoiceName))
	return "local_" + hex.EncodeToString(h.Sum(nil))[:16]
}
