package models

import (
	"time"
)

// Capability identifies a class of work a voice provider can perform
type Capability string

const (
	// CapabilityVoiceTraining trains a custom voice from recorded samples
	CapabilityVoiceTraining Capability = "voice.training"
)

// RequestKind discriminates VoiceRequest payloads
type RequestKind string

const (
	RequestKindTraining RequestKind = "voice.training"
)

// VoiceSample references one recorded sample offered as training material.
// Sample files are written by the upload layer; this layer only reads them.
type VoiceSample struct {
	Name     string `json:"name" validate:"required"`
	Path     string `json:"path" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
}

// VoiceRequest is the tagged request type submitted to providers. Requests are
// validated at the registry boundary before any candidate is tried; untyped
// payload maps never reach a provider.
type VoiceRequest struct {
	Kind      RequestKind       `json:"kind" validate:"required,oneof=voice.training"`
	SubjectID string            `json:"subject_id" validate:"required"`
	Category  string            `json:"category" validate:"required"`
	VoiceName string            `json:"voice_name" validate:"required"`
	Samples   []VoiceSample     `json:"samples" validate:"dive"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// VoiceResult is a provider's answer to a VoiceRequest
type VoiceResult struct {
	Kind     RequestKind            `json:"kind"`
	Provider string                 `json:"provider"`
	VoiceID  string                 `json:"voice_id"`
	Cost     float64                `json:"cost"` // USD as reported by the provider
	Duration time.Duration          `json:"duration"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ProviderDescriptor describes a provider's place in a capability chain.
// Lower priority is tried first. Priorities are unique within a capability.
type ProviderDescriptor struct {
	Name       string        `json:"name"`
	Capability Capability    `json:"capability"`
	Priority   int           `json:"priority"`
	Timeout    time.Duration `json:"timeout"`     // per-attempt deadline
	MaxRetries int           `json:"max_retries"` // retries after the first attempt
}
