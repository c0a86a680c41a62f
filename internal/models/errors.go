package models

import (
	"errors"
	"fmt"
)

// ConfigurationError indicates invalid wiring or definitions discovered at load
// or registration time: malformed state tables, duplicate provider priorities,
// missing credentials. Configuration errors are never retried.
type ConfigurationError struct {
	Component string
	Detail    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Detail)
}

// NewConfigurationError builds a ConfigurationError with a formatted detail message
func NewConfigurationError(component, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Component: component, Detail: fmt.Sprintf(format, args...)}
}

// NotFoundError indicates a lookup against a missing resource: an entity with no
// recorded state, an unknown job ID, an undeclared state key.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// PermissionError indicates a permission-gated transition attempted without
// clearance from the permission checker.
type PermissionError struct {
	EntityType string
	EntityID   string
	From       string
	To         string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s %s: transition %s -> %s requires permission",
		e.EntityType, e.EntityID, e.From, e.To)
}

// TransitionError indicates a transition that is not declared in the entity
// type's table from the entity's current state.
type TransitionError struct {
	EntityType string
	EntityID   string
	From       string
	To         string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s %s: %s -> %s is not declared",
		e.EntityType, e.EntityID, e.From, e.To)
}

// ProviderError indicates a transient upstream failure from a voice provider.
// Retryable. Carries the provider name for diagnostics.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderExhaustedError indicates that every candidate provider for a
// capability exhausted its retry budget. Carries the last underlying failure.
type ProviderExhaustedError struct {
	Capability string
	Candidates int
	Attempts   int
	LastErr    error
}

func (e *ProviderExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers exhausted for %s after %d attempts: %v",
		e.Candidates, e.Capability, e.Attempts, e.LastErr)
}

func (e *ProviderExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPermissionDenied reports whether err is a PermissionError
func IsPermissionDenied(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// IsInvalidTransition reports whether err is a TransitionError
func IsInvalidTransition(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}

// IsProviderExhausted reports whether err is a ProviderExhaustedError
func IsProviderExhausted(err error) bool {
	var pe *ProviderExhaustedError
	return errors.As(err, &pe)
}
