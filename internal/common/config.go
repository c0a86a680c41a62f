// Package common provides configuration, logging, and shared runtime
// utilities used across narro services.
package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/narro/internal/interfaces"
)

// Config is the root configuration for the narro service
type Config struct {
	Environment   string              `toml:"environment"`
	Service       ServiceConfig       `toml:"service"`
	Storage       StorageConfig       `toml:"storage"`
	Logging       LoggingConfig       `toml:"logging"`
	Events        EventsConfig        `toml:"events"`
	States        StatesConfig        `toml:"states"`
	Providers     ProvidersConfig     `toml:"providers"`
	Orchestrator  OrchestratorConfig  `toml:"orchestrator"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Notifications NotificationsConfig `toml:"notifications"`
	Telemetry     TelemetryConfig     `toml:"telemetry"`

	// Secrets seeded into the key/value store at startup. Prefer the KV
	// store or environment variables for real deployments; this section
	// exists for local development convenience.
	Secrets map[string]string `toml:"secrets"`
}

// ServiceConfig identifies the running service
type ServiceConfig struct {
	Name string `toml:"name"` // Service name for banner and telemetry resource
}

type StorageConfig struct {
	Type       string           `toml:"type"` // Only "badger" is supported
	Badger     BadgerConfig     `toml:"badger"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type FilesystemConfig struct {
	Samples string `toml:"samples"` // Directory holding uploaded voice samples (written by the upload layer)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Format string   `toml:"format"` // "json" or "text"
	Output []string `toml:"output"` // "stdout", "file"
}

// EventsConfig contains configuration for the in-process event bus
type EventsConfig struct {
	LogSize int `toml:"log_size"` // Bounded event log capacity (ring buffer)
}

// StatesConfig contains configuration for lifecycle definition loading
type StatesConfig struct {
	DefinitionsDir string `toml:"definitions_dir"` // Directory containing state definition files (TOML/YAML)
}

// ProvidersConfig contains configuration for voice providers
type ProvidersConfig struct {
	Mode               string  `toml:"mode"`                 // "cloud", "offline", or "hybrid"
	HealthCheckTimeout string  `toml:"health_check_timeout"` // Per-provider health probe deadline (default: "5s")
	InitialBackoff     string  `toml:"initial_backoff"`      // First retry delay (default: "2s")
	MaxBackoff         string  `toml:"max_backoff"`          // Retry delay ceiling (default: "30s")
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`   // Exponential growth factor (default: 2.0)

	ElevenLabs ElevenLabsConfig `toml:"elevenlabs"`
	PlayHT     PlayHTConfig     `toml:"playht"`
	Local      LocalConfig      `toml:"local"`
}

// ElevenLabsConfig contains ElevenLabs voice API configuration
type ElevenLabsConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`     // Prefer the KV store or NARRO_ELEVENLABS_API_KEY
	BaseURL    string `toml:"base_url"`    // Default: "https://api.elevenlabs.io"
	Priority   int    `toml:"priority"`    // Position in the training chain (lower tried first)
	Timeout    string `toml:"timeout"`     // Per-attempt deadline as duration string (default: "2m")
	MaxRetries int    `toml:"max_retries"` // Retries after the first attempt (default: 2)
	RateLimit  string `toml:"rate_limit"`  // Minimum spacing between API requests (default: "500ms")
}

// PlayHTConfig contains Play.ht voice API configuration
type PlayHTConfig struct {
	Enabled    bool   `toml:"enabled"`
	UserID     string `toml:"user_id"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"` // Default: "https://api.play.ht"
	Priority   int    `toml:"priority"`
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	RateLimit  string `toml:"rate_limit"`
}

// LocalConfig contains the offline development engine configuration
type LocalConfig struct {
	Enabled    bool   `toml:"enabled"`
	Priority   int    `toml:"priority"`
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	Latency    string `toml:"latency"` // Simulated synthesis time (default: "50ms")
}

// OrchestratorConfig contains contribution threshold and job settings
type OrchestratorConfig struct {
	DefaultThreshold int    `toml:"default_threshold"` // Contributions needed to trigger training (default: 5)
	JobTimeout       string `toml:"job_timeout"`       // Overall budget for one training run (default: "10m")
	StaleAfter       string `toml:"stale_after"`       // Processing jobs older than this are failed by the sweep (default: "30m")
	ShutdownTimeout  string `toml:"shutdown_timeout"`  // Grace period for in-flight jobs on Close (default: "30s")

	Categories map[string]CategoryConfig `toml:"categories"`
}

// CategoryConfig tunes one contribution category. Owner states name edges in
// the owning entity type's transition table; illegal edges are skipped with a
// warning rather than failing the job bookkeeping.
type CategoryConfig struct {
	Threshold       int     `toml:"threshold"`        // Overrides default_threshold when > 0
	OwnerType       string  `toml:"owner_type"`       // Entity type advanced by job progress (empty: none)
	ProcessingState string  `toml:"processing_state"` // Owner state while a job is active
	CompletedState  string  `toml:"completed_state"`  // Owner state after success
	FailedState     string  `toml:"failed_state"`     // Owner state after failure (optional)
	CostPerSample   float64 `toml:"cost_per_sample"`  // USD, used for the creation-time estimate
}

// SchedulerConfig contains cron schedules for maintenance tasks
type SchedulerConfig struct {
	Enabled             bool   `toml:"enabled"`
	StaleJobSchedule    string `toml:"stale_job_schedule"`    // Default: "*/1 * * * *"
	HealthSweepSchedule string `toml:"health_sweep_schedule"` // Default: "*/5 * * * *"
	StorageGCSchedule   string `toml:"storage_gc_schedule"`   // Default: "*/10 * * * *"
}

type NotificationsConfig struct {
	Enabled bool   `toml:"enabled"`
	Topic   string `toml:"topic"` // ntfy topic URL; empty means notifications are dropped
}

// TelemetryConfig contains OpenTelemetry export settings
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP HTTP endpoint, e.g. "localhost:4318"
	Insecure bool   `toml:"insecure"` // Plain HTTP instead of TLS
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in narro.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Service: ServiceConfig{
			Name: "narro",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
			Filesystem: FilesystemConfig{
				Samples: "./data/samples",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",                     // Info level for production (debug|info|warn|error)
			Format: "text",                     // Human-readable text format (text|json)
			Output: []string{"stdout", "file"}, // Log to both console and file
		},
		Events: EventsConfig{
			LogSize: 512, // Ring buffer capacity; oldest events are overwritten
		},
		States: StatesConfig{
			DefinitionsDir: "./state-definitions", // Default directory for lifecycle definition files
		},
		Providers: ProvidersConfig{
			Mode:               "offline", // Offline by default - cloud requires explicit opt-in with credentials
			HealthCheckTimeout: "5s",
			InitialBackoff:     "2s",
			MaxBackoff:         "30s",
			BackoffMultiplier:  2.0,
			ElevenLabs: ElevenLabsConfig{
				Enabled:    false,
				BaseURL:    "https://api.elevenlabs.io",
				Priority:   10,
				Timeout:    "2m",
				MaxRetries: 2,
				RateLimit:  "500ms",
			},
			PlayHT: PlayHTConfig{
				Enabled:    false,
				BaseURL:    "https://api.play.ht",
				Priority:   20,
				Timeout:    "2m",
				MaxRetries: 2,
				RateLimit:  "500ms",
			},
			Local: LocalConfig{
				Enabled:    true,
				Priority:   100, // Last resort in hybrid mode, only engine in offline mode
				Timeout:    "10s",
				MaxRetries: 0,
				Latency:    "50ms",
			},
		},
		Orchestrator: OrchestratorConfig{
			DefaultThreshold: 5,
			JobTimeout:       "10m",
			StaleAfter:       "30m",
			ShutdownTimeout:  "30s",
			Categories:       map[string]CategoryConfig{},
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			StaleJobSchedule:    "*/1 * * * *",
			HealthSweepSchedule: "*/5 * * * *",
			StorageGCSchedule:   "*/10 * * * *",
		},
		Notifications: NotificationsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:  false, // Opt-in: requires a collector endpoint
			Insecure: true,
		},
		Secrets: map[string]string{},
	}
}

// LoadFromFile loads configuration from a single file, falling back to
// defaults plus environment when path is empty
func LoadFromFile(path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles()
	}
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2
// -> ... -> .env -> environment -> CLI flags. Later files override earlier
// files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Pull a .env file into the process environment when present
	_ = godotenv.Load()

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: NARRO_ENV, fallback: GO_ENV)
	if env := os.Getenv("NARRO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Storage configuration
	if badgerPath := os.Getenv("NARRO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if samplesDir := os.Getenv("NARRO_SAMPLES_DIR"); samplesDir != "" {
		config.Storage.Filesystem.Samples = samplesDir
	}

	// Logging configuration
	if level := os.Getenv("NARRO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("NARRO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("NARRO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Events configuration
	if logSize := os.Getenv("NARRO_EVENTS_LOG_SIZE"); logSize != "" {
		if n, err := strconv.Atoi(logSize); err == nil && n > 0 {
			config.Events.LogSize = n
		}
	}

	// State definitions configuration
	if statesDir := os.Getenv("NARRO_STATES_DIR"); statesDir != "" {
		config.States.DefinitionsDir = statesDir
	}

	// Provider configuration
	if mode := os.Getenv("NARRO_PROVIDERS_MODE"); mode != "" {
		config.Providers.Mode = mode
	}
	if apiKey := os.Getenv("NARRO_ELEVENLABS_API_KEY"); apiKey != "" {
		config.Providers.ElevenLabs.APIKey = apiKey
	}
	if baseURL := os.Getenv("NARRO_ELEVENLABS_BASE_URL"); baseURL != "" {
		config.Providers.ElevenLabs.BaseURL = baseURL
	}
	if apiKey := os.Getenv("NARRO_PLAYHT_API_KEY"); apiKey != "" {
		config.Providers.PlayHT.APIKey = apiKey
	}
	if userID := os.Getenv("NARRO_PLAYHT_USER_ID"); userID != "" {
		config.Providers.PlayHT.UserID = userID
	}

	// Orchestrator configuration
	if threshold := os.Getenv("NARRO_DEFAULT_THRESHOLD"); threshold != "" {
		if t, err := strconv.Atoi(threshold); err == nil && t > 0 {
			config.Orchestrator.DefaultThreshold = t
		}
	}
	if jobTimeout := os.Getenv("NARRO_JOB_TIMEOUT"); jobTimeout != "" {
		config.Orchestrator.JobTimeout = jobTimeout
	}
	if staleAfter := os.Getenv("NARRO_STALE_AFTER"); staleAfter != "" {
		config.Orchestrator.StaleAfter = staleAfter
	}

	// Scheduler configuration
	if enabled := os.Getenv("NARRO_SCHEDULER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Scheduler.Enabled = e
		}
	}

	// Notifications configuration
	if topic := os.Getenv("NARRO_NTFY_TOPIC"); topic != "" {
		config.Notifications.Topic = topic
	}

	// Telemetry configuration
	if enabled := os.Getenv("NARRO_TELEMETRY_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Telemetry.Enabled = e
		}
	}
	if endpoint := os.Getenv("NARRO_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, logLevel string, providersMode string) {
	// Command-line flags have highest priority
	if logLevel != "" {
		config.Logging.Level = logLevel
	}
	if providersMode != "" {
		config.Providers.Mode = providersMode
	}
}

// Validate checks settings that would otherwise fail deep inside wiring
func (c *Config) Validate() error {
	switch c.Providers.Mode {
	case "cloud", "offline", "hybrid":
	default:
		return fmt.Errorf("invalid providers.mode %q (expected cloud, offline, or hybrid)", c.Providers.Mode)
	}
	if c.Storage.Type != "" && c.Storage.Type != "badger" {
		return fmt.Errorf("unsupported storage type: %s (only 'badger' is supported)", c.Storage.Type)
	}
	if c.Events.LogSize <= 0 {
		return fmt.Errorf("events.log_size must be positive, got %d", c.Events.LogSize)
	}
	return nil
}

// CategoryFor returns the effective settings for a contribution category,
// filling the threshold from default_threshold when unset
func (c *Config) CategoryFor(name string) CategoryConfig {
	cat := c.Orchestrator.Categories[name]
	if cat.Threshold <= 0 {
		cat.Threshold = c.Orchestrator.DefaultThreshold
	}
	if cat.Threshold <= 0 {
		cat.Threshold = 5
	}
	return cat
}

// ParseJobTimeout returns the per-job budget with a safe fallback
func (c *Config) ParseJobTimeout() time.Duration {
	return parseDurationOr(c.Orchestrator.JobTimeout, 10*time.Minute)
}

// ParseStaleAfter returns the stale-job cutoff with a safe fallback
func (c *Config) ParseStaleAfter() time.Duration {
	return parseDurationOr(c.Orchestrator.StaleAfter, 30*time.Minute)
}

// ParseShutdownTimeout returns the close grace period with a safe fallback
func (c *Config) ParseShutdownTimeout() time.Duration {
	return parseDurationOr(c.Orchestrator.ShutdownTimeout, 30*time.Second)
}

// ParseHealthCheckTimeout returns the health probe deadline with a safe fallback
func (c *Config) ParseHealthCheckTimeout() time.Duration {
	return parseDurationOr(c.Providers.HealthCheckTimeout, 5*time.Second)
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

// ResolveAPIKey resolves a credential by name with environment variable priority.
// Resolution order: environment variables -> KV store -> config fallback -> error.
// This ensures NARRO_* environment variables always take precedence.
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	// Map of KV store key names to environment variable names.
	// Order: NARRO_-prefixed name first, then the vendor-conventional name.
	keyToEnvMapping := map[string][]string{
		"elevenlabs_api_key": {"NARRO_ELEVENLABS_API_KEY", "ELEVENLABS_API_KEY"},
		"playht_api_key":     {"NARRO_PLAYHT_API_KEY", "PLAYHT_API_KEY"},
		"playht_user_id":     {"NARRO_PLAYHT_USER_ID", "PLAYHT_USER_ID"},
	}

	// Check environment variables (highest priority)
	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	// Try to resolve from KV store (medium priority)
	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	// Fallback to config value (lowest priority)
	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("credential '%s' not found in environment, KV store, or config", name)
}
