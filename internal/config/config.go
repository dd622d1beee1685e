// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider mode selects which data provider implementation answers reads.
const (
	ProviderModeMock = "mock"
	ProviderModeLive = "live"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// Session boundary heuristics.
	SessionIdleTimeout     time.Duration
	KeywordSimilarityFloor float64

	// Voice turn limits.
	MaxRecordingDuration time.Duration
	UpstreamCallTimeout  time.Duration

	// Data provider selection; never mixed within one call.
	ProviderMode string
	DataHubDSN   string
	CivicDSN     string

	// Model edge function endpoints.
	ModelBaseURL    string
	ModelAPIKey     string
	ClassifierModel string
	GeneratorModel  string

	AgentConfigPath string

	// AdminToken grants the admin role on operator endpoints. Empty
	// disables token auth; development mode still allows access.
	AdminToken string

	AuditLog  AuditLogConfig
	Telemetry TelemetryConfig
}

// AuditLogConfig controls the best-effort NDJSON audit log.
type AuditLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// TelemetryConfig controls OpenTelemetry export and log rotation.
type TelemetryConfig struct {
	Enabled bool
	Dir     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("AUDIT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/voz.db"),

		SessionIdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 10*time.Minute),
		KeywordSimilarityFloor: getEnvFloat("KEYWORD_SIMILARITY_FLOOR", 0.30),

		MaxRecordingDuration: getEnvDuration("MAX_RECORDING_DURATION", 60*time.Second),
		UpstreamCallTimeout:  getEnvDuration("UPSTREAM_CALL_TIMEOUT", 30*time.Second),

		ProviderMode: getEnv("PROVIDER_MODE", ProviderModeMock),
		DataHubDSN:   getEnv("DATAHUB_DSN", ""),
		CivicDSN:     getEnv("CIVIC_DSN", ""),

		ModelBaseURL:    getEnv("MODEL_BASE_URL", ""),
		ModelAPIKey:     getEnv("MODEL_API_KEY", ""),
		ClassifierModel: getEnv("CLASSIFIER_MODEL", "gemini-flash"),
		GeneratorModel:  getEnv("GENERATOR_MODEL", "gpt-4o-mini"),

		AgentConfigPath: getEnv("AGENT_CONFIG_PATH", ""),
		AdminToken:      getEnv("ADMIN_TOKEN", ""),

		AuditLog: AuditLogConfig{
			Enabled:       getEnvBool("AUDIT_LOG_ENABLED", true),
			Dir:           getEnv("AUDIT_LOG_DIR", "./data/logs/audit"),
			GlobalEnabled: getEnvBool("AUDIT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("AUDIT_LOG_GLOBAL_PATH", "./data/logs/audit/all.ndjson"),
			QueueSize:     queueSize,
		},
		Telemetry: TelemetryConfig{
			Enabled: getEnvBool("TELEMETRY_ENABLED", false),
			Dir:     getEnv("TELEMETRY_DIR", "./data/logs"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.KeywordSimilarityFloor < 0 || c.KeywordSimilarityFloor > 1 {
		return fmt.Errorf("KEYWORD_SIMILARITY_FLOOR must be in [0, 1]")
	}
	if c.MaxRecordingDuration <= 0 {
		return fmt.Errorf("MAX_RECORDING_DURATION must be > 0")
	}
	if c.UpstreamCallTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_CALL_TIMEOUT must be > 0")
	}
	switch c.ProviderMode {
	case ProviderModeMock:
	case ProviderModeLive:
		if c.DataHubDSN == "" || c.CivicDSN == "" {
			return fmt.Errorf("PROVIDER_MODE=live requires DATAHUB_DSN and CIVIC_DSN")
		}
	default:
		return fmt.Errorf("PROVIDER_MODE must be %q or %q", ProviderModeMock, ProviderModeLive)
	}
	if c.AuditLog.Enabled && c.AuditLog.Dir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR cannot be empty")
	}
	if c.AuditLog.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
