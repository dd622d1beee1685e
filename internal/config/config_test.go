package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SessionIdleTimeout != 10*time.Minute {
		t.Errorf("Expected default idle timeout 10m, got %s", cfg.SessionIdleTimeout)
	}
	if cfg.KeywordSimilarityFloor != 0.30 {
		t.Errorf("Expected default similarity floor 0.30, got %f", cfg.KeywordSimilarityFloor)
	}
	if cfg.MaxRecordingDuration != 60*time.Second {
		t.Errorf("Expected default max recording 60s, got %s", cfg.MaxRecordingDuration)
	}
	if cfg.ProviderMode != ProviderModeMock {
		t.Errorf("Expected default provider mode mock, got %s", cfg.ProviderMode)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "5m")
	t.Setenv("KEYWORD_SIMILARITY_FLOOR", "0.5")
	t.Setenv("MAX_RECORDING_DURATION", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.SessionIdleTimeout != 5*time.Minute {
		t.Errorf("Expected idle timeout 5m, got %s", cfg.SessionIdleTimeout)
	}
	if cfg.KeywordSimilarityFloor != 0.5 {
		t.Errorf("Expected similarity floor 0.5, got %f", cfg.KeywordSimilarityFloor)
	}
	if cfg.MaxRecordingDuration != 30*time.Second {
		t.Errorf("Expected max recording 30s, got %s", cfg.MaxRecordingDuration)
	}
}

func TestValidateLiveProviderRequiresDSNs(t *testing.T) {
	t.Setenv("PROVIDER_MODE", "live")

	if _, err := Load(); err == nil {
		t.Fatal("Expected error for live mode without DSNs")
	}

	t.Setenv("DATAHUB_DSN", "postgres://datahub")
	t.Setenv("CIVIC_DSN", "postgres://civic")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed with DSNs set: %v", err)
	}
	if cfg.ProviderMode != ProviderModeLive {
		t.Errorf("Expected provider mode live, got %s", cfg.ProviderMode)
	}
}

func TestValidateRejectsBadSimilarityFloor(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg.KeywordSimilarityFloor = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for similarity floor > 1")
	}
}

func TestIsDevelopment(t *testing.T) {
	cfg := &Config{FrontendURL: ""}
	if !cfg.IsDevelopment() {
		t.Error("Empty frontend URL should be development")
	}

	cfg.FrontendURL = "http://localhost:3000"
	if !cfg.IsDevelopment() {
		t.Error("localhost frontend should be development")
	}

	cfg.FrontendURL = "https://voz.example.com"
	if cfg.IsDevelopment() {
		t.Error("Production frontend should not be development")
	}
}
