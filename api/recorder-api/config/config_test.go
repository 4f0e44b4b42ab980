package config

import (
	"testing"
)

func TestDefaultsProduceValidConfig(t *testing.T) {
	v, err := InitConfig()
	if err != nil {
		t.Fatalf("InitConfig error: %v", err)
	}
	v.Set("TRANSCRIPTION_HOST", "wss://stream.example.com/v1")
	v.Set("TOKEN_HOST", "https://api.example.com/token")
	v.Set("API_KEY", "test-key")

	cfg, err := GetApplicationConfig(v)
	if err != nil {
		t.Fatalf("GetApplicationConfig error: %v", err)
	}
	if cfg.Name != "recorder-api" {
		t.Errorf("unexpected service name %q", cfg.Name)
	}
	if cfg.Language != "en" {
		t.Errorf("unexpected default language %q", cfg.Language)
	}
	if cfg.MaxLatencyMs != 800 {
		t.Errorf("unexpected default max latency %d", cfg.MaxLatencyMs)
	}
	if cfg.DatabasePath == "" || cfg.RecordingDir == "" {
		t.Error("storage defaults must be set")
	}
}

func TestMissingRequiredFieldsFailValidation(t *testing.T) {
	v, err := InitConfig()
	if err != nil {
		t.Fatalf("InitConfig error: %v", err)
	}
	// TRANSCRIPTION_HOST, TOKEN_HOST and API_KEY default to empty.
	if _, err := GetApplicationConfig(v); err == nil {
		t.Fatal("expected validation failure for missing required fields")
	}
}
