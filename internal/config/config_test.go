package config

import (
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(envMap(nil))
	if err != nil {
		t.Fatalf("loadWith with no env failed: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Engine.Provider != "ollama" {
		t.Errorf("Engine.Provider = %q, want %q", cfg.Engine.Provider, "ollama")
	}
	if cfg.Retrieval.ContextTopK != 3 {
		t.Errorf("Retrieval.ContextTopK = %d, want 3", cfg.Retrieval.ContextTopK)
	}
	if cfg.Retrieval.InteractionTopK != 2 {
		t.Errorf("Retrieval.InteractionTopK = %d, want 2", cfg.Retrieval.InteractionTopK)
	}
	if cfg.Learning.SuccessThreshold != 0.7 {
		t.Errorf("Learning.SuccessThreshold = %v, want 0.7", cfg.Learning.SuccessThreshold)
	}
	if cfg.Exec.Timeout != 120*time.Second {
		t.Errorf("Exec.Timeout = %v, want 120s", cfg.Exec.Timeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := loadWith(envMap(map[string]string{
		"RADA_PORT":              "9100",
		"RADA_CODE_MODEL":        "llama3.1",
		"RADA_CONTEXT_TOP_K":     "5",
		"RADA_SUCCESS_THRESHOLD": "0.85",
		"RADA_EXECUTION_TIMEOUT": "45",
	}))
	if err != nil {
		t.Fatalf("loadWith failed: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Engine.CodeModel != "llama3.1" {
		t.Errorf("Engine.CodeModel = %q, want %q", cfg.Engine.CodeModel, "llama3.1")
	}
	if cfg.Retrieval.ContextTopK != 5 {
		t.Errorf("Retrieval.ContextTopK = %d, want 5", cfg.Retrieval.ContextTopK)
	}
	if cfg.Learning.SuccessThreshold != 0.85 {
		t.Errorf("Learning.SuccessThreshold = %v, want 0.85", cfg.Learning.SuccessThreshold)
	}
	if cfg.Exec.Timeout != 45*time.Second {
		t.Errorf("Exec.Timeout = %v, want 45s", cfg.Exec.Timeout)
	}
}

func TestValidateRejectsShortTimeout(t *testing.T) {
	_, err := loadWith(envMap(map[string]string{
		"RADA_EXECUTION_TIMEOUT": "5",
	}))
	if err == nil {
		t.Fatal("expected error for timeout below 10s, got nil")
	}
	if !strings.Contains(err.Error(), "RADA_EXECUTION_TIMEOUT") {
		t.Errorf("error %q does not mention RADA_EXECUTION_TIMEOUT", err)
	}
}

func TestValidateRejectsBadProvider(t *testing.T) {
	_, err := loadWith(envMap(map[string]string{
		"RADA_PROVIDER": "watson",
	}))
	if err == nil {
		t.Fatal("expected error for unsupported provider, got nil")
	}
}

func TestValidateOpenRouterNeedsKey(t *testing.T) {
	_, err := loadWith(envMap(map[string]string{
		"RADA_PROVIDER": "openrouter",
	}))
	if err == nil {
		t.Fatal("expected error for openrouter without API key, got nil")
	}

	cfg, err := loadWith(envMap(map[string]string{
		"RADA_PROVIDER":           "openrouter",
		"RADA_OPENROUTER_API_KEY": "sk-or-test",
	}))
	if err != nil {
		t.Fatalf("loadWith with API key failed: %v", err)
	}
	if cfg.Engine.OpenRouterAPIKey != "sk-or-test" {
		t.Errorf("OpenRouterAPIKey = %q, want %q", cfg.Engine.OpenRouterAPIKey, "sk-or-test")
	}
}

func TestValidateThresholdRange(t *testing.T) {
	for _, v := range []string{"-0.1", "1.5"} {
		if _, err := loadWith(envMap(map[string]string{"RADA_SUCCESS_THRESHOLD": v})); err == nil {
			t.Errorf("threshold %s: expected validation error, got nil", v)
		}
	}
}
