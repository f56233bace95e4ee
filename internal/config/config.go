package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Learning  LearningConfig
	Exec      ExecConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host     string
	Port     int
	APIToken string
}

type EngineConfig struct {
	// Provider selects the code-generation backend: "ollama" or "openrouter".
	Provider string
	BaseURL  string
	// CodeModel generates analysis code; EmbedModel produces vectors.
	CodeModel        string
	EmbedModel       string
	OpenRouterAPIKey string
	OpenRouterModel  string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	ContextTopK     int
	InteractionTopK int
}

type LearningConfig struct {
	// SuccessThreshold is strict: a score must exceed it to trigger learning.
	SuccessThreshold float64
}

type ExecConfig struct {
	// Timeout bounds one sandboxed execution. Validation enforces >= 10s.
	Timeout time.Duration
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Engine: EngineConfig{
			Provider:        "ollama",
			BaseURL:         "http://localhost:11434",
			CodeModel:       "qwen2.5-coder",
			EmbedModel:      "nomic-embed-text",
			OpenRouterModel: "openai/gpt-4o",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			ContextTopK:     3,
			InteractionTopK: 2,
		},
		Learning: LearningConfig{
			SuccessThreshold: 0.7,
		},
		Exec: ExecConfig{
			Timeout: 120 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "rada-data"
		}
	}
	return filepath.Join(dir, "rada")
}

// Load reads configuration from defaults, an optional .env file in the
// working directory, and RADA_* environment variables. Environment variables
// win over .env values, which win over defaults.
func Load() (Config, error) {
	// Missing .env is fine; real env vars are never overwritten by it.
	_ = godotenv.Load()
	return loadWith(os.Getenv)
}

func loadWith(getenv func(string) string) (Config, error) {
	cfg := defaults()
	applyEnv(&cfg, getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setString(getenv("RADA_HOST"), &cfg.Server.Host)
	setInt(getenv("RADA_PORT"), &cfg.Server.Port)
	setString(getenv("RADA_API_TOKEN"), &cfg.Server.APIToken)

	setString(getenv("RADA_PROVIDER"), &cfg.Engine.Provider)
	setString(getenv("RADA_ENGINE_BASE_URL"), &cfg.Engine.BaseURL)
	setString(getenv("RADA_CODE_MODEL"), &cfg.Engine.CodeModel)
	setString(getenv("RADA_EMBED_MODEL"), &cfg.Engine.EmbedModel)
	setString(getenv("RADA_OPENROUTER_API_KEY"), &cfg.Engine.OpenRouterAPIKey)
	setString(getenv("RADA_OPENROUTER_MODEL"), &cfg.Engine.OpenRouterModel)

	setString(getenv("RADA_DATA_DIR"), &cfg.Storage.DataDir)

	setInt(getenv("RADA_CONTEXT_TOP_K"), &cfg.Retrieval.ContextTopK)
	setInt(getenv("RADA_INTERACTION_TOP_K"), &cfg.Retrieval.InteractionTopK)

	setFloat(getenv("RADA_SUCCESS_THRESHOLD"), &cfg.Learning.SuccessThreshold)

	if v := getenv("RADA_EXECUTION_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Exec.Timeout = time.Duration(secs) * time.Second
		}
	}

	setString(getenv("RADA_LOG_LEVEL"), &cfg.Log.Level)
}

func setString(v string, dst *string) {
	if v != "" {
		*dst = v
	}
}

func setInt(v string, dst *int) {
	if v == "" {
		return
	}
	if i, err := strconv.Atoi(v); err == nil {
		*dst = i
	}
}

func setFloat(v string, dst *float64) {
	if v == "" {
		return
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = f
	}
}

// Validate checks invariants that later components rely on.
func (c Config) Validate() error {
	var errs []string

	switch c.Engine.Provider {
	case "ollama":
	case "openrouter":
		if c.Engine.OpenRouterAPIKey == "" {
			errs = append(errs, "RADA_OPENROUTER_API_KEY is required for the openrouter provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported provider %q (want ollama or openrouter)", c.Engine.Provider))
	}

	if c.Retrieval.ContextTopK < 1 {
		errs = append(errs, "RADA_CONTEXT_TOP_K must be >= 1")
	}
	if c.Retrieval.InteractionTopK < 1 {
		errs = append(errs, "RADA_INTERACTION_TOP_K must be >= 1")
	}
	if c.Learning.SuccessThreshold < 0 || c.Learning.SuccessThreshold > 1 {
		errs = append(errs, "RADA_SUCCESS_THRESHOLD must be between 0 and 1")
	}
	if c.Exec.Timeout < 10*time.Second {
		errs = append(errs, "RADA_EXECUTION_TIMEOUT must be >= 10 seconds")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
