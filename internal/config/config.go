// Package config loads and holds all gateway configuration.
// Settings start from built-in defaults, are overridden by
// gateway-config.json when present, and finally by environment variables.
// The provider API key and model are NOT stored here: only the names of the
// environment variables holding them, which are read on every request.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"clinical-chat-gateway/internal/logger"
)

// DefaultFile is the JSON file Load reads from the working directory.
const DefaultFile = "gateway-config.json"

// Config holds the full gateway configuration.
type Config struct {
	Port           int    `json:"port"`
	ManagementPort int    `json:"managementPort"`
	BindAddress    string `json:"bindAddress"`
	// ManagementToken, when set, is required as a Bearer token on the
	// management API.
	ManagementToken string `json:"managementToken"`
	MaxBodyBytes    int64  `json:"maxBodyBytes"`
	CORSOrigin      string `json:"corsOrigin"`
	// DebugErrors adds stack traces to 500 responses. Off in production.
	DebugErrors bool   `json:"debugErrors"`
	LogLevel    string `json:"logLevel"`

	ProviderURL               string `json:"providerUrl"`
	APIKeyEnv                 string `json:"apiKeyEnv"`
	ModelEnv                  string `json:"modelEnv"`
	DefaultModel              string `json:"defaultModel"`
	UpstreamHeaderTimeoutSecs int    `json:"upstreamHeaderTimeoutSecs"`

	NERBackend     string `json:"nerBackend"` // prose | ollama | none
	OllamaEndpoint string `json:"ollamaEndpoint"`
	OllamaModel    string `json:"ollamaModel"`
	NERTimeoutSecs int    `json:"nerTimeoutSecs"`
	NERCacheSize   int    `json:"nerCacheSize"` // 0 disables
	PhoneRegion    string `json:"phoneRegion"`

	TriageRulesFile string `json:"triageRulesFile"`

	AuditSink string `json:"auditSink"` // log | bbolt | sqlite
	AuditPath string `json:"auditPath"`
}

// Load returns config with defaults overridden by gateway-config.json and
// env vars.
func Load() *Config {
	return LoadFrom(DefaultFile)
}

// LoadFrom is Load with an explicit JSON file path.
func LoadFrom(path string) *Config {
	cfg := defaults()
	loadFile(cfg, path)
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:                      8080,
		ManagementPort:            8081,
		BindAddress:               "127.0.0.1",
		MaxBodyBytes:              1 << 20,
		CORSOrigin:                "*",
		DebugErrors:               false,
		LogLevel:                  "info",
		ProviderURL:               "https://api.openai.com/v1",
		APIKeyEnv:                 "LLM_API_KEY",
		ModelEnv:                  "LLM_MODEL",
		DefaultModel:              "gpt-4o-mini",
		UpstreamHeaderTimeoutSecs: 60,
		NERBackend:                "prose",
		OllamaEndpoint:            "http://localhost:11434",
		OllamaModel:               "qwen2.5:3b",
		NERTimeoutSecs:            10,
		NERCacheSize:              1024,
		PhoneRegion:               "US",
		TriageRulesFile:           "triage-rules.yaml",
		AuditSink:                 "log",
		AuditPath:                 "data/audit.db",
	}
}

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return // file is optional
	}
	log := logger.New("config", "info")
	if err := json.Unmarshal(data, cfg); err != nil {
		log.Warnf("load", "could not parse %s: %v", path, err)
	} else {
		log.Infof("load", "loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	envInt("GATEWAY_PORT", &cfg.Port)
	envInt("MANAGEMENT_PORT", &cfg.ManagementPort)
	envString("BIND_ADDRESS", &cfg.BindAddress)
	envString("MANAGEMENT_TOKEN", &cfg.ManagementToken)
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	envString("CORS_ORIGIN", &cfg.CORSOrigin)
	if v := os.Getenv("DEBUG_ERRORS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DebugErrors = b
		}
	}
	envString("LOG_LEVEL", &cfg.LogLevel)

	envString("PROVIDER_URL", &cfg.ProviderURL)
	envString("API_KEY_ENV", &cfg.APIKeyEnv)
	envString("MODEL_ENV", &cfg.ModelEnv)
	envString("DEFAULT_MODEL", &cfg.DefaultModel)
	envInt("UPSTREAM_HEADER_TIMEOUT_SECS", &cfg.UpstreamHeaderTimeoutSecs)

	envString("NER_BACKEND", &cfg.NERBackend)
	envString("OLLAMA_ENDPOINT", &cfg.OllamaEndpoint)
	envString("OLLAMA_MODEL", &cfg.OllamaModel)
	envInt("NER_TIMEOUT_SECS", &cfg.NERTimeoutSecs)
	envInt("NER_CACHE_SIZE", &cfg.NERCacheSize)
	envString("PHONE_REGION", &cfg.PhoneRegion)

	envString("TRIAGE_RULES_FILE", &cfg.TriageRulesFile)
	envString("AUDIT_SINK", &cfg.AuditSink)
	envString("AUDIT_PATH", &cfg.AuditPath)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate reports settings that would prevent startup.
func (c *Config) Validate() error {
	var errs []error
	for name, p := range map[string]int{"port": c.Port, "managementPort": c.ManagementPort} {
		if p < 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, p))
		}
	}
	if c.Port != 0 && c.Port == c.ManagementPort {
		errs = append(errs, fmt.Errorf("port and managementPort are both %d", c.Port))
	}
	if strings.TrimSpace(c.ProviderURL) == "" {
		errs = append(errs, errors.New("providerUrl is empty"))
	}
	if strings.TrimSpace(c.APIKeyEnv) == "" {
		errs = append(errs, errors.New("apiKeyEnv is empty"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("maxBodyBytes %d must be positive", c.MaxBodyBytes))
	}
	if c.NERCacheSize < 0 {
		errs = append(errs, fmt.Errorf("nerCacheSize %d must not be negative", c.NERCacheSize))
	}
	switch strings.ToLower(c.AuditSink) {
	case "", "log":
	case "bbolt", "bolt", "sqlite", "sqlite3":
		if c.AuditPath == "" {
			errs = append(errs, fmt.Errorf("auditSink %s needs auditPath", c.AuditSink))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auditSink %q", c.AuditSink))
	}
	return errors.Join(errs...)
}

// NERTimeout returns the entity extractor timeout.
func (c *Config) NERTimeout() time.Duration {
	return time.Duration(c.NERTimeoutSecs) * time.Second
}

// UpstreamHeaderTimeout returns the provider response-header timeout.
func (c *Config) UpstreamHeaderTimeout() time.Duration {
	return time.Duration(c.UpstreamHeaderTimeoutSecs) * time.Second
}

// APIKey reads the provider key from the environment.
func (c *Config) APIKey(getenv func(string) string) string {
	return strings.TrimSpace(getenv(c.APIKeyEnv))
}

// Model reads the model name from the environment, falling back to
// DefaultModel.
func (c *Config) Model(getenv func(string) string) string {
	if c.ModelEnv != "" {
		if m := strings.TrimSpace(getenv(c.ModelEnv)); m != "" {
			return m
		}
	}
	return c.DefaultModel
}
