package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Port != 8080 {
		t.Errorf("Port: got %d, want 8080", cfg.Port)
	}
	if cfg.ManagementPort != 8081 {
		t.Errorf("ManagementPort: got %d, want 8081", cfg.ManagementPort)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress: got %s", cfg.BindAddress)
	}
	if cfg.APIKeyEnv != "LLM_API_KEY" || cfg.ModelEnv != "LLM_MODEL" {
		t.Errorf("env names: got %s / %s", cfg.APIKeyEnv, cfg.ModelEnv)
	}
	if cfg.DebugErrors {
		t.Error("DebugErrors should default to false")
	}
	if cfg.NERBackend != "prose" {
		t.Errorf("NERBackend: got %s", cfg.NERBackend)
	}
	if cfg.PhoneRegion != "US" {
		t.Errorf("PhoneRegion: got %s", cfg.PhoneRegion)
	}
	if cfg.AuditSink != "log" {
		t.Errorf("AuditSink: got %s", cfg.AuditSink)
	}
	if cfg.MaxBodyBytes != 1<<20 {
		t.Errorf("MaxBodyBytes: got %d", cfg.MaxBodyBytes)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadEnv(t *testing.T) {
	cases := []struct {
		key, val string
		check    func(*Config) bool
	}{
		{"GATEWAY_PORT", "9090", func(c *Config) bool { return c.Port == 9090 }},
		{"MANAGEMENT_PORT", "9091", func(c *Config) bool { return c.ManagementPort == 9091 }},
		{"BIND_ADDRESS", "0.0.0.0", func(c *Config) bool { return c.BindAddress == "0.0.0.0" }},
		{"MANAGEMENT_TOKEN", "secret-token", func(c *Config) bool { return c.ManagementToken == "secret-token" }},
		{"MAX_BODY_BYTES", "2048", func(c *Config) bool { return c.MaxBodyBytes == 2048 }},
		{"DEBUG_ERRORS", "true", func(c *Config) bool { return c.DebugErrors }},
		{"LOG_LEVEL", "debug", func(c *Config) bool { return c.LogLevel == "debug" }},
		{"PROVIDER_URL", "http://llm:9000/v1", func(c *Config) bool { return c.ProviderURL == "http://llm:9000/v1" }},
		{"API_KEY_ENV", "OPENAI_API_KEY", func(c *Config) bool { return c.APIKeyEnv == "OPENAI_API_KEY" }},
		{"NER_BACKEND", "ollama", func(c *Config) bool { return c.NERBackend == "ollama" }},
		{"OLLAMA_MODEL", "llama3:8b", func(c *Config) bool { return c.OllamaModel == "llama3:8b" }},
		{"NER_TIMEOUT_SECS", "3", func(c *Config) bool { return c.NERTimeout() == 3*time.Second }},
		{"NER_CACHE_SIZE", "0", func(c *Config) bool { return c.NERCacheSize == 0 }},
		{"PHONE_REGION", "GB", func(c *Config) bool { return c.PhoneRegion == "GB" }},
		{"TRIAGE_RULES_FILE", "/etc/triage.yaml", func(c *Config) bool { return c.TriageRulesFile == "/etc/triage.yaml" }},
		{"AUDIT_SINK", "sqlite", func(c *Config) bool { return c.AuditSink == "sqlite" }},
		{"AUDIT_PATH", "/var/audit.db", func(c *Config) bool { return c.AuditPath == "/var/audit.db" }},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			t.Setenv(c.key, c.val)
			cfg := defaults()
			loadEnv(cfg)
			if !c.check(cfg) {
				t.Errorf("%s=%s not applied: %+v", c.key, c.val, cfg)
			}
		})
	}
}

func TestLoadEnv_InvalidValues_Ignored(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-number")
	t.Setenv("DEBUG_ERRORS", "maybe")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.Port != 8080 {
		t.Errorf("Port: got %d, want 8080 (invalid env should be ignored)", cfg.Port)
	}
	if cfg.DebugErrors {
		t.Error("DebugErrors should stay false on invalid env")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway-config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_ValidJSON(t *testing.T) {
	data, err := json.Marshal(map[string]any{
		"port":        9999,
		"ollamaModel": "mistral:7b",
		"auditSink":   "bbolt",
	})
	if err != nil {
		t.Fatal(err)
	}
	cfg := defaults()
	loadFile(cfg, writeFile(t, string(data)))

	if cfg.Port != 9999 {
		t.Errorf("Port: got %d, want 9999", cfg.Port)
	}
	if cfg.OllamaModel != "mistral:7b" {
		t.Errorf("OllamaModel: got %s", cfg.OllamaModel)
	}
	if cfg.AuditSink != "bbolt" || cfg.AuditPath != "data/audit.db" {
		t.Errorf("audit: got %s %s", cfg.AuditSink, cfg.AuditPath)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.Port != 8080 {
		t.Errorf("Port changed unexpectedly: %d", cfg.Port)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, writeFile(t, "{this is not json}"))
	if cfg.Port != 8080 {
		t.Errorf("Port changed on bad JSON: %d", cfg.Port)
	}
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `{"port": 7000, "logLevel": "warn"}`)
	t.Setenv("GATEWAY_PORT", "7001")
	cfg := LoadFrom(path)
	if cfg.Port != 7001 {
		t.Errorf("Port: got %d, want env value 7001", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %s, want file value", cfg.LogLevel)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.Port <= 0 {
		t.Errorf("Port should be positive, got %d", cfg.Port)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port range", func(c *Config) { c.Port = 70000 }, "out of range"},
		{"same ports", func(c *Config) { c.ManagementPort = c.Port }, "both"},
		{"no provider", func(c *Config) { c.ProviderURL = " " }, "providerUrl"},
		{"no key env", func(c *Config) { c.APIKeyEnv = "" }, "apiKeyEnv"},
		{"body limit", func(c *Config) { c.MaxBodyBytes = 0 }, "maxBodyBytes"},
		{"sink path", func(c *Config) { c.AuditSink, c.AuditPath = "sqlite", "" }, "auditPath"},
		{"unknown sink", func(c *Config) { c.AuditSink = "kafka" }, "unknown auditSink"},
		{"negative cache", func(c *Config) { c.NERCacheSize = -1 }, "nerCacheSize"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := defaults()
			c.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, c.want)
			}
		})
	}
}

func TestAPIKeyAndModel(t *testing.T) {
	env := map[string]string{"LLM_API_KEY": " sk-1 "}
	getenv := func(k string) string { return env[k] }
	cfg := defaults()

	if got := cfg.APIKey(getenv); got != "sk-1" {
		t.Errorf("APIKey = %q", got)
	}
	if got := cfg.Model(getenv); got != cfg.DefaultModel {
		t.Errorf("Model without env = %q, want default", got)
	}
	env["LLM_MODEL"] = "gpt-x"
	if got := cfg.Model(getenv); got != "gpt-x" {
		t.Errorf("Model = %q", got)
	}
}
