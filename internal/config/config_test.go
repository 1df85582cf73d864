package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const minimalConfig = `
[upstream]
base_url = "https://backend.example.com/v1"
api_key = "sk-test"

[[models]]
source_model_id = "claude-sonnet-4"
target_model_id = "gpt-4o"
max_tokens = 4096

[router]
default = "claude-sonnet-4"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8082" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
	if cfg.Router.LongContextThreshold != 60000 {
		t.Errorf("long context threshold = %d", cfg.Router.LongContextThreshold)
	}
	if cfg.Cache.TTL() != time.Hour {
		t.Errorf("cache ttl = %v", cfg.Cache.TTL())
	}
	if cfg.Search.TimeoutSeconds != 30 {
		t.Errorf("search timeout = %d", cfg.Search.TimeoutSeconds)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[server]
addr = "0.0.0.0:9000"
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("server addr = %q", cfg.Server.Addr)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("RELAY_UPSTREAM__API_KEY", "sk-env")
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Upstream.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env override", cfg.Upstream.APIKey)
	}
}

func TestLoadRejectsMissingModels(t *testing.T) {
	if _, err := Load(writeConfig(t, `
[upstream]
base_url = "https://backend.example.com/v1"

[router]
default = "claude-sonnet-4"
`)); err == nil {
		t.Fatal("expected validation error for missing models")
	}
}

func TestLoadRejectsMissingDefaultRoute(t *testing.T) {
	if _, err := Load(writeConfig(t, `
[upstream]
base_url = "https://backend.example.com/v1"

[[models]]
source_model_id = "claude-sonnet-4"
target_model_id = "gpt-4o"
max_tokens = 4096
`)); err == nil {
		t.Fatal("expected validation error for missing router default")
	}
}

func TestMappingsLastWriteWins(t *testing.T) {
	cfg := &Config{
		Models: []ModelMapping{
			{SourceModelID: "m", TargetModelID: "first", MaxTokens: 100},
			{SourceModelID: "m", TargetModelID: "second", MaxTokens: 200},
		},
	}
	reg := cfg.Mappings()
	m, ok := reg.Resolve("m")
	if !ok || m.TargetModelID != "second" {
		t.Errorf("resolved = %+v, want last registration", m)
	}
	if len(reg.List()) != 1 {
		t.Errorf("list = %d entries, want 1", len(reg.List()))
	}
}
