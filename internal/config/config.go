// Package config loads and validates the relay configuration: server options,
// upstream backend coordinates, model mappings, the routing policy and the
// web-search provider settings. Configuration is loaded once at startup and
// treated as read-mostly state afterwards.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the root configuration tree.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Models   []ModelMapping `koanf:"models" validate:"required,min=1,dive"`
	Router   RouterPolicy   `koanf:"router"`
	Search   SearchConfig   `koanf:"search"`
	Cache    CacheConfig    `koanf:"cache"`
}

// ServerConfig holds the HTTP listener options.
type ServerConfig struct {
	Addr            string `koanf:"addr" validate:"required"`
	MaxRequestBytes int64  `koanf:"max_request_bytes" validate:"gt=0"`
}

// UpstreamConfig points at the chat-completion backend.
type UpstreamConfig struct {
	BaseURL        string `koanf:"base_url" validate:"required,url"`
	APIKey         string `koanf:"api_key"`
	TimeoutSeconds int    `koanf:"timeout_seconds" validate:"gt=0"`
}

// Timeout returns the upstream call deadline.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// ModelMapping maps a client-facing model id to a backend model with its
// output token ceiling. Mappings are unique by source id; the last entry wins
// on duplicates.
type ModelMapping struct {
	SourceModelID string `koanf:"source_model_id" json:"source_model_id" validate:"required"`
	TargetModelID string `koanf:"target_model_id" json:"target_model_id" validate:"required"`
	MaxTokens     int    `koanf:"max_tokens" json:"max_tokens" validate:"gt=0"`
	Description   string `koanf:"description" json:"description,omitempty"`
}

// RouterPolicy selects backend models by request shape. All routes except
// Default are optional; an empty route skips that precedence rule.
type RouterPolicy struct {
	Default              string `koanf:"default" validate:"required"`
	LongContext          string `koanf:"long_context"`
	LongContextThreshold int    `koanf:"long_context_threshold" validate:"gte=0"`
	WebSearch            string `koanf:"web_search"`
	Background           string `koanf:"background"`
	Think                string `koanf:"think"`
}

// SearchConfig points at the external search provider.
type SearchConfig struct {
	BaseURL        string `koanf:"base_url"`
	APIKey         string `koanf:"api_key"`
	TopK           int    `koanf:"top_k" validate:"gt=0"`
	TimeoutSeconds int    `koanf:"timeout_seconds" validate:"gt=0"`
}

// Timeout returns the search provider call deadline.
func (s SearchConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// CacheConfig tunes the ephemeral search-result cache.
type CacheConfig struct {
	TTLSeconds           int `koanf:"ttl_seconds" validate:"gt=0"`
	SweepIntervalSeconds int `koanf:"sweep_interval_seconds" validate:"gt=0"`
}

// TTL returns the default entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the background sweep period.
func (c CacheConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// defaults are applied before the config file and environment overrides.
var defaults = map[string]any{
	"server.addr":                   "127.0.0.1:8082",
	"server.max_request_bytes":      int64(10 * 1024 * 1024),
	"upstream.base_url":             "https://api.openai.com/v1",
	"upstream.timeout_seconds":      120,
	"router.long_context_threshold": 60000,
	"search.top_k":                  10,
	"search.timeout_seconds":        30,
	"cache.ttl_seconds":             3600,
	"cache.sweep_interval_seconds":  300,
}

// envPrefix namespaces environment overrides, e.g. RELAY_UPSTREAM__API_KEY.
const envPrefix = "RELAY_"

// Load reads configuration from defaults, an optional TOML file and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// RELAY_SERVER__ADDR -> server.addr; a double underscore separates levels
	// so single underscores survive inside key names.
	envOpt := env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}
	if err := k.Load(env.Provider(".", envOpt), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Mappings builds the model registry from the configured mapping list.
func (c *Config) Mappings() *ModelRegistry {
	reg := NewModelRegistry()
	for _, m := range c.Models {
		reg.Register(m)
	}
	return reg
}
