// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ovaphlow/pitchfork/service-identity-go/internal/llm"
	"github.com/ovaphlow/pitchfork/service-identity-go/internal/matching"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr    string
	StoreDriver string
	// RedisAddr enables the semantic verdict cache when set.
	RedisAddr string
	CacheTTL  time.Duration

	OllamaURL           string
	OllamaModel         string
	SemanticEnabled     bool
	SemanticTimeout     time.Duration
	SemanticConcurrency int

	PhoneRegion       string
	ReviewerJWTSecret string
	CORSOrigins       []string

	Policy matching.Policy
}

// Load reads the environment. A MATCHING_CONFIG yaml file, if named,
// overrides individual policy fields.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:            envOr("HTTP_ADDR", "0.0.0.0:8431"),
		StoreDriver:         strings.ToLower(envOr("STORE_DRIVER", StorePostgres)),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		OllamaURL:           envOr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:         envOr("OLLAMA_MODEL", llm.DefaultModel),
		PhoneRegion:         strings.ToUpper(envOr("PHONE_DEFAULT_REGION", matching.DefaultPhoneRegion)),
		ReviewerJWTSecret:   os.Getenv("REVIEWER_JWT_SECRET"),
		CORSOrigins:         splitList(envOr("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		Policy:              matching.DefaultPolicy(),
		SemanticEnabled:     true,
		SemanticTimeout:     5 * time.Second,
		SemanticConcurrency: 4,
		CacheTTL:            24 * time.Hour,
	}

	var errs []error
	if v := os.Getenv("SEMANTIC_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrap("SEMANTIC_ENABLED", err))
		cfg.SemanticEnabled = b
	}
	if v := os.Getenv("SEMANTIC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("SEMANTIC_TIMEOUT", err))
		cfg.SemanticTimeout = d
	}
	if v := os.Getenv("SEMANTIC_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n < 1 {
			err = errors.New("must be at least 1")
		}
		errs = append(errs, wrap("SEMANTIC_CONCURRENCY", err))
		cfg.SemanticConcurrency = n
	}
	if v := os.Getenv("VERDICT_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrap("VERDICT_CACHE_TTL", err))
		cfg.CacheTTL = d
	}
	switch cfg.StoreDriver {
	case StoreMemory, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER: unsupported driver %q", cfg.StoreDriver))
	}
	if path := os.Getenv("MATCHING_CONFIG"); path != "" {
		p, err := LoadPolicy(path, cfg.Policy)
		errs = append(errs, err)
		cfg.Policy = p
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Policy.Validate(); err != nil {
		return Config{}, fmt.Errorf("matching policy: %w", err)
	}
	return cfg, nil
}

// LoadPolicy overlays the yaml file at path onto base.
func LoadPolicy(path string, base matching.Policy) (matching.Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read matching config: %w", err)
	}
	p := base
	if err := yaml.Unmarshal(b, &p); err != nil {
		return base, fmt.Errorf("parse matching config %s: %w", path, err)
	}
	return p, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func wrap(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}
