package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidAdapterNames lists known adapter names per adapter kind.
// Used by [Validate] to warn about unrecognised names.
var ValidAdapterNames = map[string][]string{
	"platform": {"meet", "teams", "zoom", "mock"},
	"engine":   {"model", "mock"},
	"crm":      {"salesforce", "hubspot", "creatio", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.AuthToken == "" {
		slog.Warn("server.auth_token is empty; the API will reject every request")
	}

	// Platforms
	if len(cfg.Platforms) == 0 {
		errs = append(errs, errors.New("platforms: at least one platform adapter must be configured"))
	}
	for key, entry := range cfg.Platforms {
		prefix := fmt.Sprintf("platforms[%s]", key)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateAdapterName("platform", entry.Name)
	}

	// Engine
	if cfg.Engine.Name == "" {
		errs = append(errs, errors.New("engine.name is required"))
	} else {
		validateAdapterName("engine", cfg.Engine.Name)
	}
	if cfg.Engine.Name == "model" && cfg.Engine.APIKey == "" {
		errs = append(errs, errors.New("engine.api_key is required when engine.name is model"))
	}

	// CRM
	for key, entry := range cfg.CRM {
		prefix := fmt.Sprintf("crm[%s]", key)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateAdapterName("crm", entry.Name)
		if entry.Name != "mock" && entry.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for %s", prefix, entry.Name))
		}
	}
	if len(cfg.CRM) == 0 {
		slog.Warn("no CRM adapters configured; validated summaries will not sync anywhere")
	}

	// Session tunables keep sane relationships after defaulting.
	if cfg.Session.ChunkDuration > cfg.Session.QualityCheckInterval {
		errs = append(errs, fmt.Errorf("session.chunk_duration %v must not exceed session.quality_check_interval %v",
			cfg.Session.ChunkDuration, cfg.Session.QualityCheckInterval))
	}

	// Store
	if !cfg.Store.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: memory, postgres", cfg.Store.Driver))
	}
	if cfg.Store.Driver == StorePostgres && cfg.Store.PostgresDSN == "" {
		errs = append(errs, errors.New("store.postgres_dsn is required when store.driver is postgres"))
	}
	if cfg.Store.RedisAddr == "" {
		slog.Warn("store.redis_addr is empty; session state reads will always hit the primary store")
	}

	return errors.Join(errs...)
}

// validateAdapterName logs a warning if name is non-empty and not found in
// the [ValidAdapterNames] list for the given kind.
func validateAdapterName(kind, name string) {
	known, ok := ValidAdapterNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown adapter name — may be a typo or third-party adapter",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
