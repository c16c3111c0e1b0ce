package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Env variable names recognized by Load. Env values override file values.
const (
	envProvider = "MARGINALIA_PROVIDER"
	envBaseURL  = "MARGINALIA_BASE_URL"
	envAPIKey   = "MARGINALIA_API_KEY"
	envModel    = "MARGINALIA_MODEL"
	envTemp     = "MARGINALIA_TEMPERATURE"
)

// Load reads an EngineConfig from the YAML file at path, layering defaults
// beneath it and environment overrides above it. A missing file is not an
// error; defaults plus env are returned.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return EngineConfig{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return EngineConfig{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg EngineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func applyEnv(cfg *EngineConfig) {
	if v := os.Getenv(envProvider); v != "" {
		cfg.Provider = Provider(v)
	}
	if v := os.Getenv(envBaseURL); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv(envAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(envModel); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(envTemp); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
}
