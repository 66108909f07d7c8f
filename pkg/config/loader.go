package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CHORUS_CONFIG env, ./config.yaml, /etc/chorus/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// explicit path, CHORUS_CONFIG, ./config.yaml, /etc/chorus/config.yaml.
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("CHORUS_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"config.yaml", "/etc/chorus/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file into cfg. Fields not present in the
// file keep their current values; lists present in the file replace the
// defaults.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps CHORUS_* environment variables onto cfg.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("CHORUS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CHORUS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("CHORUS_CREDENTIALS"); v != "" {
		cfg.Credentials.Type = v
	}
	if v := os.Getenv("CHORUS_POSTGRES_DSN"); v != "" {
		cfg.Credentials.Postgres.DSN = v
	}
	if v := os.Getenv("CHORUS_SEALING_KEY"); v != "" {
		cfg.Credentials.SealingKey = v
	}
	if v := os.Getenv("CHORUS_CATALOG_FILE"); v != "" {
		cfg.Catalog.File = v
	}
	if v := os.Getenv("CHORUS_OTEL_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Enabled = true
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("CHORUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CHORUS_DEBUG"); v != "" {
		cfg.Logging.Debug = v
	}

	// CHORUS_PROVIDERS and CHORUS_TARGETS: JSON arrays replacing the lists.
	if v := os.Getenv("CHORUS_PROVIDERS"); v != "" {
		var providers []ProviderConfig
		if err := json.Unmarshal([]byte(v), &providers); err != nil {
			return fmt.Errorf("parsing CHORUS_PROVIDERS: %w", err)
		}
		cfg.Providers = providers
	}
	if v := os.Getenv("CHORUS_TARGETS"); v != "" {
		var targets []TargetConfig
		if err := json.Unmarshal([]byte(v), &targets); err != nil {
			return fmt.Errorf("parsing CHORUS_TARGETS: %w", err)
		}
		cfg.Targets = targets
	}

	// CHORUS_API_KEY_<ID> seeds the key of one provider.
	for i := range cfg.Providers {
		if v := os.Getenv(APIKeyEnv(cfg.Providers[i].ID)); v != "" {
			cfg.Providers[i].APIKey = v
		}
	}
	return nil
}

// APIKeyEnv returns the environment variable holding a provider's key,
// for example CHORUS_API_KEY_OPENAI or CHORUS_API_KEY_LOCAL_VLLM.
func APIKeyEnv(providerID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			return r
		}
		return '_'
	}, providerID)
	return "CHORUS_API_KEY_" + id
}

// resolveFileReferences reads _file fields into their value fields when
// the value is not already set.
func resolveFileReferences(cfg *Config) error {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKeyFile != "" && p.APIKey == "" {
			val, err := readSecretFile(p.APIKeyFile)
			if err != nil {
				return fmt.Errorf("providers[%d].api_key_file: %w", i, err)
			}
			p.APIKey = val
		}
	}

	if cfg.Credentials.SealingKeyFile != "" && cfg.Credentials.SealingKey == "" {
		val, err := readSecretFile(cfg.Credentials.SealingKeyFile)
		if err != nil {
			return fmt.Errorf("credentials.sealing_key_file: %w", err)
		}
		cfg.Credentials.SealingKey = val
	}

	if cfg.Credentials.Postgres.DSNFile != "" && cfg.Credentials.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Credentials.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("credentials.postgres.dsn_file: %w", err)
		}
		cfg.Credentials.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
