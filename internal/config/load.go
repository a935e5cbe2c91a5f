package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path (optional; empty path keeps defaults) and
// applies environment overrides. Env always wins over file values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Ledger.MaxRetries < 0 {
		return cfg, fmt.Errorf("config: ledger.max_retries must be >= 0")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CUSTODYLEDGER_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("CUSTODYLEDGER_OBSERVABILITY_ADDR"); v != "" {
		cfg.Server.ObservabilityAddr = v
	}
	if v := os.Getenv("CUSTODYLEDGER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("CUSTODYLEDGER_LOG_PRETTY"); v != "" {
		cfg.Log.Pretty = v == "true" || v == "1"
	}
	if v := os.Getenv("CUSTODYLEDGER_COMMIT_LOG_PATH"); v != "" {
		cfg.Ledger.CommitLogPath = v
	}
	if v := os.Getenv("CUSTODYLEDGER_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.MaxRetries = n
		}
	}
	if v := os.Getenv("CUSTODYLEDGER_EMIT_CUSTODY_EVENTS"); v != "" {
		cfg.Contracts.EmitCustodyEvents = v == "true" || v == "1"
	}
	if v := os.Getenv("CUSTODYLEDGER_MAX_EPOCH_SCAN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Contracts.MaxEpochScan = n
		}
	}
}
