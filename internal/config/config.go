// Package config provides the YAML configuration model with env overrides.
package config

// Config is the root configuration. Values are loaded from YAML and then
// overridden by CUSTODYLEDGER_* environment variables (see Load).
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Contracts ContractsConfig `yaml:"contracts"`
}

// ServerConfig holds the HTTP listen addresses.
type ServerConfig struct {
	ListenAddr        string `yaml:"listen_addr"`        // invoke surface, e.g. :8080
	ObservabilityAddr string `yaml:"observability_addr"` // metrics/health/pprof, e.g. :9090
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console writer for development
}

// LedgerConfig holds transaction-engine and durability settings.
type LedgerConfig struct {
	CommitLogPath string `yaml:"commit_log_path"` // empty disables durability
	MaxRetries    int    `yaml:"max_retries"`     // conflict re-execution budget
}

// ContractsConfig holds per-contract behavior switches.
type ContractsConfig struct {
	// EmitCustodyEvents enables CustodyUpdated events on custody updates.
	// Off by default: enabling it extends the external event contract.
	EmitCustodyEvents bool `yaml:"emit_custody_events"`

	// MaxEpochScan caps the model_* range scan used when the latest-epoch
	// pointer is absent. 0 means unbounded; the scan is O(n) in epochs.
	MaxEpochScan int `yaml:"max_epoch_scan"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:        ":8080",
			ObservabilityAddr: ":9090",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Ledger: LedgerConfig{
			CommitLogPath: "custodyledger.log",
			MaxRetries:    3,
		},
		Contracts: ContractsConfig{
			EmitCustodyEvents: false,
			MaxEpochScan:      0,
		},
	}
}
