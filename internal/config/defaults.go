package config

import "path/filepath"

// Default values for configuration options, chosen so a first run works
// with nothing but credentials.
const (
	defaultWorkers        = 4
	defaultMaxInflight    = 16
	defaultConnectTimeout = "10s"
	defaultUserAgent      = "sitevault"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// Used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Backup: BackupConfig{
			DestRoot:    filepath.Join(dataDir, "backups"),
			ManifestDir: filepath.Join(dataDir, "manifests"),
			StateFile:   filepath.Join(dataDir, "state.json"),
			Workers:     defaultWorkers,
		},
		Network: NetworkConfig{
			MaxInflight:    defaultMaxInflight,
			ConnectTimeout: defaultConnectTimeout,
			UserAgent:      defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
