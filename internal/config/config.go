// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for sitevault. It supports a
// three-layer override chain (defaults -> config file -> environment),
// with CLI flags applied on top by the command layer.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Backup  BackupConfig  `toml:"backup"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// AuthConfig holds the app-only credentials used to mint Graph tokens.
// The client secret may also arrive via SITEVAULT_CLIENT_SECRET so it
// never has to live in a file.
type AuthConfig struct {
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// BackupConfig controls where runs write and how hard they push.
type BackupConfig struct {
	DestRoot    string `toml:"dest_root"`
	ManifestDir string `toml:"manifest_dir"`
	StateFile   string `toml:"state_file"`
	Workers     int    `toml:"workers"`
}

// NetworkConfig controls HTTP client behavior. MaxInflight caps
// concurrent requests process-wide, across all workers.
type NetworkConfig struct {
	MaxInflight    int    `toml:"max_inflight"`
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	DestRoot   *string
	Workers    *int
}
