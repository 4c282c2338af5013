package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minWorkers        = 1
	maxWorkers        = 64
	minInflight       = 1
	maxInflight       = 256
	minConnectTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateBackup(&cfg.Backup)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateAuth checks that credentials are complete. Separate from
// Validate because read-only commands (status, verify) run without them.
func ValidateAuth(a *AuthConfig) error {
	var errs []error

	if a.TenantID == "" {
		errs = append(errs, fmt.Errorf("auth.tenant_id: required (or set %s)", EnvTenantID))
	}

	if a.ClientID == "" {
		errs = append(errs, fmt.Errorf("auth.client_id: required (or set %s)", EnvClientID))
	}

	if a.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("auth.client_secret: required (or set %s)", EnvClientSecret))
	}

	return errors.Join(errs...)
}

func validateBackup(b *BackupConfig) []error {
	var errs []error

	if b.Workers < minWorkers || b.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, b.Workers))
	}

	if b.DestRoot == "" {
		errs = append(errs, errors.New("dest_root: must not be empty"))
	}

	if b.ManifestDir == "" {
		errs = append(errs, errors.New("manifest_dir: must not be empty"))
	}

	if b.StateFile == "" {
		errs = append(errs, errors.New("state_file: must not be empty"))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.MaxInflight < minInflight || n.MaxInflight > maxInflight {
		errs = append(errs, fmt.Errorf("max_inflight: must be between %d and %d, got %d",
			minInflight, maxInflight, n.MaxInflight))
	}

	d, err := time.ParseDuration(n.ConnectTimeout)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("connect_timeout: invalid duration %q: %w", n.ConnectTimeout, err))
	case d < minConnectTimeout:
		errs = append(errs, fmt.Errorf("connect_timeout: must be >= %s, got %s", minConnectTimeout, d))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}
