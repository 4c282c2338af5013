package config

import "os"

// Environment variable names for overrides. The secret variable exists so
// credentials can stay out of the config file in CI and cron contexts.
const (
	EnvConfig       = "SITEVAULT_CONFIG"
	EnvTenantID     = "SITEVAULT_TENANT_ID"
	EnvClientID     = "SITEVAULT_CLIENT_ID"
	EnvClientSecret = "SITEVAULT_CLIENT_SECRET"
	EnvDestRoot     = "SITEVAULT_DEST"
	EnvLogLevel     = "SITEVAULT_LOG_LEVEL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string
	TenantID     string
	ClientID     string
	ClientSecret string
	DestRoot     string
	LogLevel     string
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		DestRoot:     os.Getenv(EnvDestRoot),
		LogLevel:     os.Getenv(EnvLogLevel),
	}
}
