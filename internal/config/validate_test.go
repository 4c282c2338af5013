package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backup.Workers = 0
	cfg.Backup.DestRoot = ""
	cfg.Network.MaxInflight = 0
	cfg.Network.ConnectTimeout = "soon"
	cfg.Logging.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)

	for _, fragment := range []string{"workers", "dest_root", "max_inflight", "connect_timeout", "log_format"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestValidateConnectTimeoutTooShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network.ConnectTimeout = "10ms"

	assert.Error(t, Validate(cfg))
}

func TestValidateAuth(t *testing.T) {
	complete := AuthConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
	assert.NoError(t, ValidateAuth(&complete))

	missing := AuthConfig{TenantID: "t"}
	err := ValidateAuth(&missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id")
	assert.Contains(t, err.Error(), "client_secret")
	assert.Contains(t, err.Error(), EnvClientSecret, "error should name the env escape hatch")
}
