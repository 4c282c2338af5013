package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[auth]
tenant_id = "contoso.onmicrosoft.com"
client_id = "11111111-2222-3333-4444-555555555555"
client_secret = "s3cr3t"

[backup]
dest_root = "/srv/backups"
manifest_dir = "/srv/manifests"
state_file = "/srv/state.json"
workers = 8

[network]
max_inflight = 32
connect_timeout = "5s"
user_agent = "sitevault-ci"

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "contoso.onmicrosoft.com", cfg.Auth.TenantID)
	assert.Equal(t, "/srv/backups", cfg.Backup.DestRoot)
	assert.Equal(t, 8, cfg.Backup.Workers)
	assert.Equal(t, 32, cfg.Network.MaxInflight)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
}

func TestLoadPartialConfigKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[backup]
workers = 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Backup.Workers)
	assert.Equal(t, defaultMaxInflight, cfg.Network.MaxInflight)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
	assert.NotEmpty(t, cfg.Backup.StateFile)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, `
[backup]
workres = 2
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.workres")
	assert.Contains(t, err.Error(), "backup.workers", "should suggest the closest key")
}

func TestLoadRejectsUnknownSection(t *testing.T) {
	path := writeConfig(t, `
[sink]
kind = "s3"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
[backup]
workers = 0

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workers")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultWorkers, cfg.Backup.Workers)
}

func TestResolvePrecedence(t *testing.T) {
	path := writeConfig(t, `
[backup]
dest_root = "/from/file"
workers = 8
`)

	env := EnvOverrides{
		ConfigPath: path,
		DestRoot:   "/from/env",
		TenantID:   "env-tenant",
	}

	cliDest := "/from/cli"
	cli := CLIOverrides{DestRoot: &cliDest}

	cfg, err := Resolve(env, cli)
	require.NoError(t, err)

	// CLI > env > file.
	assert.Equal(t, "/from/cli", cfg.Backup.DestRoot)
	assert.Equal(t, "env-tenant", cfg.Auth.TenantID)
	assert.Equal(t, 8, cfg.Backup.Workers)
}

func TestResolveCLIWorkers(t *testing.T) {
	path := writeConfig(t, "")

	workers := 12
	cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Workers: &workers})
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Backup.Workers)
}

func TestResolveValidatesFinalResult(t *testing.T) {
	path := writeConfig(t, "")

	workers := 10_000
	_, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{Workers: &workers})
	assert.Error(t, err)
}
