package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "grc-audit", cfg.LedgerID)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file:audit.db", cfg.DatabaseURL)
	assert.Equal(t, 100, cfg.CheckpointEvery)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AUDIT_DB_DRIVER", "postgres")
	t.Setenv("AUDIT_DB_URL", "postgres://audit@localhost:5432/audit")
	t.Setenv("AUDIT_HASH_KEY", "aa")
	t.Setenv("AUDIT_CHECKPOINT_EVERY", "25")
	t.Setenv("AUDIT_REDIS_DB", "3")

	cfg := Load()
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "postgres://audit@localhost:5432/audit", cfg.DatabaseURL)
	assert.Equal(t, "aa", cfg.Keys.HashKey)
	assert.Equal(t, 25, cfg.CheckpointEvery)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoadFileOverlays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.yaml")
	body := `
ledger_id: grc-prod
checkpoint_every: 50
keys:
  hash_key: ` + strings.Repeat("ab", 32) + `
  sign_key: ` + strings.Repeat("cd", 32) + `
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "grc-prod", cfg.LedgerID)
	assert.Equal(t, 50, cfg.CheckpointEvery)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver, "env default survives overlay")

	keys, err := cfg.Keyring()
	require.NoError(t, err)
	assert.NotNil(t, keys)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestKeyringRejectsBadMaterial(t *testing.T) {
	cfg := Load()
	cfg.Keys.HashKey = "not-hex"
	cfg.Keys.SignKey = "cdcd"
	_, err := cfg.Keyring()
	require.Error(t, err)

	cfg.Keys.HashKey = "abab" // hex but too short
	_, err = cfg.Keyring()
	require.Error(t, err)
}
