package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, "minioadmin", cfg.Auth.RootAccessKey)
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0600))

	t.Setenv("WARREN_S3_PORT", "9200")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9200, cfg.Server.Port)
}

func TestResolveMasterKeyFromDirectValue(t *testing.T) {
	e := EncryptionConfig{Enabled: true, MasterKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"}
	key, err := e.ResolveMasterKey()
	require.NoError(t, err)
	require.Len(t, key, 32)
}

func TestResolveMasterKeyMissingErrorsWhenEnabled(t *testing.T) {
	e := EncryptionConfig{Enabled: true}
	_, err := e.ResolveMasterKey()
	require.Error(t, err)
}
