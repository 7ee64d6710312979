package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 3215, cfg.Port)
	assert.Equal(t, "skillswap.db", cfg.DBPath)
	assert.Equal(t, 120*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "@gmail.com", cfg.EmailSuffix)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SKILLSWAP_PORT", "4000")
	t.Setenv("SKILLSWAP_DB_PATH", "/tmp/other.db")

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())
	err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("email_suffix: \"@example.org\"\nread_timeout: 5s\n"), 0o600)
	require.NoError(t, err)

	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "@example.org", cfg.EmailSuffix)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Port: 70000, DBPath: "x.db", ReadTimeout: time.Second, WriteTimeout: time.Second, EmailSuffix: "@gmail.com"}
	assert.Error(t, cfg.Validate())

	cfg.Port = 0
	assert.NoError(t, cfg.Validate())

	cfg.EmailSuffix = ""
	assert.Error(t, cfg.Validate())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
