package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 0, cfg.DeviceIndex)
	assert.Equal(t, 30*time.Second, cfg.KernelSourceTTL)
	assert.Equal(t, "default", cfg.SessionID)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tensorcl.yaml")
	body := "device_index: 2\nlog_intermediates: true\nsession_id: my-session\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.DeviceIndex)
	assert.True(t, cfg.LogIntermediates)
	assert.Equal(t, "my-session", cfg.SessionID)
	// unset fields keep Default()'s values
	assert.Equal(t, 30*time.Second, cfg.KernelSourceTTL)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_index: [this, is, not, an, int]\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestNewSessionIDIsUniqueAndNonEmpty(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
