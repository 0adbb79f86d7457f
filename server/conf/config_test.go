package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.BindHost)
	assert.NotEmpty(t, cfg.HomeDir)
	assert.Equal(t, "tcp:127.0.0.1:7032", cfg.LocalAddr())
	assert.Equal(t, "127.0.0.1:7032", cfg.ListenAddr())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
	require.NoError(t, err)
	assert.Equal(t, Default().BindPort, cfg.BindPort)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c4.ini")
	contents := "[c4]\nbind_host = 0.0.0.0\nbind_port = 9001\nlog_level = debug\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.BindHost)
	assert.Equal(t, 9001, cfg.BindPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "tcp:0.0.0.0:9001", cfg.LocalAddr())
}

func TestPortDirIsolatesSiblingPorts(t *testing.T) {
	cfg := Default()
	cfg.HomeDir = t.TempDir()
	cfg.BindPort = 7032
	dirA := cfg.PortDir()
	cfg.BindPort = 7033
	dirB := cfg.PortDir()
	assert.NotEqual(t, dirA, dirB)

	cfg.BindPort = 7032
	require.NoError(t, cfg.EnsurePortDir())
	info, err := os.Stat(cfg.PortDir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
