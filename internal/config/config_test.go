package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "disk", cfg.Cache.Backend)
	assert.Equal(t, "images", cfg.Cache.Namespace)
	assert.Equal(t, int64(1), cfg.Decode.Concurrency)
	assert.True(t, cfg.Decode.Animated)
	assert.Equal(t, "fail", cfg.Pool.Reject)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netimage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "9000"
cache:
  dir: /var/cache/netimage
  disk_max_bytes: 1048576
pool:
  workers: 4
  idle_timeout: 30s
fetch:
  timeout: 5s
`), 0o644))

	env := envFrom(map[string]string{
		"POOL_WORKERS": "6",
		"COALESCE":     "true",
	})
	cfg, err := Load([]string{"--config", path, "--workers", "8", "--reject-policy", "block"}, env)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port, "file")
	assert.Equal(t, "/var/cache/netimage", cfg.Cache.Dir, "file")
	assert.Equal(t, int64(1<<20), cfg.Cache.DiskMaxBytes, "file")
	assert.Equal(t, 30*time.Second, cfg.Pool.IdleTimeout, "file")
	assert.Equal(t, 5*time.Second, cfg.Fetch.Timeout, "file")
	assert.True(t, cfg.Decode.Coalesce, "env")
	assert.Equal(t, 8, cfg.Pool.Workers, "flag beats env")
	assert.Equal(t, "block", cfg.Pool.Reject, "flag")
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7000\"\n"), 0o644))

	cfg, err := Load(nil, envFrom(map[string]string{"NETIMAGE_CONFIG": path}))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prot: 1\n"), 0o644))

	_, err := Load([]string{"--config", path}, envFrom(nil))
	assert.Error(t, err)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "bad backend", args: []string{"--blob-backend", "s3"}},
		{name: "bad reject policy", env: map[string]string{"POOL_REJECT": "drop-oldest"}},
		{name: "bad port", args: []string{"--port", "http"}},
		{name: "bad env number", env: map[string]string{"POOL_WORKERS": "many"}},
		{name: "bad fraction", args: []string{"--memory-fraction", "2"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, envFrom(tt.env))
			assert.Error(t, err)
		})
	}
}
