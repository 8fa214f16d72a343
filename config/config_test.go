package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, "proxy-resource-list", cfg.Cluster.DocumentID)
	assert.Equal(t, 5000, cfg.Cluster.HeartbeatPeriod)
	assert.Equal(t, 15000, cfg.Cluster.StaleTimeout)
	assert.Equal(t, Tunables{HeartbeatPeriod: 5 * time.Second, StaleTimeout: 15 * time.Second}, cfg.Cluster.Tunables())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
storage:
  backend: badger
  data_dir: ./somewhere/../data
cluster:
  document_id: fleet
  heartbeat_period: 1000
  stale_timeout: 3000
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBadger, cfg.Storage.Backend)
	assert.Equal(t, "data", cfg.Storage.DataDir)
	assert.Equal(t, "fleet", cfg.Cluster.DocumentID)
	assert.Equal(t, time.Second, cfg.Cluster.Tunables().HeartbeatPeriod)
	assert.Equal(t, 3*time.Second, cfg.Cluster.Tunables().StaleTimeout)
	// untouched keys keep defaults
	assert.Equal(t, 9400, cfg.Server.Port)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "cluster:\n  stale_timeout: 3000\n")
	t.Setenv("CLUSTERDOC_CLUSTER_STALE_TIMEOUT", "20000")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.Cluster.StaleTimeout)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad backend", "storage:\n  backend: etcd\n", "storage.backend"},
		{"zero period", "cluster:\n  heartbeat_period: 0\n", "cluster.heartbeat_period"},
		{"negative stale", "cluster:\n  stale_timeout: -1\n", "cluster.stale_timeout"},
		{"empty document", "cluster:\n  document_id: \"\"\n", "cluster.document_id"},
		{"bad port", "server:\n  port: 70000\n", "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.body)
			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestStaticSourceNotifiesWatchers(t *testing.T) {
	src := NewStaticSource(Tunables{HeartbeatPeriod: time.Second, StaleTimeout: 3 * time.Second})

	var mu sync.Mutex
	var got []Tunables
	cancel := src.Watch(func(t Tunables) {
		mu.Lock()
		got = append(got, t)
		mu.Unlock()
	})
	assert.Equal(t, 1, src.Watchers())

	next := Tunables{HeartbeatPeriod: 2 * time.Second, StaleTimeout: 6 * time.Second}
	src.Set(next)
	assert.Equal(t, next, src.Current())

	cancel()
	cancel() // idempotent
	assert.Equal(t, 0, src.Watchers())
	src.Set(Tunables{HeartbeatPeriod: time.Minute, StaleTimeout: time.Hour})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Tunables{next}, got)
}

func TestFileSourceReload(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "cluster:\n  heartbeat_period: 1000\n  stale_timeout: 3000\n")

	src, cfg, err := NewFileSource(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, src.Current().StaleTimeout)
	assert.Equal(t, 3000, cfg.Cluster.StaleTimeout)

	changes := make(chan Tunables, 4)
	defer src.Watch(func(t Tunables) { changes <- t })()

	require.NoError(t, os.WriteFile(path, []byte("cluster:\n  heartbeat_period: 500\n  stale_timeout: 9000\n"), 0o644))

	select {
	case got := <-changes:
		assert.Equal(t, Tunables{HeartbeatPeriod: 500 * time.Millisecond, StaleTimeout: 9 * time.Second}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
	assert.Equal(t, 9*time.Second, src.Current().StaleTimeout)
}

func TestFileSourceIgnoresInvalidReload(t *testing.T) {
	src := &FileSource{cur: Tunables{HeartbeatPeriod: time.Second, StaleTimeout: time.Second}, log: zerolog.Nop()}
	called := false
	defer src.Watch(func(Tunables) { called = true })()

	src.reload(func() (*Config, error) { return nil, errors.New("broken yaml") }, "config.yaml")
	assert.False(t, called)
	assert.Equal(t, time.Second, src.Current().StaleTimeout)

	// Unchanged values do not notify either.
	same := GetDefaultConfig()
	same.Cluster.HeartbeatPeriod = 1000
	same.Cluster.StaleTimeout = 1000
	src.reload(func() (*Config, error) { return same, nil }, "config.yaml")
	assert.False(t, called)
}
