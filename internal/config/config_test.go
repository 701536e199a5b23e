package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().CPUThreshold, cfg.CPUThreshold)
	assert.Equal(t, 30*time.Second, cfg.CheckInterval)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cpu_threshold: 70
check_interval: 5s
max_backups: 3
cooldown_seconds: 60
upload:
  enabled: true
  bucket: archives
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 70.0, cfg.CPUThreshold)
	assert.Equal(t, 5*time.Second, cfg.CheckInterval)
	assert.Equal(t, 3, cfg.MaxBackups)
	assert.Equal(t, time.Minute, cfg.Cooldown())
	assert.True(t, cfg.Upload.Enabled)
	assert.Equal(t, "archives", cfg.Upload.Bucket)
	assert.Equal(t, "sentinel", cfg.Upload.Prefix, "unset nested keys keep defaults")
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 70\n"), 0o600))
	t.Setenv("SENTINEL_CPU_THRESHOLD", "65")
	t.Setenv("SENTINEL_CHECK_INTERVAL", "2s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 65.0, cfg.CPUThreshold)
	assert.Equal(t, 2*time.Second, cfg.CheckInterval)
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("SENTINEL_DISK_THRESHOLD", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.CPUThreshold = 0
	cfg.MaxBackups = 0
	cfg.CycleTimeMultiple = 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cpu_threshold")
	assert.Contains(t, err.Error(), "max_backups")
	assert.Contains(t, err.Error(), "cycle_time_multiple")
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := Default()
	cfg.AllowedIPs = []string{"10.0.0.1"}
	cp := cfg.Clone()
	cp.AllowedIPs[0] = "10.0.0.2"
	cp.CPUThreshold = 1
	assert.Equal(t, "10.0.0.1", cfg.AllowedIPs[0])
	assert.Equal(t, 80.0, cfg.CPUThreshold)
}

func TestWatcherReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 80\n"), 0o600))

	base := Default()
	base.DataDir = filepath.Join(dir, "data")

	var mu sync.Mutex
	var got []*Config
	w, err := NewWatcher(path, base, testr.New(t), func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, c)
	})
	require.NoError(t, err)
	defer w.Close()

	// An invalid threshold is ignored, a valid one is delivered.
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 500\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 55\ndata_dir: elsewhere\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range got {
			if c.CPUThreshold == 55 {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, c := range got {
		assert.NotEqual(t, 500.0, c.CPUThreshold)
		assert.Equal(t, base.DataDir, c.DataDir, "data_dir is pinned for the process lifetime")
	}
}

func TestWatcherKeepsEnvironmentOverrides(t *testing.T) {
	t.Setenv("SENTINEL_CPU_THRESHOLD", "42")
	t.Setenv("SENTINEL_CHECK_INTERVAL", "7s")

	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 80\n"), 0o600))

	base, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 42.0, base.CPUThreshold)
	base.DataDir = filepath.Join(dir, "from-flag")

	reloaded := make(chan *Config, 16)
	w, err := NewWatcher(path, base, testr.New(t), func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 90\nmemory_threshold: 75\ncheck_interval: 1m\n"), 0o600))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-reloaded:
			assert.Equal(t, 42.0, c.CPUThreshold, "env beats the file")
			assert.Equal(t, 7*time.Second, c.CheckInterval)
			assert.Equal(t, base.DataDir, c.DataDir, "flag override survives the reload")
			if c.MemoryThreshold == 75 {
				return
			}
		case <-deadline:
			t.Fatal("reload with the new file contents never delivered")
		}
	}
}
