package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no stray tagscope.yaml
// is picked up.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "simulator", cfg.Device)
	assert.Equal(t, uint64(1), cfg.SimSeed)
	assert.Equal(t, "/var/lib/tagscope", cfg.StateDir)
	assert.Equal(t, ".", cfg.ExportDir)
	assert.Equal(t, "0.0.0.0", cfg.ListenAddress)
	assert.Equal(t, 2270, cfg.Port)
	assert.Equal(t, "0.0.0.0:2270", cfg.Addr())
	assert.Equal(t, 1<<20, cfg.APIMaxBodyBytes)
	assert.Empty(t, cfg.AdminToken)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 30, cfg.WindowCapacity)
	assert.Equal(t, []int{1, 2}, cfg.LiveChannels)
	assert.Equal(t, 100, cfg.ExposureMs)
	assert.Equal(t, 1000, cfg.CoincidenceWindowBins)
	assert.Equal(t, 1, cfg.Hg2Idler)
	assert.Equal(t, 2, cfg.Hg2Channel1)
	assert.Equal(t, 3, cfg.Hg2Channel2)
	assert.Equal(t, 12, cfg.Hg2BinWidth)
	assert.Equal(t, 256, cfg.Hg2BinCount)
	assert.Equal(t, 5*time.Second, cfg.Hg2Wait)
	assert.Empty(t, cfg.Hg2Schedule)
	assert.Equal(t, 1000, cfg.ChartWidth)
	assert.Equal(t, 700, cfg.ChartHeight)
	assert.Equal(t, 64, cfg.ChartCacheEntries)
	assert.Empty(t, cfg.Source)
}

func TestLoad_EnvOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("TAGSCOPE_PORT", "8080")
	t.Setenv("TAGSCOPE_POLL_INTERVAL", "250ms")
	t.Setenv("TAGSCOPE_LIVE_CHANNELS", "1,3,33")
	t.Setenv("TAGSCOPE_HG2_SCHEDULE", "0 */6 * * *")
	t.Setenv("TAGSCOPE_ADMIN_TOKEN", "a9f73d18e5249b6a35f7419d11c603e2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []int{1, 3, 33}, cfg.LiveChannels)
	assert.Equal(t, "0 */6 * * *", cfg.Hg2Schedule)
	assert.Equal(t, "a9f73d18e5249b6a35f7419d11c603e2", cfg.AdminToken)
}

func TestLoad_File(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
export_dir: /data/exports
window_capacity: 60
live_channels: [1, 2, 33]
hg2_wait: 30s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Source)
	assert.Equal(t, "/data/exports", cfg.ExportDir)
	assert.Equal(t, 60, cfg.WindowCapacity)
	assert.Equal(t, []int{1, 2, 33}, cfg.LiveChannels)
	assert.Equal(t, 30*time.Second, cfg.Hg2Wait)

	t.Setenv("TAGSCOPE_WINDOW_CAPACITY", "10")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.WindowCapacity, "environment wins over file")
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := inTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tagscope.yaml"), []byte("port: 9000\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.NotEmpty(t, cfg.Source)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	dir := inTempDir(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_ValidationCollectsEveryProblem(t *testing.T) {
	inTempDir(t)
	t.Setenv("TAGSCOPE_DEVICE", "qutag")
	t.Setenv("TAGSCOPE_PORT", "0")
	t.Setenv("TAGSCOPE_LOG_LEVEL", "loud")
	t.Setenv("TAGSCOPE_WINDOW_CAPACITY", "0")
	t.Setenv("TAGSCOPE_LIVE_CHANNELS", "1,1,59")
	t.Setenv("TAGSCOPE_EXPOSURE_MS", "70000")
	t.Setenv("TAGSCOPE_HG2_IDLER", "0")
	t.Setenv("TAGSCOPE_HG2_BIN_COUNT", "4611686018427387904")
	t.Setenv("TAGSCOPE_HG2_WAIT", "48h")
	t.Setenv("TAGSCOPE_HG2_SCHEDULE", "every day")
	t.Setenv("TAGSCOPE_ADMIN_TOKEN", "password")

	_, err := Load("")
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"device: unknown driver",
		"port: port must be 1-65535",
		"log_level",
		"window_capacity: must be positive",
		"live_channels: duplicate counter index 1",
		"live_channels: counter index 59",
		"exposure_ms must be 0-65535",
		"hg2_idler: channel must be 1-32",
		"hg2_bin_count: must be 1-4096",
		"hg2_wait must be in (0, 1h0m0s]",
		"hg2_schedule: invalid cron expression",
		"admin_token is too weak",
	} {
		assert.Contains(t, msg, want)
	}
}
