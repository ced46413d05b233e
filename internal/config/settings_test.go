package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.Equal(t, ":5000", s.Addr)
	assert.Equal(t, "downloads", s.DownloadDir)
	assert.Equal(t, 5, s.MaxParallelDownloads)
	assert.Equal(t, 20, s.BatchParallel)
	assert.Equal(t, 50, s.PageSize)
	assert.Equal(t, 300*time.Second, s.SweepInterval.Std())
	assert.Equal(t, time.Hour, s.MaxFileAge.Std())
	assert.Equal(t, 500*time.Millisecond, s.ProxyProgressInterval.Std())
	assert.True(t, s.ClearOnStart)
}

func TestMaxParallelDownloads(t *testing.T) {
	s := Default()

	s.SetMaxParallelDownloads(8)
	assert.Equal(t, 8, s.MaxParallelDownloads)

	s.SetMaxParallelDownloads(0)
	assert.Equal(t, 1, s.MaxParallelDownloads, "should be clamped to minimum 1")

	s.SetMaxParallelDownloads(1000)
	assert.Equal(t, MaxParallelLimit, s.MaxParallelDownloads, "should be clamped to maximum")
}

func TestBatchParallelAndPageSize(t *testing.T) {
	s := Default()

	s.SetBatchParallel(-3)
	assert.Equal(t, 1, s.BatchParallel)
	s.SetBatchParallel(500)
	assert.Equal(t, BatchParallelLimit, s.BatchParallel)

	s.SetPageSize(0)
	assert.Equal(t, 1, s.PageSize)
	s.SetPageSize(100)
	assert.Equal(t, 100, s.PageSize)
}

func TestLoad_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ytfetch.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr = ":8080"
download_dir = "/tmp/media"
max_parallel_downloads = 3
sweep_interval = "1m"
max_file_age = "120"
clear_on_start = false
`), 0o644))

	s, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Addr)
	assert.Equal(t, "/tmp/media", s.DownloadDir)
	assert.Equal(t, 3, s.MaxParallelDownloads)
	assert.Equal(t, time.Minute, s.SweepInterval.Std())
	assert.Equal(t, 2*time.Minute, s.MaxFileAge.Std())
	assert.False(t, s.ClearOnStart)
	assert.Equal(t, 20, s.BatchParallel, "untouched keys keep defaults")
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ytfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
batch_parallel: 12
page_size: 25
proxy_progress_interval: 250ms
log_format: json
`), 0o644))

	s, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 12, s.BatchParallel)
	assert.Equal(t, 25, s.PageSize)
	assert.Equal(t, 250*time.Millisecond, s.ProxyProgressInterval.Std())
	assert.Equal(t, "json", s.LogFormat)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.toml"), "")
	assert.Error(t, err)

	ini := filepath.Join(dir, "ytfetch.ini")
	require.NoError(t, os.WriteFile(ini, []byte("x=1"), 0o644))
	_, err = Load(ini, "")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sweep_interval: soon\n"), 0o644))
	_, err = Load(bad, "")
	assert.Error(t, err)
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	s, err := Load("", filepath.Join(t.TempDir(), ".env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultAddr, s.Addr)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"YTFETCH_ADDR":                   ":9000",
		"YTFETCH_MAX_PARALLEL_DOWNLOADS": "2",
		"YTFETCH_SWEEP_INTERVAL":         "10s",
		"YTFETCH_CLEAR_ON_START":         "false",
		"YTFETCH_LOG_LEVEL":              "  ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	s := Default()
	require.NoError(t, s.ApplyEnv(lookup))

	assert.Equal(t, ":9000", s.Addr)
	assert.Equal(t, 2, s.MaxParallelDownloads)
	assert.Equal(t, 10*time.Second, s.SweepInterval.Std())
	assert.False(t, s.ClearOnStart)
	assert.Equal(t, DefaultLogLevel, s.LogLevel, "blank values are ignored")
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"YTFETCH_PAGE_SIZE":      "many",
		"YTFETCH_MAX_FILE_AGE":   "forever",
		"YTFETCH_CLEAR_ON_START": "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return value, true
				}
				return "", false
			}
			assert.Error(t, Default().ApplyEnv(lookup))
		})
	}
}

func TestNormalize(t *testing.T) {
	s := &Settings{MaxParallelDownloads: 99}
	s.Normalize()

	assert.Equal(t, MaxParallelLimit, s.MaxParallelDownloads)
	assert.Equal(t, DefaultAddr, s.Addr)
	assert.Equal(t, DefaultDownloadDir, s.DownloadDir)
	assert.Equal(t, DefaultSweepInterval, s.SweepInterval.Std())
	assert.Equal(t, DefaultMaxFileAge, s.MaxFileAge.Std())
}
