package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variable names
const (
	EnvPrefix                = "YTFETCH_"
	KeyAddr                  = "ADDR"
	KeyDownloadDir           = "DOWNLOAD_DIR"
	KeyMaxParallel           = "MAX_PARALLEL_DOWNLOADS"
	KeyBatchParallel         = "BATCH_PARALLEL"
	KeyPageSize              = "PAGE_SIZE"
	KeySweepInterval         = "SWEEP_INTERVAL"
	KeyMaxFileAge            = "MAX_FILE_AGE"
	KeyProxyProgressInterval = "PROXY_PROGRESS_INTERVAL"
	KeyClearOnStart          = "CLEAR_ON_START"
	KeyLogLevel              = "LOG_LEVEL"
	KeyLogFormat             = "LOG_FORMAT"
	KeyCORSOrigin            = "CORS_ORIGIN"
	KeyShutdownTimeout       = "SHUTDOWN_TIMEOUT"
)

// Default values
const (
	DefaultAddr                  = ":5000"
	DefaultDownloadDir           = "downloads"
	DefaultMaxParallel           = 5
	DefaultBatchParallel         = 20
	DefaultPageSize              = 50
	DefaultSweepInterval         = 300 * time.Second
	DefaultMaxFileAge            = 3600 * time.Second
	DefaultProxyProgressInterval = 500 * time.Millisecond
	DefaultClearOnStart          = true
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "text"
	DefaultCORSOrigin            = "*"
	DefaultShutdownTimeout       = 30 * time.Second
)

// Limits
const (
	MaxParallelLimit   = 32
	BatchParallelLimit = 64
	PageSizeLimit      = 500
)

// ErrUnsupportedFormat is returned for config files that are neither TOML nor YAML
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Duration accepts "90s", "5m" or a bare number of seconds
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings is the service configuration
type Settings struct {
	Addr                  string   `toml:"addr" yaml:"addr"`
	DownloadDir           string   `toml:"download_dir" yaml:"download_dir"`
	MaxParallelDownloads  int      `toml:"max_parallel_downloads" yaml:"max_parallel_downloads"`
	BatchParallel         int      `toml:"batch_parallel" yaml:"batch_parallel"`
	PageSize              int      `toml:"page_size" yaml:"page_size"`
	SweepInterval         Duration `toml:"sweep_interval" yaml:"sweep_interval"`
	MaxFileAge            Duration `toml:"max_file_age" yaml:"max_file_age"`
	ProxyProgressInterval Duration `toml:"proxy_progress_interval" yaml:"proxy_progress_interval"`
	ClearOnStart          bool     `toml:"clear_on_start" yaml:"clear_on_start"`
	LogLevel              string   `toml:"log_level" yaml:"log_level"`
	LogFormat             string   `toml:"log_format" yaml:"log_format"`
	CORSOrigin            string   `toml:"cors_origin" yaml:"cors_origin"`
	ShutdownTimeout       Duration `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns settings with every default applied
func Default() *Settings {
	return &Settings{
		Addr:                  DefaultAddr,
		DownloadDir:           DefaultDownloadDir,
		MaxParallelDownloads:  DefaultMaxParallel,
		BatchParallel:         DefaultBatchParallel,
		PageSize:              DefaultPageSize,
		SweepInterval:         Duration(DefaultSweepInterval),
		MaxFileAge:            Duration(DefaultMaxFileAge),
		ProxyProgressInterval: Duration(DefaultProxyProgressInterval),
		ClearOnStart:          DefaultClearOnStart,
		LogLevel:              DefaultLogLevel,
		LogFormat:             DefaultLogFormat,
		CORSOrigin:            DefaultCORSOrigin,
		ShutdownTimeout:       Duration(DefaultShutdownTimeout),
	}
}

// Load reads defaults, then the optional config file, then the optional
// .env file, then YTFETCH_* variables. Later sources win.
func Load(path, envFile string) (*Settings, error) {
	s := Default()

	if path != "" {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	s.Normalize()
	return s, nil
}

func (s *Settings) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, s)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from YTFETCH_* variables found by lookup
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get(KeyAddr); ok {
		s.Addr = v
	}
	if v, ok := get(KeyDownloadDir); ok {
		s.DownloadDir = v
	}
	if v, ok := get(KeyLogLevel); ok {
		s.LogLevel = v
	}
	if v, ok := get(KeyLogFormat); ok {
		s.LogFormat = v
	}
	if v, ok := get(KeyCORSOrigin); ok {
		s.CORSOrigin = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{KeyMaxParallel, &s.MaxParallelDownloads},
		{KeyBatchParallel, &s.BatchParallel},
		{KeyPageSize, &s.PageSize},
	}
	for _, it := range ints {
		if v, ok := get(it.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, it.key, err)
			}
			*it.dst = n
		}
	}

	durations := []struct {
		key string
		dst *Duration
	}{
		{KeySweepInterval, &s.SweepInterval},
		{KeyMaxFileAge, &s.MaxFileAge},
		{KeyProxyProgressInterval, &s.ProxyProgressInterval},
		{KeyShutdownTimeout, &s.ShutdownTimeout},
	}
	for _, it := range durations {
		if v, ok := get(it.key); ok {
			if err := it.dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, it.key, err)
			}
		}
	}

	if v, ok := get(KeyClearOnStart); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, KeyClearOnStart, err)
		}
		s.ClearOnStart = b
	}
	return nil
}

// Normalize clamps numeric settings and restores defaults for empty values
func (s *Settings) Normalize() {
	s.SetMaxParallelDownloads(s.MaxParallelDownloads)
	s.SetBatchParallel(s.BatchParallel)
	s.SetPageSize(s.PageSize)

	if s.Addr == "" {
		s.Addr = DefaultAddr
	}
	if s.DownloadDir == "" {
		s.DownloadDir = DefaultDownloadDir
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = Duration(DefaultSweepInterval)
	}
	if s.MaxFileAge <= 0 {
		s.MaxFileAge = Duration(DefaultMaxFileAge)
	}
	if s.ProxyProgressInterval <= 0 {
		s.ProxyProgressInterval = Duration(DefaultProxyProgressInterval)
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
}

// SetMaxParallelDownloads sets the admission capacity
func (s *Settings) SetMaxParallelDownloads(count int) {
	s.MaxParallelDownloads = clamp(count, 1, MaxParallelLimit)
}

// SetBatchParallel sets the batch fan-out bound
func (s *Settings) SetBatchParallel(count int) {
	s.BatchParallel = clamp(count, 1, BatchParallelLimit)
}

// SetPageSize sets the listing page size
func (s *Settings) SetPageSize(size int) {
	s.PageSize = clamp(size, 1, PageSizeLimit)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
