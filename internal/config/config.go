package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every named threshold and interval the sentinel runs with.
// A *Config is treated as immutable once handed to a running component;
// reloads build a new value and swap it in whole.
type Config struct {
	CPUThreshold    float64 `yaml:"cpu_threshold"`
	MemoryThreshold float64 `yaml:"memory_threshold"`
	DiskThreshold   float64 `yaml:"disk_threshold"`

	CheckInterval   time.Duration `yaml:"check_interval"`
	SampleTimeout   time.Duration `yaml:"sample_timeout"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
	CooldownSeconds int           `yaml:"cooldown_seconds"`
	HistorySize     int           `yaml:"history_size"`

	GrowthWindow      int           `yaml:"growth_window"`
	MemoryGrowthLimit float64       `yaml:"memory_growth_limit"`
	CycleTimeMultiple float64       `yaml:"cycle_time_multiple"`
	CycleTimeCeiling  time.Duration `yaml:"cycle_time_ceiling"`
	ErrorRateCeiling  float64       `yaml:"error_rate_ceiling"`
	ErrorWindow       int           `yaml:"error_window"`

	MaxMemoryEntries   int `yaml:"max_memory_entries"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	MaxBackups         int `yaml:"max_backups"`
	MinRetention       int `yaml:"min_retention"`

	DataDir  string `yaml:"data_dir"`
	KeyFile  string `yaml:"key_file"`
	DiskPath string `yaml:"disk_path"`

	Listen         string        `yaml:"listen"`
	AuthSecretFile string        `yaml:"auth_secret_file"`
	TokenExpiry    time.Duration `yaml:"token_expiry"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	AllowedIPs     []string      `yaml:"allowed_ips"`

	Upload UploadConfig `yaml:"upload"`

	// Path the config was read from (not YAML)
	Path string `yaml:"-"`
}

// UploadConfig configures remote sync of backup archives
type UploadConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ProjectID       string        `yaml:"project_id"`
	Bucket          string        `yaml:"bucket"`
	CredentialsFile string        `yaml:"credentials_file"`
	Prefix          string        `yaml:"prefix"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		CPUThreshold:       80,
		MemoryThreshold:    80,
		DiskThreshold:      90,
		CheckInterval:      30 * time.Second,
		SampleTimeout:      5 * time.Second,
		CallbackTimeout:    2 * time.Second,
		CooldownSeconds:    300,
		HistorySize:        100,
		GrowthWindow:       5,
		MemoryGrowthLimit:  20,
		CycleTimeMultiple:  2,
		ErrorRateCeiling:   0.1,
		ErrorWindow:        10,
		MaxMemoryEntries:   1000,
		RateLimitPerMinute: 60,
		MaxBackups:         10,
		MinRetention:       2,
		DataDir:            "data",
		DiskPath:           "/",
		Listen:             "127.0.0.1:8090",
		TokenExpiry:        90 * 24 * time.Hour,
		Upload: UploadConfig{
			Prefix:  "sentinel",
			Timeout: 30 * time.Second,
		},
	}
}

// Cooldown returns the alert de-duplication window
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RecordsDir is where the encrypted record table lives
func (c *Config) RecordsDir() string { return filepath.Join(c.DataDir, "records") }

// BackupsDir is where archives and their manifest live
func (c *Config) BackupsDir() string { return filepath.Join(c.DataDir, "backups") }

// KeyPath is the key file, defaulting to <data_dir>/sentinel.key
func (c *Config) KeyPath() string {
	if c.KeyFile != "" {
		return c.KeyFile
	}
	return filepath.Join(c.DataDir, "sentinel.key")
}

// AlertLogPath is the append-only alert log database
func (c *Config) AlertLogPath() string { return filepath.Join(c.DataDir, "alerts.db") }

// Clone returns a deep copy safe to modify.
func (c *Config) Clone() *Config {
	cp := *c
	cp.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	cp.AllowedIPs = append([]string(nil), c.AllowedIPs...)
	return &cp
}

// Validate rejects configurations that would leave the sentinel half-working.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]float64{
		"cpu_threshold":    c.CPUThreshold,
		"memory_threshold": c.MemoryThreshold,
		"disk_threshold":   c.DiskThreshold,
	} {
		if v <= 0 || v > 100 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 100], got %v", name, v))
		}
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, errors.New("check_interval must be positive"))
	}
	if c.SampleTimeout <= 0 {
		errs = append(errs, errors.New("sample_timeout must be positive"))
	}
	if c.CallbackTimeout <= 0 {
		errs = append(errs, errors.New("callback_timeout must be positive"))
	}
	if c.CooldownSeconds < 0 {
		errs = append(errs, errors.New("cooldown_seconds must not be negative"))
	}
	if c.HistorySize < 1 {
		errs = append(errs, errors.New("history_size must be at least 1"))
	}
	if c.GrowthWindow < 1 {
		errs = append(errs, errors.New("growth_window must be at least 1"))
	}
	if c.CycleTimeMultiple <= 1 {
		errs = append(errs, errors.New("cycle_time_multiple must be greater than 1"))
	}
	if c.ErrorRateCeiling < 0 || c.ErrorRateCeiling > 1 {
		errs = append(errs, errors.New("error_rate_ceiling must be in [0, 1]"))
	}
	if c.MaxMemoryEntries < 1 {
		errs = append(errs, errors.New("max_memory_entries must be at least 1"))
	}
	if c.RateLimitPerMinute < 1 {
		errs = append(errs, errors.New("rate_limit_per_minute must be at least 1"))
	}
	if c.MaxBackups < 1 {
		errs = append(errs, errors.New("max_backups must be at least 1"))
	}
	if c.MinRetention < 0 {
		errs = append(errs, errors.New("min_retention must not be negative"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Upload.Enabled && c.Upload.Bucket == "" {
		errs = append(errs, errors.New("upload.bucket is required when upload is enabled"))
	}
	return errors.Join(errs...)
}

// Load reads configuration with priority: defaults < YAML file < env vars.
// Flags are applied by the caller afterwards. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.Path = path

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SENTINEL_DATA_DIR":    &cfg.DataDir,
		"SENTINEL_KEY_FILE":    &cfg.KeyFile,
		"SENTINEL_LISTEN":      &cfg.Listen,
		"SENTINEL_DISK_PATH":   &cfg.DiskPath,
		"SENTINEL_AUTH_SECRET": &cfg.AuthSecretFile,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"SENTINEL_CPU_THRESHOLD":    &cfg.CPUThreshold,
		"SENTINEL_MEMORY_THRESHOLD": &cfg.MemoryThreshold,
		"SENTINEL_DISK_THRESHOLD":   &cfg.DiskThreshold,
	}
	for name, dst := range floats {
		if v, ok := lookup(name); ok && v != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			*dst = f
		}
	}

	if v, ok := lookup("SENTINEL_CHECK_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_CHECK_INTERVAL: %w", err)
		}
		cfg.CheckInterval = d
	}
	return nil
}
