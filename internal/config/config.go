package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. STORYKIT_LOG_LEVEL.
const EnvPrefix = "STORYKIT_"

// Config represents the storykit configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Backend   BackendConfig   `yaml:"backend" envPrefix:"BACKEND_"`
	Wardrobe  WardrobeConfig  `yaml:"wardrobe" envPrefix:"WARDROBE_"`
	Reader    ReaderConfig    `yaml:"reader" envPrefix:"READER_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json or text
	File   string `yaml:"file" env:"FILE"`     // Log file path (empty = stderr)
}

// BackendConfig holds backend connection settings.
type BackendConfig struct {
	Target         string `yaml:"target" env:"TARGET"`                     // gRPC target, host:port
	CallTimeoutMs  int    `yaml:"call_timeout_ms" env:"CALL_TIMEOUT_MS"`   // Per-call deadline
	PollIntervalMs int    `yaml:"poll_interval_ms" env:"POLL_INTERVAL_MS"` // Subscription poll interval
}

// WardrobeConfig holds wardrobe generation settings.
type WardrobeConfig struct {
	ProgressThreshold float64 `yaml:"progress_threshold" env:"PROGRESS_THRESHOLD"` // Reading progress (%) that triggers generation
	StaleAfterMins    int     `yaml:"stale_after_mins" env:"STALE_AFTER_MINS"`     // Processing marker staleness threshold
	UnlockTimeoutMs   int     `yaml:"unlock_timeout_ms" env:"UNLOCK_TIMEOUT_MS"`   // Unlock notification deadline
	CatalogPath       string  `yaml:"catalog_path" env:"CATALOG_PATH"`             // Item catalog (empty = default path)
	ImageCacheDir     string  `yaml:"image_cache_dir" env:"IMAGE_CACHE_DIR"`       // Prefetched images (empty = default path)
}

// ReaderConfig holds reading state settings.
type ReaderConfig struct {
	Prefetch bool `yaml:"prefetch" env:"PREFETCH"` // Subscribe to the next page ahead of time
}

// StorageConfig holds durable cache settings.
type StorageConfig struct {
	DBPath string `yaml:"db_path" env:"DB_PATH"` // SQLite file (empty = default path)
}

// TelemetryConfig holds tracing export settings.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"` // OTLP/HTTP endpoint URL (empty = tracing off)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File:   "", // stderr
		},
		Backend: BackendConfig{
			Target:         "localhost:7420",
			CallTimeoutMs:  30000,
			PollIntervalMs: 2000,
		},
		Wardrobe: WardrobeConfig{
			ProgressThreshold: 90,
			StaleAfterMins:    10,
			UnlockTimeoutMs:   15000,
			CatalogPath:       "", // Use default from paths
			ImageCacheDir:     "", // Use default from paths
		},
		Reader: ReaderConfig{
			Prefetch: true,
		},
		Storage: StorageConfig{
			DBPath: "", // Use default from paths
		},
	}
}

// Load loads configuration from the default path.
func Load() (*Config, error) {
	paths := DefaultPaths()
	return LoadFromFile(paths.ConfigFile())
}

// LoadFromFile loads configuration from the specified file.
// If the file doesn't exist, returns default configuration.
// Environment variable overrides are applied after file loading.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to the default path.
func (c *Config) Save() error {
	paths := DefaultPaths()
	return c.SaveToFile(paths.ConfigFile())
}

// SaveToFile saves the configuration to the specified file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides applies STORYKIT_* environment variables on top of
// the current values. Unset variables leave fields untouched.
// STORYKIT_DEBUG=true is a shorthand for STORYKIT_LOG_LEVEL=debug.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v := os.Getenv(EnvPrefix + "DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil && b {
			c.Log.Level = "debug"
		}
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	if !isValidLogFormat(c.Log.Format) {
		return fmt.Errorf("log.format must be json or text (got: %s)", c.Log.Format)
	}
	if c.Backend.Target == "" {
		return errors.New("backend.target is required")
	}
	if c.Backend.CallTimeoutMs <= 0 {
		return errors.New("backend.call_timeout_ms must be > 0")
	}
	if c.Backend.PollIntervalMs <= 0 {
		return errors.New("backend.poll_interval_ms must be > 0")
	}
	if c.Wardrobe.ProgressThreshold <= 0 || c.Wardrobe.ProgressThreshold > 100 {
		return fmt.Errorf("wardrobe.progress_threshold must be in (0, 100] (got: %g)", c.Wardrobe.ProgressThreshold)
	}
	if c.Wardrobe.StaleAfterMins <= 0 {
		return errors.New("wardrobe.stale_after_mins must be > 0")
	}
	if c.Wardrobe.UnlockTimeoutMs <= 0 {
		return errors.New("wardrobe.unlock_timeout_ms must be > 0")
	}
	return nil
}

// CallTimeout returns the backend per-call deadline.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Backend.CallTimeoutMs) * time.Millisecond
}

// PollInterval returns the subscription poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Backend.PollIntervalMs) * time.Millisecond
}

// StaleAfter returns the wardrobe staleness threshold.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Wardrobe.StaleAfterMins) * time.Minute
}

// UnlockTimeout returns the unlock notification deadline.
func (c *Config) UnlockTimeout() time.Duration {
	return time.Duration(c.Wardrobe.UnlockTimeoutMs) * time.Millisecond
}

// DBPath returns the configured database path or the default one.
func (c *Config) DBPath(p *Paths) string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return p.DatabaseFile()
}

// CatalogPath returns the configured catalog path or the default one.
func (c *Config) CatalogPath(p *Paths) string {
	if c.Wardrobe.CatalogPath != "" {
		return c.Wardrobe.CatalogPath
	}
	return p.CatalogFile()
}

// ImageCacheDir returns the configured image cache or the default one.
func (c *Config) ImageCacheDir(p *Paths) string {
	if c.Wardrobe.ImageCacheDir != "" {
		return c.Wardrobe.ImageCacheDir
	}
	return p.ImageCacheDir()
}

// Get retrieves a configuration value by dot-separated key.
// For example: "log.level" or "wardrobe.stale_after_mins"
func (c *Config) Get(key string) (string, error) {
	section, field, err := splitKey(key)
	if err != nil {
		return "", err
	}

	switch section {
	case "log":
		return c.getLogField(field)
	case "backend":
		return c.getBackendField(field)
	case "wardrobe":
		return c.getWardrobeField(field)
	case "reader":
		return c.getReaderField(field)
	case "storage":
		return c.getStorageField(field)
	case "telemetry":
		return c.getTelemetryField(field)
	default:
		return "", fmt.Errorf("unknown section: %s", section)
	}
}

// Set sets a configuration value by dot-separated key.
func (c *Config) Set(key, value string) error {
	section, field, err := splitKey(key)
	if err != nil {
		return err
	}

	switch section {
	case "log":
		return c.setLogField(field, value)
	case "backend":
		return c.setBackendField(field, value)
	case "wardrobe":
		return c.setWardrobeField(field, value)
	case "reader":
		return c.setReaderField(field, value)
	case "storage":
		return c.setStorageField(field, value)
	case "telemetry":
		return c.setTelemetryField(field, value)
	default:
		return fmt.Errorf("unknown section: %s", section)
	}
}

func splitKey(key string) (string, string, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return "", "", errors.New("key must be in format 'section.key'")
	}
	return parts[0], parts[1], nil
}

func (c *Config) getLogField(field string) (string, error) {
	switch field {
	case "level":
		return c.Log.Level, nil
	case "format":
		return c.Log.Format, nil
	case "file":
		return c.Log.File, nil
	default:
		return "", fmt.Errorf("unknown field: log.%s", field)
	}
}

func (c *Config) setLogField(field, value string) error {
	switch field {
	case "level":
		if !isValidLogLevel(value) {
			return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", value)
		}
		c.Log.Level = value
	case "format":
		if !isValidLogFormat(value) {
			return fmt.Errorf("invalid format: %s (must be json or text)", value)
		}
		c.Log.Format = value
	case "file":
		c.Log.File = value
	default:
		return fmt.Errorf("unknown field: log.%s", field)
	}
	return nil
}

func (c *Config) getBackendField(field string) (string, error) {
	switch field {
	case "target":
		return c.Backend.Target, nil
	case "call_timeout_ms":
		return strconv.Itoa(c.Backend.CallTimeoutMs), nil
	case "poll_interval_ms":
		return strconv.Itoa(c.Backend.PollIntervalMs), nil
	default:
		return "", fmt.Errorf("unknown field: backend.%s", field)
	}
}

func (c *Config) setBackendField(field, value string) error {
	switch field {
	case "target":
		if value == "" {
			return errors.New("invalid target: must not be empty")
		}
		c.Backend.Target = value
	case "call_timeout_ms":
		v, err := parsePositive(field, value)
		if err != nil {
			return err
		}
		c.Backend.CallTimeoutMs = v
	case "poll_interval_ms":
		v, err := parsePositive(field, value)
		if err != nil {
			return err
		}
		c.Backend.PollIntervalMs = v
	default:
		return fmt.Errorf("unknown field: backend.%s", field)
	}
	return nil
}

func (c *Config) getWardrobeField(field string) (string, error) {
	switch field {
	case "progress_threshold":
		return strconv.FormatFloat(c.Wardrobe.ProgressThreshold, 'f', -1, 64), nil
	case "stale_after_mins":
		return strconv.Itoa(c.Wardrobe.StaleAfterMins), nil
	case "unlock_timeout_ms":
		return strconv.Itoa(c.Wardrobe.UnlockTimeoutMs), nil
	case "catalog_path":
		return c.Wardrobe.CatalogPath, nil
	case "image_cache_dir":
		return c.Wardrobe.ImageCacheDir, nil
	default:
		return "", fmt.Errorf("unknown field: wardrobe.%s", field)
	}
}

func (c *Config) setWardrobeField(field, value string) error {
	switch field {
	case "progress_threshold":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for progress_threshold: %w", err)
		}
		if v <= 0 || v > 100 {
			return fmt.Errorf("invalid progress_threshold: must be in (0, 100]")
		}
		c.Wardrobe.ProgressThreshold = v
	case "stale_after_mins":
		v, err := parsePositive(field, value)
		if err != nil {
			return err
		}
		c.Wardrobe.StaleAfterMins = v
	case "unlock_timeout_ms":
		v, err := parsePositive(field, value)
		if err != nil {
			return err
		}
		c.Wardrobe.UnlockTimeoutMs = v
	case "catalog_path":
		c.Wardrobe.CatalogPath = value
	case "image_cache_dir":
		c.Wardrobe.ImageCacheDir = value
	default:
		return fmt.Errorf("unknown field: wardrobe.%s", field)
	}
	return nil
}

func (c *Config) getReaderField(field string) (string, error) {
	switch field {
	case "prefetch":
		return strconv.FormatBool(c.Reader.Prefetch), nil
	default:
		return "", fmt.Errorf("unknown field: reader.%s", field)
	}
}

func (c *Config) setReaderField(field, value string) error {
	switch field {
	case "prefetch":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for prefetch: %w", err)
		}
		c.Reader.Prefetch = v
	default:
		return fmt.Errorf("unknown field: reader.%s", field)
	}
	return nil
}

func (c *Config) getStorageField(field string) (string, error) {
	switch field {
	case "db_path":
		return c.Storage.DBPath, nil
	default:
		return "", fmt.Errorf("unknown field: storage.%s", field)
	}
}

func (c *Config) setStorageField(field, value string) error {
	switch field {
	case "db_path":
		c.Storage.DBPath = value
	default:
		return fmt.Errorf("unknown field: storage.%s", field)
	}
	return nil
}

func (c *Config) getTelemetryField(field string) (string, error) {
	switch field {
	case "endpoint":
		return c.Telemetry.Endpoint, nil
	default:
		return "", fmt.Errorf("unknown field: telemetry.%s", field)
	}
}

func (c *Config) setTelemetryField(field, value string) error {
	switch field {
	case "endpoint":
		c.Telemetry.Endpoint = value
	default:
		return fmt.Errorf("unknown field: telemetry.%s", field)
	}
	return nil
}

func parsePositive(field, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", field, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", field)
	}
	return v, nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	return format == "json" || format == "text"
}

// ListKeys returns all user-settable configuration keys.
func ListKeys() []string {
	return []string{
		"log.level",
		"log.format",
		"log.file",
		"backend.target",
		"backend.call_timeout_ms",
		"backend.poll_interval_ms",
		"wardrobe.progress_threshold",
		"wardrobe.stale_after_mins",
		"wardrobe.unlock_timeout_ms",
		"wardrobe.catalog_path",
		"wardrobe.image_cache_dir",
		"reader.prefetch",
		"storage.db_path",
		"telemetry.endpoint",
	}
}
