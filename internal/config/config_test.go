package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Log.Level != "info" {
		t.Errorf("Expected log.level=info, got %s", cfg.Log.Level)
	}
	if cfg.Backend.Target == "" {
		t.Error("Expected a default backend.target")
	}
	if cfg.Wardrobe.ProgressThreshold != 90 {
		t.Errorf("Expected progress_threshold=90, got %g", cfg.Wardrobe.ProgressThreshold)
	}
	if cfg.StaleAfter() != 10*time.Minute {
		t.Errorf("Expected stale after 10m, got %s", cfg.StaleAfter())
	}
	if !cfg.Reader.Prefetch {
		t.Error("Expected reader.prefetch=true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigGet(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		key      string
		expected string
	}{
		{"log.level", "info"},
		{"log.format", "text"},
		{"log.file", ""},
		{"backend.target", "localhost:7420"},
		{"backend.call_timeout_ms", "30000"},
		{"backend.poll_interval_ms", "2000"},
		{"wardrobe.progress_threshold", "90"},
		{"wardrobe.stale_after_mins", "10"},
		{"wardrobe.unlock_timeout_ms", "15000"},
		{"wardrobe.catalog_path", ""},
		{"wardrobe.image_cache_dir", ""},
		{"reader.prefetch", "true"},
		{"storage.db_path", ""},
		{"telemetry.endpoint", ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%q) error: %v", tt.key, err)
			}
			if got != tt.expected {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}

func TestConfigGet_ListKeysAreReadable(t *testing.T) {
	cfg := DefaultConfig()
	for _, key := range ListKeys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q) error: %v", key, err)
		}
	}
}

func TestConfigGet_Errors(t *testing.T) {
	cfg := DefaultConfig()

	for _, key := range []string{"level", "log.level.extra", "nope.level", "log.nope", "reader.nope"} {
		if _, err := cfg.Get(key); err == nil {
			t.Errorf("Get(%q) should fail", key)
		}
	}
}

func TestConfigSet(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"log.level", "debug"},
		{"log.format", "json"},
		{"log.file", "/tmp/storykit.log"},
		{"backend.target", "api.example.com:443"},
		{"backend.call_timeout_ms", "5000"},
		{"backend.poll_interval_ms", "500"},
		{"wardrobe.progress_threshold", "75.5"},
		{"wardrobe.stale_after_mins", "3"},
		{"wardrobe.unlock_timeout_ms", "1000"},
		{"wardrobe.catalog_path", "/srv/catalog.yaml"},
		{"wardrobe.image_cache_dir", "/srv/images"},
		{"reader.prefetch", "false"},
		{"storage.db_path", "/srv/state.db"},
		{"telemetry.endpoint", "http://localhost:4318"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error: %v", tt.key, tt.value, err)
			}
			got, err := cfg.Get(tt.key)
			if err != nil {
				t.Fatalf("Get(%q) error: %v", tt.key, err)
			}
			if got != tt.value {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.value)
			}
		})
	}
}

func TestConfigSet_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"log.level", "verbose"},
		{"log.format", "xml"},
		{"backend.target", ""},
		{"backend.call_timeout_ms", "abc"},
		{"backend.call_timeout_ms", "0"},
		{"backend.poll_interval_ms", "-1"},
		{"wardrobe.progress_threshold", "0"},
		{"wardrobe.progress_threshold", "101"},
		{"wardrobe.progress_threshold", "high"},
		{"wardrobe.stale_after_mins", "0"},
		{"reader.prefetch", "maybe"},
		{"storage.nope", "x"},
		{"nope.level", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := DefaultConfig()
			if err := cfg.Set(tt.key, tt.value); err == nil {
				t.Errorf("Set(%q, %q) should fail", tt.key, tt.value)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"target", func(c *Config) { c.Backend.Target = "" }},
		{"call timeout", func(c *Config) { c.Backend.CallTimeoutMs = 0 }},
		{"poll interval", func(c *Config) { c.Backend.PollIntervalMs = -5 }},
		{"threshold", func(c *Config) { c.Wardrobe.ProgressThreshold = 120 }},
		{"stale", func(c *Config) { c.Wardrobe.StaleAfterMins = 0 }},
		{"unlock", func(c *Config) { c.Wardrobe.UnlockTimeoutMs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Expected defaults, got log.level=%s", cfg.Log.Level)
	}
}

func TestLoadFromFile_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "wardrobe:\n  stale_after_mins: 5\nbackend:\n  target: example:9000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if cfg.Wardrobe.StaleAfterMins != 5 {
		t.Errorf("stale_after_mins = %d, want 5", cfg.Wardrobe.StaleAfterMins)
	}
	if cfg.Backend.Target != "example:9000" {
		t.Errorf("target = %s, want example:9000", cfg.Backend.Target)
	}
	if cfg.Wardrobe.ProgressThreshold != 90 {
		t.Errorf("unset fields keep defaults, got threshold %g", cfg.Wardrobe.ProgressThreshold)
	}
}

func TestLoadFromFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("log: [\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected parse error")
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("log:\n  level: shouty\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadFromFile(invalid)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	if err := cfg.Set("wardrobe.stale_after_mins", "7"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile error: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile error: %v", err)
	}
	if loaded.Wardrobe.StaleAfterMins != 7 {
		t.Errorf("stale_after_mins = %d, want 7", loaded.Wardrobe.StaleAfterMins)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STORYKIT_LOG_FORMAT", "json")
	t.Setenv("STORYKIT_BACKEND_TARGET", "env-host:1234")
	t.Setenv("STORYKIT_WARDROBE_STALE_AFTER_MINS", "2")
	t.Setenv("STORYKIT_READER_PREFETCH", "false")
	t.Setenv("STORYKIT_STORAGE_DB_PATH", "/env/state.db")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		t.Fatalf("ApplyEnvOverrides error: %v", err)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %s, want json", cfg.Log.Format)
	}
	if cfg.Backend.Target != "env-host:1234" {
		t.Errorf("backend.target = %s", cfg.Backend.Target)
	}
	if cfg.Wardrobe.StaleAfterMins != 2 {
		t.Errorf("stale_after_mins = %d, want 2", cfg.Wardrobe.StaleAfterMins)
	}
	if cfg.Reader.Prefetch {
		t.Error("reader.prefetch should be false")
	}
	if cfg.Storage.DBPath != "/env/state.db" {
		t.Errorf("storage.db_path = %s", cfg.Storage.DBPath)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unset variables keep values, got log.level=%s", cfg.Log.Level)
	}
}

func TestApplyEnvOverrides_Debug(t *testing.T) {
	t.Setenv("STORYKIT_DEBUG", "1")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnvOverrides(); err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %s, want debug", cfg.Log.Level)
	}
}

func TestApplyEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("STORYKIT_BACKEND_CALL_TIMEOUT_MS", "soon")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnvOverrides(); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_DerivedPaths(t *testing.T) {
	paths := &Paths{ConfigDir: "/c", DataDir: "/d", CacheDir: "/k"}
	cfg := DefaultConfig()

	if got := cfg.DBPath(paths); got != paths.DatabaseFile() {
		t.Errorf("DBPath = %s", got)
	}
	if got := cfg.CatalogPath(paths); got != paths.CatalogFile() {
		t.Errorf("CatalogPath = %s", got)
	}
	if got := cfg.ImageCacheDir(paths); got != paths.ImageCacheDir() {
		t.Errorf("ImageCacheDir = %s", got)
	}

	cfg.Storage.DBPath = "/x.db"
	if got := cfg.DBPath(paths); got != "/x.db" {
		t.Errorf("DBPath override = %s", got)
	}
	if cfg.CallTimeout() != 30*time.Second || cfg.PollInterval() != 2*time.Second || cfg.UnlockTimeout() != 15*time.Second {
		t.Error("unexpected derived durations")
	}
}
