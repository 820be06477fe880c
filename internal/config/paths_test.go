package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultPaths(t *testing.T) {
	paths := DefaultPaths()

	if paths.ConfigDir == "" {
		t.Error("ConfigDir is empty")
	}
	if paths.DataDir == "" {
		t.Error("DataDir is empty")
	}
	if paths.CacheDir == "" {
		t.Error("CacheDir is empty")
	}

	// All paths should be absolute
	if !filepath.IsAbs(paths.ConfigDir) {
		t.Errorf("ConfigDir should be absolute: %s", paths.ConfigDir)
	}
	if !filepath.IsAbs(paths.DataDir) {
		t.Errorf("DataDir should be absolute: %s", paths.DataDir)
	}
}

func TestDefaultPaths_XDG(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("XDG test not applicable on Windows")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	t.Setenv("XDG_CACHE_HOME", "/custom/cache")

	paths := DefaultPaths()

	if paths.ConfigDir != "/custom/config/storykit" {
		t.Errorf("ConfigDir should respect XDG_CONFIG_HOME: %s", paths.ConfigDir)
	}
	if paths.DataDir != "/custom/data/storykit" {
		t.Errorf("DataDir should respect XDG_DATA_HOME: %s", paths.DataDir)
	}
	if paths.CacheDir != "/custom/cache/storykit" {
		t.Errorf("CacheDir should respect XDG_CACHE_HOME: %s", paths.CacheDir)
	}
}

func TestPaths_Files(t *testing.T) {
	paths := &Paths{ConfigDir: "/c", DataDir: "/d", CacheDir: "/k"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"ConfigFile", paths.ConfigFile(), filepath.Join("/c", "config.yaml")},
		{"CatalogFile", paths.CatalogFile(), filepath.Join("/c", "wardrobe", "catalog.yaml")},
		{"DatabaseFile", paths.DatabaseFile(), filepath.Join("/d", "state.db")},
		{"LogDir", paths.LogDir(), filepath.Join("/d", "logs")},
		{"LogFile", paths.LogFile(), filepath.Join("/d", "logs", "storykit.log")},
		{"ImageCacheDir", paths.ImageCacheDir(), filepath.Join("/k", "images")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %s, want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestPaths_EnsureDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	paths := &Paths{
		ConfigDir: filepath.Join(tmpDir, "config", "storykit"),
		DataDir:   filepath.Join(tmpDir, "data", "storykit"),
		CacheDir:  filepath.Join(tmpDir, "cache", "storykit"),
	}

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}

	dirs := []string{
		paths.ConfigDir,
		paths.DataDir,
		paths.CacheDir,
		paths.LogDir(),
		paths.ImageCacheDir(),
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("Directory should exist: %s", dir)
		} else if !info.IsDir() {
			t.Errorf("Should be a directory: %s", dir)
		}
	}
}

func TestHomeDir(t *testing.T) {
	home := homeDir()

	if home == "" {
		t.Error("homeDir returned empty string")
	}
	if !filepath.IsAbs(home) {
		t.Errorf("homeDir should return absolute path: %s", home)
	}
	if strings.Contains(home, "storykit") {
		t.Errorf("homeDir should not be app specific: %s", home)
	}
}
