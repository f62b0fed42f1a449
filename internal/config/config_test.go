package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoute != "games" {
		t.Errorf("StorageRoute = %q, want games", cfg.StorageRoute)
	}
	if cfg.BuildTimeout != 5*time.Minute {
		t.Errorf("BuildTimeout = %v, want 5m", cfg.BuildTimeout)
	}
	if cfg.TracingEnabled() && os.Getenv("OTEL_ENDPOINT") == "" {
		t.Error("tracing enabled without an endpoint")
	}
}

func TestLoadLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funai.yaml")
	yamlDoc := "storage_root: /srv/games\nbuild_tool: pnpm\nbuild_timeout: 30s\nwatch_enabled: true\n"
	if err := os.WriteFile(path, []byte(yamlDoc), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("BUILD_TOOL", "yarn")
	t.Setenv("BUILD_KEEP_ENV", "PATH,HOME,NODE_OPTIONS")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoot != "/srv/games" {
		t.Errorf("StorageRoot = %q, want value from file", cfg.StorageRoot)
	}
	if cfg.BuildTool != "yarn" {
		t.Errorf("BuildTool = %q, want env override", cfg.BuildTool)
	}
	if cfg.BuildTimeout != 30*time.Second {
		t.Errorf("BuildTimeout = %v, want 30s", cfg.BuildTimeout)
	}
	if !cfg.WatchEnabled {
		t.Error("WatchEnabled should come from file")
	}
	if len(cfg.BuildKeepEnv) != 3 || cfg.BuildKeepEnv[2] != "NODE_OPTIONS" {
		t.Errorf("BuildKeepEnv = %v", cfg.BuildKeepEnv)
	}
}

func TestLoadBadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("BUILD_TIMEOUT", "forever")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"trims route slashes", func(c *Config) { c.StorageRoute = "/play/" }, true},
		{"nested route", func(c *Config) { c.StorageRoute = "a/b" }, false},
		{"reserved route", func(c *Config) { c.StorageRoute = "api" }, false},
		{"no database", func(c *Config) { c.DatabaseURL = "" }, false},
		{"zero timeout", func(c *Config) { c.BuildTimeout = 0 }, false},
		{"unknown backend", func(c *Config) { c.ArtifactBackend = "gcs" }, false},
		{"s3 backend", func(c *Config) { c.ArtifactBackend = "s3" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
