// Package config loads server configuration.
//
// Values are layered: built-in defaults, then an optional YAML file named by
// CONFIG_FILE, then a .env file in the working directory, then the process
// environment. Later layers win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// Catalog database. sqlite:// or postgres:// URL.
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`

	// Package storage root and the public route multi-file packages are served under.
	StorageRoot  string `yaml:"storage_root" env:"STORAGE_ROOT"`
	StorageRoute string `yaml:"storage_route" env:"STORAGE_ROUTE"`

	// Uploads
	MaxUploadSize    int64 `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE"`
	MaxExtractedSize int64 `yaml:"max_extracted_size" env:"MAX_EXTRACTED_SIZE"`
	MaxArchiveFiles  int   `yaml:"max_archive_files" env:"MAX_ARCHIVE_FILES"`

	// Build runner
	BuildTool        string        `yaml:"build_tool" env:"BUILD_TOOL"`
	BuildTimeout     time.Duration `yaml:"build_timeout" env:"BUILD_TIMEOUT"`
	BuildMemoryLimit int64         `yaml:"build_memory_limit" env:"BUILD_MEMORY_LIMIT"`
	BuildKeepEnv     []string      `yaml:"build_keep_env" env:"BUILD_KEEP_ENV"`

	// Folder watching
	WatchEnabled  bool          `yaml:"watch_enabled" env:"WATCH_ENABLED"`
	WatchInterval time.Duration `yaml:"watch_interval" env:"WATCH_INTERVAL"`

	// Admin endpoints are disabled when empty.
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`

	// 0 = unlimited
	UploadRequestsPerMin int `yaml:"upload_requests_per_minute" env:"UPLOAD_REQUESTS_PER_MINUTE"`

	// Artifact retention ("none", "local" or "s3")
	ArtifactBackend   string `yaml:"artifact_backend" env:"ARTIFACT_BACKEND"`
	ArtifactLocalPath string `yaml:"artifact_local_path" env:"ARTIFACT_LOCAL_PATH"`
	S3Endpoint        string `yaml:"s3_endpoint" env:"ARTIFACT_S3_ENDPOINT"`
	S3Bucket          string `yaml:"s3_bucket" env:"ARTIFACT_S3_BUCKET"`
	S3AccessKey       string `yaml:"s3_access_key" env:"ARTIFACT_S3_ACCESS_KEY"`
	S3SecretKey       string `yaml:"s3_secret_key" env:"ARTIFACT_S3_SECRET_KEY"`
	S3Region          string `yaml:"s3_region" env:"ARTIFACT_S3_REGION"`

	// Tracing (opt-in)
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT"`
	OTelEnabled  bool   `yaml:"otel_enabled" env:"OTEL_ENABLED"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:        ":8080",
		MetricsAddr:       ":9090",
		LogLevel:          "info",
		LogFormat:         "json",
		DatabaseURL:       "sqlite://./games.db",
		StorageRoot:       "./games_repo",
		StorageRoute:      "games",
		MaxUploadSize:     100 * 1024 * 1024, // 100MB
		MaxExtractedSize:  512 * 1024 * 1024, // 512MB
		MaxArchiveFiles:   10000,
		BuildTool:         "npm",
		BuildTimeout:      5 * time.Minute,
		BuildKeepEnv:      []string{"PATH", "HOME"},
		WatchInterval:     5 * time.Second,
		ArtifactBackend:   "none",
		ArtifactLocalPath: "./artifacts",
		S3Endpoint:        "http://localhost:9000",
		S3Bucket:          "funai-artifacts",
		S3AccessKey:       "minioadmin",
		S3SecretKey:       "minioadmin",
		S3Region:          "us-east-1",
		OTelEnabled:       true,
	}
}

// Load reads configuration from all layers and validates it.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.StorageRoot == "" {
		return fmt.Errorf("STORAGE_ROOT is required")
	}
	c.StorageRoute = strings.Trim(c.StorageRoute, "/")
	if c.StorageRoute == "" || strings.Contains(c.StorageRoute, "/") {
		return fmt.Errorf("STORAGE_ROUTE must be a single path segment, got %q", c.StorageRoute)
	}
	switch c.StorageRoute {
	case "api", "content", "health":
		return fmt.Errorf("STORAGE_ROUTE %q collides with a built-in route", c.StorageRoute)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be positive")
	}
	if c.MaxExtractedSize <= 0 {
		return fmt.Errorf("MAX_EXTRACTED_SIZE must be positive")
	}
	if c.BuildTool == "" {
		return fmt.Errorf("BUILD_TOOL is required")
	}
	if c.BuildTimeout <= 0 {
		return fmt.Errorf("BUILD_TIMEOUT must be positive")
	}
	if c.WatchEnabled && c.WatchInterval <= 0 {
		return fmt.Errorf("WATCH_INTERVAL must be positive when watching is enabled")
	}
	switch c.ArtifactBackend {
	case "", "none", "local", "s3":
	default:
		return fmt.Errorf("unknown ARTIFACT_BACKEND %q", c.ArtifactBackend)
	}
	return nil
}

// TracingEnabled reports whether spans should be exported.
func (c *Config) TracingEnabled() bool {
	return c.OTelEnabled && c.OTelEndpoint != ""
}
