// Package config loads service configuration from an optional YAML
// file with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the server needs to run.
type Config struct {
	Addr           string        `yaml:"addr"`
	ModelPath      string        `yaml:"model_path"`
	MetadataPath   string        `yaml:"metadata_path"`
	DatabasePath   string        `yaml:"database_path"`
	UploadDir      string        `yaml:"upload_dir"`
	HeatmapAlpha   float64       `yaml:"heatmap_alpha"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:           ":8080",
		ModelPath:      "models/bone_classifier.onnx",
		MetadataPath:   "models/bone_classifier.json",
		DatabasePath:   "instance/osteoview.db",
		UploadDir:      "uploads",
		HeatmapAlpha:   0.5,
		SessionTTL:     24 * time.Hour,
		MaxUploadBytes: 16 << 20,
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (if non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Addr = getEnv("OSTEOVIEW_ADDR", cfg.Addr)
	cfg.ModelPath = getEnv("OSTEOVIEW_MODEL_PATH", cfg.ModelPath)
	cfg.MetadataPath = getEnv("OSTEOVIEW_METADATA_PATH", cfg.MetadataPath)
	cfg.DatabasePath = getEnv("OSTEOVIEW_DATABASE_PATH", cfg.DatabasePath)
	cfg.UploadDir = getEnv("OSTEOVIEW_UPLOAD_DIR", cfg.UploadDir)

	if v := os.Getenv("OSTEOVIEW_HEATMAP_ALPHA"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("parse OSTEOVIEW_HEATMAP_ALPHA: %w", err)
		}
		cfg.HeatmapAlpha = f
	}
	if v := os.Getenv("OSTEOVIEW_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse OSTEOVIEW_SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = d
	}

	if cfg.HeatmapAlpha < 0 || cfg.HeatmapAlpha > 1 {
		return nil, fmt.Errorf("heatmap_alpha %v out of range [0,1]", cfg.HeatmapAlpha)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// OriginalDir is where uploaded source images are stored.
func (c *Config) OriginalDir() string { return filepath.Join(c.UploadDir, "original") }

// HeatmapDir is where rendered overlays are stored.
func (c *Config) HeatmapDir() string { return filepath.Join(c.UploadDir, "heatmaps") }

// ReportDir is where generated PDF reports are stored.
func (c *Config) ReportDir() string { return filepath.Join(c.UploadDir, "reports") }

// EnsureDirs creates the upload directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.OriginalDir(), c.HeatmapDir(), c.ReportDir(), filepath.Dir(c.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
