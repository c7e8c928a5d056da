// Package config provides configuration loading and management for brainsharer.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"brainsharer/internal/models"
	"brainsharer/pkg/logging"
)

// Config represents the application configuration
type Config struct {
	// Scale is the scan resolution of the specimen being processed
	Scale models.ScaleContext `yaml:"scale" toml:"scale"`

	// Pipeline parameters
	Pipeline struct {
		// Downsample is the factor between full-resolution pixels and the
		// raster the volumes are drawn on
		Downsample float64 `yaml:"downsample" toml:"downsample"`

		// Unordered runs the contour orderer on every polygon before use.
		// Only layers from the legacy import path need it.
		Unordered bool `yaml:"unordered" toml:"unordered"`

		// Meters reads layer coordinates as metres instead of viewer pixels
		Meters bool `yaml:"meters" toml:"meters"`

		// Interpolate resamples each section with a periodic spline
		Interpolate bool `yaml:"interpolate" toml:"interpolate"`

		// VertexCount is the number of spline samples per section
		VertexCount int `yaml:"vertexCount" toml:"vertex_count"`

		// Label is the voxel value written inside a structure
		Label uint8 `yaml:"label" toml:"label"`

		// Workers is how many layers are processed at once
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"pipeline" toml:"pipeline"`

	// Storage parameters
	Storage struct {
		// Database is the path of the SQLite annotation database
		Database string `yaml:"database" toml:"database"`
	} `yaml:"storage" toml:"storage"`

	// Output parameters
	Output struct {
		// Bucket is the blob URL precomputed segmentations are written to,
		// e.g. file:///data/structures or mem://
		Bucket string `yaml:"bucket" toml:"bucket"`

		// Gzip compresses segmentation chunks
		Gzip bool `yaml:"gzip" toml:"gzip"`

		// ChunkSize is the edge length of a segmentation chunk in voxels
		ChunkSize int `yaml:"chunkSize" toml:"chunk_size"`

		// Mesh adds a legacy mesh fragment to each structure's segmentation
		Mesh bool `yaml:"mesh" toml:"mesh"`

		// PreviewDir receives PNG previews of every slice when set
		PreviewDir string `yaml:"previewDir" toml:"preview_dir"`

		// MetricsFile receives a Prometheus text dump when set
		MetricsFile string `yaml:"metricsFile" toml:"metrics_file"`
	} `yaml:"output" toml:"output"`

	// Logging parameters
	Logging struct {
		Level      string `yaml:"level" toml:"level"`
		File       string `yaml:"file" toml:"file"`
		MaxSize    int    `yaml:"maxSize" toml:"max_log_size"`
		MaxAge     int    `yaml:"maxAge" toml:"max_log_age"`
		MaxBackups int    `yaml:"maxBackups" toml:"max_log_backups"`
		Compress   bool   `yaml:"compress" toml:"compress"`
	} `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// 0.325 um/px and 20 um sections are the usual scan settings
	cfg.Scale = models.ScaleContext{XY: 0.325, Z: 20}

	cfg.Pipeline.Downsample = 32
	cfg.Pipeline.Unordered = false
	cfg.Pipeline.Interpolate = false
	cfg.Pipeline.VertexCount = 100
	cfg.Pipeline.Label = 1
	cfg.Pipeline.Workers = runtime.NumCPU()

	cfg.Storage.Database = "brainsharer.db"

	cfg.Output.Bucket = ""
	cfg.Output.Gzip = true
	cfg.Output.ChunkSize = 64
	cfg.Output.Mesh = false

	cfg.Logging.Level = "info"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 28
	cfg.Logging.MaxBackups = 3

	return cfg
}

// Validate checks values that would make the pipeline fail later
func (c *Config) Validate() error {
	if err := c.Scale.Validate(); err != nil {
		return err
	}
	if !(c.Pipeline.Downsample > 0) {
		return fmt.Errorf("downsample must be positive, got %g", c.Pipeline.Downsample)
	}
	if c.Pipeline.Interpolate && c.Pipeline.VertexCount < 3 {
		return fmt.Errorf("vertexCount must be at least 3 when interpolating, got %d", c.Pipeline.VertexCount)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	if c.Output.ChunkSize < 1 {
		return fmt.Errorf("chunkSize must be at least 1, got %d", c.Output.ChunkSize)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// Logger builds the logger described by the logging section
func (c *Config) Logger() (logging.Logger, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewFile(level, logging.FileConfig{
		Filename:   c.Logging.File,
		MaxSize:    c.Logging.MaxSize,
		MaxAge:     c.Logging.MaxAge,
		MaxBackups: c.Logging.MaxBackups,
		Compress:   c.Logging.Compress,
	}), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration as YAML or TOML, chosen by extension
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
