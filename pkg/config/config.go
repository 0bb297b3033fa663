// Package config provides configuration loading and management for fmrivae.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fmrivae/internal/models"
)

// Mode selects which half of the pipeline runs
type Mode string

const (
	ModeEncode Mode = "encode"
	ModeDecode Mode = "decode"
	ModeBoth   Mode = "both"
)

// Encodes reports whether the mode writes latent files
func (m Mode) Encodes() bool {
	return m == ModeEncode || m == ModeBoth
}

// Decodes reports whether the mode writes reconstructions
func (m Mode) Decodes() bool {
	return m == ModeDecode || m == ModeBoth
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Model parameters
	Model struct {
		// ZDim is the latent dimensionality; it must match the checkpoint
		ZDim int `yaml:"zdim"`

		// Seed initialises weights and latent sampling
		Seed uint64 `yaml:"seed"`

		// Checkpoint is the path to the trained PyTorch checkpoint
		Checkpoint string `yaml:"checkpoint"`

		// Width, Height and Depth fix the volume shape the network was
		// trained on. When zero they are taken from the data container.
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		Depth  int `yaml:"depth"`
	} `yaml:"model"`

	// Data parameters
	Data struct {
		// Path is the paired-volume container to encode. A path without an
		// extension is a prefix naming <path>.h5, <path>_train.h5 and
		// <path>_val.h5.
		Path string `yaml:"path"`

		// Split selects train or val; empty means the test container
		Split string `yaml:"split"`

		// MaskPath optionally points at a container with LeftMask/RightMask
		MaskPath string `yaml:"maskPath"`

		// BatchSize is how many samples go into each saved file.
		// Zero means the whole dataset in one batch.
		BatchSize int `yaml:"batchSize"`

		// Prefetch is how many batches are read ahead of the model
		Prefetch int `yaml:"prefetch"`
	} `yaml:"data"`

	// Output parameters
	Output struct {
		// LatentDir receives save_z<idx>.h5 files
		LatentDir string `yaml:"latentDir"`

		// ReconDir receives img<idx>.h5 files
		ReconDir string `yaml:"reconDir"`

		// PreviewDir, when set, receives PNG previews of reconstructions
		PreviewDir string `yaml:"previewDir"`

		// PreviewAxis, when set to x, y or z, writes every slice along that
		// axis instead of only the middle axial slice
		PreviewAxis string `yaml:"previewAxis"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Mode is one of encode, decode or both
	Mode Mode `yaml:"mode"`

	// Loss parameters used by evaluation
	Loss struct {
		// Beta is the unscaled KL weight
		Beta float64 `yaml:"beta"`

		// Sample decodes a reparameterized draw from the latent distribution
		// instead of its mean
		Sample bool `yaml:"sample"`
	} `yaml:"loss"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.ZDim = 256
	cfg.Model.Seed = 1
	cfg.Model.Checkpoint = "./checkpoint/checkpoint.pth.tar"

	cfg.Data.BatchSize = 0
	cfg.Data.Prefetch = 1

	cfg.Output.LatentDir = "./result/latent/"
	cfg.Output.ReconDir = "./result/recon"
	cfg.Output.Verbose = false

	cfg.Mode = ModeBoth
	cfg.Loss.Beta = 1.0

	return cfg
}

// Validate checks option values and that the paths needed by the selected
// mode are set
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeEncode, ModeDecode, ModeBoth:
	default:
		return fmt.Errorf("%w: unsupported mode %q (choose encode, decode or both)", models.ErrConfig, c.Mode)
	}
	switch c.Data.Split {
	case "", "train", "val":
	default:
		return fmt.Errorf("%w: unknown split %q (choose train or val)", models.ErrConfig, c.Data.Split)
	}
	switch c.Output.PreviewAxis {
	case "", "x", "y", "z":
	default:
		return fmt.Errorf("%w: unknown preview axis %q (choose x, y or z)", models.ErrConfig, c.Output.PreviewAxis)
	}
	if c.Data.BatchSize < 0 {
		return fmt.Errorf("%w: batch size must not be negative, got %d", models.ErrConfig, c.Data.BatchSize)
	}
	if c.Data.Prefetch < 0 {
		return fmt.Errorf("%w: prefetch must not be negative, got %d", models.ErrConfig, c.Data.Prefetch)
	}
	if c.Model.ZDim <= 0 {
		return fmt.Errorf("%w: zdim must be positive, got %d", models.ErrConfig, c.Model.ZDim)
	}
	if c.Model.Checkpoint == "" {
		return fmt.Errorf("%w: checkpoint path is required", models.ErrConfig)
	}
	if c.Output.LatentDir == "" {
		return fmt.Errorf("%w: latent directory is required", models.ErrConfig)
	}
	if c.Mode.Encodes() && c.Data.Path == "" {
		return fmt.Errorf("%w: data path is required in %s mode", models.ErrConfig, c.Mode)
	}
	if c.Data.Path == "" && !c.HasShape() {
		return fmt.Errorf("%w: decode needs either a data path or model width/height/depth", models.ErrConfig)
	}
	if c.Mode.Decodes() && c.Output.ReconDir == "" {
		return fmt.Errorf("%w: reconstruction directory is required in %s mode", models.ErrConfig, c.Mode)
	}
	return nil
}

// HasShape reports whether the model volume shape is set explicitly
func (c *Config) HasShape() bool {
	return c.Model.Width > 0 && c.Model.Height > 0 && c.Model.Depth > 0
}

// LoadConfig loads configuration from a YAML file
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

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing config file: %v", models.ErrConfig, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
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
