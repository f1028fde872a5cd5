// Package config defines the structures that configure dense mapping, the cloud anchor registry,
// map storage and logging.
package config

import (
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/anchormap/cloudanchor"
	"go.viam.com/anchormap/densemap"
	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/mapstore"
	"go.viam.com/anchormap/rimage/transform"
)

// Config is the top level configuration.
type Config struct {
	DenseMapping DenseMappingConfig `json:"dense_mapping"`
	CloudAnchor  CloudAnchorConfig  `json:"cloud_anchor"`
	MapStore     mapstore.Config    `json:"map_store"`
	Log          LogConfig          `json:"log"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// Validate checks every section of the config.
func (c *Config) Validate() error {
	if err := c.DenseMapping.Validate("dense_mapping"); err != nil {
		return err
	}
	if err := c.CloudAnchor.Validate("cloud_anchor"); err != nil {
		return err
	}
	if err := c.MapStore.Validate("map_store"); err != nil {
		return err
	}
	return c.Log.Validate("log")
}

// DenseMappingConfig configures a densemap.Session. Unset projection fields take the values of
// transform.DefaultProjectionConfig.
type DenseMappingConfig struct {
	Dir                 string   `json:"dir"`
	MapName             string   `json:"map_name,omitempty"`
	FrameSkip           int      `json:"frame_skip,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	SubsampleFactor     int      `json:"subsample_factor,omitempty"`
	IncludeColor        *bool    `json:"include_color,omitempty"`
	MedianFilter        *bool    `json:"median_filter,omitempty"`
	MedianKernelSize    int      `json:"median_kernel_size,omitempty"`
	VoxelSize           float64  `json:"voxel_size,omitempty"`
	EventBuffer         int      `json:"event_buffer,omitempty"`
	KeepRecording       bool     `json:"keep_recording,omitempty"`
	// UploadDir receives finished archives. Empty leaves them next to the recording.
	UploadDir string `json:"upload_dir,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *DenseMappingConfig) Validate(path string) error {
	if c.Dir == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "dir")
	}
	if c.FrameSkip < 0 {
		return utils.NewConfigValidationError(path, errors.New("frame_skip cannot be negative"))
	}
	if c.ConfidenceThreshold != nil && (*c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1) {
		return utils.NewConfigValidationError(path, errors.Errorf("confidence_threshold must be in [0, 1], got %v", *c.ConfidenceThreshold))
	}
	if c.SubsampleFactor < 0 {
		return utils.NewConfigValidationError(path, errors.New("subsample_factor cannot be negative"))
	}
	if c.MedianKernelSize < 0 || (c.MedianKernelSize > 0 && c.MedianKernelSize%2 == 0) {
		return utils.NewConfigValidationError(path, errors.Errorf("median_kernel_size must be a positive odd number, got %d", c.MedianKernelSize))
	}
	if c.VoxelSize < 0 {
		return utils.NewConfigValidationError(path, errors.New("voxel_size cannot be negative"))
	}
	return nil
}

// Projection returns the projection settings with defaults filled in.
func (c *DenseMappingConfig) Projection() transform.ProjectionConfig {
	proj := transform.DefaultProjectionConfig()
	if c.ConfidenceThreshold != nil {
		proj.ConfidenceThreshold = *c.ConfidenceThreshold
	}
	if c.SubsampleFactor > 0 {
		proj.SubsampleFactor = c.SubsampleFactor
	}
	if c.IncludeColor != nil {
		proj.IncludeColor = *c.IncludeColor
	}
	if c.MedianFilter != nil {
		proj.MedianFilter = *c.MedianFilter
	}
	if c.MedianKernelSize > 0 {
		proj.MedianKernelSize = c.MedianKernelSize
	}
	return proj
}

// SessionConfig converts c to the session's own config.
func (c *DenseMappingConfig) SessionConfig() densemap.Config {
	return densemap.Config{
		Dir:           c.Dir,
		MapName:       c.MapName,
		FrameSkip:     c.FrameSkip,
		Projection:    c.Projection(),
		VoxelSize:     c.VoxelSize,
		EventBuffer:   c.EventBuffer,
		KeepRecording: c.KeepRecording,
	}
}

// Uploader returns where finished recordings go, or nil when no upload dir is configured.
func (c *DenseMappingConfig) Uploader() densemap.Uploader {
	if c.UploadDir == "" {
		return nil
	}
	return densemap.DirUploader{Dir: c.UploadDir}
}

// CloudAnchorConfig configures a cloudanchor.Registry.
type CloudAnchorConfig struct {
	Timeout utils.Duration `json:"timeout,omitempty"`
	TTLDays int            `json:"ttl_days,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *CloudAnchorConfig) Validate(path string) error {
	if c.Timeout < 0 {
		return utils.NewConfigValidationError(path, errors.New("timeout cannot be negative"))
	}
	if c.TTLDays < 0 || c.TTLDays > 365 {
		return utils.NewConfigValidationError(path, errors.Errorf("ttl_days must be in [1, 365], got %d", c.TTLDays))
	}
	return nil
}

// RegistryOptions converts c to registry options. Zero values fall back to the registry defaults.
func (c *CloudAnchorConfig) RegistryOptions(clk clock.Clock) cloudanchor.Options {
	return cloudanchor.Options{
		Clock:   clk,
		Timeout: time.Duration(c.Timeout),
		TTLDays: c.TTLDays,
	}
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level logging.Level `json:"level"`
	// File additionally writes logs to a size rotated file.
	File string `json:"file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *LogConfig) Validate(path string) error {
	if c.Level < logging.DEBUG || c.Level > logging.ERROR {
		return utils.NewConfigValidationError(path, errors.Errorf("unknown level %d", c.Level))
	}
	return nil
}

// NewLogger returns the logger described by c. The closer flushes and releases any log file.
func (c *LogConfig) NewLogger(name string) (logging.Logger, io.Closer) {
	if c.File != "" {
		return logging.NewFileLogger(name, c.File, c.Level)
	}
	logger := logging.NewLogger(name)
	logger.SetLevel(c.Level)
	return logger, nopCloser{}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
