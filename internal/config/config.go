package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/orthorect/config.json"
	defaultParallel   = 4
)

// Config holds user-editable settings for the rectification pipeline.
type Config struct {
	Camera     Camera     `json:"camera"`
	Ortho      Ortho      `json:"ortho"`
	Solver     Solver     `json:"solver"`
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Paths      Paths      `json:"paths"`
}

// Camera describes the sensor used for the whole survey block. Values
// left at zero are filled from image EXIF metadata where possible.
type Camera struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`         // pinhole, brown, fisheye, opencv
	FocalLength float64   `json:"focal_length"` // mm
	SensorSize  []float64 `json:"sensor_size"`  // mm, width height
	DistCoeffs  []float64 `json:"dist_coeffs"`
}

// Ortho controls the output raster.
type Ortho struct {
	CRS        string     `json:"crs"`        // e.g. EPSG:32734 or utm:34S
	Resolution [2]float64 `json:"resolution"` // output pixel size in CRS units
	Interp     string     `json:"interp"`     // nearest, average, bilinear, cubic, lanczos
	DType      string     `json:"dtype"`      // uint8, uint16; empty inherits the source
	Nodata     float64    `json:"nodata"`
	PerBand    bool       `json:"per_band"` // remap one band at a time
	WriteMask  bool       `json:"write_mask"`
	TileSize   [2]int     `json:"tile_size"`
}

// Solver tunes the footprint fixed-point iteration.
type Solver struct {
	MaxIterations int     `json:"max_iterations"`
	Threshold     float64 `json:"threshold"` // meters
}

// Processing captures execution preferences.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures default input/output locations.
type Paths struct {
	DefaultInput  string `json:"default_input"`
	DefaultOutput string `json:"default_output"`
	DatabasePath  string `json:"database_path"`
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := Default()

	configPath := os.Getenv("ORTHORECT_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", expanded, err)
	}
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	expanded, err := expandUser(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(expanded, append(data, '\n'), 0o644)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Camera.Type {
	case "", "pinhole", "brown", "fisheye", "opencv":
	default:
		return fmt.Errorf("unknown camera type %q", c.Camera.Type)
	}
	if len(c.Camera.SensorSize) != 0 && len(c.Camera.SensorSize) != 2 {
		return fmt.Errorf("sensor_size wants 2 values, got %d", len(c.Camera.SensorSize))
	}
	if c.Ortho.Resolution[0] < 0 || c.Ortho.Resolution[1] < 0 {
		return fmt.Errorf("negative output resolution")
	}
	switch c.Ortho.Interp {
	case "", "nearest", "average", "bilinear", "cubic", "lanczos":
	default:
		return fmt.Errorf("unknown interpolation %q", c.Ortho.Interp)
	}
	switch c.Ortho.DType {
	case "", "uint8", "uint16":
	default:
		return fmt.Errorf("unsupported output dtype %q", c.Ortho.DType)
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("negative solver iterations")
	}
	if c.Processing.ParallelJobs < 0 {
		return fmt.Errorf("negative parallel job count")
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Camera: Camera{
			Type: "pinhole",
		},
		Ortho: Ortho{
			Resolution: [2]float64{0.5, 0.5},
			Interp:     "bilinear",
			Nodata:     0,
			WriteMask:  true,
			TileSize:   [2]int{512, 512},
		},
		Solver: Solver{
			MaxIterations: 10,
			Threshold:     1.0,
		},
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      os.TempDir(),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DefaultInput:  ".",
			DefaultOutput: "./output",
			DatabasePath:  filepath.Join(os.TempDir(), "orthorect.db"),
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
