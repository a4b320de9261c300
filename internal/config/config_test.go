package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	t.Setenv("ORTHORECT_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Ortho.Resolution != [2]float64{0.5, 0.5} {
		t.Fatalf("resolution = %v", cfg.Ortho.Resolution)
	}
	if cfg.Solver.MaxIterations != 10 || cfg.Solver.Threshold != 1.0 {
		t.Fatalf("solver = %+v", cfg.Solver)
	}
	if cfg.Ortho.Interp != "bilinear" || cfg.Ortho.TileSize != [2]int{512, 512} {
		t.Fatalf("ortho = %+v", cfg.Ortho)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "camera": {"type": "brown", "focal_length": 120, "sensor_size": [53.4, 40]},
  "ortho": {"crs": "EPSG:32734", "resolution": [0.25, 0.25], "interp": "lanczos"},
  "processing": {"parallel_jobs": 8}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORTHORECT_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Camera.Type != "brown" || cfg.Camera.FocalLength != 120 {
		t.Fatalf("camera = %+v", cfg.Camera)
	}
	if cfg.Ortho.Interp != "lanczos" || cfg.Ortho.CRS != "EPSG:32734" {
		t.Fatalf("ortho = %+v", cfg.Ortho)
	}
	if cfg.Processing.ParallelJobs != 8 {
		t.Fatalf("parallel = %d", cfg.Processing.ParallelJobs)
	}
	// Untouched sections keep defaults.
	if cfg.Solver.MaxIterations != 10 {
		t.Fatalf("solver = %+v", cfg.Solver)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"ortho": {"interp": "sinc"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ORTHORECT_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Camera.Type = "tilt-shift" },
		func(c *Config) { c.Camera.SensorSize = []float64{36} },
		func(c *Config) { c.Ortho.Resolution[0] = -1 },
		func(c *Config) { c.Ortho.DType = "float64" },
		func(c *Config) { c.Solver.MaxIterations = -1 },
	}
	for i, mutate := range bad {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Default()
	cfg.Ortho.CRS = "EPSG:32610"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("ORTHORECT_CONFIG", path)
	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Ortho.CRS != "EPSG:32610" {
		t.Fatalf("crs = %q", got.Ortho.CRS)
	}
}
