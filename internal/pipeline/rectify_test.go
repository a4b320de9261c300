package pipeline

import (
	"context"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/image/tiff"

	"orthorect/internal/config"
	"orthorect/internal/exif"
	"orthorect/internal/raster"
)

// phaseRecorder is a slog handler that counts the per-phase progress
// records rectifyImage emits.
type phaseRecorder struct {
	mu     sync.Mutex
	phases map[string]int
}

func (p *phaseRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (p *phaseRecorder) Handle(_ context.Context, rec slog.Record) error {
	if rec.Message != "rectify phase" {
		return nil
	}
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == "phase" {
			p.mu.Lock()
			p.phases[a.Value.String()]++
			p.mu.Unlock()
		}
		return true
	})
	return nil
}

func (p *phaseRecorder) WithAttrs([]slog.Attr) slog.Handler { return p }
func (p *phaseRecorder) WithGroup(string) slog.Handler      { return p }

// A nadir pinhole scene whose output grid lands exactly on the source
// pixels: flat terrain at zero, focal 50mm over a 12.5mm sensor at
// 100m altitude, so the 4x4 frame covers a 25m square at 6.25m/px.
func TestRectifyImageReportsAllPhases(t *testing.T) {
	dir := t.TempDir()

	asc := strings.Join([]string{
		"ncols 4",
		"nrows 4",
		"xllcorner 987.5",
		"yllcorner 1987.5",
		"cellsize 6.25",
		"NODATA_value -9999",
		"0 0 0 0",
		"0 0 0 0",
		"0 0 0 0",
		"0 0 0 0",
	}, "\n")
	demPath := filepath.Join(dir, "dem.asc")
	if err := os.WriteFile(demPath, []byte(asc), 0o644); err != nil {
		t.Fatalf("write dem: %v", err)
	}
	dem, err := raster.OpenDEM(demPath)
	if err != nil {
		t.Fatalf("open dem: %v", err)
	}

	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(10 + i)
	}
	srcPath := filepath.Join(dir, "frame.png")
	f, err := os.Create(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	rec := &phaseRecorder{phases: map[string]int{}}
	outPath := filepath.Join(dir, "frame_ORTHO.tif")
	outcome, err := rectifyImage(context.Background(), rectifyRequest{
		JobID:      "rectify-phases",
		SourcePath: srcPath,
		OutputPath: outPath,
		DEM:        dem,
		Table: exif.PosOriTable{
			"frame": {Easting: 1000, Northing: 2000, Altitude: 100},
		},
		Camera: config.Camera{Type: "pinhole", FocalLength: 50, SensorSize: []float64{12.5, 12.5}},
		Ortho: config.Ortho{
			Resolution: [2]float64{6.25, 6.25},
			Interp:     "nearest",
			WriteMask:  true,
		},
		Solver: config.Solver{MaxIterations: 10, Threshold: 1},
		Log:    slog.New(rec),
	})
	if err != nil {
		t.Fatalf("rectify: %v", err)
	}

	for _, phase := range []string{"footprint", "elevation_grid", "tile"} {
		if rec.phases[phase] == 0 {
			t.Fatalf("phase %q never reported, got %v", phase, rec.phases)
		}
	}

	b := outcome.Footprint.Bounds
	if b.MinX != 987.5 || b.MinY != 1987.5 || b.MaxX != 1012.5 || b.MaxY != 2012.5 {
		t.Fatalf("bounds = %+v", b)
	}
	if !outcome.Footprint.Converged || !outcome.Footprint.FullCoverage {
		t.Fatalf("footprint = %+v", outcome.Footprint)
	}
	if outcome.Width != 4 || outcome.Height != 4 || outcome.Bands != 1 {
		t.Fatalf("output = %dx%d bands %d", outcome.Width, outcome.Height, outcome.Bands)
	}

	of, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer of.Close()
	decoded, err := tiff.Decode(of)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	gray, ok := decoded.(*image.Gray)
	if !ok {
		t.Fatalf("output is %T, want *image.Gray", decoded)
	}
	for i, want := range img.Pix {
		if gray.Pix[i] != want {
			t.Fatalf("pixel %d = %d, want %d", i, gray.Pix[i], want)
		}
	}
}
