package raster

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	"orthorect/internal/geo"
	"orthorect/internal/ortho"
)

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestOpenSourceColor(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{R: 70, G: 80, B: 90, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 100, G: 110, B: 120, A: 255})

	path := filepath.Join(t.TempDir(), "frame.png")
	writePNG(t, path, img)

	s, err := OpenSource(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if w, h := s.Dims(); w != 2 || h != 2 {
		t.Fatalf("dims = %dx%d", w, h)
	}
	if s.BandCount() != 3 || s.DType() != "uint8" {
		t.Fatalf("bands = %d dtype = %s", s.BandCount(), s.DType())
	}

	bands, err := s.ReadAllBands()
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	wantRed := []float64{10, 40, 70, 100}
	for i, v := range wantRed {
		if bands[0][i] != v {
			t.Fatalf("red[%d] = %v, want %v", i, bands[0][i], v)
		}
	}
	green, err := s.ReadBand(1)
	if err != nil {
		t.Fatalf("read band: %v", err)
	}
	if green[3] != 110 {
		t.Fatalf("green[3] = %v, want 110", green[3])
	}
	if _, err := s.ReadBand(3); err == nil {
		t.Fatal("expected out-of-range band error")
	}
}

func TestOpenSourceGray(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.Pix = []uint8{5, 128, 250}

	path := filepath.Join(t.TempDir(), "frame.png")
	writePNG(t, path, img)

	s, err := OpenSource(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.BandCount() != 1 {
		t.Fatalf("bands = %d, want 1", s.BandCount())
	}
	band, err := s.ReadBand(0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if band[0] != 5 || band[1] != 128 || band[2] != 250 {
		t.Fatalf("band = %v", band)
	}
}

func TestOpenSourceUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenSource(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "ortho.tif")
	desc := geo.Descriptor{
		Width:     4,
		Height:    2,
		Transform: geo.FromOrigin(990, 2010, 5, 5),
		CRS:       "EPSG:32734",
		DType:     "uint8",
		Bands:     1,
		Nodata:    255,
	}
	w, err := CreateOutput(out, desc, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	win := ortho.Window{Col: 0, Row: 0, Width: 4, Height: 2}
	data := []float64{0, 10, 20, 30, 40, 50, 60, 255}
	if err := w.Write(win, [][]float64{data}); err != nil {
		t.Fatalf("write: %v", err)
	}
	mask := []uint8{1, 1, 1, 1, 1, 1, 1, 0}
	if err := w.WriteMask(win, mask); err != nil {
		t.Fatalf("write mask: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("decoded %T, want *image.Gray", img)
	}
	for i, v := range data {
		if gray.Pix[i] != uint8(v) {
			t.Fatalf("pixel %d = %d, want %v", i, gray.Pix[i], v)
		}
	}

	tfw, err := os.ReadFile(filepath.Join(dir, "ortho.tfw"))
	if err != nil {
		t.Fatalf("world file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(tfw)), "\n")
	if len(lines) != 6 {
		t.Fatalf("world file has %d lines", len(lines))
	}
	// Pixel size, then the center of the top-left pixel.
	if lines[0] != "5.0000000000" || lines[3] != "-5.0000000000" {
		t.Fatalf("pixel size lines = %q, %q", lines[0], lines[3])
	}
	if lines[4] != "992.5000000000" || lines[5] != "2007.5000000000" {
		t.Fatalf("origin lines = %q, %q", lines[4], lines[5])
	}

	prj, err := os.ReadFile(filepath.Join(dir, "ortho.prj"))
	if err != nil {
		t.Fatalf("prj: %v", err)
	}
	if strings.TrimSpace(string(prj)) != "EPSG:32734" {
		t.Fatalf("prj = %q", prj)
	}

	mf, err := os.Open(out + ".msk")
	if err != nil {
		t.Fatalf("mask file: %v", err)
	}
	defer mf.Close()
	mimg, err := tiff.Decode(mf)
	if err != nil {
		t.Fatalf("decode mask: %v", err)
	}
	mgray := mimg.(*image.Gray)
	if mgray.Pix[0] != 0xff || mgray.Pix[7] != 0 {
		t.Fatalf("mask pixels = %d, %d", mgray.Pix[0], mgray.Pix[7])
	}
}

func TestWriterValidation(t *testing.T) {
	desc := geo.Descriptor{Width: 4, Height: 4, DType: "uint8", Bands: 1}
	if _, err := CreateOutput("x.tif", geo.Descriptor{Width: 4, Height: 4, DType: "float32", Bands: 1}, false); err == nil {
		t.Fatal("expected dtype error")
	}
	if _, err := CreateOutput("x.tif", geo.Descriptor{Width: 4, Height: 4, DType: "uint8", Bands: 2}, false); err == nil {
		t.Fatal("expected band count error")
	}
	w, err := CreateOutput(filepath.Join(t.TempDir(), "x.tif"), desc, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bad := ortho.Window{Col: 2, Row: 2, Width: 4, Height: 4}
	if err := w.WriteBand(0, bad, make([]float64, 16)); err == nil {
		t.Fatal("expected window bounds error")
	}
}

func TestQuantization(t *testing.T) {
	if quant8(-3) != 0 || quant8(300) != 255 || quant8(10.6) != 11 {
		t.Fatal("uint8 quantization")
	}
	if quant16(70000) != 65535 || quant16(0.4) != 0 {
		t.Fatal("uint16 quantization")
	}
}
