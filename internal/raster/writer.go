package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"strings"
	"sync"

	"golang.org/x/image/tiff"

	"orthorect/internal/geo"
	"orthorect/internal/ortho"
)

// Writer accumulates remapped tiles and materializes the output raster
// on Close: a deflate-compressed TIFF next to a .tfw world file, plus a
// .prj sidecar when the CRS is known and a .msk validity mask when
// requested.
type Writer struct {
	path      string
	desc      geo.Descriptor
	writeMask bool

	mu    sync.Mutex
	bands [][]float64
	mask  []uint8
}

// CreateOutput prepares a writer for the raster described by desc.
func CreateOutput(path string, desc geo.Descriptor, writeMask bool) (*Writer, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("invalid output size %dx%d", desc.Width, desc.Height)
	}
	if desc.Bands != 1 && desc.Bands != 3 {
		return nil, fmt.Errorf("unsupported band count %d", desc.Bands)
	}
	if desc.DType != "uint8" && desc.DType != "uint16" {
		return nil, fmt.Errorf("unsupported output dtype %q", desc.DType)
	}

	w := &Writer{path: path, desc: desc, writeMask: writeMask}
	n := desc.Width * desc.Height
	w.bands = make([][]float64, desc.Bands)
	for b := range w.bands {
		plane := make([]float64, n)
		if desc.Nodata != 0 {
			for i := range plane {
				plane[i] = desc.Nodata
			}
		}
		w.bands[b] = plane
	}
	if writeMask {
		w.mask = make([]uint8, n)
	}
	return w, nil
}

func (w *Writer) checkWindow(win ortho.Window) error {
	if win.Col < 0 || win.Row < 0 ||
		win.Col+win.Width > w.desc.Width || win.Row+win.Height > w.desc.Height {
		return fmt.Errorf("tile %+v outside raster %dx%d", win, w.desc.Width, w.desc.Height)
	}
	return nil
}

// Write stores a finished all-bands tile.
func (w *Writer) Write(win ortho.Window, bands [][]float64) error {
	if len(bands) != len(w.bands) {
		return fmt.Errorf("tile has %d bands, raster has %d", len(bands), len(w.bands))
	}
	for b := range bands {
		if err := w.WriteBand(b, win, bands[b]); err != nil {
			return err
		}
	}
	return nil
}

// WriteBand stores one band of a tile.
func (w *Writer) WriteBand(band int, win ortho.Window, data []float64) error {
	if band < 0 || band >= len(w.bands) {
		return fmt.Errorf("band %d out of range", band)
	}
	if err := w.checkWindow(win); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for row := 0; row < win.Height; row++ {
		dst := (win.Row+row)*w.desc.Width + win.Col
		copy(w.bands[band][dst:dst+win.Width], data[row*win.Width:(row+1)*win.Width])
	}
	return nil
}

// WriteMask stores the validity mask of a tile.
func (w *Writer) WriteMask(win ortho.Window, mask []uint8) error {
	if !w.writeMask {
		return nil
	}
	if err := w.checkWindow(win); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for row := 0; row < win.Height; row++ {
		dst := (win.Row+row)*w.desc.Width + win.Col
		copy(w.mask[dst:dst+win.Width], mask[row*win.Width:(row+1)*win.Width])
	}
	return nil
}

// Close encodes the accumulated raster and its sidecars.
func (w *Writer) Close() error {
	img := w.assemble()

	f, err := os.Create(w.path)
	if err != nil {
		return err
	}
	opts := &tiff.Options{Compression: tiff.Deflate}
	if err := tiff.Encode(f, img, opts); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", w.path, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	base := strings.TrimSuffix(w.path, ".tif")
	base = strings.TrimSuffix(base, ".tiff")
	if err := os.WriteFile(base+".tfw", []byte(worldFile(w.desc.Transform)), 0o644); err != nil {
		return err
	}
	if w.desc.CRS != "" {
		if err := os.WriteFile(base+".prj", []byte(w.desc.CRS+"\n"), 0o644); err != nil {
			return err
		}
	}
	if w.writeMask {
		if err := w.writeMaskFile(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) assemble() image.Image {
	width, height := w.desc.Width, w.desc.Height
	rect := image.Rect(0, 0, width, height)
	wide := w.desc.DType == "uint16"

	switch {
	case len(w.bands) == 1 && !wide:
		img := image.NewGray(rect)
		for i, v := range w.bands[0] {
			img.Pix[i] = quant8(v)
		}
		return img
	case len(w.bands) == 1 && wide:
		img := image.NewGray16(rect)
		for i, v := range w.bands[0] {
			q := quant16(v)
			img.Pix[2*i] = uint8(q >> 8)
			img.Pix[2*i+1] = uint8(q)
		}
		return img
	case !wide:
		img := image.NewNRGBA(rect)
		for i := 0; i < width*height; i++ {
			img.Pix[4*i+0] = quant8(w.bands[0][i])
			img.Pix[4*i+1] = quant8(w.bands[1][i])
			img.Pix[4*i+2] = quant8(w.bands[2][i])
			img.Pix[4*i+3] = 0xff
		}
		return img
	default:
		img := image.NewNRGBA64(rect)
		for i := 0; i < width*height; i++ {
			img.SetNRGBA64(i%width, i/width, color.NRGBA64{
				R: quant16(w.bands[0][i]),
				G: quant16(w.bands[1][i]),
				B: quant16(w.bands[2][i]),
				A: 0xffff,
			})
		}
		return img
	}
}

func (w *Writer) writeMaskFile() error {
	img := image.NewGray(image.Rect(0, 0, w.desc.Width, w.desc.Height))
	for i, v := range w.mask {
		if v != 0 {
			img.Pix[i] = 0xff
		}
	}
	f, err := os.Create(w.path + ".msk")
	if err != nil {
		return err
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		f.Close()
		return fmt.Errorf("encode mask: %w", err)
	}
	return f.Close()
}

func quant8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

func quant16(v float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 65535 {
		return 65535
	}
	return uint16(math.Round(v))
}

// worldFile renders the six-line ESRI world file for the transform. The
// origin entries reference the center of the top-left pixel.
func worldFile(t geo.Affine) string {
	a, b, c, d, e, f := t[0], t[1], t[2], t[3], t[4], t[5]
	cx := c + a/2 + b/2
	cy := f + d/2 + e/2
	return fmt.Sprintf("%.10f\n%.10f\n%.10f\n%.10f\n%.10f\n%.10f\n", a, d, b, e, cx, cy)
}
