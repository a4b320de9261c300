package ortho

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"orthorect/internal/camera"
	"orthorect/internal/geo"
)

// Window is a rectangular sub-region of the output raster.
type Window struct {
	Col    int
	Row    int
	Width  int
	Height int
}

// BandSource supplies source image pixels as float64 planes. Reading all
// bands at once trades memory for fewer decode passes; reading one band
// at a time bounds peak memory.
type BandSource interface {
	Dims() (width, height int)
	BandCount() int
	ReadBand(band int) ([]float64, error)
	ReadAllBands() ([][]float64, error)
}

// TileWriter receives finished tiles. It owns the on-disk layout; one
// writer instance has exclusive access to one output raster.
type TileWriter interface {
	Write(win Window, bands [][]float64) error
	WriteBand(band int, win Window, data []float64) error
	WriteMask(win Window, mask []uint8) error
}

// RemapConfig controls the resampling pass.
type RemapConfig struct {
	Kernel    Kernel
	PerBand   bool // one band at a time instead of all bands at once
	Nodata    float64
	WriteMask bool
	TileSize  [2]int
}

func (c RemapConfig) withDefaults() RemapConfig {
	if c.Kernel == "" {
		c.Kernel = KernelBilinear
	}
	if c.TileSize[0] <= 0 {
		c.TileSize[0] = 512
	}
	if c.TileSize[1] <= 0 {
		c.TileSize[1] = 512
	}
	return c
}

// Remapper populates every output pixel by sampling the source image at
// the location the camera geometry implies for that pixel's ground
// position and elevation.
type Remapper struct {
	cam  *camera.Camera
	src  BandSource
	desc geo.Descriptor
	grid *ElevationGrid
	cfg  RemapConfig
	log  *slog.Logger
	obs  Observer
}

// NewRemapper validates that the elevation grid is aligned with the
// output descriptor and returns a remapper.
func NewRemapper(
	cam *camera.Camera,
	src BandSource,
	desc geo.Descriptor,
	grid *ElevationGrid,
	cfg RemapConfig,
	log *slog.Logger,
	obs Observer,
) (*Remapper, error) {
	if grid.Width != desc.Width || grid.Height != desc.Height {
		return nil, fmt.Errorf("elevation grid %dx%d not aligned with output %dx%d",
			grid.Width, grid.Height, desc.Width, desc.Height)
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Remapper{cam: cam, src: src, desc: desc, grid: grid, cfg: cfg, log: log, obs: obs}, nil
}

// Run remaps the whole output raster, handing each finished tile to w.
// Tiles are processed sequentially; the two execution modes produce
// numerically identical output and differ only in peak memory versus
// decode passes.
func (r *Remapper) Run(w TileWriter) error {
	if r.cfg.PerBand {
		return r.runPerBand(w)
	}
	return r.runAllBands(w)
}

func (r *Remapper) runAllBands(w TileWriter) error {
	bands, err := r.src.ReadAllBands()
	if err != nil {
		return fmt.Errorf("read source bands: %w", err)
	}

	tiles := 0
	for _, win := range r.windows() {
		start := time.Now()

		cols, rows, valid := r.mapTile(win)
		out := make([][]float64, len(bands))
		for b := range bands {
			out[b] = r.sampleBand(bands[b], win, cols, rows, valid)
		}
		r.dilateNodata(win, valid, out)

		if err := w.Write(win, out); err != nil {
			return fmt.Errorf("write tile %+v: %w", win, err)
		}
		if r.cfg.WriteMask {
			if err := w.WriteMask(win, valid); err != nil {
				return fmt.Errorf("write mask %+v: %w", win, err)
			}
		}
		tiles++
		r.obs.notify(PhaseTile, start)
	}
	r.log.Debug("remap complete", "tiles", tiles, "mode", "all_bands")
	return nil
}

func (r *Remapper) runPerBand(w TileWriter) error {
	tiles := 0
	for b := 0; b < r.src.BandCount(); b++ {
		band, err := r.src.ReadBand(b)
		if err != nil {
			return fmt.Errorf("read source band %d: %w", b, err)
		}
		for _, win := range r.windows() {
			start := time.Now()

			cols, rows, valid := r.mapTile(win)
			out := r.sampleBand(band, win, cols, rows, valid)
			r.dilateNodata(win, valid, [][]float64{out})

			if err := w.WriteBand(b, win, out); err != nil {
				return fmt.Errorf("write band %d tile %+v: %w", b, win, err)
			}
			// The validity mask depends only on geometry, not band values,
			// so it is written during the first band pass.
			if r.cfg.WriteMask && b == 0 {
				if err := w.WriteMask(win, valid); err != nil {
					return fmt.Errorf("write mask %+v: %w", win, err)
				}
			}
			tiles++
			r.obs.notify(PhaseTile, start)
		}
	}
	r.log.Debug("remap complete", "tiles", tiles, "mode", "per_band")
	return nil
}

// windows enumerates output tiles in row-major order.
func (r *Remapper) windows() []Window {
	var wins []Window
	for row := 0; row < r.desc.Height; row += r.cfg.TileSize[1] {
		th := r.cfg.TileSize[1]
		if row+th > r.desc.Height {
			th = r.desc.Height - row
		}
		for col := 0; col < r.desc.Width; col += r.cfg.TileSize[0] {
			tw := r.cfg.TileSize[0]
			if col+tw > r.desc.Width {
				tw = r.desc.Width - col
			}
			wins = append(wins, Window{Col: col, Row: row, Width: tw, Height: th})
		}
	}
	return wins
}

// mapTile computes, for every output pixel of the tile, the fractional
// source pixel coordinate implied by the camera geometry, in one batched
// projection call. valid is 1 where the source coordinate is usable and
// 0 where the pixel must become nodata (no terrain data, or the
// coordinate falls outside the source; landing exactly on the source
// boundary is in-bounds).
func (r *Remapper) mapTile(win Window) (cols, rows []float64, valid []uint8) {
	n := win.Width * win.Height
	world := mat.NewDense(3, n, nil)

	i := 0
	for row := win.Row; row < win.Row+win.Height; row++ {
		for col := win.Col; col < win.Col+win.Width; col++ {
			x, y := r.desc.Transform.Apply(float64(col), float64(row))
			world.Set(0, i, x)
			world.Set(1, i, y)
			world.Set(2, i, r.grid.At(col, row))
			i++
		}
	}

	img, err := r.cam.Project(world)
	if err != nil {
		// Shape is constructed above; only an unset camera reaches here.
		panic(err)
	}

	srcW, srcH := r.src.Dims()
	cols = make([]float64, n)
	rows = make([]float64, n)
	valid = make([]uint8, n)
	for j := 0; j < n; j++ {
		c := img.At(0, j)
		rw := img.At(1, j)
		cols[j] = c
		rows[j] = rw
		if math.IsNaN(c) || math.IsNaN(rw) {
			continue
		}
		if c < 0 || c > float64(srcW-1) || rw < 0 || rw > float64(srcH-1) {
			continue
		}
		valid[j] = 1
	}
	return cols, rows, valid
}

func (r *Remapper) sampleBand(band []float64, win Window, cols, rows []float64, valid []uint8) []float64 {
	srcW, srcH := r.src.Dims()
	out := make([]float64, len(cols))
	for i := range cols {
		if valid[i] == 0 {
			out[i] = r.cfg.Nodata
			continue
		}
		out[i] = r.cfg.Kernel.Sample(band, srcW, srcH, cols[i], rows[i])
	}
	return out
}

// dilateNodata removes interpolation blur at nodata boundaries. Any
// kernel wider than nearest-neighbour blends a nodata neighbour's value
// into adjacent output pixels; when the nodata region in a tile is
// non-trivial (more cells than the shorter tile dimension), the nodata
// mask is dilated by one ring of 8-connected neighbours and all bands
// are forced to nodata there. The cost is a one-pixel erosion of valid
// data at true image edges, accepted in exchange for clean coverage
// boundaries.
func (r *Remapper) dilateNodata(win Window, valid []uint8, bands [][]float64) {
	if r.cfg.Kernel == KernelNearest {
		return
	}
	nodataCount := 0
	for _, v := range valid {
		if v == 0 {
			nodataCount++
		}
	}
	shorter := win.Width
	if win.Height < shorter {
		shorter = win.Height
	}
	if nodataCount == 0 || nodataCount <= shorter {
		return
	}

	dilated := make([]uint8, len(valid))
	copy(dilated, valid)
	for row := 0; row < win.Height; row++ {
		for col := 0; col < win.Width; col++ {
			if valid[row*win.Width+col] != 0 {
				continue
			}
			for dr := -1; dr <= 1; dr++ {
				for dc := -1; dc <= 1; dc++ {
					rr, cc := row+dr, col+dc
					if rr < 0 || rr >= win.Height || cc < 0 || cc >= win.Width {
						continue
					}
					dilated[rr*win.Width+cc] = 0
				}
			}
		}
	}

	for i, v := range dilated {
		if v == 0 {
			for _, b := range bands {
				b[i] = r.cfg.Nodata
			}
		}
	}
	copy(valid, dilated)
}
