package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"orthorect/internal/geo"
	"orthorect/internal/ortho"
)

// DEM is an elevation raster loaded from an ESRI ASCII grid. Values are
// held in memory row-major with row 0 at the northern edge; nodata cells
// are stored as NaN.
type DEM struct {
	Width  int
	Height int
	Cell   float64
	Origin [2]float64 // lower-left corner of the lower-left cell
	CRS    string
	Data   []float64
}

// OpenDEM reads an ESRI ASCII grid (.asc). Both the corner and the
// center form of the origin keys are accepted. A .prj sidecar, when
// present, supplies the CRS text verbatim.
func OpenDEM(path string) (*DEM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := ParseASCIIGrid(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	prj := strings.TrimSuffix(path, ".asc") + ".prj"
	if wkt, err := os.ReadFile(prj); err == nil {
		d.CRS = strings.TrimSpace(string(wkt))
	}
	return d, nil
}

// ParseASCIIGrid parses the header and cell values of an ESRI ASCII
// grid stream.
func ParseASCIIGrid(r io.Reader) (*DEM, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(bufio.ScanWords)

	next := func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return sc.Text(), nil
	}

	var (
		ncols, nrows   int
		xll, yll, cell float64
		nodata         = -9999.0
		center         bool
		haveX, haveY   bool
	)

	// Header keys arrive as key/value word pairs until the first token
	// that is not a known key, which starts the data section.
	var first string
	for {
		tok, err := next()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		key := strings.ToLower(tok)
		if key != "ncols" && key != "nrows" && key != "xllcorner" && key != "yllcorner" &&
			key != "xllcenter" && key != "yllcenter" && key != "cellsize" && key != "nodata_value" {
			first = tok
			break
		}
		val, err := next()
		if err != nil {
			return nil, fmt.Errorf("read header value for %s: %w", tok, err)
		}
		fv, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", tok, err)
		}
		switch key {
		case "ncols":
			ncols = int(fv)
		case "nrows":
			nrows = int(fv)
		case "xllcorner":
			xll, haveX = fv, true
		case "yllcorner":
			yll, haveY = fv, true
		case "xllcenter":
			xll, haveX, center = fv, true, true
		case "yllcenter":
			yll, haveY, center = fv, true, true
		case "cellsize":
			cell = fv
		case "nodata_value":
			nodata = fv
		}
	}
	if ncols <= 0 || nrows <= 0 {
		return nil, fmt.Errorf("invalid grid size %dx%d", ncols, nrows)
	}
	if cell <= 0 {
		return nil, fmt.Errorf("invalid cellsize %v", cell)
	}
	if !haveX || !haveY {
		return nil, fmt.Errorf("missing grid origin")
	}
	if center {
		xll -= cell / 2
		yll -= cell / 2
	}

	d := &DEM{
		Width:  ncols,
		Height: nrows,
		Cell:   cell,
		Origin: [2]float64{xll, yll},
		Data:   make([]float64, ncols*nrows),
	}
	for i := range d.Data {
		var tok string
		if i == 0 {
			tok = first
		} else {
			t, err := next()
			if err != nil {
				return nil, fmt.Errorf("read cell %d of %d: %w", i, len(d.Data), err)
			}
			tok = t
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		if v == nodata {
			v = math.NaN()
		}
		d.Data[i] = v
	}
	return d, nil
}

// Transform returns the grid's affine transform with row 0 at the top.
func (d *DEM) Transform() geo.Affine {
	north := d.Origin[1] + float64(d.Height)*d.Cell
	return geo.FromOrigin(d.Origin[0], north, d.Cell, d.Cell)
}

// Extent returns the full cell-edge bounds of the grid.
func (d *DEM) Extent() geo.Bounds {
	return geo.Bounds{
		MinX: d.Origin[0],
		MinY: d.Origin[1],
		MaxX: d.Origin[0] + float64(d.Width)*d.Cell,
		MaxY: d.Origin[1] + float64(d.Height)*d.Cell,
	}
}

// At returns the cell value at (col, row), NaN outside the grid.
func (d *DEM) At(col, row int) float64 {
	if col < 0 || col >= d.Width || row < 0 || row >= d.Height {
		return math.NaN()
	}
	return d.Data[row*d.Width+col]
}

// MinElevation scans the cells overlapping window for the minimum valid
// value. ok is false when every overlapping cell is nodata.
func (d *DEM) MinElevation(window geo.Bounds) (float64, bool, error) {
	inv, err := d.Transform().Invert()
	if err != nil {
		return 0, false, err
	}
	c0f, r0f := inv.Apply(window.MinX, window.MaxY)
	c1f, r1f := inv.Apply(window.MaxX, window.MinY)

	c0 := clampIndex(int(math.Floor(c0f)), d.Width)
	c1 := clampIndex(int(math.Ceil(c1f))-1, d.Width)
	r0 := clampIndex(int(math.Floor(r0f)), d.Height)
	r1 := clampIndex(int(math.Ceil(r1f))-1, d.Height)

	min := math.Inf(1)
	found := false
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			v := d.Data[row*d.Width+col]
			if math.IsNaN(v) {
				continue
			}
			if v < min {
				min = v
			}
			found = true
		}
	}
	if !found {
		return 0, false, nil
	}
	return min, true, nil
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Sample bilinearly interpolates the elevation at a world coordinate in
// the grid's own CRS. Coordinates outside the grid, and positions where
// a contributing cell is nodata, return NaN.
func (d *DEM) Sample(x, y float64) float64 {
	inv, err := d.Transform().Invert()
	if err != nil {
		return math.NaN()
	}
	cf, rf := inv.Apply(x, y)
	// Cell centers sit half a cell in from the grid edges.
	cf -= 0.5
	rf -= 0.5

	c0 := int(math.Floor(cf))
	r0 := int(math.Floor(rf))
	fx := cf - float64(c0)
	fy := rf - float64(r0)

	c0 = clampSample(c0, d.Width-1, &fx)
	r0 = clampSample(r0, d.Height-1, &fy)
	if c0 < 0 || r0 < 0 {
		return math.NaN()
	}

	vals := [4]float64{d.At(c0, r0), d.At(c0+1, r0), d.At(c0, r0+1), d.At(c0+1, r0+1)}
	wts := [4]float64{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	var sum float64
	for i, wt := range wts {
		if wt == 0 {
			continue
		}
		if math.IsNaN(vals[i]) {
			return math.NaN()
		}
		sum += wt * vals[i]
	}
	return sum
}

// clampSample keeps a tap pair inside the grid, collapsing the half-cell
// border to the edge cells. Returns -1 when the position is fully
// outside.
func clampSample(i0, max int, frac *float64) int {
	if i0 < -1 || i0 > max {
		return -1
	}
	if i0 == -1 {
		if *frac < 0.5 {
			return -1
		}
		*frac = 0
		return 0
	}
	if i0 == max {
		if *frac > 0.5 {
			return -1
		}
		*frac = 1
		return max - 1
	}
	return i0
}

// ReadAligned resamples the elevation grid onto the output raster
// described by desc. toDEM transforms output coordinates into the
// grid's CRS. Pixels outside the grid stay nodata.
func (d *DEM) ReadAligned(desc geo.Descriptor, toDEM geo.PointTransformer) (*ortho.ElevationGrid, error) {
	n := desc.Width * desc.Height
	xs := make([]float64, n)
	ys := make([]float64, n)
	i := 0
	for row := 0; row < desc.Height; row++ {
		for col := 0; col < desc.Width; col++ {
			xs[i], ys[i] = desc.Transform.Apply(float64(col), float64(row))
			i++
		}
	}
	dx, dy, err := toDEM.Transform(xs, ys)
	if err != nil {
		return nil, fmt.Errorf("transform output grid to elevation crs: %w", err)
	}

	grid := ortho.NewElevationGrid(desc.Width, desc.Height)
	for j := 0; j < n; j++ {
		grid.Data[j] = d.Sample(dx[j], dy[j])
	}
	return grid, nil
}
