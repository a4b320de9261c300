// Package ortho implements the orthorectification core: solving the
// ground footprint of a source image against terrain elevation, and
// remapping the source into a map-projected output raster tile by tile.
package ortho

import "math"

// ElevationGrid is a terrain elevation grid aligned 1:1 with the ortho
// output pixel grid. Cells without terrain data hold NaN. It is produced
// fresh for each run by the elevation collaborator and is read-only
// during remapping, so concurrent readers are safe.
type ElevationGrid struct {
	Width  int
	Height int
	Data   []float64 // row-major
}

// NewElevationGrid allocates a grid with every cell set to nodata.
func NewElevationGrid(width, height int) *ElevationGrid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.NaN()
	}
	return &ElevationGrid{Width: width, Height: height, Data: data}
}

// At returns the elevation at (col, row), or NaN outside the grid.
func (g *ElevationGrid) At(col, row int) float64 {
	if col < 0 || col >= g.Width || row < 0 || row >= g.Height {
		return math.NaN()
	}
	return g.Data[row*g.Width+col]
}

// Set stores an elevation at (col, row).
func (g *ElevationGrid) Set(col, row int, z float64) {
	g.Data[row*g.Width+col] = z
}
