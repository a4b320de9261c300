package geo

// Descriptor describes an output raster grid: its pixel dimensions, the
// pixel-to-world transform, the target CRS and the pixel storage
// parameters. It is computed once from the solved footprint and the
// configured resolution, and consumed by both the elevation alignment
// step and the tile remapper.
type Descriptor struct {
	Width     int
	Height    int
	Transform Affine
	CRS       string
	DType     string
	Bands     int
	Nodata    float64
}

// Bounds returns the world extent covered by the raster grid.
func (d Descriptor) Bounds() Bounds {
	x0, y0 := d.Transform.Apply(0, 0)
	x1, y1 := d.Transform.Apply(float64(d.Width), float64(d.Height))
	return BoundsFromPoints([]float64{x0, x1}, []float64{y0, y1})
}
