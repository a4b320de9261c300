package geo

import "errors"

// Affine is a 2D affine pixel-to-world transform stored as the six
// coefficients (a, b, c, d, e, f) of
//
//	x = a*col + b*row + c
//	y = d*col + e*row + f
//
// matching the rasterio/GDAL-style row-major layout. For the usual
// north-up raster b and d are 0, a is the pixel width and e is the
// negative pixel height.
type Affine [6]float64

// FromOrigin builds a north-up transform anchored at the raster's top
// left corner (west, north) with the given pixel sizes.
func FromOrigin(west, north, xsize, ysize float64) Affine {
	return Affine{xsize, 0, west, 0, -ysize, north}
}

// Apply maps a (col, row) pixel coordinate to world coordinates.
func (a Affine) Apply(col, row float64) (x, y float64) {
	x = a[0]*col + a[1]*row + a[2]
	y = a[3]*col + a[4]*row + a[5]
	return x, y
}

// Invert returns the world-to-pixel transform.
func (a Affine) Invert() (Affine, error) {
	det := a[0]*a[4] - a[1]*a[3]
	if det == 0 {
		return Affine{}, errors.New("affine transform is not invertible")
	}
	inv := Affine{
		a[4] / det, -a[1] / det, 0,
		-a[3] / det, a[0] / det, 0,
	}
	inv[2] = -(inv[0]*a[2] + inv[1]*a[5])
	inv[5] = -(inv[3]*a[2] + inv[4]*a[5])
	return inv, nil
}

// PixelWidth returns the horizontal pixel size.
func (a Affine) PixelWidth() float64 { return a[0] }

// PixelHeight returns the signed vertical pixel size (negative for
// north-up rasters).
func (a Affine) PixelHeight() float64 { return a[4] }
