package ortho

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"orthorect/internal/camera"
	"orthorect/internal/geo"
)

// ErrOutOfBounds reports that the projected image footprint does not
// overlap the elevation source at all. It is fatal for the affected
// image; a batch over several images should continue with the next one.
var ErrOutOfBounds = errors.New("image footprint outside elevation coverage")

// MinElevationSource is the capability the footprint solver needs from
// the elevation collaborator: a valid extent and windowed minimums.
type MinElevationSource interface {
	// Extent returns the valid extent in the source's own CRS.
	Extent() geo.Bounds
	// MinElevation returns the minimum elevation inside the window,
	// excluding nodata cells. ok is false when the window holds no valid
	// cell.
	MinElevation(window geo.Bounds) (min float64, ok bool, err error)
}

// FootprintConfig bounds the iterative solve.
type FootprintConfig struct {
	MaxIterations int     // default 10
	Threshold     float64 // convergence criterion in elevation units, default 1
}

func (c FootprintConfig) withDefaults() FootprintConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.Threshold <= 0 {
		c.Threshold = 1
	}
	return c
}

// Footprint is the solved ground extent of a source image.
type Footprint struct {
	Bounds       geo.Bounds
	MinElevation float64
	Converged    bool
	FullCoverage bool
	Iterations   int
}

// SolveFootprint determines the tightest output bounds containing the
// ground projection of the whole source image.
//
// The bounds depend on terrain elevation, but sampling elevation
// requires knowing where to look, so the solve iterates a fixed point on
// the minimum elevation: project the image corners at the current
// estimate, read the minimum under the resulting box, repeat until the
// estimate stops moving. Relief is small relative to flying height for
// typical survey imagery, so a handful of iterations suffices.
//
// Non-convergence and partial elevation coverage are warnings, not
// errors: the solve always produces the best available bounds. toDEM
// transforms footprint coordinates into the elevation source's CRS.
func SolveFootprint(
	cam *camera.Camera,
	dem MinElevationSource,
	toDEM geo.PointTransformer,
	cfg FootprintConfig,
	log *slog.Logger,
) (Footprint, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	w := cam.Intrinsics().ImageSize[0]
	h := cam.Intrinsics().ImageSize[1]
	corners := mat.NewDense(2, 4, []float64{
		0, w, w, 0,
		0, 0, h, h,
	})

	fp := Footprint{MinElevation: 0}
	for i := 0; i < cfg.MaxIterations; i++ {
		fp.Iterations = i + 1

		world, err := cam.UnprojectToElevation(corners, []float64{fp.MinElevation})
		if err != nil {
			return Footprint{}, err
		}
		xs := mat.Row(nil, 0, world)
		ys := mat.Row(nil, 1, world)
		fp.Bounds = geo.BoundsFromPoints(xs, ys)

		demXs, demYs, err := toDEM.Transform(
			[]float64{fp.Bounds.MinX, fp.Bounds.MaxX, fp.Bounds.MinX, fp.Bounds.MaxX},
			[]float64{fp.Bounds.MinY, fp.Bounds.MinY, fp.Bounds.MaxY, fp.Bounds.MaxY},
		)
		if err != nil {
			return Footprint{}, fmt.Errorf("transform footprint to elevation crs: %w", err)
		}
		want := geo.BoundsFromPoints(demXs, demYs)

		window := want.Intersect(dem.Extent())
		if window.IsEmpty() {
			return Footprint{}, fmt.Errorf("%w: footprint %+v vs extent %+v", ErrOutOfBounds, want, dem.Extent())
		}
		fp.FullCoverage = dem.Extent().Covers(want)

		min, ok, err := dem.MinElevation(window)
		if err != nil {
			return Footprint{}, fmt.Errorf("read minimum elevation: %w", err)
		}
		// Terrain is never assumed below sea level unless valid data says
		// so; an all-nodata window also falls back to 0.
		if !ok || min < 0 {
			min = 0
		}

		if math.Abs(min-fp.MinElevation) <= cfg.Threshold {
			fp.Converged = true
			break
		}
		fp.MinElevation = min
	}

	if !fp.Converged {
		log.Warn("footprint solve did not converge, using last estimate",
			"iterations", fp.Iterations,
			"min_elevation", fp.MinElevation,
		)
	}
	if !fp.FullCoverage {
		log.Warn("image footprint partially outside elevation coverage, uncovered terrain treated as unknown")
	}
	return fp, nil
}

// OutputDescriptor derives the output raster grid from solved footprint
// bounds and the configured pixel resolution.
func OutputDescriptor(b geo.Bounds, resX, resY float64, crs, dtype string, bands int, nodata float64) geo.Descriptor {
	width := int(math.Ceil(b.Width() / resX))
	height := int(math.Ceil(b.Height() / resY))
	return geo.Descriptor{
		Width:     width,
		Height:    height,
		Transform: geo.FromOrigin(b.MinX, b.MaxY, resX, resY),
		CRS:       crs,
		DType:     dtype,
		Bands:     bands,
		Nodata:    nodata,
	}
}
