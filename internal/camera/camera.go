// Package camera implements the projective model of an aerial frame
// camera: a rigid-body pose in a projected world CRS plus a pinhole
// optical model with optional lens distortion. It converts between 3D
// world coordinates and 2D image pixel coordinates in batches.
package camera

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidArgument reports malformed geometric input: wrong vector
// lengths, empty point sets, non-positive optical parameters.
var ErrInvalidArgument = errors.New("invalid argument")

// Pose is the camera position and orientation at capture time. Angles
// are omega/phi/kappa in radians, PATB convention.
type Pose struct {
	Easting  float64
	Northing float64
	Altitude float64
	Omega    float64
	Phi      float64
	Kappa    float64
}

// Intrinsics holds the optical parameters of the camera.
type Intrinsics struct {
	FocalLength float64    // mm
	SensorSize  [2]float64 // width, height in mm
	ImageSize   [2]float64 // width, height in pixels
	Distortion  Distortion
}

// Camera converts between world and image coordinates for one pose and
// one set of intrinsics. Derived rotation and intrinsic matrices are
// rebuilt whenever either is replaced, so they are always consistent
// with the last set parameters.
type Camera struct {
	pose Pose
	intr Intrinsics

	r    *mat.Dense // 3x3 rotation, camera to world
	k    [9]float64 // row-major intrinsic matrix
	kInv [9]float64

	hasIntrinsic bool
}

// New builds a camera from extrinsic and intrinsic parameters in one
// step. position is (easting, northing, altitude); orientation is
// (omega, phi, kappa) in radians.
func New(position, orientation []float64, imageSize []float64, focalLength float64, sensorSize []float64, dist Distortion) (*Camera, error) {
	c := &Camera{}
	if err := c.SetExtrinsic(position, orientation); err != nil {
		return nil, err
	}
	if err := c.SetIntrinsic(imageSize, focalLength, sensorSize, dist); err != nil {
		return nil, err
	}
	return c, nil
}

// Pose returns the current pose.
func (c *Camera) Pose() Pose { return c.pose }

// Intrinsics returns the current intrinsics.
func (c *Camera) Intrinsics() Intrinsics { return c.intr }

// SetExtrinsic replaces the camera pose and recomputes the rotation
// matrix. The rotation composes as R = Romega * Rphi * Rkappa (PATB).
// That order is a pinned contract: every downstream footprint and remap
// result depends on it.
func (c *Camera) SetExtrinsic(position, orientation []float64) error {
	if len(position) != 3 {
		return fmt.Errorf("%w: position must have 3 components, got %d", ErrInvalidArgument, len(position))
	}
	if len(orientation) != 3 {
		return fmt.Errorf("%w: orientation must have 3 components, got %d", ErrInvalidArgument, len(orientation))
	}
	c.pose = Pose{
		Easting:  position[0],
		Northing: position[1],
		Altitude: position[2],
		Omega:    orientation[0],
		Phi:      orientation[1],
		Kappa:    orientation[2],
	}

	so, co := math.Sincos(c.pose.Omega)
	sp, cp := math.Sincos(c.pose.Phi)
	sk, ck := math.Sincos(c.pose.Kappa)

	omega := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, co, -so,
		0, so, co,
	})
	phi := mat.NewDense(3, 3, []float64{
		cp, 0, sp,
		0, 1, 0,
		-sp, 0, cp,
	})
	kappa := mat.NewDense(3, 3, []float64{
		ck, -sk, 0,
		sk, ck, 0,
		0, 0, 1,
	})

	r := mat.NewDense(3, 3, nil)
	r.Mul(omega, phi)
	r.Mul(r, kappa)
	c.r = r

	// The intrinsic matrix signs depend on kappa.
	if c.hasIntrinsic {
		c.rebuildIntrinsicMatrix()
	}
	return nil
}

// SetIntrinsic replaces the optical parameters and rebuilds the
// intrinsic matrix.
func (c *Camera) SetIntrinsic(imageSize []float64, focalLength float64, sensorSize []float64, dist Distortion) error {
	if len(imageSize) != 2 {
		return fmt.Errorf("%w: image size must have 2 components, got %d", ErrInvalidArgument, len(imageSize))
	}
	if len(sensorSize) != 2 {
		return fmt.Errorf("%w: sensor size must have 2 components, got %d", ErrInvalidArgument, len(sensorSize))
	}
	if focalLength <= 0 {
		return fmt.Errorf("%w: focal length must be positive", ErrInvalidArgument)
	}
	if imageSize[0] <= 0 || imageSize[1] <= 0 || sensorSize[0] <= 0 || sensorSize[1] <= 0 {
		return fmt.Errorf("%w: image and sensor sizes must be positive", ErrInvalidArgument)
	}
	if dist == nil {
		dist = Pinhole{}
	}
	c.intr = Intrinsics{
		FocalLength: focalLength,
		SensorSize:  [2]float64{sensorSize[0], sensorSize[1]},
		ImageSize:   [2]float64{imageSize[0], imageSize[1]},
		Distortion:  dist,
	}
	c.hasIntrinsic = true
	c.rebuildIntrinsicMatrix()
	return nil
}

// SetImageSize rebuilds the intrinsic matrix for a new image pixel size,
// keeping all other optical parameters. Used when one calibrated camera
// is reused across images of different dimensions.
func (c *Camera) SetImageSize(imageSize []float64) error {
	if !c.hasIntrinsic {
		return fmt.Errorf("%w: intrinsics not set", ErrInvalidArgument)
	}
	return c.SetIntrinsic(imageSize, c.intr.FocalLength, c.intr.SensorSize[:], c.intr.Distortion)
}

// rebuildIntrinsicMatrix computes K and its inverse. The horizontal
// focal term is negated (for near-zero kappa) to convert the
// right-handed looking-through-the-camera axes to image axes where
// columns grow rightward and rows grow downward, assuming a north-up
// output grid. The sign pattern follows the signed image dimensions
//
//	s = -sign(cos kappa) * (w, -h)
//
// and is a pinned convention, preserved bit-for-bit from the reference
// geometry; do not "fix" it.
func (c *Camera) rebuildIntrinsicMatrix() {
	w, h := c.intr.ImageSize[0], c.intr.ImageSize[1]

	sign := 1.0
	if math.Cos(c.pose.Kappa) < 0 {
		sign = -1.0
	}
	signedW := -sign * w
	signedH := sign * h

	fx := c.intr.FocalLength * signedW / c.intr.SensorSize[0]
	fy := c.intr.FocalLength * signedH / c.intr.SensorSize[1]
	cx := w / 2
	cy := h / 2

	c.k = [9]float64{
		fx, 0, cx,
		0, fy, cy,
		0, 0, 1,
	}
	c.kInv = [9]float64{
		1 / fx, 0, -cx / fx,
		0, 1 / fy, -cy / fy,
		0, 0, 1,
	}
}

// Project transforms world coordinates into image pixel coordinates.
// world must be 3xN (rows easting, northing, altitude) with N >= 1; the
// result is 2xN (rows column, row). Points on the camera's focal plane
// (camera-frame Z of exactly 0) produce infinities; guarding against
// them is the caller's responsibility.
func (c *Camera) Project(world *mat.Dense) (*mat.Dense, error) {
	rows, n := world.Dims()
	if rows != 3 || n < 1 {
		return nil, fmt.Errorf("%w: world points must be 3xN with N >= 1, got %dx%d", ErrInvalidArgument, rows, n)
	}
	if !c.hasIntrinsic {
		return nil, fmt.Errorf("%w: intrinsics not set", ErrInvalidArgument)
	}

	tx, ty, tz := c.pose.Easting, c.pose.Northing, c.pose.Altitude
	rm := c.r.RawMatrix().Data // row-major 3x3

	out := mat.NewDense(2, n, nil)
	for j := 0; j < n; j++ {
		dx := world.At(0, j) - tx
		dy := world.At(1, j) - ty
		dz := world.At(2, j) - tz

		// camera frame: R^T * (X - T)
		xc := rm[0]*dx + rm[3]*dy + rm[6]*dz
		yc := rm[1]*dx + rm[4]*dy + rm[7]*dz
		zc := rm[2]*dx + rm[5]*dy + rm[8]*dz

		xn := xc / zc
		yn := yc / zc
		xn, yn = c.intr.Distortion.Distort(xn, yn)

		out.Set(0, j, c.k[0]*xn+c.k[2])
		out.Set(1, j, c.k[4]*yn+c.k[5])
	}
	return out, nil
}

// UnprojectToElevation maps image pixel coordinates onto the horizontal
// plane (or per-point planes) at elevation z. img must be 2xN (rows
// column, row) with N >= 1; z must hold either one elevation applied to
// every point or one per point. The result is 3xN world coordinates.
// NaN elevations and NaN pixel coordinates propagate to NaN world
// coordinates.
func (c *Camera) UnprojectToElevation(img *mat.Dense, z []float64) (*mat.Dense, error) {
	rows, n := img.Dims()
	if rows != 2 || n < 1 {
		return nil, fmt.Errorf("%w: image points must be 2xN with N >= 1, got %dx%d", ErrInvalidArgument, rows, n)
	}
	if len(z) != 1 && len(z) != n {
		return nil, fmt.Errorf("%w: elevation must have 1 or %d values, got %d", ErrInvalidArgument, n, len(z))
	}
	if !c.hasIntrinsic {
		return nil, fmt.Errorf("%w: intrinsics not set", ErrInvalidArgument)
	}

	tx, ty, tz := c.pose.Easting, c.pose.Northing, c.pose.Altitude
	rm := c.r.RawMatrix().Data

	out := mat.NewDense(3, n, nil)
	for j := 0; j < n; j++ {
		zj := z[0]
		if len(z) == n {
			zj = z[j]
		}

		// normalized camera ray from homogeneous pixel coordinates
		xn := c.kInv[0]*img.At(0, j) + c.kInv[2]
		yn := c.kInv[4]*img.At(1, j) + c.kInv[5]
		xn, yn = c.intr.Distortion.Undistort(xn, yn)

		// rotate into world axes
		wx := rm[0]*xn + rm[1]*yn + rm[2]
		wy := rm[3]*xn + rm[4]*yn + rm[5]
		wz := rm[6]*xn + rm[7]*yn + rm[8]

		// scale along the ray to the requested elevation
		s := (zj - tz) / wz
		out.Set(0, j, wx*s+tx)
		out.Set(1, j, wy*s+ty)
		out.Set(2, j, wz*s+tz)
	}
	return out, nil
}
