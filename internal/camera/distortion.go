package camera

import (
	"fmt"
	"math"
)

// DistortionType names a lens distortion model.
type DistortionType string

const (
	// DistortionPinhole is the identity model for an ideal lens.
	DistortionPinhole = DistortionType("pinhole")
	// DistortionBrownConrady is the 5-coefficient radial/tangential model
	// used by ODM/OpenSfM "brown" parameter estimates.
	DistortionBrownConrady = DistortionType("brown")
	// DistortionFisheye is the equidistant fisheye model.
	DistortionFisheye = DistortionType("fisheye")
	// DistortionOpenCV is the full 8-coefficient rational model.
	DistortionOpenCV = DistortionType("opencv")
)

// The iterative inverse mappings converge well inside the field of view;
// the cap only guards against pathological coefficients.
const maxUndistortIter = 100

// Distortion maps between undistorted and distorted normalized camera
// rays. It composes around the linear intrinsic transform: Distort is
// applied to ideal rays before the intrinsic matrix, Undistort after its
// inverse. Pinhole is the identity in both directions.
type Distortion interface {
	Type() DistortionType
	Params() []float64
	Distort(x, y float64) (float64, float64)
	Undistort(x, y float64) (float64, float64)
}

// NewDistortion builds a Distortion from its type name and coefficients.
func NewDistortion(t DistortionType, params []float64) (Distortion, error) {
	switch t {
	case DistortionPinhole, "":
		return Pinhole{}, nil
	case DistortionBrownConrady:
		if len(params) > 5 {
			return nil, fmt.Errorf("%w: brown model takes at most 5 coefficients, got %d", ErrInvalidArgument, len(params))
		}
		var c [5]float64
		copy(c[:], params)
		return BrownConrady{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4]}, nil
	case DistortionFisheye:
		if len(params) > 4 {
			return nil, fmt.Errorf("%w: fisheye model takes at most 4 coefficients, got %d", ErrInvalidArgument, len(params))
		}
		var c [4]float64
		copy(c[:], params)
		return Fisheye{K1: c[0], K2: c[1], K3: c[2], K4: c[3]}, nil
	case DistortionOpenCV:
		if len(params) > 8 {
			return nil, fmt.Errorf("%w: opencv model takes at most 8 coefficients, got %d", ErrInvalidArgument, len(params))
		}
		var c [8]float64
		copy(c[:], params)
		return OpenCV{K1: c[0], K2: c[1], P1: c[2], P2: c[3], K3: c[4], K4: c[5], K5: c[6], K6: c[7]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown distortion model %q", ErrInvalidArgument, t)
	}
}

// Pinhole is the identity distortion.
type Pinhole struct{}

// Type implements Distortion.
func (Pinhole) Type() DistortionType { return DistortionPinhole }

// Params implements Distortion.
func (Pinhole) Params() []float64 { return nil }

// Distort implements Distortion.
func (Pinhole) Distort(x, y float64) (float64, float64) { return x, y }

// Undistort implements Distortion.
func (Pinhole) Undistort(x, y float64) (float64, float64) { return x, y }

// BrownConrady models radial (K1..K3) and tangential (P1, P2) lens
// distortion.
type BrownConrady struct {
	K1, K2, P1, P2, K3 float64
}

// Type implements Distortion.
func (BrownConrady) Type() DistortionType { return DistortionBrownConrady }

// Params implements Distortion.
func (d BrownConrady) Params() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3}
}

// Distort implements Distortion.
func (d BrownConrady) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	radial := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
	xd := x*radial + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*radial + d.P1*(r2+2*y*y) + 2*d.P2*x*y
	return xd, yd
}

// Undistort inverts Distort by fixed-point iteration.
func (d BrownConrady) Undistort(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < maxUndistortIter; i++ {
		r2 := x*x + y*y
		radial := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		xn := (xd - dx) / radial
		yn := (yd - dy) / radial
		if e := (xn-x)*(xn-x) + (yn-y)*(yn-y); e == 0 {
			break
		}
		x, y = xn, yn
	}
	return x, y
}

// Fisheye is the equidistant fisheye model with four polynomial
// coefficients over the incidence angle.
type Fisheye struct {
	K1, K2, K3, K4 float64
}

// Type implements Distortion.
func (Fisheye) Type() DistortionType { return DistortionFisheye }

// Params implements Distortion.
func (d Fisheye) Params() []float64 {
	return []float64{d.K1, d.K2, d.K3, d.K4}
}

// Distort implements Distortion.
func (d Fisheye) Distort(x, y float64) (float64, float64) {
	r := math.Hypot(x, y)
	if r == 0 {
		return x, y
	}
	theta := math.Atan(r)
	t2 := theta * theta
	thetaD := theta * (1 + d.K1*t2 + d.K2*t2*t2 + d.K3*t2*t2*t2 + d.K4*t2*t2*t2*t2)
	s := thetaD / r
	return x * s, y * s
}

// Undistort inverts Distort by iterating on the incidence angle.
func (d Fisheye) Undistort(xd, yd float64) (float64, float64) {
	rd := math.Hypot(xd, yd)
	if rd == 0 {
		return xd, yd
	}
	theta := rd
	for i := 0; i < maxUndistortIter; i++ {
		t2 := theta * theta
		poly := 1 + d.K1*t2 + d.K2*t2*t2 + d.K3*t2*t2*t2 + d.K4*t2*t2*t2*t2
		next := rd / poly
		if math.Abs(next-theta) < 1e-12 {
			theta = next
			break
		}
		theta = next
	}
	s := math.Tan(theta) / rd
	return xd * s, yd * s
}

// OpenCV is the full rational model with six radial and two tangential
// coefficients, ordered (k1, k2, p1, p2, k3, k4, k5, k6) as OpenCV
// calibration tools emit them.
type OpenCV struct {
	K1, K2, P1, P2, K3, K4, K5, K6 float64
}

// Type implements Distortion.
func (OpenCV) Type() DistortionType { return DistortionOpenCV }

// Params implements Distortion.
func (d OpenCV) Params() []float64 {
	return []float64{d.K1, d.K2, d.P1, d.P2, d.K3, d.K4, d.K5, d.K6}
}

// Distort implements Distortion.
func (d OpenCV) Distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	num := 1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2
	den := 1 + d.K4*r2 + d.K5*r2*r2 + d.K6*r2*r2*r2
	xd := x*num/den + 2*d.P1*x*y + d.P2*(r2+2*x*x)
	yd := y*num/den + 2*d.P2*x*y + d.P1*(r2+2*y*y)
	return xd, yd
}

// Undistort inverts Distort by fixed-point iteration.
func (d OpenCV) Undistort(xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < maxUndistortIter; i++ {
		r2 := x*x + y*y
		kInv := (1 + d.K4*r2 + d.K5*r2*r2 + d.K6*r2*r2*r2) /
			(1 + d.K1*r2 + d.K2*r2*r2 + d.K3*r2*r2*r2)
		dx := 2*d.P1*x*y + d.P2*(r2+2*x*x)
		dy := d.P1*(r2+2*y*y) + 2*d.P2*x*y
		xn := (xd - dx) * kInv
		yn := (yd - dy) * kInv
		if e := (xn-x)*(xn-x) + (yn-y)*(yn-y); e == 0 {
			break
		}
		x, y = xn, yn
	}
	return x, y
}
