package exif

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"orthorect/internal/geo"
)

// RPYToOPK converts camera roll/pitch/yaw angles (degrees, NED body
// convention with pitch already leveled so 0 means nadir) into PATB
// omega/phi/kappa angles (degrees) in an east-north-up world frame.
func RPYToOPK(roll, pitch, yaw float64) (omega, phi, kappa float64) {
	r := roll * math.Pi / 180
	p := pitch * math.Pi / 180
	y := yaw * math.Pi / 180

	// Body orientation in the NED navigation frame.
	cnb := matProduct(rotZ(y), rotY(p), rotX(r))
	// NED navigation to ENU world.
	cen := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		1, 0, 0,
		0, 0, -1,
	})
	// Camera axes (x right, y up, z back) within the body frame
	// (x forward, y right, z down).
	cbB := mat.NewDense(3, 3, []float64{
		0, 1, 0,
		1, 0, 0,
		0, 0, -1,
	})
	r3 := matProduct(cen, cnb, cbB)

	// Factor R = Romega * Rphi * Rkappa.
	phiR := math.Asin(r3.At(0, 2))
	omegaR := math.Atan2(-r3.At(1, 2), r3.At(2, 2))
	kappaR := math.Atan2(-r3.At(0, 1), r3.At(0, 0))
	return omegaR * 180 / math.Pi, phiR * 180 / math.Pi, kappaR * 180 / math.Pi
}

func rotX(a float64) *mat.Dense {
	s, c := math.Sincos(a)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

func rotY(a float64) *mat.Dense {
	s, c := math.Sincos(a)
	return mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
}

func rotZ(a float64) *mat.Dense {
	s, c := math.Sincos(a)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func matProduct(ms ...*mat.Dense) *mat.Dense {
	out := ms[0]
	for _, m := range ms[1:] {
		next := mat.NewDense(3, 3, nil)
		next.Mul(out, m)
		out = next
	}
	return out
}

// StationFromMetadata derives a world-frame camera station from EXIF
// geolocation and XMP attitude. The position is projected into the UTM
// zone of the image location.
func StationFromMetadata(m Metadata) (PosOri, geo.UTM, error) {
	if !m.HasLLA {
		return PosOri{}, geo.UTM{}, fmt.Errorf("%s: no geolocation metadata", m.Path)
	}
	if !m.HasRPY {
		return PosOri{}, geo.UTM{}, fmt.Errorf("%s: no attitude metadata", m.Path)
	}
	zone := geo.UTMZoneFor(m.Lon, m.Lat)
	xs, ys, err := zone.Transform([]float64{m.Lon}, []float64{m.Lat})
	if err != nil {
		return PosOri{}, geo.UTM{}, err
	}
	omega, phi, kappa := RPYToOPK(m.Roll, m.Pitch, m.Yaw)
	return PosOri{
		Easting:  xs[0],
		Northing: ys[0],
		Altitude: m.Altitude,
		Omega:    omega,
		Phi:      phi,
		Kappa:    kappa,
	}, zone, nil
}
