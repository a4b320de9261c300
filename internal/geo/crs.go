package geo

import (
	"fmt"
	"math"
)

// PointTransformer converts point sets between two coordinate reference
// systems. The ortho core never inspects CRS definitions itself; it only
// needs this capability to move footprint corners into the elevation
// source's frame, and EXIF-derived positions into the output frame.
type PointTransformer interface {
	Transform(xs, ys []float64) ([]float64, []float64, error)
}

// Identity passes coordinates through unchanged. Used when the source
// pose, DEM and output share one projected CRS, which is the common case
// for survey blocks delivered in a single UTM zone.
type Identity struct{}

// Transform implements PointTransformer.
func (Identity) Transform(xs, ys []float64) ([]float64, []float64, error) {
	return xs, ys, nil
}

// UTM projects WGS84 geographic coordinates (longitude, latitude in
// degrees) to UTM easting/northing in meters for a fixed zone. It is the
// transform applied to EXIF GPS positions before they are used as camera
// positions.
type UTM struct {
	Zone  int
	South bool
}

// UTMZoneFor returns the UTM transformer covering the given longitude
// and latitude.
func UTMZoneFor(lon, lat float64) UTM {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	} else if zone > 60 {
		zone = 60
	}
	return UTM{Zone: zone, South: lat < 0}
}

// WGS84 ellipsoid constants.
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	utmK0  = 0.9996
)

// Transform implements PointTransformer using the standard transverse
// Mercator series expansion.
func (u UTM) Transform(lons, lats []float64) ([]float64, []float64, error) {
	if u.Zone < 1 || u.Zone > 60 {
		return nil, nil, fmt.Errorf("utm zone %d out of range", u.Zone)
	}
	if len(lons) != len(lats) {
		return nil, nil, fmt.Errorf("coordinate slices differ in length: %d != %d", len(lons), len(lats))
	}
	lon0 := float64(u.Zone-1)*6 - 180 + 3

	e2 := wgs84F * (2 - wgs84F)
	ep2 := e2 / (1 - e2)

	xs := make([]float64, len(lons))
	ys := make([]float64, len(lats))
	for i := range lons {
		lat := lats[i] * math.Pi / 180
		dlon := (lons[i] - lon0) * math.Pi / 180

		sinLat := math.Sin(lat)
		cosLat := math.Cos(lat)
		tanLat := math.Tan(lat)

		n := wgs84A / math.Sqrt(1-e2*sinLat*sinLat)
		t := tanLat * tanLat
		c := ep2 * cosLat * cosLat
		a := cosLat * dlon

		// meridional arc
		m := wgs84A * ((1-e2/4-3*e2*e2/64-5*e2*e2*e2/256)*lat -
			(3*e2/8+3*e2*e2/32+45*e2*e2*e2/1024)*math.Sin(2*lat) +
			(15*e2*e2/256+45*e2*e2*e2/1024)*math.Sin(4*lat) -
			(35*e2*e2*e2/3072)*math.Sin(6*lat))

		xs[i] = utmK0*n*(a+(1-t+c)*a*a*a/6+
			(5-18*t+t*t+72*c-58*ep2)*a*a*a*a*a/120) + 500000

		ys[i] = utmK0 * (m + n*tanLat*(a*a/2+
			(5-t+9*c+4*c*c)*a*a*a*a/24+
			(61-58*t+t*t+600*c-330*ep2)*a*a*a*a*a*a/720))
		if u.South {
			ys[i] += 10000000
		}
	}
	return xs, ys, nil
}
