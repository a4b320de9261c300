package exif

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// rotFrameSwap exchanges the first two axes and flips the third, the
// frame change between NED and ENU and between body and camera axes.
func rotFrameSwap() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, 1, 0,
		1, 0, 0,
		0, 0, -1,
	})
}

func TestParsePosOri(t *testing.T) {
	table, err := ParsePosOri(strings.NewReader(`
# block 3 stations
3323d_2015_1001_01_0001_RGB 43146.0 -3723922.0 1147.0 -0.2 0.3 -179.9
3323d_2015_1001_01_0002_RGB 43247.5 -3723921.5 1146.5 0.1 -0.1 179.8
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("rows = %d, want 2", len(table))
	}
	p, ok := table.Lookup("/data/imagery/3323d_2015_1001_01_0001_RGB.tif")
	if !ok {
		t.Fatal("lookup by stem failed")
	}
	if p.Easting != 43146 || p.Altitude != 1147 || p.Kappa != -179.9 {
		t.Fatalf("station = %+v", p)
	}
	if _, ok := table.Lookup("missing.tif"); ok {
		t.Fatal("unexpected hit for unknown stem")
	}
}

func TestParsePosOriErrors(t *testing.T) {
	if _, err := ParsePosOri(strings.NewReader("img 1 2 3 4 5")); err == nil {
		t.Fatal("expected field count error")
	}
	if _, err := ParsePosOri(strings.NewReader("img 1 2 x 4 5 6")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFillMetadataEXIF(t *testing.T) {
	var meta Metadata
	fillMetadata(&meta, map[string]interface{}{
		"Make":                     "PHASE ONE",
		"Model":                    "iXU-RS 1000",
		"ImageWidth":               float64(11608),
		"ImageHeight":              float64(8708),
		"FocalLength":              float64(90),
		"FocalPlaneResolutionUnit": float64(4), // mm
		"FocalPlaneXResolution":    float64(215),
		"FocalPlaneYResolution":    float64(215),
		"GPSLatitude":              float64(-33.93),
		"GPSLongitude":             float64(18.46),
		"GPSAltitude":              float64(1000),
	})
	if meta.CameraMake != "PHASE ONE" || meta.CameraModel != "iXU-RS 1000" {
		t.Fatalf("camera = %q %q", meta.CameraMake, meta.CameraModel)
	}
	if !meta.HasLLA || meta.Lat != -33.93 || meta.Altitude != 1000 {
		t.Fatalf("lla = %+v", meta)
	}
	if meta.HasRPY {
		t.Fatal("no attitude tags were given")
	}
	if math.Abs(meta.SensorW-11608.0/215) > 1e-9 || math.Abs(meta.SensorH-8708.0/215) > 1e-9 {
		t.Fatalf("sensor = %v x %v", meta.SensorW, meta.SensorH)
	}

	focal, sw, sh, err := meta.CameraGeometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if focal != 90 || sw != meta.SensorW || sh != meta.SensorH {
		t.Fatalf("geometry = %v %v %v", focal, sw, sh)
	}
}

func TestFillMetadataDJI(t *testing.T) {
	var meta Metadata
	fillMetadata(&meta, map[string]interface{}{
		"GpsLatitude":       float64(24.5),
		"GpsLongtitude":     float64(54.4), // vendor misspelling
		"AbsoluteAltitude":  "+83.4",
		"GimbalRollDegree":  float64(0),
		"GimbalPitchDegree": float64(-90),
		"GimbalYawDegree":   float64(30),
		"GPSAltitude":       float64(9), // must lose to AbsoluteAltitude
	})
	if !meta.HasLLA || meta.Lon != 54.4 || math.Abs(meta.Altitude-83.4) > 1e-9 {
		t.Fatalf("lla = %+v", meta)
	}
	if !meta.HasRPY || meta.RPYSource != "dji" {
		t.Fatalf("rpy = %+v", meta)
	}
	// -90 gimbal pitch plus the +90 nadir offset is a level camera.
	if meta.Pitch != 0 || meta.Yaw != 30 {
		t.Fatalf("pitch = %v yaw = %v", meta.Pitch, meta.Yaw)
	}
}

func TestFillMetadataNegativeAltitudeRef(t *testing.T) {
	var meta Metadata
	fillMetadata(&meta, map[string]interface{}{
		"GPSLatitude":    float64(52),
		"GPSLongitude":   float64(4.3),
		"GPSAltitude":    float64(3),
		"GPSAltitudeRef": float64(1), // below sea level
	})
	if meta.Altitude != -3 {
		t.Fatalf("altitude = %v, want -3", meta.Altitude)
	}
}

func TestCameraGeometryFocal35Fallback(t *testing.T) {
	meta := Metadata{Focal35: 28}
	focal, sw, sh, err := meta.CameraGeometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	if focal != 28 || sw != 36 || sh != 24 {
		t.Fatalf("fallback = %v %v %v", focal, sw, sh)
	}
	if _, _, _, err := (Metadata{}).CameraGeometry(); err == nil {
		t.Fatal("expected error without focal metadata")
	}
}

func TestRPYToOPKNadir(t *testing.T) {
	omega, phi, kappa := RPYToOPK(0, 0, 0)
	for name, v := range map[string]float64{"omega": omega, "phi": phi, "kappa": kappa} {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("%s = %v, want 0 for a level nadir camera", name, v)
		}
	}
}

func TestRPYToOPKYawOnly(t *testing.T) {
	// Heading east turns the image plane but keeps the camera nadir.
	omega, phi, kappa := RPYToOPK(0, 0, 90)
	if math.Abs(omega) > 1e-9 || math.Abs(phi) > 1e-9 {
		t.Fatalf("omega = %v phi = %v, want 0", omega, phi)
	}
	if math.Abs(kappa+90) > 1e-9 {
		t.Fatalf("kappa = %v, want -90", kappa)
	}
}

func TestRPYToOPKRoundTripsThroughRotation(t *testing.T) {
	// The factored angles must rebuild the same rotation matrix.
	cases := [][3]float64{
		{5, -3, 47},
		{-10, 2.5, 160},
		{0.5, 0.5, -90},
	}
	for _, c := range cases {
		omega, phi, kappa := RPYToOPK(c[0], c[1], c[2])

		want := matProduct(
			rotZ(c[2]*math.Pi/180), rotY(c[1]*math.Pi/180), rotX(c[0]*math.Pi/180),
		)
		// Rebuild through the same frame changes used by the conversion.
		full := matProduct(rotFrameSwap(), want, rotFrameSwap())

		o, p, k := omega*math.Pi/180, phi*math.Pi/180, kappa*math.Pi/180
		got := matProduct(rotX(o), rotY(p), rotZ(k))
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				if math.Abs(got.At(i, j)-full.At(i, j)) > 1e-9 {
					t.Fatalf("rpy %v: matrix mismatch at (%d,%d): %v vs %v",
						c, i, j, got.At(i, j), full.At(i, j))
				}
			}
		}
	}
}

func TestStationFromMetadata(t *testing.T) {
	meta := Metadata{
		Path:     "dji.jpg",
		HasLLA:   true,
		Lat:      -33.93,
		Lon:      18.46,
		Altitude: 250,
		HasRPY:   true,
		Roll:     0, Pitch: 0, Yaw: 0,
	}
	station, zone, err := StationFromMetadata(meta)
	if err != nil {
		t.Fatalf("station: %v", err)
	}
	if zone.Zone != 34 || !zone.South {
		t.Fatalf("zone = %+v, want 34 south", zone)
	}
	if station.Altitude != 250 || station.Omega != 0 {
		t.Fatalf("station = %+v", station)
	}
	if station.Easting < 200000 || station.Easting > 300000 {
		t.Fatalf("easting = %v outside plausible zone range", station.Easting)
	}

	if _, _, err := StationFromMetadata(Metadata{HasLLA: true}); err == nil {
		t.Fatal("expected attitude error")
	}
	if _, _, err := StationFromMetadata(Metadata{HasRPY: true}); err == nil {
		t.Fatal("expected geolocation error")
	}
}
