package exif

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

// ErrExifToolMissing is returned when metadata extraction is requested
// but no exiftool binary is on PATH.
var ErrExifToolMissing = errors.New("exiftool not found on PATH")

// Metadata holds the camera-model-relevant EXIF and XMP values of one
// aerial frame. Optional groups carry a Has flag; zero values without
// the flag mean the tags were absent.
type Metadata struct {
	Path        string
	CameraMake  string
	CameraModel string
	Timestamp   string

	ImageWidth  int
	ImageHeight int

	Focal   float64 // mm
	Focal35 float64 // 35mm equivalent, mm
	SensorW float64 // mm
	SensorH float64 // mm

	HasLLA    bool
	Lat, Lon  float64 // decimal degrees
	Altitude  float64 // meters
	HasRPY    bool
	Roll      float64 // degrees
	Pitch     float64
	Yaw       float64
	RPYSource string // xmp schema the angles came from
}

// mmPerResolutionUnit maps the EXIF FocalPlaneResolutionUnit code.
var mmPerResolutionUnit = map[int]float64{
	2: 25.4,  // inch
	3: 10,    // cm
	4: 1,     // mm
	5: 0.001, // um
}

// rpySchema names the flattened XMP tags a vendor uses for the camera
// or gimbal roll/pitch/yaw, with additive corrections bringing the
// angles to a level-camera-points-down convention.
type rpySchema struct {
	name        string
	roll        string
	pitch       string
	yaw         string
	pitchOffset float64
}

var rpySchemas = []rpySchema{
	// DJI gimbal pitch is -90 when the camera points straight down.
	{name: "dji", roll: "GimbalRollDegree", pitch: "GimbalPitchDegree", yaw: "GimbalYawDegree", pitchOffset: 90},
	// Sensefly and Pix4D publish plain Roll/Pitch/Yaw.
	{name: "generic", roll: "Roll", pitch: "Pitch", yaw: "Yaw"},
}

// Extract runs exiftool -json -n on the image and assembles Metadata.
func Extract(ctx context.Context, path string) (Metadata, error) {
	meta := Metadata{Path: path}
	if _, err := exec.LookPath("exiftool"); err != nil {
		return meta, ErrExifToolMissing
	}
	cmd := exec.CommandContext(ctx, "exiftool", "-json", "-n", path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return meta, fmt.Errorf("exiftool %s: %w", path, err)
	}
	var parsed []map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &parsed); err != nil || len(parsed) == 0 {
		return meta, fmt.Errorf("exiftool %s: unreadable output", path)
	}
	fillMetadata(&meta, parsed[0])
	return meta, nil
}

func fillMetadata(meta *Metadata, m map[string]interface{}) {
	if v, ok := m["Make"].(string); ok {
		meta.CameraMake = v
	}
	if v, ok := m["Model"].(string); ok {
		meta.CameraModel = v
	}
	if v, ok := m["DateTimeOriginal"].(string); ok {
		meta.Timestamp = v
	}
	meta.ImageWidth = int(num(m, "ImageWidth"))
	meta.ImageHeight = int(num(m, "ImageHeight"))
	meta.Focal = num(m, "FocalLength")
	meta.Focal35 = num(m, "FocalLengthIn35mmFormat")

	meta.SensorW, meta.SensorH = sensorSize(m, meta.ImageWidth, meta.ImageHeight)

	// Vendor XMP position wins over EXIF GPS: it carries the true
	// above-ellipsoid altitude on DJI frames.
	if lat, lon, alt, ok := xmpLLA(m); ok {
		meta.Lat, meta.Lon, meta.Altitude, meta.HasLLA = lat, lon, alt, true
	} else if lat, ok := lookupNum(m, "GPSLatitude"); ok {
		if lon, ok := lookupNum(m, "GPSLongitude"); ok {
			meta.Lat, meta.Lon, meta.HasLLA = lat, lon, true
			meta.Altitude = num(m, "GPSAltitude")
			if num(m, "GPSAltitudeRef") == 1 {
				meta.Altitude = -meta.Altitude
			}
		}
	}

	for _, sc := range rpySchemas {
		r, okR := lookupNum(m, sc.roll)
		p, okP := lookupNum(m, sc.pitch)
		y, okY := lookupNum(m, sc.yaw)
		if okR && okP && okY {
			meta.Roll = r
			meta.Pitch = p + sc.pitchOffset
			meta.Yaw = y
			meta.HasRPY = true
			meta.RPYSource = sc.name
			break
		}
	}
}

func xmpLLA(m map[string]interface{}) (lat, lon, alt float64, ok bool) {
	lat, okLat := lookupNum(m, "GpsLatitude")
	// The DJI namespace misspells longitude.
	lon, okLon := lookupNum(m, "GpsLongtitude")
	if !okLon {
		lon, okLon = lookupNum(m, "GpsLongitude")
	}
	alt, okAlt := lookupNum(m, "AbsoluteAltitude")
	return lat, lon, alt, okLat && okLon && okAlt
}

func sensorSize(m map[string]interface{}, imgW, imgH int) (float64, float64) {
	unit, ok := lookupNum(m, "FocalPlaneResolutionUnit")
	if !ok {
		return 0, 0
	}
	mmPerUnit, ok := mmPerResolutionUnit[int(unit)]
	if !ok {
		return 0, 0
	}
	xres := num(m, "FocalPlaneXResolution")
	yres := num(m, "FocalPlaneYResolution")
	if xres <= 0 || yres <= 0 || imgW <= 0 || imgH <= 0 {
		return 0, 0
	}
	return mmPerUnit * float64(imgW) / xres, mmPerUnit * float64(imgH) / yres
}

// num reads a numeric exiftool field; -n mode emits numbers, but some
// tags still arrive as strings.
func num(m map[string]interface{}, key string) float64 {
	v, _ := lookupNum(m, key)
	return v
}

func lookupNum(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// CameraGeometry resolves focal length and sensor size for the pinhole
// model. When the focal plane tags are missing, the 35mm equivalent
// focal length is used against the full-frame 36x24mm sensor.
func (m Metadata) CameraGeometry() (focal float64, sensorW, sensorH float64, err error) {
	if m.Focal > 0 && m.SensorW > 0 && m.SensorH > 0 {
		return m.Focal, m.SensorW, m.SensorH, nil
	}
	if m.Focal35 > 0 {
		return m.Focal35, 36, 24, nil
	}
	return 0, 0, 0, fmt.Errorf("%s: no usable focal length metadata", m.Path)
}
