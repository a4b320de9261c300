package exif

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PosOri is one camera station: position in world coordinates and PATB
// orientation angles in degrees.
type PosOri struct {
	Easting  float64
	Northing float64
	Altitude float64
	Omega    float64
	Phi      float64
	Kappa    float64
}

// PosOriTable maps image file stems to their camera stations.
type PosOriTable map[string]PosOri

// LoadPosOriFile reads a space-separated exterior orientation file with
// one row per image: name easting northing altitude omega phi kappa.
func LoadPosOriFile(path string) (PosOriTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ParsePosOri(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return t, nil
}

// ParsePosOri parses exterior orientation rows. Blank lines and lines
// starting with # are skipped.
func ParsePosOri(r io.Reader) (PosOriTable, error) {
	table := PosOriTable{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 7 {
			return nil, fmt.Errorf("line %d: want 7 fields, got %d", line, len(fields))
		}
		var vals [6]float64
		for i, s := range fields[1:] {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d field %d: %w", line, i+2, err)
			}
			vals[i] = v
		}
		table[fields[0]] = PosOri{
			Easting:  vals[0],
			Northing: vals[1],
			Altitude: vals[2],
			Omega:    vals[3],
			Phi:      vals[4],
			Kappa:    vals[5],
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

// Lookup finds the station for an image path by its file stem.
func (t PosOriTable) Lookup(imagePath string) (PosOri, bool) {
	stem := strings.TrimSuffix(filepath.Base(imagePath), filepath.Ext(imagePath))
	p, ok := t[stem]
	return p, ok
}
