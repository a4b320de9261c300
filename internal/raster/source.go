package raster

import (
	"errors"
	"fmt"
	"image"
	"os"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/tiff"
)

// ErrUnsupportedFormat marks source images the decoder cannot handle.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SourceImage is a decoded aerial frame exposed as float64 band planes.
type SourceImage struct {
	Path   string
	Format string

	img    image.Image
	width  int
	height int
	bands  int
	depth  int // bits per sample
}

// OpenSource decodes a JPEG, PNG or TIFF image into memory.
func OpenSource(path string) (*SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, path, err)
	}

	s := &SourceImage{Path: path, Format: format, img: img}
	b := img.Bounds()
	s.width = b.Dx()
	s.height = b.Dy()

	switch img.(type) {
	case *image.Gray:
		s.bands, s.depth = 1, 8
	case *image.Gray16:
		s.bands, s.depth = 1, 16
	case *image.RGBA64, *image.NRGBA64:
		s.bands, s.depth = 3, 16
	default:
		// RGBA, NRGBA, YCbCr, CMYK, paletted: all reachable through the
		// generic color interface at 8 bits.
		s.bands, s.depth = 3, 8
	}
	return s, nil
}

// Dims returns the pixel dimensions.
func (s *SourceImage) Dims() (int, int) { return s.width, s.height }

// BandCount returns 1 for grayscale sources and 3 for color sources.
func (s *SourceImage) BandCount() int { return s.bands }

// DType names the narrowest integer type holding the sample values, for
// the output raster to inherit.
func (s *SourceImage) DType() string {
	if s.depth == 16 {
		return "uint16"
	}
	return "uint8"
}

// ReadBand extracts one band as a row-major float64 plane. Band 0 is the
// gray or red channel.
func (s *SourceImage) ReadBand(band int) ([]float64, error) {
	if band < 0 || band >= s.bands {
		return nil, fmt.Errorf("band %d out of range [0, %d)", band, s.bands)
	}
	out := make([]float64, s.width*s.height)
	s.fillBand(band, out)
	return out, nil
}

// ReadAllBands extracts every band in one pass over the pixels.
func (s *SourceImage) ReadAllBands() ([][]float64, error) {
	out := make([][]float64, s.bands)
	for b := range out {
		out[b] = make([]float64, s.width*s.height)
	}
	min := s.img.Bounds().Min
	i := 0
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			r, g, b, _ := s.img.At(min.X+x, min.Y+y).RGBA()
			if s.bands == 1 {
				out[0][i] = s.scale(r)
			} else {
				out[0][i] = s.scale(r)
				out[1][i] = s.scale(g)
				out[2][i] = s.scale(b)
			}
			i++
		}
	}
	return out, nil
}

func (s *SourceImage) fillBand(band int, out []float64) {
	min := s.img.Bounds().Min
	i := 0
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			r, g, b, _ := s.img.At(min.X+x, min.Y+y).RGBA()
			switch band {
			case 0:
				out[i] = s.scale(r)
			case 1:
				out[i] = s.scale(g)
			default:
				out[i] = s.scale(b)
			}
			i++
		}
	}
}

// scale maps the 16-bit value color.Color reports back onto the source
// sample range.
func (s *SourceImage) scale(v uint32) float64 {
	if s.depth == 16 {
		return float64(v)
	}
	return float64(v >> 8)
}
