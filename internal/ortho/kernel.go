package ortho

import (
	"fmt"
	"math"
)

// Kernel selects the interpolation used to resample the source image at
// fractional pixel coordinates.
type Kernel string

const (
	KernelNearest  = Kernel("nearest")
	KernelAverage  = Kernel("average")
	KernelBilinear = Kernel("bilinear")
	KernelCubic    = Kernel("cubic")
	KernelLanczos  = Kernel("lanczos")
)

// ParseKernel validates a configuration string.
func ParseKernel(s string) (Kernel, error) {
	switch Kernel(s) {
	case KernelNearest, KernelAverage, KernelBilinear, KernelCubic, KernelLanczos:
		return Kernel(s), nil
	case "":
		return KernelBilinear, nil
	default:
		return "", fmt.Errorf("unknown interpolation kernel %q", s)
	}
}

// Sample interpolates band (w x h, row-major) at the fractional pixel
// coordinate (x, y). The caller guarantees (x, y) lies within
// [0, w-1] x [0, h-1]; kernel taps falling outside are clamped to the
// edge. Ties follow the standard definition of each kernel.
func (k Kernel) Sample(band []float64, w, h int, x, y float64) float64 {
	switch k {
	case KernelNearest:
		col := clampTap(int(math.Floor(x+0.5)), w)
		row := clampTap(int(math.Floor(y+0.5)), h)
		return band[row*w+col]
	case KernelAverage:
		return sampleAverage(band, w, h, x, y)
	case KernelBilinear:
		return sampleBilinear(band, w, h, x, y)
	case KernelCubic:
		return sampleConvolve(band, w, h, x, y, 2, catmullRom)
	case KernelLanczos:
		return sampleConvolve(band, w, h, x, y, 4, lanczos4)
	default:
		return sampleBilinear(band, w, h, x, y)
	}
}

func clampTap(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func sampleBilinear(band []float64, w, h int, x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	fx := x - x0
	fy := y - y0

	c0 := clampTap(int(x0), w)
	c1 := clampTap(int(x0)+1, w)
	r0 := clampTap(int(y0), h)
	r1 := clampTap(int(y0)+1, h)

	top := band[r0*w+c0]*(1-fx) + band[r0*w+c1]*fx
	bot := band[r1*w+c0]*(1-fx) + band[r1*w+c1]*fx
	return top*(1-fy) + bot*fy
}

// sampleAverage box-averages the 2x2 neighborhood around the sample
// point, which suits output resolutions at or below the source ground
// sampling distance.
func sampleAverage(band []float64, w, h int, x, y float64) float64 {
	c0 := clampTap(int(math.Floor(x)), w)
	c1 := clampTap(c0+1, w)
	r0 := clampTap(int(math.Floor(y)), h)
	r1 := clampTap(r0+1, h)
	return (band[r0*w+c0] + band[r0*w+c1] + band[r1*w+c0] + band[r1*w+c1]) / 4
}

// catmullRom is the cubic convolution weight with a = -0.5.
func catmullRom(d float64) float64 {
	d = math.Abs(d)
	if d < 1 {
		return 1.5*d*d*d - 2.5*d*d + 1
	}
	if d < 2 {
		return -0.5*d*d*d + 2.5*d*d - 4*d + 2
	}
	return 0
}

// lanczos4 is the windowed sinc weight with support 4.
func lanczos4(d float64) float64 {
	if d == 0 {
		return 1
	}
	d = math.Abs(d)
	if d >= 4 {
		return 0
	}
	pd := math.Pi * d
	return 4 * math.Sin(pd) * math.Sin(pd/4) / (pd * pd)
}

// sampleConvolve applies a separable convolution kernel with the given
// support radius, normalizing by the weight sum so edge-clamped taps do
// not bias the result.
func sampleConvolve(band []float64, w, h int, x, y float64, radius int, weight func(float64) float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))

	var sum, wsum float64
	for r := y0 - radius + 1; r <= y0+radius; r++ {
		wy := weight(y - float64(r))
		if wy == 0 {
			continue
		}
		rc := clampTap(r, h)
		for c := x0 - radius + 1; c <= x0+radius; c++ {
			wx := weight(x - float64(c))
			if wx == 0 {
				continue
			}
			cc := clampTap(c, w)
			sum += band[rc*w+cc] * wx * wy
			wsum += wx * wy
		}
	}
	if wsum == 0 {
		return sampleBilinear(band, w, h, x, y)
	}
	return sum / wsum
}
