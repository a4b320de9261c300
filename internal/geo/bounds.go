package geo

import "math"

// Bounds is an axis-aligned bounding box in world coordinates.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// BoundsFromPoints returns the tightest box containing all (x, y) pairs.
// NaN coordinates are skipped.
func BoundsFromPoints(xs, ys []float64) Bounds {
	b := Bounds{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		b.MinX = math.Min(b.MinX, xs[i])
		b.MaxX = math.Max(b.MaxX, xs[i])
		b.MinY = math.Min(b.MinY, ys[i])
		b.MaxY = math.Max(b.MaxY, ys[i])
	}
	return b
}

// IsEmpty reports whether the box has no area.
func (b Bounds) IsEmpty() bool {
	return !(b.MinX < b.MaxX) || !(b.MinY < b.MaxY)
}

// Width returns the horizontal extent.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the vertical extent.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Intersect returns the overlap of two boxes. The result may be empty.
func (b Bounds) Intersect(o Bounds) Bounds {
	return Bounds{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Contains reports whether the point lies inside or on the box edge.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Covers reports whether o lies entirely within b.
func (b Bounds) Covers(o Bounds) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}
