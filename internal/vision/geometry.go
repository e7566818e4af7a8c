package vision

import "math"

// Width of the box
func (b Box) Width() float64 { return b.X1 - b.X0 }

// Height of the box
func (b Box) Height() float64 { return b.Y1 - b.Y0 }

// CenterX is the horizontal midpoint
func (b Box) CenterX() float64 { return (b.X0 + b.X1) / 2 }

// CenterY is the vertical midpoint
func (b Box) CenterY() float64 { return (b.Y0 + b.Y1) / 2 }

// IsZero reports the degenerate {0,0,0,0} box
func (b Box) IsZero() bool { return b == Box{} }

// Intersects reports a non-empty overlap between two boxes
func (b Box) Intersects(o Box) bool {
	return math.Min(b.X1, o.X1) > math.Max(b.X0, o.X0) &&
		math.Min(b.Y1, o.Y1) > math.Max(b.Y0, o.Y0)
}

// ContainsPoint is inclusive on all edges
func (b Box) ContainsPoint(x, y float64) bool {
	return x >= b.X0 && x <= b.X1 && y >= b.Y0 && y <= b.Y1
}

// Clip restricts b to bounds
func (b Box) Clip(bounds Box) Box {
	out := Box{
		X0: math.Max(b.X0, bounds.X0),
		Y0: math.Max(b.Y0, bounds.Y0),
		X1: math.Min(b.X1, bounds.X1),
		Y1: math.Min(b.Y1, bounds.Y1),
	}
	if out.X1 < out.X0 {
		out.X1 = out.X0
	}
	if out.Y1 < out.Y0 {
		out.Y1 = out.Y0
	}
	return out
}

// Union returns the smallest box covering all boxes; zero for none
func Union(boxes ...Box) Box {
	if len(boxes) == 0 {
		return Box{}
	}
	out := boxes[0]
	for _, b := range boxes[1:] {
		out.X0 = math.Min(out.X0, b.X0)
		out.Y0 = math.Min(out.Y0, b.Y0)
		out.X1 = math.Max(out.X1, b.X1)
		out.Y1 = math.Max(out.Y1, b.Y1)
	}
	return out
}

// BoxFromVertices takes min/max over the polygon; fewer than two vertices yields the zero box
func BoxFromVertices(vertices []Vertex) Box {
	if len(vertices) < 2 {
		return Box{}
	}
	out := Box{X0: vertices[0].X, Y0: vertices[0].Y, X1: vertices[0].X, Y1: vertices[0].Y}
	for _, v := range vertices[1:] {
		out.X0 = math.Min(out.X0, v.X)
		out.Y0 = math.Min(out.Y0, v.Y)
		out.X1 = math.Max(out.X1, v.X)
		out.Y1 = math.Max(out.Y1, v.Y)
	}
	// Provider coordinates can be slightly negative near page edges
	out.X0 = math.Max(out.X0, 0)
	out.Y0 = math.Max(out.Y0, 0)
	out.X1 = math.Max(out.X1, out.X0)
	out.Y1 = math.Max(out.Y1, out.Y0)
	return out
}

// Normalize divides a pixel box by page size, clamped to [0,1].
// A zero page dimension yields the zero box.
func Normalize(px Box, width, height int) Box {
	if width <= 0 || height <= 0 {
		return Box{}
	}
	w, h := float64(width), float64(height)
	return Box{
		X0: clamp01(px.X0 / w),
		Y0: clamp01(px.Y0 / h),
		X1: clamp01(px.X1 / w),
		Y1: clamp01(px.Y1 / h),
	}
}

// Denormalize scales a normalized box back to pixels
func Denormalize(n Box, width, height int) Box {
	w, h := float64(width), float64(height)
	return Box{X0: n.X0 * w, Y0: n.Y0 * h, X1: n.X1 * w, Y1: n.Y1 * h}
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
