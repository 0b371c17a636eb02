// Package geom provides the 2D primitives used for zone membership tests.
//
// Zones are simple polygons in image/plan coordinates. Containment uses
// ray casting against the object's reference point (the bounding-box
// centroid), so an articulated vehicle spanning a boundary is still a
// single membership decision per zone.
package geom

import "fmt"

// Point is a 2D position in zone coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered ring of vertices. The ring is implicitly closed;
// the last vertex connects back to the first.
type Polygon struct {
	Vertices []Point
}

// Validate checks that the polygon is usable as a counting zone: at least
// three vertices, no repeated consecutive vertices, non-zero area, and no
// self-intersection. Violations are configuration errors raised at load
// time, never per-frame.
func (p Polygon) Validate() error {
	n := len(p.Vertices)
	if n < 3 {
		return fmt.Errorf("polygon needs at least 3 vertices, got %d", n)
	}

	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		if a == b {
			return fmt.Errorf("degenerate edge at vertex %d: repeated point (%g, %g)", i, a.X, a.Y)
		}
	}

	if area := p.signedArea(); area == 0 {
		return fmt.Errorf("degenerate polygon: zero area")
	}

	// Pairwise edge intersection test. Adjacent edges share an endpoint and
	// are skipped. O(n²) is fine: zone rings are a handful of vertices.
	for i := 0; i < n; i++ {
		a1 := p.Vertices[i]
		a2 := p.Vertices[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := p.Vertices[j]
			b2 := p.Vertices[(j+1)%n]
			if segmentsIntersect(a1, a2, b1, b2) {
				return fmt.Errorf("self-intersecting polygon: edge %d crosses edge %d", i, j)
			}
		}
	}

	return nil
}

// Contains reports whether pt lies inside the polygon (ray casting).
// Points exactly on an edge count as inside, matching the original
// counter's boundary behaviour.
func (p Polygon) Contains(pt Point) bool {
	n := len(p.Vertices)
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi := p.Vertices[i]
		vj := p.Vertices[j]

		if onSegment(vj, vi, pt) {
			return true
		}

		if (vi.Y > pt.Y) != (vj.Y > pt.Y) {
			xCross := (vj.X-vi.X)*(pt.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if pt.X < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// signedArea returns twice the signed area of the ring (shoelace).
func (p Polygon) signedArea() float64 {
	var sum float64
	n := len(p.Vertices)
	for i := 0; i < n; i++ {
		a := p.Vertices[i]
		b := p.Vertices[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum
}

// cross returns the orientation of (b-a) × (c-a).
func cross(a, b, c Point) float64 {
	return (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
}

// onSegment reports whether pt lies on the closed segment [a, b].
func onSegment(a, b, pt Point) bool {
	if cross(a, b, pt) != 0 {
		return false
	}
	return min(a.X, b.X) <= pt.X && pt.X <= max(a.X, b.X) &&
		min(a.Y, b.Y) <= pt.Y && pt.Y <= max(a.Y, b.Y)
}

// segmentsIntersect reports whether segments [a1,a2] and [b1,b2] cross,
// including collinear overlap.
func segmentsIntersect(a1, a2, b1, b2 Point) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}

	if d1 == 0 && onSegment(b1, b2, a1) {
		return true
	}
	if d2 == 0 && onSegment(b1, b2, a2) {
		return true
	}
	if d3 == 0 && onSegment(a1, a2, b1) {
		return true
	}
	if d4 == 0 && onSegment(a1, a2, b2) {
		return true
	}
	return false
}
