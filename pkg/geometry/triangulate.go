package geometry

import (
	"navign/pkg/model"
)

// Triangle is one simplex of a triangulated polygon.
type Triangle struct {
	P0, P1, P2 model.Point
}

// Centroid returns the triangle's centroid.
func (t Triangle) Centroid() model.Point {
	return model.Point{
		X: (t.P0.X + t.P1.X + t.P2.X) / 3,
		Y: (t.P0.Y + t.P1.Y + t.P2.Y) / 3,
	}
}

// Area returns the unsigned area of the triangle.
func (t Triangle) Area() float64 {
	return absf(cross(t.P1.X-t.P0.X, t.P1.Y-t.P0.Y, t.P2.X-t.P0.X, t.P2.Y-t.P0.Y)) / 2
}

// Contains reports whether q lies inside the triangle using barycentric
// coordinates.
func (t Triangle) Contains(q model.Point) bool {
	d1 := sign(q, t.P0, t.P1)
	d2 := sign(q, t.P1, t.P2)
	d3 := sign(q, t.P2, t.P0)

	hasNeg := d1 < 0 || d2 < 0 || d3 < 0
	hasPos := d1 > 0 || d2 > 0 || d3 > 0
	return !(hasNeg && hasPos)
}

func sign(a, b, c model.Point) float64 {
	return (a.X-c.X)*(b.Y-c.Y) - (b.X-c.X)*(a.Y-c.Y)
}

func cross(ax, ay, bx, by float64) float64 {
	return ax*by - ay*bx
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Triangulate splits a simple polygon (no self-intersections, vertices in
// order) into triangles by ear clipping.
func Triangulate(poly []model.Point) ([]Triangle, error) {
	if len(poly) < 3 {
		return nil, ErrInvalidPolygon
	}

	ring := make([]model.Point, len(poly))
	copy(ring, poly)
	if signedArea(ring) < 0 {
		reverse(ring)
	}

	idx := make([]int, len(ring))
	for i := range idx {
		idx[i] = i
	}

	var triangles []Triangle
	guard := 0
	maxGuard := len(ring) * len(ring)
	for len(idx) > 3 {
		guard++
		if guard > maxGuard {
			return nil, ErrInvalidPolygon
		}
		earFound := false
		for i := 0; i < len(idx); i++ {
			prev := idx[(i-1+len(idx))%len(idx)]
			curr := idx[i]
			next := idx[(i+1)%len(idx)]

			a, b, c := ring[prev], ring[curr], ring[next]
			if !isConvex(a, b, c) {
				continue
			}
			if trianglePolygonConflict(ring, idx, prev, curr, next, a, b, c) {
				continue
			}

			triangles = append(triangles, Triangle{P0: a, P1: b, P2: c})
			idx = append(idx[:i], idx[i+1:]...)
			earFound = true
			break
		}
		if !earFound {
			return nil, ErrInvalidPolygon
		}
	}
	if len(idx) == 3 {
		triangles = append(triangles, Triangle{P0: ring[idx[0]], P1: ring[idx[1]], P2: ring[idx[2]]})
	}

	return triangles, nil
}

func trianglePolygonConflict(ring []model.Point, idx []int, prev, curr, next int, a, b, c model.Point) bool {
	tri := Triangle{P0: a, P1: b, P2: c}
	for _, j := range idx {
		if j == prev || j == curr || j == next {
			continue
		}
		if tri.Contains(ring[j]) {
			return true
		}
	}
	return false
}

// isConvex reports whether the interior angle at b is convex, for a
// counter-clockwise-wound ring.
func isConvex(a, b, c model.Point) bool {
	return cross(b.X-a.X, b.Y-a.Y, c.X-b.X, c.Y-b.Y) > 0
}

func signedArea(ring []model.Point) float64 {
	sum := 0.0
	n := len(ring)
	for i := 0; i < n; i++ {
		a := ring[i]
		b := ring[(i+1)%n]
		sum += a.X*b.Y - b.X*a.Y
	}
	return sum / 2
}

func reverse(ring []model.Point) {
	for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
		ring[i], ring[j] = ring[j], ring[i]
	}
}
