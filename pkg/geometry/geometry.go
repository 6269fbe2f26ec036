// Package geometry decomposes polygonal areas into a navigable grid of
// bounded blocks. Axis-aligned polygons are gridded directly; rotated
// polygons are triangulated first and the grid is overlaid on the retained
// triangles.
package geometry

import (
	"errors"
	"math"
	"sort"

	"navign/pkg/model"
)

const epsilon = 1e-9

// ErrInvalidPolygon is returned when a polygon has fewer than 3 distinct
// vertices or cannot be triangulated.
var ErrInvalidPolygon = errors.New("geometry: invalid polygon")

// Block is one cell of a BoundedBlockArray.
type Block struct {
	X1, Y1, X2, Y2 float64
	Bounded        bool
}

// Center returns the block's midpoint.
func (b Block) Center() model.Point {
	return model.Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// BoundedBlockArray is a row-major grid overlay of an area's polygon.
type BoundedBlockArray struct {
	Cells        []Block
	Cols, Rows   int
	Width, Height float64
}

// At returns the block at (col, row).
func (a BoundedBlockArray) At(col, row int) Block {
	return a.Cells[row*a.Cols+col]
}

// IsAxisAligned reports whether every edge of poly is horizontal or
// vertical.
func IsAxisAligned(poly []model.Point) bool {
	n := len(poly)
	for i := 0; i < n; i++ {
		a := poly[i]
		b := poly[(i+1)%n]
		dx := math.Abs(b.X - a.X)
		dy := math.Abs(b.Y - a.Y)
		if dx > epsilon && dy > epsilon {
			return false
		}
	}
	return true
}

// IsPointInside reports whether q lies inside poly via ray casting. The
// polygon may or may not repeat its first vertex as a closing vertex.
func IsPointInside(poly []model.Point, q model.Point) bool {
	pts := openVertices(poly)
	inside := false
	n := len(pts)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := pts[i], pts[j]
		if (pi.Y > q.Y) != (pj.Y > q.Y) {
			xIntersect := (pj.X-pi.X)*(q.Y-pi.Y)/(pj.Y-pi.Y) + pi.X
			if q.X < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

func openVertices(poly []model.Point) []model.Point {
	if len(poly) >= 2 && poly[0] == poly[len(poly)-1] {
		return poly[:len(poly)-1]
	}
	return poly
}

// Decompose builds a BoundedBlockArray for poly, choosing the axis-aligned
// grid path or the triangulation+grid path.
func Decompose(poly []model.Point) (BoundedBlockArray, error) {
	pts := openVertices(poly)
	if len(pts) < 3 {
		return BoundedBlockArray{}, ErrInvalidPolygon
	}

	if IsAxisAligned(pts) {
		return decomposeAxisAligned(pts)
	}
	return decomposeTriangulated(pts)
}

func bounds(pts []model.Point) (minX, minY, maxX, maxY float64) {
	minX, minY = pts[0].X, pts[0].Y
	maxX, maxY = pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		maxX = math.Max(maxX, p.X)
		maxY = math.Max(maxY, p.Y)
	}
	return
}

func decomposeAxisAligned(pts []model.Point) (BoundedBlockArray, error) {
	xs := distinctSorted(pointsX(pts))
	ys := distinctSorted(pointsY(pts))
	if len(xs) < 2 || len(ys) < 2 {
		return BoundedBlockArray{}, ErrInvalidPolygon
	}

	cols := len(xs) - 1
	rows := len(ys) - 1
	cells := make([]Block, 0, cols*rows)
	for ri := 0; ri < rows; ri++ {
		for ci := 0; ci < cols; ci++ {
			x1, x2 := xs[ci], xs[ci+1]
			y1, y2 := ys[ri], ys[ri+1]
			center := model.Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}
			cells = append(cells, Block{
				X1: x1, Y1: y1, X2: x2, Y2: y2,
				Bounded: IsPointInside(pts, center),
			})
		}
	}

	return BoundedBlockArray{
		Cells:  cells,
		Cols:   cols,
		Rows:   rows,
		Width:  xs[len(xs)-1] - xs[0],
		Height: ys[len(ys)-1] - ys[0],
	}, nil
}

func decomposeTriangulated(pts []model.Point) (BoundedBlockArray, error) {
	triangles, err := Triangulate(pts)
	if err != nil {
		return BoundedBlockArray{}, err
	}

	retained := make([]Triangle, 0, len(triangles))
	for _, tri := range triangles {
		if IsPointInside(pts, tri.Centroid()) {
			retained = append(retained, tri)
		}
	}
	if len(retained) == 0 {
		return BoundedBlockArray{}, ErrInvalidPolygon
	}

	k := gridSize(len(retained))
	minX, minY, maxX, maxY := bounds(pts)
	width, height := maxX-minX, maxY-minY
	cellW, cellH := width/float64(k), height/float64(k)

	cells := make([]Block, 0, k*k)
	for row := 0; row < k; row++ {
		for col := 0; col < k; col++ {
			x1 := minX + float64(col)*cellW
			x2 := x1 + cellW
			y1 := minY + float64(row)*cellH
			y2 := y1 + cellH
			center := model.Point{X: (x1 + x2) / 2, Y: (y1 + y2) / 2}
			bounded := false
			for _, tri := range retained {
				if tri.Contains(center) {
					bounded = true
					break
				}
			}
			cells = append(cells, Block{X1: x1, Y1: y1, X2: x2, Y2: y2, Bounded: bounded})
		}
	}

	return BoundedBlockArray{Cells: cells, Cols: k, Rows: k, Width: width, Height: height}, nil
}

// gridSize implements clamp(ceil(sqrt(n))*2, 3, 50).
func gridSize(nTriangles int) int {
	k := int(math.Ceil(math.Sqrt(float64(nTriangles)))) * 2
	if k < 3 {
		return 3
	}
	if k > 50 {
		return 50
	}
	return k
}

func pointsX(pts []model.Point) []float64 {
	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.X
	}
	return xs
}

func pointsY(pts []model.Point) []float64 {
	ys := make([]float64, len(pts))
	for i, p := range pts {
		ys[i] = p.Y
	}
	return ys
}

func distinctSorted(vs []float64) []float64 {
	sort.Float64s(vs)
	out := vs[:0:0]
	for i, v := range vs {
		if i == 0 || math.Abs(v-out[len(out)-1]) > epsilon {
			out = append(out, v)
		}
	}
	return out
}
