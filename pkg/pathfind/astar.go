// Package pathfind implements the two-level indoor planner: A* within a
// single area's grid and Dijkstra across the area-connection graph,
// assembling the result into a typed instruction stream.
package pathfind

import (
	"container/heap"
	"errors"
	"math"

	"navign/pkg/geometry"
	"navign/pkg/model"
)

// Errors returned by FindInnerPath.
var (
	ErrStartOutsidePolygon = errors.New("pathfind: start outside polygon")
	ErrEndOutsidePolygon   = errors.New("pathfind: end outside polygon")
	ErrInvalidPolygon      = errors.New("pathfind: invalid polygon")
	ErrNoPathFound         = errors.New("pathfind: no path found")
)

const scoreScale = 100

// cellKey is a (col, row) grid coordinate.
type cellKey struct{ col, row int }

// FindInnerPath runs A* over arr's grid from start to end, both given in the
// area's local coordinate system. poly is used to validate that start and
// end actually lie inside the area.
func FindInnerPath(arr geometry.BoundedBlockArray, poly []model.Point, start, end model.Point) ([]model.Point, error) {
	if arr.Cols == 0 || arr.Rows == 0 {
		return nil, ErrInvalidPolygon
	}
	if !geometry.IsPointInside(poly, start) {
		return nil, ErrStartOutsidePolygon
	}
	if !geometry.IsPointInside(poly, end) {
		return nil, ErrEndOutsidePolygon
	}

	startKey, ok := indexAt(arr, start)
	if !ok {
		return nil, ErrStartOutsidePolygon
	}
	endKey, ok := indexAt(arr, end)
	if !ok {
		return nil, ErrEndOutsidePolygon
	}

	if startKey == endKey {
		return []model.Point{start, end}, nil
	}

	path, err := astar(arr, startKey, endKey)
	if err != nil {
		return nil, err
	}

	waypoints := make([]model.Point, 0, len(path)+2)
	waypoints = append(waypoints, start)
	for _, k := range path {
		waypoints = append(waypoints, arr.At(k.col, k.row).Center())
	}
	waypoints = append(waypoints, end)
	return waypoints, nil
}

func indexAt(arr geometry.BoundedBlockArray, p model.Point) (cellKey, bool) {
	for row := 0; row < arr.Rows; row++ {
		for col := 0; col < arr.Cols; col++ {
			b := arr.At(col, row)
			if p.X >= b.X1-1e-9 && p.X <= b.X2+1e-9 && p.Y >= b.Y1-1e-9 && p.Y <= b.Y2+1e-9 && b.Bounded {
				return cellKey{col: col, row: row}, true
			}
		}
	}
	return cellKey{}, false
}

type pqItem struct {
	key      cellKey
	priority int
	index    int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].priority < pq[j].priority }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i]; pq[i].index, pq[j].index = i, j }
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

func astar(arr geometry.BoundedBlockArray, start, goal cellKey) ([]cellKey, error) {
	cellW := arr.Width / float64(arr.Cols)
	cellH := arr.Height / float64(arr.Rows)

	heuristic := func(a, b cellKey) int {
		dx := math.Abs(float64(a.col-b.col)) * cellW
		dy := math.Abs(float64(a.row-b.row)) * cellH
		return int(math.Round((dx + dy) * scoreScale))
	}

	gScore := map[cellKey]int{start: 0}
	cameFrom := map[cellKey]cellKey{}

	pq := &priorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &pqItem{key: start, priority: heuristic(start, goal)})
	visited := map[cellKey]bool{}

	for pq.Len() > 0 {
		current := heap.Pop(pq).(*pqItem).key
		if visited[current] {
			continue
		}
		visited[current] = true

		if current == goal {
			return reconstructPath(cameFrom, current), nil
		}

		for _, n := range neighbors(arr, current) {
			stepCost := heuristic(current, n)
			tentative := gScore[current] + stepCost
			if existing, ok := gScore[n]; !ok || tentative < existing {
				gScore[n] = tentative
				cameFrom[n] = current
				heap.Push(pq, &pqItem{key: n, priority: tentative + heuristic(n, goal)})
			}
		}
	}

	return nil, ErrNoPathFound
}

func reconstructPath(cameFrom map[cellKey]cellKey, goal cellKey) []cellKey {
	path := []cellKey{goal}
	current := goal
	for {
		prev, ok := cameFrom[current]
		if !ok {
			break
		}
		path = append([]cellKey{prev}, path...)
		current = prev
	}
	return path
}

func neighbors(arr geometry.BoundedBlockArray, k cellKey) []cellKey {
	var out []cellKey
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			col, row := k.col+dc, k.row+dr
			if col < 0 || row < 0 || col >= arr.Cols || row >= arr.Rows {
				continue
			}
			if !arr.At(col, row).Bounded {
				continue
			}
			out = append(out, cellKey{col: col, row: row})
		}
	}
	return out
}
