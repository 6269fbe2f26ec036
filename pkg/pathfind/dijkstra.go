package pathfind

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"time"

	"navign/pkg/geometry"
	"navign/pkg/model"
)

// Errors returned by FindRoute.
var (
	ErrInvalidStartArea = errors.New("pathfind: invalid start area")
	ErrInvalidEndArea   = errors.New("pathfind: invalid end area")
	ErrInvalidConnection = errors.New("pathfind: invalid connection")
)

// InnerPathError wraps an error surfaced by FindInnerPath while assembling
// the cross-area route.
type InnerPathError struct {
	AreaID string
	Err    error
}

func (e *InnerPathError) Error() string {
	return fmt.Sprintf("pathfind: inner path in area %s: %v", e.AreaID, e.Err)
}

func (e *InnerPathError) Unwrap() error { return e.Err }

// ConnectivityLimits gates which connection types the traveller may use
// beyond the always-permitted {gate, rail, shuttle}.
type ConnectivityLimits struct {
	Elevator  bool
	Stairs    bool
	Escalator bool
}

// DefaultConnectivityLimits permits every connection type.
func DefaultConnectivityLimits() ConnectivityLimits {
	return ConnectivityLimits{Elevator: true, Stairs: true, Escalator: true}
}

func (l ConnectivityLimits) permits(t model.ConnectionType) bool {
	switch t {
	case model.ConnectionElevator:
		return l.Elevator
	case model.ConnectionStairs:
		return l.Stairs
	case model.ConnectionEscalator:
		return l.Escalator
	default: // gate, rail, shuttle
		return true
	}
}

// AreaStore resolves area ids to their polygon data.
type AreaStore interface {
	Area(id string) (model.Area, bool)
}

type dijkstraNode struct {
	areaID   string
	distance float64
	position model.Point
}

type dNodeItem struct {
	areaID   string
	distance float64
	index    int
}

type dPriorityQueue []*dNodeItem

func (pq dPriorityQueue) Len() int           { return len(pq) }
func (pq dPriorityQueue) Less(i, j int) bool { return pq[i].distance < pq[j].distance }
func (pq dPriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}
func (pq *dPriorityQueue) Push(x any) {
	item := x.(*dNodeItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *dPriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

type arrival struct {
	fromArea   string
	viaConn    model.Connection
	exitFromPt model.Point // where in fromArea the traveller exits
	entryPt    model.Point // where in this area the traveller enters
}

// FindRoute runs Dijkstra over the area-connection graph from (startArea,
// startPos) to (endArea, endPos) and assembles the result into a typed
// instruction stream, walking each area with FindInnerPath.
func FindRoute(
	areas AreaStore,
	connections []model.Connection,
	limits ConnectivityLimits,
	startArea, endArea string,
	startPos, endPos model.Point,
	at time.Time,
) ([]model.RouteInstruction, error) {
	startAreaData, ok := areas.Area(startArea)
	if !ok {
		return nil, ErrInvalidStartArea
	}
	if _, ok := areas.Area(endArea); !ok {
		return nil, ErrInvalidEndArea
	}

	if startArea == endArea {
		grid, err := geometry.Decompose(startAreaData.Polygon)
		if err != nil {
			return nil, &InnerPathError{AreaID: startArea, Err: err}
		}
		waypoints, err := FindInnerPath(grid, startAreaData.Polygon, startPos, endPos)
		if err != nil {
			return nil, &InnerPathError{AreaID: startArea, Err: err}
		}
		return movesFrom(waypoints), nil
	}

	byArea := make(map[string][]model.Connection)
	for _, c := range connections {
		if len(c.Endpoints) != 2 {
			continue
		}
		if !limits.permits(c.Type) {
			continue
		}
		if !scheduleActive(c.Schedules, at) {
			continue
		}
		byArea[c.Endpoints[0].AreaID] = append(byArea[c.Endpoints[0].AreaID], c)
		byArea[c.Endpoints[1].AreaID] = append(byArea[c.Endpoints[1].AreaID], c)
	}

	dist := map[string]float64{startArea: 0}
	best := map[string]dijkstraNode{startArea: {areaID: startArea, distance: 0, position: startPos}}
	cameFrom := map[string]arrival{}
	visited := map[string]bool{}

	pq := &dPriorityQueue{}
	heap.Init(pq)
	heap.Push(pq, &dNodeItem{areaID: startArea, distance: 0})

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*dNodeItem)
		if visited[item.areaID] {
			continue
		}
		visited[item.areaID] = true
		current := best[item.areaID]

		if current.areaID == endArea {
			break
		}

		for _, c := range byArea[current.areaID] {
			from, ok := c.EndpointIn(current.areaID)
			if !ok || !from.Enabled {
				continue
			}
			to, ok := c.OtherEndpoint(current.areaID)
			if !ok || !to.Enabled {
				continue
			}

			fromPt := model.Point{X: from.EntryX, Y: from.EntryY}
			cost := manhattan(current.position, fromPt)
			tentative := dist[current.areaID] + cost

			if existing, ok := dist[to.AreaID]; !ok || tentative < existing {
				dist[to.AreaID] = tentative
				entryPt := model.Point{X: to.EntryX, Y: to.EntryY}
				best[to.AreaID] = dijkstraNode{areaID: to.AreaID, distance: tentative, position: entryPt}
				cameFrom[to.AreaID] = arrival{
					fromArea:   current.areaID,
					viaConn:    c,
					exitFromPt: fromPt,
					entryPt:    entryPt,
				}
				heap.Push(pq, &dNodeItem{areaID: to.AreaID, distance: tentative})
			}
		}
	}

	if _, ok := dist[endArea]; !ok {
		return nil, ErrNoPathFound
	}

	// Reconstruct the ordered chain of areas from start to end.
	type step struct {
		areaID  string
		entry   model.Point
		exit    model.Point
		conn    model.Connection
		hasNext bool
	}
	var chain []step
	areaID := endArea
	for areaID != startArea {
		arr, ok := cameFrom[areaID]
		if !ok {
			return nil, ErrInvalidConnection
		}
		chain = append([]step{{areaID: areaID, entry: arr.entryPt, exit: arr.exitFromPt, conn: arr.viaConn, hasNext: true}}, chain...)
		areaID = arr.fromArea
	}
	chain = append([]step{{areaID: startArea, entry: startPos}}, chain...)

	var instructions []model.RouteInstruction
	for i, st := range chain {
		areaData, ok := areas.Area(st.areaID)
		if !ok {
			return nil, ErrInvalidConnection
		}

		target := endPos
		if i < len(chain)-1 {
			target = chain[i+1].exit
		}

		grid, err := geometry.Decompose(areaData.Polygon)
		if err != nil {
			return nil, &InnerPathError{AreaID: st.areaID, Err: err}
		}
		waypoints, err := FindInnerPath(grid, areaData.Polygon, st.entry, target)
		if err != nil {
			return nil, &InnerPathError{AreaID: st.areaID, Err: err}
		}
		instructions = append(instructions, movesFrom(waypoints)...)

		if i < len(chain)-1 {
			next := chain[i+1]
			instructions = append(instructions, model.Transport(next.conn.ID, next.areaID, next.conn.Type))
		}
	}

	return instructions, nil
}

func movesFrom(waypoints []model.Point) []model.RouteInstruction {
	out := make([]model.RouteInstruction, 0, len(waypoints))
	for _, p := range waypoints {
		out = append(out, model.Move(p.X, p.Y))
	}
	return out
}

func manhattan(a, b model.Point) float64 {
	return math.Abs(a.X-b.X) + math.Abs(a.Y-b.Y)
}

func scheduleActive(schedules []model.Schedule, at time.Time) bool {
	if len(schedules) == 0 {
		return true
	}
	dayMinuteMS := int64(at.Hour()*3600+at.Minute()*60+at.Second())*1000 + int64(at.Nanosecond()/1e6)
	for _, s := range schedules {
		if dayMinuteMS >= s.StartMS && dayMinuteMS <= s.EndMS {
			return true
		}
	}
	return false
}
