package pathfind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"navign/pkg/geometry"
	"navign/pkg/model"
)

func lShape() []model.Point {
	return []model.Point{
		{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 5, Y: 10},
		{X: 5, Y: 5}, {X: 10, Y: 5}, {X: 10, Y: 0},
	}
}

func TestFindInnerPathLShapeAvoidsNotch(t *testing.T) {
	arr, err := geometry.Decompose(lShape())
	require.NoError(t, err)

	// Top of the left arm to the far end of the bottom arm: the direct line
	// crosses the notch, so the path has to turn the corner at (5,5).
	start := model.Point{X: 1, Y: 9}
	end := model.Point{X: 9, Y: 1}
	path, err := FindInnerPath(arr, lShape(), start, end)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(path), 4)
	require.Equal(t, start, path[0])
	require.Equal(t, end, path[len(path)-1])

	for _, p := range path {
		require.True(t, geometry.IsPointInside(lShape(), p))
		require.False(t, p.X > 5 && p.Y > 5, "path entered the notch at %+v", p)
	}
}

func TestFindInnerPathSameBlockShortcut(t *testing.T) {
	square := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}
	arr, err := geometry.Decompose(square)
	require.NoError(t, err)

	path, err := FindInnerPath(arr, square, model.Point{X: 1, Y: 1}, model.Point{X: 1.5, Y: 1.5})
	require.NoError(t, err)
	require.Equal(t, []model.Point{{X: 1, Y: 1}, {X: 1.5, Y: 1.5}}, path)
}

func TestFindInnerPathStartOutsidePolygon(t *testing.T) {
	square := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}
	arr, err := geometry.Decompose(square)
	require.NoError(t, err)

	_, err = FindInnerPath(arr, square, model.Point{X: -5, Y: -5}, model.Point{X: 1, Y: 1})
	require.ErrorIs(t, err, ErrStartOutsidePolygon)
}

type staticAreaStore map[string]model.Area

func (s staticAreaStore) Area(id string) (model.Area, bool) {
	a, ok := s[id]
	return a, ok
}

func TestFindRouteSameArea(t *testing.T) {
	square := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}
	areas := staticAreaStore{"area1": {ID: "area1", Polygon: square}}

	instr, err := FindRoute(areas, nil, DefaultConnectivityLimits(), "area1", "area1",
		model.Point{X: 1, Y: 1}, model.Point{X: 9, Y: 9}, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, instr)
	for _, in := range instr {
		require.Equal(t, model.InstructionMove, in.Kind)
	}
}

func TestFindRouteWithElevator(t *testing.T) {
	square := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}
	areas := staticAreaStore{
		"area1": {ID: "area1", Polygon: square},
		"area2": {ID: "area2", Polygon: square},
	}
	conn := model.Connection{
		ID:   "elev1",
		Type: model.ConnectionElevator,
		Endpoints: []model.ConnectionEndpoint{
			{AreaID: "area1", EntryX: 9, EntryY: 5, Enabled: true},
			{AreaID: "area2", EntryX: 1, EntryY: 5, Enabled: true},
		},
	}

	instr, err := FindRoute(areas, []model.Connection{conn}, DefaultConnectivityLimits(),
		"area1", "area2", model.Point{X: 1, Y: 1}, model.Point{X: 9, Y: 9}, time.Now())
	require.NoError(t, err)

	transports := 0
	for _, in := range instr {
		if in.Kind == model.InstructionTransport {
			transports++
			require.Equal(t, "area2", in.TargetAreaID)
			require.Equal(t, model.ConnectionElevator, in.ConnectionType)
		}
	}
	require.Equal(t, 1, transports)
	require.Equal(t, model.InstructionMove, instr[0].Kind)
	require.Equal(t, model.InstructionMove, instr[len(instr)-1].Kind)
}

func TestFindRouteDisallowedConnectionType(t *testing.T) {
	square := []model.Point{{X: 0, Y: 0}, {X: 0, Y: 10}, {X: 10, Y: 10}, {X: 10, Y: 0}}
	areas := staticAreaStore{
		"area1": {ID: "area1", Polygon: square},
		"area2": {ID: "area2", Polygon: square},
	}
	conn := model.Connection{
		ID:   "elev1",
		Type: model.ConnectionElevator,
		Endpoints: []model.ConnectionEndpoint{
			{AreaID: "area1", EntryX: 9, EntryY: 5, Enabled: true},
			{AreaID: "area2", EntryX: 1, EntryY: 5, Enabled: true},
		},
	}
	limits := ConnectivityLimits{Elevator: false, Stairs: true, Escalator: true}

	_, err := FindRoute(areas, []model.Connection{conn}, limits, "area1", "area2",
		model.Point{X: 1, Y: 1}, model.Point{X: 9, Y: 9}, time.Now())
	require.ErrorIs(t, err, ErrNoPathFound)
}

func TestFindRouteInvalidStartArea(t *testing.T) {
	areas := staticAreaStore{}
	_, err := FindRoute(areas, nil, DefaultConnectivityLimits(), "missing", "missing",
		model.Point{}, model.Point{}, time.Now())
	require.ErrorIs(t, err, ErrInvalidStartArea)
}
