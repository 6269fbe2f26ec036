package locator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type staticRegistry map[string]BeaconInfo

func (r staticRegistry) Lookup(addr string) (BeaconInfo, bool) {
	info, ok := r[addr]
	return info, ok
}

func TestLocateWeightedCentroidFallback(t *testing.T) {
	reg := staticRegistry{
		"A": {AreaID: "area1", X: 0, Y: 0},
		"B": {AreaID: "area1", X: 1, Y: 1},
		"C": {AreaID: "area1", X: 2, Y: 2},
	}
	scans := []ScanResult{
		{Address: "A", RSSI: -70},
		{Address: "B", RSSI: -90},
		{Address: "C", RSSI: -85},
	}

	out := Locate(scans, reg, "area1")
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.InDelta(t, 0.35665167226144173, out.X, 1e-9)
	require.InDelta(t, 0.35665167226144173, out.Y, 1e-9)
}

func TestLocateStrongestBeaconShortcut(t *testing.T) {
	reg := staticRegistry{
		"A": {AreaID: "area1", X: 0, Y: 0},
		"B": {AreaID: "area1", X: 1, Y: 1},
		"C": {AreaID: "area1", X: 2, Y: 2},
	}
	scans := []ScanResult{
		{Address: "A", RSSI: -50},
		{Address: "B", RSSI: -90},
		{Address: "C", RSSI: -85},
	}

	out := Locate(scans, reg, "area1")
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.InDelta(t, 0.0, out.X, 1e-9)
	require.InDelta(t, 0.0, out.Y, 1e-9)
}

func TestLocateAreaChanged(t *testing.T) {
	reg := staticRegistry{
		"A": {AreaID: "area2", X: 5, Y: 5},
	}
	scans := []ScanResult{{Address: "A", RSSI: -70}}

	out := Locate(scans, reg, "area1")
	require.Equal(t, OutcomeAreaChanged, out.Kind)
	require.Equal(t, "area2", out.AreaID)
}

func TestLocateNoBeacons(t *testing.T) {
	reg := staticRegistry{}
	out := Locate(nil, reg, "area1")
	require.Equal(t, OutcomeNoBeacons, out.Kind)
}

func TestLocateFiltersOutOfRangeRSSI(t *testing.T) {
	reg := staticRegistry{
		"A": {AreaID: "area1", X: 0, Y: 0},
	}
	scans := []ScanResult{{Address: "A", RSSI: -200}}

	out := Locate(scans, reg, "area1")
	require.Equal(t, OutcomeNoBeacons, out.Kind)
}

func TestLocatePrefersLargerGroup(t *testing.T) {
	reg := staticRegistry{
		"A": {AreaID: "area1", X: 0, Y: 0},
		"B": {AreaID: "area1", X: 1, Y: 1},
		"C": {AreaID: "area2", X: 9, Y: 9},
	}
	scans := []ScanResult{
		{Address: "A", RSSI: -70},
		{Address: "B", RSSI: -72},
		{Address: "C", RSSI: -65},
	}

	out := Locate(scans, reg, "area1")
	require.Equal(t, OutcomeSuccess, out.Kind)
	require.Equal(t, "area1", out.AreaID)
}
