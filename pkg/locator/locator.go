// Package locator estimates a mobile client's position and area from a
// snapshot of BLE beacon scan results.
package locator

import (
	"math"
)

// ScanResult is one beacon seen in a scan snapshot.
type ScanResult struct {
	Address string
	RSSI    int
}

// BeaconInfo is the registered location of a beacon address.
type BeaconInfo struct {
	AreaID string
	X, Y   float64
}

// Registry resolves a beacon address to its known location.
type Registry interface {
	Lookup(address string) (BeaconInfo, bool)
}

// Outcome is the tagged result of a Locate call.
type Outcome struct {
	Kind       OutcomeKind
	AreaID     string
	X, Y       float64
}

type OutcomeKind string

const (
	OutcomeSuccess     OutcomeKind = "success"
	OutcomeAreaChanged OutcomeKind = "area_changed"
	OutcomeNoBeacons   OutcomeKind = "no_beacons"
)

const (
	maxAbsRSSI       = 160
	strongAbsRSSI    = 60
	pathLossTxPower  = -59.0
	pathLossExponent = 2.0
)

type candidate struct {
	info BeaconInfo
	rssi int
}

// Locate filters out-of-range beacons, groups the rest by area, picks the
// best-populated group (ties broken by stronger mean RSSI), signals an area
// change if it differs from currentArea, and otherwise prefers a strong
// single beacon or falls back to a weighted centroid.
func Locate(scans []ScanResult, reg Registry, currentArea string) Outcome {
	byArea := make(map[string][]candidate)
	for _, s := range scans {
		if abs(s.RSSI) > maxAbsRSSI {
			continue
		}
		info, ok := reg.Lookup(s.Address)
		if !ok {
			continue
		}
		byArea[info.AreaID] = append(byArea[info.AreaID], candidate{info: info, rssi: s.RSSI})
	}

	if len(byArea) == 0 {
		return Outcome{Kind: OutcomeNoBeacons}
	}

	selected := selectArea(byArea)

	if selected != currentArea {
		return Outcome{Kind: OutcomeAreaChanged, AreaID: selected}
	}

	group := byArea[selected]

	if strongest, ok := strongestWithin(group, strongAbsRSSI); ok {
		return Outcome{Kind: OutcomeSuccess, AreaID: selected, X: strongest.info.X, Y: strongest.info.Y}
	}

	x, y := weightedCentroid(group)
	return Outcome{Kind: OutcomeSuccess, AreaID: selected, X: x, Y: y}
}

func selectArea(byArea map[string][]candidate) string {
	var best string
	var bestCount int
	var bestMeanRSSI float64
	first := true
	for area, group := range byArea {
		count := len(group)
		mean := meanRSSI(group)
		switch {
		case first:
			best, bestCount, bestMeanRSSI, first = area, count, mean, false
		case count > bestCount:
			best, bestCount, bestMeanRSSI = area, count, mean
		case count == bestCount && mean > bestMeanRSSI:
			best, bestCount, bestMeanRSSI = area, count, mean
		}
	}
	return best
}

func meanRSSI(group []candidate) float64 {
	sum := 0
	for _, c := range group {
		sum += c.rssi
	}
	return float64(sum) / float64(len(group))
}

// strongestWithin returns the candidate with the least-negative (strongest)
// RSSI, provided at least one candidate is within absThreshold.
func strongestWithin(group []candidate, absThreshold int) (candidate, bool) {
	var best candidate
	found := false
	for _, c := range group {
		if abs(c.rssi) > absThreshold {
			continue
		}
		if !found || c.rssi > best.rssi {
			best = c
			found = true
		}
	}
	return best, found
}

func weightedCentroid(group []candidate) (float64, float64) {
	var sumW, sumWX, sumWY float64
	for _, c := range group {
		w := 1.0 / rssiToDistance(c.rssi)
		sumW += w
		sumWX += w * c.info.X
		sumWY += w * c.info.Y
	}
	if sumW == 0 {
		return 0, 0
	}
	return sumWX / sumW, sumWY / sumW
}

// rssiToDistance is the log-distance path-loss model: d = 10^((txPower - rssi) / (10n))
// with the exponent n=2.0 baked into the /20 divisor.
func rssiToDistance(rssi int) float64 {
	return math.Pow(10, (pathLossTxPower-float64(rssi))/20)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
