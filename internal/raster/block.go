package raster

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"nervesim/internal/model"
)

// Calibrated block heuristics. They reproduce the reference classifier and
// have no first-principles derivation; recalibrate them together with the
// reference data if they are ever changed. They were calibrated with an
// open-ended window after the test pulse, so a zero TestPulseWindow keeps
// that behavior: events from later stimuli inside the run still count.
const (
	BlockReachFraction = 9.0 / 10.0
	BlockGapFraction   = 1.0 / 5.0
)

// BlockQuery describes the test-pulse setup used to decide whether an action
// potential crossed the blocking electrode. Positions are axial (x), in µm.
type BlockQuery struct {
	TestPulseTime     float64
	TestPulsePosition float64
	ElectrodePosition float64
	AxonLength        float64
	// TestPulseWindow bounds the events attributed to the test pulse to
	// [TestPulseTime, TestPulseTime+TestPulseWindow). Zero leaves it open.
	TestPulseWindow float64
}

func (q BlockQuery) inWindow(t float64) bool {
	if t < q.TestPulseTime {
		return false
	}
	return q.TestPulseWindow <= 0 || t < q.TestPulseTime+q.TestPulseWindow
}

// ClassifyBlock returns BlockUnknown when no event falls in the test-pulse
// window, Blocked when the test action potential stops short of the far
// end or leaves a gap along the way, and NotBlocked otherwise.
func ClassifyBlock(events []model.RasterEvent, q BlockQuery) model.BlockState {
	var positions []float64
	for _, e := range events {
		if q.inWindow(e.Time) {
			positions = append(positions, e.X)
		}
	}
	if len(positions) == 0 {
		return model.BlockUnknown
	}

	forward := q.TestPulsePosition <= q.ElectrodePosition
	sort.Float64s(positions)
	if !forward {
		for i, j := 0, len(positions)-1; i < j; i, j = i+1, j-1 {
			positions[i], positions[j] = positions[j], positions[i]
		}
	}

	var reach float64
	if forward {
		reach = positions[len(positions)-1]
	} else {
		reach = q.AxonLength - positions[len(positions)-1]
	}
	if reach < BlockReachFraction*q.AxonLength {
		return model.Blocked
	}

	maxGap := BlockGapFraction * q.AxonLength
	for i := 1; i < len(positions); i++ {
		if math.Abs(positions[i]-positions[i-1]) > maxGap {
			return model.Blocked
		}
	}
	return model.NotBlocked
}

// CountOnsetSpikes counts events strictly before tStop on the compartment
// closest to position. xs holds the axial position of every compartment, so
// a silent compartment under the electrode yields zero.
func CountOnsetSpikes(events []model.RasterEvent, xs []float64, position, tStop float64) int {
	if len(events) == 0 || len(xs) == 0 {
		return 0
	}
	nearest := 0
	best := math.Inf(1)
	for i, x := range xs {
		if d := math.Abs(x - position); d < best {
			best = d
			nearest = i
		}
	}
	count := 0
	for _, e := range events {
		if e.Compartment == nearest && e.Time < tStop {
			count++
		}
	}
	return count
}

// IsRecruited reports whether any event falls inside [tStart, tStop].
// tStop <= 0 leaves the window open-ended.
func IsRecruited(events []model.RasterEvent, tStart, tStop float64) bool {
	for _, e := range events {
		if e.Time < tStart {
			continue
		}
		if tStop > 0 && e.Time > tStop {
			continue
		}
		return true
	}
	return false
}

// ConductionVelocity fits x against t over the first event of each
// compartment at or after tStart and returns the slope in m/s (µm/ms * 1e-3).
// Fewer than two distinct compartments give 0.
func ConductionVelocity(events []model.RasterEvent, tStart float64) float64 {
	first := make(map[int]model.RasterEvent)
	for _, e := range events {
		if e.Time < tStart {
			continue
		}
		if prev, ok := first[e.Compartment]; !ok || e.Time < prev.Time {
			first[e.Compartment] = e
		}
	}
	if len(first) < 2 {
		return 0
	}

	compartments := make([]int, 0, len(first))
	for c := range first {
		compartments = append(compartments, c)
	}
	sort.Ints(compartments)

	ts := make([]float64, 0, len(compartments))
	xs := make([]float64, 0, len(compartments))
	for _, c := range compartments {
		ts = append(ts, first[c].Time)
		xs = append(xs, first[c].X)
	}
	if stat.Variance(ts, nil) == 0 {
		return 0
	}
	_, slope := stat.LinearRegression(ts, xs, nil, false)
	return math.Abs(slope) * 1e-3
}
