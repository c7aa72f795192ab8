// Package raster turns membrane-voltage traces into spike events and derives
// recruitment, block and conduction-velocity verdicts from them.
package raster

import (
	"math"

	"nervesim/internal/model"
)

// DetectOptions configures Detect. Times are in ms, Threshold in mV.
type DetectOptions struct {
	Threshold        float64
	Dt               float64
	TStart           float64
	TStop            float64 // <= 0 scans to the end of the record
	RefractoryPeriod float64
	MinSpikeDuration float64
}

// DefaultDetectOptions matches the usual rasterization settings for a 0 mV
// threshold with a 1 ms refractory period.
func DefaultDetectOptions(dt float64) DetectOptions {
	return DetectOptions{
		Threshold:        0,
		Dt:               dt,
		RefractoryPeriod: 1,
		MinSpikeDuration: 0.1,
	}
}

// Detect scans the given compartments of v for upward threshold crossings
// that persist for MinSpikeDuration and respect the refractory period.
// A nil compartments slice scans every compartment. The persistence sample is
// clamped to the stop index, so crossings close to TStop only need to hold
// until TStop.
func Detect(v [][]float64, t, x []float64, compartments []int, opts DetectOptions) []model.RasterEvent {
	if opts.Dt <= 0 || len(v) == 0 {
		return nil
	}
	if compartments == nil {
		compartments = make([]int, len(v))
		for i := range compartments {
			compartments[i] = i
		}
	}

	hold := max(int(math.Round(opts.MinSpikeDuration/opts.Dt)), 0)
	start := int(math.Round(opts.TStart / opts.Dt))
	if start < 0 {
		start = 0
	}

	var events []model.RasterEvent
	for _, c := range compartments {
		if c < 0 || c >= len(v) {
			continue
		}
		trace := v[c]
		stop := len(trace) - 1
		if opts.TStop > 0 {
			if s := int(math.Round(opts.TStop / opts.Dt)); s < stop {
				stop = s
			}
		}

		hasLast := false
		lastSpike := 0.0
		for j := start; j < stop; j++ {
			if trace[j] > opts.Threshold || trace[j+1] < opts.Threshold {
				continue
			}
			if trace[min(j+hold, stop)] < opts.Threshold {
				continue
			}
			tj := float64(j) * opts.Dt
			if hasLast && tj-lastSpike <= opts.RefractoryPeriod {
				continue
			}
			event := model.RasterEvent{Compartment: c, TimeIndex: j, Time: tj}
			if c < len(x) {
				event.X = x[c]
			}
			if j < len(t) {
				event.Time = t[j]
			}
			events = append(events, event)
			hasLast = true
			lastSpike = tj
		}
	}
	return events
}

// DetectRecord runs Detect over every compartment of a simulation record.
func DetectRecord(rec model.SimulationRecord, opts DetectOptions) []model.RasterEvent {
	if opts.Dt <= 0 {
		opts.Dt = rec.Dt
	}
	return Detect(rec.V, rec.T, rec.X, nil, opts)
}
