package packing

import (
	"log/slog"
	"math"
	"slices"

	"nervesim/internal/model"
)

// RemoveCollision walks every colliding pair in index order and discards the
// thinner axon (the later one on ties). Pairs closer than (di+dj)/2 + gap
// collide. The input slice is not modified.
func RemoveCollision(logger *slog.Logger, axons []model.Axon, gap float64) ([]model.Axon, int) {
	if len(axons) < 2 {
		return slices.Clone(axons), 0
	}
	maxD := 0.0
	for _, a := range axons {
		maxD = math.Max(maxD, a.Diameter)
	}
	grid := newSpatialGrid(maxD+gap, len(axons))
	for i, a := range axons {
		grid.Insert(i, a.Y, a.Z)
	}

	removed := make([]bool, len(axons))
	var candidates []int
	for i, a := range axons {
		if removed[i] {
			continue
		}
		candidates = grid.NeighborsInto(candidates[:0], a.Y, a.Z)
		slices.Sort(candidates)
		for _, j := range candidates {
			if j <= i || removed[j] {
				continue
			}
			if !collide(a, axons[j], gap) {
				continue
			}
			if axons[j].Diameter <= a.Diameter {
				removed[j] = true
				continue
			}
			removed[i] = true
			break
		}
	}
	return keep(logger, axons, removed, "removed colliding axons")
}

// RemoveOutliers discards axons whose disc is not fully inside the contour.
func RemoveOutliers(logger *slog.Logger, axons []model.Axon, contour model.Contour) ([]model.Axon, int) {
	removed := make([]bool, len(axons))
	for i, a := range axons {
		removed[i] = !contour.ContainsCircle(a.Y, a.Z, a.Radius())
	}
	return keep(logger, axons, removed, "removed axons outside fascicle contour")
}

// RemoveElectrodeOverlap discards axons whose disc intersects an electrode
// active site of the given radius. Sites are cross-section positions.
func RemoveElectrodeOverlap(logger *slog.Logger, axons []model.Axon, sites []model.Point, radius float64) ([]model.Axon, int) {
	removed := make([]bool, len(axons))
	for i, a := range axons {
		for _, s := range sites {
			if math.Hypot(a.Y-s.Y, a.Z-s.Z) < a.Radius()+radius {
				removed[i] = true
				break
			}
		}
	}
	return keep(logger, axons, removed, "removed axons overlapping electrodes")
}

// FiberVolumeFraction is the share of the contour area covered by axons.
func FiberVolumeFraction(axons []model.Axon, contour model.Contour) float64 {
	area := contour.Area()
	if area <= 0 {
		return 0
	}
	var covered float64
	for _, a := range axons {
		covered += math.Pi * a.Radius() * a.Radius()
	}
	return covered / area
}

func collide(a, b model.Axon, gap float64) bool {
	limit := (a.Diameter+b.Diameter)/2 + gap
	dy, dz := a.Y-b.Y, a.Z-b.Z
	return dy*dy+dz*dz < limit*limit
}

func keep(logger *slog.Logger, axons []model.Axon, removed []bool, msg string) ([]model.Axon, int) {
	kept := make([]model.Axon, 0, len(axons))
	count := 0
	for i, a := range axons {
		if removed[i] {
			count++
			continue
		}
		kept = append(kept, a)
	}
	if count > 0 {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn(msg, "count", count, "kept", len(kept))
	}
	return kept, count
}
