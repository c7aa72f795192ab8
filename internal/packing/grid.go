package packing

import "math"

type cellKey struct {
	col, row int
}

// spatialGrid buckets axon indices into square cells so that every pair
// closer than the cell size sits in the same or an adjacent cell.
type spatialGrid struct {
	cellSize float64
	cells    map[cellKey][]int
}

func newSpatialGrid(cellSize float64, capacity int) *spatialGrid {
	return &spatialGrid{
		cellSize: cellSize,
		cells:    make(map[cellKey][]int, capacity),
	}
}

// Reset drops every entry while keeping bucket capacity for the next iteration.
func (g *spatialGrid) Reset() {
	for k, bucket := range g.cells {
		g.cells[k] = bucket[:0]
	}
}

func (g *spatialGrid) key(y, z float64) cellKey {
	return cellKey{
		col: int(math.Floor(y / g.cellSize)),
		row: int(math.Floor(z / g.cellSize)),
	}
}

func (g *spatialGrid) Insert(idx int, y, z float64) {
	k := g.key(y, z)
	g.cells[k] = append(g.cells[k], idx)
}

// NeighborsInto appends the indices stored in the 3x3 block of cells around
// (y, z) to dst and returns it. Callers filter by exact distance.
func (g *spatialGrid) NeighborsInto(dst []int, y, z float64) []int {
	center := g.key(y, z)
	for dc := -1; dc <= 1; dc++ {
		for dr := -1; dr <= 1; dr++ {
			dst = append(dst, g.cells[cellKey{col: center.col + dc, row: center.row + dr}]...)
		}
	}
	return dst
}
