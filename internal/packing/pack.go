// Package packing places axon cross-sections inside a fascicle with a
// repulsion/attraction relaxation and prunes the residual inconsistencies.
package packing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"nervesim/internal/model"
)

const (
	attractionEpsilon = 1e-9
	// parallelThreshold is the axon count below which a single goroutine is faster.
	parallelThreshold = 256
	cancelCheckEvery  = 256
)

var ErrInvalidPackOptions = errors.New("invalid pack options")

type PackOptions struct {
	GravityCenter   model.Point
	MinGap          float64
	MaxIterations   int
	AttractionSpeed float64
	RepulsionSpeed  float64
	// Workers bounds the goroutines used per iteration; <= 0 uses GOMAXPROCS.
	Workers int
	// Rand picks which grid cells stay empty. Nil uses a fixed seed.
	Rand *rand.Rand
}

// DefaultPackOptions mirrors the usual relaxation settings for fascicles of
// a few hundred to a few thousand axons.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		MinGap:          0.5,
		MaxIterations:   20000,
		AttractionSpeed: 0.01,
		RepulsionSpeed:  0.001,
	}
}

func (o PackOptions) validate() error {
	if o.MinGap < 0 {
		return fmt.Errorf("%w: negative min gap %g", ErrInvalidPackOptions, o.MinGap)
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("%w: negative iteration budget %d", ErrInvalidPackOptions, o.MaxIterations)
	}
	if o.AttractionSpeed < 0 || o.RepulsionSpeed < 0 {
		return fmt.Errorf("%w: speeds must be non-negative", ErrInvalidPackOptions)
	}
	return nil
}

// Pack relaxes len(diameters) discs for exactly MaxIterations steps and
// returns their centers. The diameter-weighted barycenter of the result is
// the gravity center. Overlaps may remain; see RemoveCollision.
func Pack(ctx context.Context, diameters []float64, opts PackOptions) ([]float64, []float64, error) {
	if err := opts.validate(); err != nil {
		return nil, nil, err
	}
	n := len(diameters)
	if n == 0 {
		return nil, nil, nil
	}
	for i, d := range diameters {
		if d <= 0 {
			return nil, nil, fmt.Errorf("%w: diameter[%d]=%g", ErrInvalidPackOptions, i, d)
		}
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(0, 0))
	}

	ys, zs := initialGrid(diameters, opts.GravityCenter, opts.MinGap, rng)

	maxD := 0.0
	for _, d := range diameters {
		maxD = math.Max(maxD, d)
	}
	p := &relaxation{
		diameters: diameters,
		ys:        ys,
		zs:        zs,
		vy:        make([]float64, n),
		vz:        make([]float64, n),
		opts:      opts,
		grid:      newSpatialGrid(maxD+opts.MinGap, n),
		workers:   workerCount(opts.Workers, n),
	}
	for it := 0; it < opts.MaxIterations; it++ {
		if it%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		p.step()
	}

	recenter(diameters, ys, zs, opts.GravityCenter)
	return ys, zs, nil
}

func workerCount(requested, n int) int {
	if n < parallelThreshold {
		return 1
	}
	if requested <= 0 {
		requested = runtime.GOMAXPROCS(0)
	}
	return max(1, min(requested, n))
}

// initialGrid lays the axons on a ceil(sqrt(n)) square grid centered on the
// gravity center and leaves the surplus cells empty at random.
func initialGrid(diameters []float64, center model.Point, gap float64, rng *rand.Rand) ([]float64, []float64) {
	n := len(diameters)
	side := int(math.Ceil(math.Sqrt(float64(n))))
	pitch := 0.0
	for _, d := range diameters {
		pitch = math.Max(pitch, d)
	}
	pitch += gap

	cells := side * side
	dropped := make([]bool, cells)
	for _, c := range rng.Perm(cells)[:cells-n] {
		dropped[c] = true
	}

	half := float64(side-1) / 2
	ys := make([]float64, 0, n)
	zs := make([]float64, 0, n)
	for c := 0; c < cells; c++ {
		if dropped[c] {
			continue
		}
		col, row := c%side, c/side
		ys = append(ys, center.Y+(float64(col)-half)*pitch)
		zs = append(zs, center.Z+(float64(row)-half)*pitch)
	}
	return ys, zs
}

func recenter(diameters, ys, zs []float64, center model.Point) {
	var wy, wz, total float64
	for i, d := range diameters {
		wy += d * ys[i]
		wz += d * zs[i]
		total += d
	}
	if total == 0 {
		return
	}
	dy := center.Y - wy/total
	dz := center.Z - wz/total
	for i := range ys {
		ys[i] += dy
		zs[i] += dz
	}
}

type relaxation struct {
	diameters []float64
	ys, zs    []float64
	vy, vz    []float64
	opts      PackOptions
	grid      *spatialGrid
	workers   int
}

// step computes every velocity from the current positions, then moves all
// axons by one unit step.
func (p *relaxation) step() {
	p.grid.Reset()
	for i := range p.ys {
		p.grid.Insert(i, p.ys[i], p.zs[i])
	}

	n := len(p.ys)
	if p.workers <= 1 {
		p.velocities(0, n, nil)
	} else {
		chunk := (n + p.workers - 1) / p.workers
		var wg sync.WaitGroup
		for start := 0; start < n; start += chunk {
			end := min(start+chunk, n)
			wg.Add(1)
			go func(start, end int) {
				defer wg.Done()
				p.velocities(start, end, nil)
			}(start, end)
		}
		wg.Wait()
	}

	for i := range p.ys {
		p.ys[i] += p.vy[i]
		p.zs[i] += p.vz[i]
	}
}

func (p *relaxation) velocities(start, end int, scratch []int) {
	gc := p.opts.GravityCenter
	for i := start; i < end; i++ {
		yi, zi := p.ys[i], p.zs[i]
		var vy, vz float64

		scratch = p.grid.NeighborsInto(scratch[:0], yi, zi)
		for _, j := range scratch {
			if j == i {
				continue
			}
			dy, dz := yi-p.ys[j], zi-p.zs[j]
			limit := (p.diameters[i]+p.diameters[j])/2 + p.opts.MinGap
			if dy*dy+dz*dz < limit*limit {
				vy += p.opts.RepulsionSpeed * dy
				vz += p.opts.RepulsionSpeed * dz
			}
		}

		ay, az := gc.Y-yi, gc.Z-zi
		norm := math.Hypot(ay, az) + attractionEpsilon
		vy += p.opts.AttractionSpeed * ay / norm
		vz += p.opts.AttractionSpeed * az / norm

		p.vy[i] = vy
		p.vz[i] = vz
	}
}
