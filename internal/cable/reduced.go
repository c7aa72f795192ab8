package cable

import (
	"context"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"nervesim/internal/field"
	"nervesim/internal/model"
)

// FitzHugh–Nagumo kinetics in dimensionless units, with the time constant
// mapping model time onto ms.
const (
	fhnEpsilon = 0.08
	fhnA       = 0.7
	fhnB       = 0.8
	fhnTau     = 0.05

	axialCoupling = 1.0

	// Vm = restingOffset + mvPerUnit*(v + unitOffset)
	restingOffset = -70.0
	mvPerUnit     = 30.0
	unitOffset    = 1.2

	internodeFactor   = 100.0
	unmyelinatedPitch = 25.0
	// Without RecordAll only every sparseStride-th unmyelinated compartment is kept.
	sparseStride = 4

	cancelCheckEvery = 1000
)

// Reduced is the reference excitable-cable oracle: one FitzHugh–Nagumo
// compartment per node of Ranvier (spaced 100·d, shifted by the node phase)
// or per 25 µm of unmyelinated membrane, coupled axially and driven by the
// activating function of the extracellular potential.
type Reduced struct {
	Logger *slog.Logger
}

func NewReduced(logger *slog.Logger) *Reduced {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reduced{Logger: logger}
}

// Compartments returns the axial positions (µm) of the simulated compartments.
func Compartments(a model.Axon) []float64 {
	var xs []float64
	if a.Myelinated {
		pitch := internodeFactor * a.Diameter
		for x := a.NodeShift * pitch; x <= a.Length; x += pitch {
			xs = append(xs, x)
		}
	} else {
		for x := unmyelinatedPitch / 2; x <= a.Length; x += unmyelinatedPitch {
			xs = append(xs, x)
		}
	}
	if len(xs) < 2 {
		xs = []float64{0, a.Length}
	}
	return xs
}

// restingState solves the FitzHugh–Nagumo fixed point by Newton iteration.
func restingState() (v, w float64) {
	v = -1.2
	for i := 0; i < 50; i++ {
		f := v - v*v*v/3 - (v+fhnA)/fhnB
		df := 1 - v*v - 1/fhnB
		v -= f / df
	}
	return v, (v + fhnA) / fhnB
}

func toMillivolts(v float64) float64 {
	return restingOffset + mvPerUnit*(v+unitOffset)
}

func (r *Reduced) Simulate(ctx context.Context, req Request) (model.SimulationRecord, error) {
	if err := req.validate(); err != nil {
		return model.SimulationRecord{}, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if req.Dt < MinCalibratedDt || req.Dt > MaxCalibratedDt {
		logger.Warn("time step outside calibrated range, results are extrapolated",
			"axon", req.Axon.ID, "dt", req.Dt, "min", MinCalibratedDt, "max", MaxCalibratedDt)
	}

	xs := Compartments(req.Axon)
	n := len(xs)

	var footprints map[string][]float64
	if req.Stim != nil && req.Stim.Len() > 0 {
		points := make([]field.Point3, n)
		for i, x := range xs {
			points[i] = field.Point3{X: x, Y: req.Axon.Y, Z: req.Axon.Z}
		}
		var err error
		if footprints, err = req.Resolver.Footprints(ctx, req.Axon.ID, points); err != nil {
			return model.SimulationRecord{}, err
		}
	}

	clamps := make([]int, len(req.Intra))
	for i, s := range req.Intra {
		clamps[i] = nearest(xs, s.Position)
	}

	recorded := make([]int, 0, n)
	for i := range xs {
		if req.RecordAll || req.Axon.Myelinated || i%sparseStride == 0 || i == n-1 {
			recorded = append(recorded, i)
		}
	}

	steps := int(math.Round(req.TSim / req.Dt))
	rec := model.SimulationRecord{
		AxonID:     req.Axon.ID,
		Diameter:   req.Axon.Diameter,
		Myelinated: req.Axon.Myelinated,
		Length:     req.Axon.Length,
		Dt:         req.Dt,
		T:          make([]float64, steps+1),
		X:          make([]float64, len(recorded)),
		V:          make([][]float64, len(recorded)),
	}
	for k, i := range recorded {
		rec.X[k] = xs[i]
		rec.V[k] = make([]float64, steps+1)
	}
	if req.Axon.Myelinated {
		rec.NodeX = append([]float64(nil), xs...)
	}

	v0, w0 := restingState()
	v := make([]float64, n)
	w := make([]float64, n)
	for i := range v {
		v[i], w[i] = v0, w0
	}
	ve := make([]float64, n)
	drive := make([]float64, n)
	dv := make([]float64, n)
	h := req.Dt / fhnTau

	record := func(step int) {
		rec.T[step] = float64(step) * req.Dt
		for k, i := range recorded {
			rec.V[k][step] = toMillivolts(v[i])
		}
	}
	record(0)

	for step := 1; step <= steps; step++ {
		if step%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return model.SimulationRecord{}, err
			}
		}
		t := float64(step-1) * req.Dt

		for i := range drive {
			drive[i] = 0
		}
		if footprints != nil {
			for i := range ve {
				ve[i] = 0
			}
			for _, e := range req.Stim.Entries() {
				if amp := e.Stimulus.Value(t); amp != 0 {
					floats.AddScaled(ve, amp, footprints[e.Electrode.Label()])
				}
			}
			activatingFunction(ve, drive)
		}
		for c, s := range req.Intra {
			if s.active(t) {
				drive[clamps[c]] += s.Amplitude
			}
		}

		for i := 0; i < n; i++ {
			left, right := v[max(i-1, 0)], v[min(i+1, n-1)]
			axial := axialCoupling * (left - 2*v[i] + right)
			dv[i] = v[i] - v[i]*v[i]*v[i]/3 - w[i] + axial + drive[i]
		}
		for i := 0; i < n; i++ {
			w[i] += h * fhnEpsilon * (v[i] + fhnA - fhnB*w[i])
			v[i] += h * dv[i]
		}
		record(step)
	}
	return rec, nil
}

// activatingFunction writes the second spatial difference of ve, in model
// units, into drive. Ends are sealed.
func activatingFunction(ve, drive []float64) {
	n := len(ve)
	for i := 0; i < n; i++ {
		left, right := ve[max(i-1, 0)], ve[min(i+1, n-1)]
		drive[i] += axialCoupling * (left - 2*ve[i] + right) / mvPerUnit
	}
}

func nearest(xs []float64, x float64) int {
	best, idx := math.Inf(1), 0
	for i, xi := range xs {
		if d := math.Abs(xi - x); d < best {
			best, idx = d, i
		}
	}
	return idx
}
