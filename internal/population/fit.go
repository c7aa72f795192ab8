package population

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"
)

// Fixed location offsets of the fitted Gamma lobes, in µm.
const (
	UnmyelinatedLoc     = 0.2
	MyelinatedFirstLoc  = 2.0
	DiameterCutoffLevel = 0.99
)

const (
	fitEvaluations = 20000
	quantileTol    = 1e-9
)

// Lobe is one shifted Gamma component: Loc + Gamma(Shape, Scale).
type Lobe struct {
	Weight float64 `json:"weight"`
	Shape  float64 `json:"shape"`
	Scale  float64 `json:"scale"`
	Loc    float64 `json:"loc"`
}

func (l Lobe) gamma(src rand.Source) distuv.Gamma {
	return distuv.Gamma{Alpha: l.Shape, Beta: 1 / l.Scale, Src: src}
}

func (l Lobe) prob(x float64) float64 {
	if x <= l.Loc {
		return 0
	}
	return l.gamma(nil).Prob(x - l.Loc)
}

func (l Lobe) cdf(x float64) float64 {
	if x <= l.Loc {
		return 0
	}
	return l.gamma(nil).CDF(x - l.Loc)
}

// Distribution is a fitted Gamma mixture for one profile.
type Distribution struct {
	Profile    string  `json:"profile"`
	Myelinated bool    `json:"myelinated"`
	Lobes      []Lobe  `json:"lobes"`
	Residual   float64 `json:"residual"`
	// Cutoff is the DiameterCutoffLevel quantile; larger draws are resampled.
	Cutoff float64 `json:"cutoff"`
}

func (d Distribution) Prob(x float64) float64 {
	var p float64
	for _, l := range d.Lobes {
		p += l.Weight * l.prob(x)
	}
	return p
}

func (d Distribution) CDF(x float64) float64 {
	var c float64
	for _, l := range d.Lobes {
		c += l.Weight * l.cdf(x)
	}
	return c
}

// Quantile inverts CDF by bisection.
func (d Distribution) Quantile(p float64) float64 {
	lo := math.Inf(1)
	for _, l := range d.Lobes {
		lo = math.Min(lo, l.Loc)
	}
	hi := lo + 1
	for d.CDF(hi) < p && hi < 1e6 {
		hi = lo + 2*(hi-lo)
	}
	for hi-lo > quantileTol {
		mid := (lo + hi) / 2
		if d.CDF(mid) < p {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// Draw samples one diameter, resampling anything above Cutoff.
func (d Distribution) Draw(rng *rand.Rand) float64 {
	for {
		x := d.drawOnce(rng)
		if d.Cutoff <= 0 || x <= d.Cutoff {
			return x
		}
	}
}

func (d Distribution) drawOnce(rng *rand.Rand) float64 {
	lobe := d.Lobes[len(d.Lobes)-1]
	u := rng.Float64()
	var acc float64
	for _, l := range d.Lobes {
		acc += l.Weight
		if u < acc {
			lobe = l
			break
		}
	}
	return lobe.Loc + lobe.gamma(rng).Rand()
}

// bound maps an unconstrained optimizer coordinate onto [lo, hi].
type bound struct {
	lo, hi float64
}

func (b bound) forward(u float64) float64 {
	return b.lo + (b.hi-b.lo)/(1+math.Exp(-u))
}

func (b bound) inverse(v float64) float64 {
	margin := (b.hi - b.lo) * 1e-3
	v = math.Max(b.lo+margin, math.Min(b.hi-margin, v))
	return math.Log((v - b.lo) / (b.hi - v))
}

var (
	shapeBound  = bound{lo: 1, hi: 60}
	scaleBound  = bound{lo: 0.01, hi: 5}
	weightBound = bound{lo: 0.05, hi: 0.95}
	locBound    = bound{lo: MyelinatedFirstLoc, hi: 15}
)

// Fit runs a bounded least-squares fit of the profile histogram: a single
// Gamma at UnmyelinatedLoc, or two lobes with the first at MyelinatedFirstLoc.
func Fit(logger *slog.Logger, p Profile) (Distribution, error) {
	if len(p.Bins) == 0 {
		return Distribution{}, fmt.Errorf("profile %s has no bins", p.Name)
	}
	var (
		bounds []bound
		starts [][]float64
		build  func(x []float64) []Lobe
	)
	if p.Myelinated {
		// w, k1, θ1, k2, θ2, loc2
		bounds = []bound{weightBound, shapeBound, scaleBound, shapeBound, scaleBound, locBound}
		for _, loc2 := range []float64{3, 4, 5} {
			starts = append(starts, []float64{0.5, 3, 0.7, 10, 0.5, loc2})
		}
		build = func(x []float64) []Lobe {
			return []Lobe{
				{Weight: x[0], Shape: x[1], Scale: x[2], Loc: MyelinatedFirstLoc},
				{Weight: 1 - x[0], Shape: x[3], Scale: x[4], Loc: x[5]},
			}
		}
	} else {
		bounds = []bound{shapeBound, scaleBound}
		m := p.Mean() - UnmyelinatedLoc
		v := p.variance()
		start := []float64{2, 0.3}
		if m > 0 && v > 0 {
			start = []float64{m * m / v, v / m}
		}
		starts = [][]float64{start}
		build = func(x []float64) []Lobe {
			return []Lobe{{Weight: 1, Shape: x[0], Scale: x[1], Loc: UnmyelinatedLoc}}
		}
	}

	decode := func(u []float64) []float64 {
		x := make([]float64, len(u))
		for i, b := range bounds {
			x[i] = b.forward(u[i])
		}
		return x
	}
	residual := func(lobes []Lobe) float64 {
		d := Distribution{Lobes: lobes}
		var sum float64
		for i, x := range p.Bins {
			r := d.Prob(x) - p.Density[i]
			sum += r * r
		}
		return sum
	}

	best := math.Inf(1)
	var bestX []float64
	problem := optimize.Problem{
		Func: func(u []float64) float64 {
			x := decode(u)
			f := residual(build(x))
			if math.IsNaN(f) {
				return math.Inf(1)
			}
			if f < best {
				best = f
				bestX = x
			}
			return f
		},
	}
	for _, start := range starts {
		u0 := make([]float64, len(start))
		for i, b := range bounds {
			u0[i] = b.inverse(start[i])
		}
		_, err := optimize.Minimize(problem, u0, &optimize.Settings{FuncEvaluations: fitEvaluations}, &optimize.NelderMead{})
		if err != nil && logger != nil {
			logger.Debug("profile fit ended", "profile", p.Name, "error", err)
		}
	}
	if bestX == nil || math.IsInf(best, 1) {
		return Distribution{}, fmt.Errorf("fit %s: no finite residual", p.Name)
	}

	d := Distribution{
		Profile:    p.Name,
		Myelinated: p.Myelinated,
		Lobes:      build(bestX),
		Residual:   best,
	}
	d.Cutoff = d.Quantile(DiameterCutoffLevel)
	return d, nil
}

// Fitter memoises profile fits.
type Fitter struct {
	profiles map[string]Profile
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]Distribution
}

func NewFitter(logger *slog.Logger, profiles map[string]Profile) *Fitter {
	if logger == nil {
		logger = slog.Default()
	}
	if profiles == nil {
		profiles = BundledProfiles()
	}
	return &Fitter{
		profiles: profiles,
		logger:   logger,
		cache:    make(map[string]Distribution),
	}
}

func (f *Fitter) Profiles() map[string]Profile {
	return f.profiles
}

// Distribution returns the fit for name, computing it on first use.
func (f *Fitter) Distribution(name string) (Distribution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.cache[name]; ok {
		return d, nil
	}
	p, ok := f.profiles[name]
	if !ok {
		return Distribution{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	d, err := Fit(f.logger, p)
	if err != nil {
		return Distribution{}, err
	}
	f.logger.Debug("fitted diameter profile", "profile", name, "lobes", len(d.Lobes), "residual", d.Residual, "cutoff", d.Cutoff)
	f.cache[name] = d
	return d, nil
}
