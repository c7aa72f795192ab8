package population

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"nervesim/internal/model"
)

const DefaultProgressEvery = 500

var ErrInvalidRequest = errors.New("invalid population request")

// Request selects one of two modes: a fixed Count, or filling Area (µm²)
// until the drawn cross-sections divided by FVF cover it.
type Request struct {
	Count               int
	Area                float64
	FVF                 float64
	PercentUnmyelinated float64
	MyelinatedProfile   string
	UnmyelinatedProfile string
	Seed                uint64
	ProgressEvery       int
	Progress            func(Progress)
}

type Progress struct {
	Drawn   int
	Covered float64
	Target  float64
}

func (r Request) validate() error {
	switch {
	case r.Count > 0 && r.Area > 0:
		return fmt.Errorf("%w: count and area are mutually exclusive", ErrInvalidRequest)
	case r.Count <= 0 && r.Area <= 0:
		return fmt.Errorf("%w: either count or area must be positive", ErrInvalidRequest)
	case r.Area > 0 && (r.FVF <= 0 || r.FVF > 1):
		return fmt.Errorf("%w: fiber volume fraction %g outside (0, 1]", ErrInvalidRequest, r.FVF)
	case r.PercentUnmyelinated < 0 || r.PercentUnmyelinated > 1:
		return fmt.Errorf("%w: unmyelinated share %g outside [0, 1]", ErrInvalidRequest, r.PercentUnmyelinated)
	}
	return nil
}

// Population holds parallel diameter and fiber-type slices.
type Population struct {
	Diameters  []float64
	Myelinated []bool
}

func (p Population) Len() int {
	return len(p.Diameters)
}

func (p Population) UnmyelinatedCount() int {
	n := 0
	for _, m := range p.Myelinated {
		if !m {
			n++
		}
	}
	return n
}

// CrossSection is the summed axon cross-section area in µm².
func (p Population) CrossSection() float64 {
	var area float64
	for _, d := range p.Diameters {
		area += math.Pi * d * d / 4
	}
	return area
}

type Generator struct {
	fitter *Fitter
	logger *slog.Logger
}

func NewGenerator(logger *slog.Logger, fitter *Fitter) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if fitter == nil {
		fitter = NewFitter(logger, nil)
	}
	return &Generator{fitter: fitter, logger: logger}
}

func (g *Generator) Fitter() *Fitter {
	return g.fitter
}

// Generate draws a population and shuffles types and diameters together.
func (g *Generator) Generate(ctx context.Context, req Request) (Population, error) {
	if err := req.validate(); err != nil {
		return Population{}, err
	}
	var myel, unmyel Distribution
	var err error
	if req.PercentUnmyelinated < 1 {
		if myel, err = g.fitter.Distribution(req.MyelinatedProfile); err != nil {
			return Population{}, err
		}
	}
	if req.PercentUnmyelinated > 0 {
		if unmyel, err = g.fitter.Distribution(req.UnmyelinatedProfile); err != nil {
			return Population{}, err
		}
	}
	rng := rand.New(rand.NewPCG(req.Seed, req.Seed^0x9e3779b97f4a7c15))

	var pop Population
	if req.Count > 0 {
		pop, err = g.byCount(ctx, req, rng, myel, unmyel)
	} else {
		pop, err = g.byArea(ctx, req, rng, myel, unmyel)
	}
	if err != nil {
		return Population{}, err
	}

	rng.Shuffle(pop.Len(), func(i, j int) {
		pop.Diameters[i], pop.Diameters[j] = pop.Diameters[j], pop.Diameters[i]
		pop.Myelinated[i], pop.Myelinated[j] = pop.Myelinated[j], pop.Myelinated[i]
	})
	g.logger.Info("generated axon population",
		"axons", pop.Len(),
		"unmyelinated", pop.UnmyelinatedCount(),
		"myelinated_profile", req.MyelinatedProfile,
		"unmyelinated_profile", req.UnmyelinatedProfile,
	)
	return pop, nil
}

func (g *Generator) byCount(ctx context.Context, req Request, rng *rand.Rand, myel, unmyel Distribution) (Population, error) {
	nUnmyel := int(math.Round(float64(req.Count) * req.PercentUnmyelinated))
	pop := Population{
		Diameters:  make([]float64, 0, req.Count),
		Myelinated: make([]bool, 0, req.Count),
	}
	for i := 0; i < req.Count; i++ {
		if i%DefaultProgressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return Population{}, err
			}
		}
		if i < nUnmyel {
			pop.Diameters = append(pop.Diameters, unmyel.Draw(rng))
			pop.Myelinated = append(pop.Myelinated, false)
			continue
		}
		pop.Diameters = append(pop.Diameters, myel.Draw(rng))
		pop.Myelinated = append(pop.Myelinated, true)
	}
	return pop, nil
}

// byArea keeps drawing until the covered area reaches the target. The loop is
// bounded by the area only, so progress is reported every ProgressEvery draws.
func (g *Generator) byArea(ctx context.Context, req Request, rng *rand.Rand, myel, unmyel Distribution) (Population, error) {
	every := req.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	var pop Population
	covered := 0.0
	for covered < req.Area {
		if err := ctx.Err(); err != nil {
			return Population{}, err
		}
		var d float64
		myelinated := rng.Float64() >= req.PercentUnmyelinated
		if myelinated {
			d = myel.Draw(rng)
		} else {
			d = unmyel.Draw(rng)
		}
		pop.Diameters = append(pop.Diameters, d)
		pop.Myelinated = append(pop.Myelinated, myelinated)
		covered += math.Pi * d * d / 4 / req.FVF

		if n := pop.Len(); n%every == 0 {
			progress := Progress{Drawn: n, Covered: covered, Target: req.Area}
			g.logger.Debug("population fill progress", "drawn", n, "covered", covered, "target", req.Area)
			if req.Progress != nil {
				req.Progress(progress)
			}
		}
	}
	return pop, nil
}

// BuildAxons turns a population into axon descriptors with sequential IDs,
// a common length and a random node-of-Ranvier phase in [0, 1).
func BuildAxons(pop Population, length float64, rng *rand.Rand) []model.Axon {
	axons := make([]model.Axon, pop.Len())
	for i := range axons {
		axons[i] = model.Axon{
			ID:         i,
			Diameter:   pop.Diameters[i],
			Myelinated: pop.Myelinated[i],
			Length:     length,
			NodeShift:  rng.Float64(),
		}
	}
	return axons
}
