package fascicle

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"nervesim/internal/model"
	"nervesim/internal/packing"
	"nervesim/internal/population"
	"nervesim/internal/storage"
)

// GeometryRequest describes a fascicle to generate. A population request
// with neither Count nor Area fills the contour area. A nil GravityCenter
// uses the contour center; a nil Pack.Rand is seeded from Population.Seed.
type GeometryRequest struct {
	ID              string
	Contour         model.Contour
	GravityCenter   *model.Point
	AxonLength      float64
	Population      population.Request
	Pack            packing.PackOptions
	ElectrodeSites  []model.Point
	ElectrodeRadius float64
}

// GeometryBuilder draws, packs and cleans up an axon population inside a
// fascicle contour.
type GeometryBuilder struct {
	Logger    *slog.Logger
	Generator *population.Generator
}

func NewGeometryBuilder(logger *slog.Logger, generator *population.Generator) *GeometryBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeometryBuilder{Logger: logger, Generator: generator}
}

// Build returns a fascicle whose axons are pairwise non-overlapping, lie
// inside the contour and clear the electrode sites. Discarded axons are
// logged with a count; the remaining ones are renumbered from 0.
func (b *GeometryBuilder) Build(ctx context.Context, req GeometryRequest) (model.Fascicle, error) {
	if err := req.Contour.Validate(); err != nil {
		return model.Fascicle{}, err
	}
	if req.AxonLength <= 0 {
		return model.Fascicle{}, fmt.Errorf("axon length must be positive, got %g", req.AxonLength)
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	popReq := req.Population
	if popReq.Count <= 0 && popReq.Area <= 0 {
		popReq.Area = req.Contour.Area()
	}
	pop, err := b.Generator.Generate(ctx, popReq)
	if err != nil {
		return model.Fascicle{}, fmt.Errorf("generate population: %w", err)
	}

	center := req.Contour.Center
	if req.GravityCenter != nil {
		center = *req.GravityCenter
	}
	rng := rand.New(rand.NewPCG(popReq.Seed, popReq.Seed+1))
	opts := req.Pack
	opts.GravityCenter = center
	if opts.Rand == nil {
		opts.Rand = rng
	}
	ys, zs, err := packing.Pack(ctx, pop.Diameters, opts)
	if err != nil {
		return model.Fascicle{}, fmt.Errorf("pack axons: %w", err)
	}

	axons := population.BuildAxons(pop, req.AxonLength, rng)
	for i := range axons {
		axons[i].Y, axons[i].Z = ys[i], zs[i]
	}
	axons, _ = packing.RemoveCollision(logger, axons, 0)
	axons, _ = packing.RemoveOutliers(logger, axons, req.Contour)
	if len(req.ElectrodeSites) > 0 {
		axons, _ = packing.RemoveElectrodeOverlap(logger, axons, req.ElectrodeSites, req.ElectrodeRadius)
	}
	for i := range axons {
		axons[i].ID = i
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	fascicle := model.Fascicle{
		VersionedRecord: storage.CurrentVersion(),
		ID:              id,
		Contour:         req.Contour,
		GravityCenter:   center,
		TargetFVF:       popReq.FVF,
		AxonLength:      req.AxonLength,
		Axons:           axons,
	}
	logger.Info("fascicle geometry built",
		"fascicle", id,
		"axons", len(axons),
		"fvf", packing.FiberVolumeFraction(axons, req.Contour),
	)
	return fascicle, nil
}
