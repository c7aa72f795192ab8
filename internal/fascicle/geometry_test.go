package fascicle

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"

	"nervesim/internal/model"
	"nervesim/internal/packing"
	"nervesim/internal/population"
)

func newTestBuilder() *GeometryBuilder {
	logger := quietLogger()
	fitter := population.NewFitter(logger, population.BundledProfiles())
	return NewGeometryBuilder(logger, population.NewGenerator(logger, fitter))
}

func TestGeometryBuilderProducesValidFascicle(t *testing.T) {
	pack := packing.DefaultPackOptions()
	pack.MaxIterations = 3000
	req := GeometryRequest{
		Contour:    model.CircleContour(160, model.Point{Y: 10, Z: -5}),
		AxonLength: 10000,
		Population: population.Request{
			Count:               60,
			PercentUnmyelinated: 0.5,
			MyelinatedProfile:   "Schellens_1",
			UnmyelinatedProfile: "Ochoa_U",
			Seed:                7,
		},
		Pack:            pack,
		ElectrodeSites:  []model.Point{{Y: 10, Z: -5}},
		ElectrodeRadius: 5,
	}
	fascicle, err := newTestBuilder().Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := uuid.Parse(fascicle.ID); err != nil {
		t.Fatalf("expected a UUID fascicle id, got %q: %v", fascicle.ID, err)
	}
	if len(fascicle.Axons) == 0 || len(fascicle.Axons) > 60 {
		t.Fatalf("unexpected axon count %d", len(fascicle.Axons))
	}
	for i, a := range fascicle.Axons {
		if a.ID != i {
			t.Fatalf("expected sequential ids, axon %d has id %d", i, a.ID)
		}
		if a.Length != 10000 || a.NodeShift < 0 || a.NodeShift >= 1 {
			t.Fatalf("unexpected axon descriptor %+v", a)
		}
		if !req.Contour.ContainsCircle(a.Y, a.Z, a.Radius()) {
			t.Fatalf("axon %d at (%v, %v) leaves the contour", a.ID, a.Y, a.Z)
		}
		if math.Hypot(a.Y-10, a.Z+5) < a.Radius()+5 {
			t.Fatalf("axon %d overlaps the electrode site", a.ID)
		}
		for _, b := range fascicle.Axons[i+1:] {
			if math.Hypot(a.Y-b.Y, a.Z-b.Z) < a.Radius()+b.Radius()-1e-9 {
				t.Fatalf("axons %d and %d overlap", a.ID, b.ID)
			}
		}
	}
	if fascicle.GravityCenter != req.Contour.Center {
		t.Fatalf("expected the contour center as gravity center, got %+v", fascicle.GravityCenter)
	}
}

func TestGeometryBuilderIsDeterministic(t *testing.T) {
	pack := packing.DefaultPackOptions()
	pack.MaxIterations = 500
	req := GeometryRequest{
		ID:         "fixed",
		Contour:    model.CircleContour(120, model.Point{}),
		AxonLength: 5000,
		Population: population.Request{Count: 30, PercentUnmyelinated: 1, UnmyelinatedProfile: "Ochoa_U", Seed: 3},
		Pack:       pack,
	}
	builder := newTestBuilder()
	a, err := builder.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := builder.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.ID != "fixed" || len(a.Axons) != len(b.Axons) {
		t.Fatalf("expected identical geometries, got %d and %d axons", len(a.Axons), len(b.Axons))
	}
	for i := range a.Axons {
		if a.Axons[i] != b.Axons[i] {
			t.Fatalf("axon %d differs: %+v vs %+v", i, a.Axons[i], b.Axons[i])
		}
	}
}

func TestGeometryBuilderRejectsInvalidRequests(t *testing.T) {
	builder := newTestBuilder()
	if _, err := builder.Build(context.Background(), GeometryRequest{Contour: model.Contour{Kind: "ellipse"}, AxonLength: 1}); err == nil {
		t.Fatal("expected an invalid contour error")
	}
	if _, err := builder.Build(context.Background(), GeometryRequest{Contour: model.CircleContour(100, model.Point{})}); err == nil {
		t.Fatal("expected an axon length error")
	}
}
