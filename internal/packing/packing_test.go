package packing

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"

	"nervesim/internal/model"
)

func randomDiameters(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, 7))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 + rng.Float64()*9.5
	}
	return out
}

func toAxons(diameters, ys, zs []float64) []model.Axon {
	axons := make([]model.Axon, len(diameters))
	for i := range diameters {
		axons[i] = model.Axon{ID: i, Diameter: diameters[i], Y: ys[i], Z: zs[i]}
	}
	return axons
}

func barycenter(diameters, ys, zs []float64) (float64, float64) {
	var wy, wz, total float64
	for i, d := range diameters {
		wy += d * ys[i]
		wz += d * zs[i]
		total += d
	}
	return wy / total, wz / total
}

func TestPackTwoAxons(t *testing.T) {
	diameters := []float64{10, 10}
	ys, zs, err := Pack(context.Background(), diameters, PackOptions{
		MinGap:          0.5,
		MaxIterations:   5000,
		AttractionSpeed: 0.001,
		RepulsionSpeed:  0.001,
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	dist := math.Hypot(ys[0]-ys[1], zs[0]-zs[1])
	if math.Abs(dist-10.5) > 0.1 {
		t.Fatalf("expected center distance near 10.5, got %v", dist)
	}
	by, bz := barycenter(diameters, ys, zs)
	if math.Abs(by) > 1e-9 || math.Abs(bz) > 1e-9 {
		t.Fatalf("expected barycenter at origin, got (%v, %v)", by, bz)
	}
}

func TestPackBarycenterMatchesGravityCenter(t *testing.T) {
	diameters := randomDiameters(60, 3)
	center := model.Point{Y: 120, Z: -45}
	ys, zs, err := Pack(context.Background(), diameters, PackOptions{
		GravityCenter:   center,
		MinGap:          0.5,
		MaxIterations:   300,
		AttractionSpeed: 0.01,
		RepulsionSpeed:  0.001,
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(ys) != len(diameters) || len(zs) != len(diameters) {
		t.Fatalf("expected %d positions, got %d/%d", len(diameters), len(ys), len(zs))
	}
	by, bz := barycenter(diameters, ys, zs)
	if math.Abs(by-center.Y) > 1e-6 || math.Abs(bz-center.Z) > 1e-6 {
		t.Fatalf("expected barycenter %+v, got (%v, %v)", center, by, bz)
	}
}

func TestPackParallelMatchesSequential(t *testing.T) {
	diameters := randomDiameters(parallelThreshold+50, 11)
	base := PackOptions{MinGap: 0.2, MaxIterations: 25, AttractionSpeed: 0.05, RepulsionSpeed: 0.002}

	seq := base
	seq.Workers = 1
	seq.Rand = rand.New(rand.NewPCG(5, 5))
	par := base
	par.Workers = 4
	par.Rand = rand.New(rand.NewPCG(5, 5))

	ys1, zs1, err := Pack(context.Background(), diameters, seq)
	if err != nil {
		t.Fatalf("sequential pack: %v", err)
	}
	ys2, zs2, err := Pack(context.Background(), diameters, par)
	if err != nil {
		t.Fatalf("parallel pack: %v", err)
	}
	if !reflect.DeepEqual(ys1, ys2) || !reflect.DeepEqual(zs1, zs2) {
		t.Fatal("expected identical layouts regardless of worker count")
	}
}

func TestPackRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name      string
		diameters []float64
		opts      PackOptions
	}{
		{name: "negative gap", diameters: []float64{1}, opts: PackOptions{MinGap: -1}},
		{name: "negative speed", diameters: []float64{1}, opts: PackOptions{AttractionSpeed: -1}},
		{name: "zero diameter", diameters: []float64{1, 0}, opts: PackOptions{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := Pack(context.Background(), tc.diameters, tc.opts); !errors.Is(err, ErrInvalidPackOptions) {
				t.Fatalf("expected ErrInvalidPackOptions, got %v", err)
			}
		})
	}
}

func TestPackHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Pack(ctx, randomDiameters(10, 1), PackOptions{MaxIterations: 1000})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRemoveCollisionLeavesNoOverlap(t *testing.T) {
	diameters := randomDiameters(200, 21)
	ys, zs, err := Pack(context.Background(), diameters, PackOptions{
		MinGap:          0,
		MaxIterations:   400,
		AttractionSpeed: 0.5,
		RepulsionSpeed:  0.001,
	})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	kept, removed := RemoveCollision(nil, toAxons(diameters, ys, zs), 0)
	if len(kept)+removed != len(diameters) {
		t.Fatalf("kept %d + removed %d != %d", len(kept), removed, len(diameters))
	}
	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			dist := math.Hypot(kept[i].Y-kept[j].Y, kept[i].Z-kept[j].Z)
			if dist < (kept[i].Diameter+kept[j].Diameter)/2-1e-9 {
				t.Fatalf("axons %d and %d still overlap: dist=%v", kept[i].ID, kept[j].ID, dist)
			}
		}
	}
}

func TestRemoveCollisionDiscardsThinner(t *testing.T) {
	axons := []model.Axon{
		{ID: 0, Diameter: 4, Y: 0},
		{ID: 1, Diameter: 8, Y: 3},
		{ID: 2, Diameter: 6, Y: 50},
		{ID: 3, Diameter: 6, Y: 53},
	}
	kept, removed := RemoveCollision(nil, axons, 0)
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	var ids []int
	for _, a := range kept {
		ids = append(ids, a.ID)
	}
	if !reflect.DeepEqual(ids, []int{1, 2}) {
		t.Fatalf("expected thinner axon and later tie removed, kept %v", ids)
	}
	if axons[0].ID != 0 || len(axons) != 4 {
		t.Fatal("input slice must not be modified")
	}
}

func TestRemoveOutliers(t *testing.T) {
	contour := model.CircleContour(100, model.Point{Y: 10, Z: 10})
	axons := []model.Axon{
		{ID: 0, Diameter: 10, Y: 10, Z: 10},
		{ID: 1, Diameter: 10, Y: 10 + 44, Z: 10},
		{ID: 2, Diameter: 10, Y: 10 + 46, Z: 10},
		{ID: 3, Diameter: 2, Y: 200, Z: 0},
	}
	kept, removed := RemoveOutliers(nil, axons, contour)
	if removed != 2 {
		t.Fatalf("expected 2 outliers, got %d", removed)
	}
	for _, a := range kept {
		if math.Hypot(a.Y-10, a.Z-10)+a.Radius() > 50 {
			t.Fatalf("axon %d not contained", a.ID)
		}
	}
}

func TestRemoveOutliersPolygon(t *testing.T) {
	square := model.PolygonContour([]model.Point{{Y: 0, Z: 0}, {Y: 20, Z: 0}, {Y: 20, Z: 20}, {Y: 0, Z: 20}})
	axons := []model.Axon{
		{ID: 0, Diameter: 4, Y: 10, Z: 10},
		{ID: 1, Diameter: 4, Y: 1, Z: 10},
		{ID: 2, Diameter: 4, Y: 30, Z: 10},
	}
	kept, removed := RemoveOutliers(nil, axons, square)
	if removed != 2 || len(kept) != 1 || kept[0].ID != 0 {
		t.Fatalf("expected only the centered axon to remain, kept %+v", kept)
	}
}

func TestRemoveElectrodeOverlap(t *testing.T) {
	axons := []model.Axon{
		{ID: 0, Diameter: 10, Y: 0, Z: 0},
		{ID: 1, Diameter: 10, Y: 40, Z: 0},
	}
	kept, removed := RemoveElectrodeOverlap(nil, axons, []model.Point{{Y: 8, Z: 0}}, 5)
	if removed != 1 || kept[0].ID != 1 {
		t.Fatalf("expected axon 0 removed, kept %+v", kept)
	}
}

func TestFiberVolumeFraction(t *testing.T) {
	contour := model.CircleContour(20, model.Point{})
	axons := []model.Axon{{Diameter: 10}}
	if got := FiberVolumeFraction(axons, contour); math.Abs(got-0.25) > 1e-12 {
		t.Fatalf("expected 0.25, got %v", got)
	}
}
