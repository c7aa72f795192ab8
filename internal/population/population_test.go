package population

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"reflect"
	"testing"
)

func TestBundledProfiles(t *testing.T) {
	profiles := BundledProfiles()
	myelinated, unmyelinated := true, false
	if got := ProfileNames(profiles, &myelinated); !reflect.DeepEqual(got, []string{"Jacobs_9_A", "Ochoa_M", "Schellens_1", "Schellens_2"}) {
		t.Fatalf("unexpected myelinated profiles: %v", got)
	}
	if got := ProfileNames(profiles, &unmyelinated); !reflect.DeepEqual(got, []string{"Jacobs_11_U", "Ochoa_U"}) {
		t.Fatalf("unexpected unmyelinated profiles: %v", got)
	}
	if got := ProfileNames(profiles, nil); len(got) != 6 {
		t.Fatalf("expected 6 profiles, got %v", got)
	}
}

func TestLoadProfilesRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"mismatch":  "profiles:\n  - name: a\n    bins: [1, 2]\n    density: [1]\n",
		"no name":   "profiles:\n  - bins: [1]\n    density: [1]\n",
		"duplicate": "profiles:\n  - name: a\n    bins: [1]\n    density: [1]\n  - name: a\n    bins: [1]\n    density: [1]\n",
		"bad yaml":  "profiles: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadProfiles([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFitUnmyelinatedRecoversMean(t *testing.T) {
	p := BundledProfiles()["Ochoa_U"]
	d, err := Fit(nil, p)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(d.Lobes) != 1 || d.Lobes[0].Loc != UnmyelinatedLoc {
		t.Fatalf("expected one lobe at loc %v, got %+v", UnmyelinatedLoc, d.Lobes)
	}
	mean := d.Lobes[0].Loc + d.Lobes[0].Shape*d.Lobes[0].Scale
	if math.Abs(mean-1.08)/1.08 > 0.05 {
		t.Fatalf("expected fitted mean near 1.08, got %v (%+v)", mean, d.Lobes[0])
	}
}

func TestFitMyelinatedMixture(t *testing.T) {
	p := BundledProfiles()["Schellens_1"]
	d, err := Fit(nil, p)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(d.Lobes) != 2 {
		t.Fatalf("expected two lobes, got %+v", d.Lobes)
	}
	if d.Lobes[0].Loc != MyelinatedFirstLoc {
		t.Fatalf("expected first lobe at %v, got %v", MyelinatedFirstLoc, d.Lobes[0].Loc)
	}
	if w := d.Lobes[0].Weight + d.Lobes[1].Weight; math.Abs(w-1) > 1e-12 {
		t.Fatalf("weights must sum to 1, got %v", w)
	}
	if math.Abs(d.CDF(d.Cutoff)-DiameterCutoffLevel) > 1e-6 {
		t.Fatalf("cutoff %v is not the %v quantile (cdf=%v)", d.Cutoff, DiameterCutoffLevel, d.CDF(d.Cutoff))
	}
	if d.Cutoff < 10 || d.Cutoff > 25 {
		t.Fatalf("implausible myelinated cutoff %v", d.Cutoff)
	}
}

func TestDrawRespectsCutoff(t *testing.T) {
	d := Distribution{Lobes: []Lobe{{Weight: 1, Shape: 2, Scale: 1, Loc: 0.2}}}
	d.Cutoff = d.Quantile(0.5)
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		if x := d.Draw(rng); x > d.Cutoff || x <= d.Lobes[0].Loc {
			t.Fatalf("draw %v outside (loc, cutoff]", x)
		}
	}
}

func TestGenerateCount(t *testing.T) {
	g := NewGenerator(nil, nil)
	pop, err := g.Generate(context.Background(), Request{
		Count:               1000,
		PercentUnmyelinated: 0.7,
		MyelinatedProfile:   "Ochoa_M",
		UnmyelinatedProfile: "Ochoa_U",
		Seed:                42,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pop.Len() != 1000 || len(pop.Myelinated) != 1000 {
		t.Fatalf("expected 1000 axons, got %d", pop.Len())
	}
	if got := pop.UnmyelinatedCount(); got != 700 {
		t.Fatalf("expected 700 unmyelinated axons, got %d", got)
	}

	myel, _ := g.Fitter().Distribution("Ochoa_M")
	unmyel, _ := g.Fitter().Distribution("Ochoa_U")
	mixed := false
	for i, d := range pop.Diameters {
		cutoff := unmyel.Cutoff
		if pop.Myelinated[i] {
			cutoff = myel.Cutoff
			if i < 700 {
				mixed = true
			}
		}
		if d <= 0 || d > cutoff {
			t.Fatalf("diameter %v at %d outside (0, %v]", d, i, cutoff)
		}
	}
	if !mixed {
		t.Fatal("expected fiber types to be shuffled")
	}

	again, err := g.Generate(context.Background(), Request{
		Count:               1000,
		PercentUnmyelinated: 0.7,
		MyelinatedProfile:   "Ochoa_M",
		UnmyelinatedProfile: "Ochoa_U",
		Seed:                42,
	})
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if !reflect.DeepEqual(pop, again) {
		t.Fatal("expected identical populations for identical seeds")
	}
}

func TestGenerateArea(t *testing.T) {
	g := NewGenerator(nil, nil)
	var reports []Progress
	req := Request{
		Area:                20000,
		FVF:                 0.6,
		PercentUnmyelinated: 0.5,
		MyelinatedProfile:   "Schellens_2",
		UnmyelinatedProfile: "Jacobs_11_U",
		Seed:                7,
		ProgressEvery:       20,
		Progress:            func(p Progress) { reports = append(reports, p) },
	}
	pop, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if covered := pop.CrossSection() / req.FVF; covered < req.Area*(1-1e-9) {
		t.Fatalf("covered %v below target %v", covered, req.Area)
	}
	if len(reports) == 0 || len(reports) != pop.Len()/20 {
		t.Fatalf("expected %d progress reports, got %d", pop.Len()/20, len(reports))
	}
	for i := 1; i < len(reports); i++ {
		if reports[i].Covered <= reports[i-1].Covered || reports[i].Drawn != reports[i-1].Drawn+20 {
			t.Fatalf("progress not monotonic: %+v then %+v", reports[i-1], reports[i])
		}
	}
}

func TestGenerateAllMyelinatedSkipsUnmyelinatedProfile(t *testing.T) {
	g := NewGenerator(nil, nil)
	pop, err := g.Generate(context.Background(), Request{Count: 10, MyelinatedProfile: "Jacobs_9_A", Seed: 1})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if pop.UnmyelinatedCount() != 0 {
		t.Fatalf("expected no unmyelinated axons, got %d", pop.UnmyelinatedCount())
	}
}

func TestGenerateErrors(t *testing.T) {
	g := NewGenerator(nil, nil)
	if _, err := g.Generate(context.Background(), Request{Count: 10, PercentUnmyelinated: 0.5, MyelinatedProfile: "nope", UnmyelinatedProfile: "Ochoa_U"}); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
	invalid := []Request{
		{},
		{Count: 10, Area: 10, FVF: 0.5},
		{Area: 10, FVF: 0},
		{Count: 10, PercentUnmyelinated: 1.5},
	}
	for _, req := range invalid {
		if _, err := g.Generate(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, Request{Area: 1e9, FVF: 0.5, PercentUnmyelinated: 1, UnmyelinatedProfile: "Ochoa_U"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuildAxons(t *testing.T) {
	pop := Population{Diameters: []float64{1, 2, 3}, Myelinated: []bool{false, true, true}}
	axons := BuildAxons(pop, 10000, rand.New(rand.NewPCG(3, 3)))
	for i, a := range axons {
		if a.ID != i || a.Diameter != pop.Diameters[i] || a.Myelinated != pop.Myelinated[i] || a.Length != 10000 {
			t.Fatalf("unexpected axon %d: %+v", i, a)
		}
		if a.NodeShift < 0 || a.NodeShift >= 1 {
			t.Fatalf("node shift %v outside [0, 1)", a.NodeShift)
		}
	}
}
