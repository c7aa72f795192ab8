package fascicle

import (
	"context"
	"fmt"
	"math"

	"nervesim/internal/cable"
	"nervesim/internal/field"
	"nervesim/internal/model"
	"nervesim/internal/raster"
)

// simulateAxon runs the cable oracle for one axon and derives its verdicts.
// A panic in the oracle is returned as an error.
func (o *Orchestrator) simulateAxon(ctx context.Context, cfg RuntimeConfig, job Job, axon model.Axon, stim *field.Context, resolver field.Resolver) (result model.AxonResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("axon %d: panic: %v", axon.ID, r)
		}
	}()

	intra := append([]cable.IntraStim(nil), job.Intra...)
	if cfg.Block != nil {
		intra = append(intra, cable.IntraStim{
			Position:  cfg.Block.PulsePosition,
			Start:     cfg.Block.PulseTime,
			Duration:  cfg.Block.PulseDuration,
			Amplitude: cfg.Block.PulseAmplitude,
		})
	}
	rec, err := o.Cable.Simulate(ctx, cable.Request{
		Axon:      axon,
		Stim:      stim,
		Resolver:  resolver,
		Intra:     intra,
		TSim:      cfg.TSim,
		Dt:        cfg.Dt,
		RecordAll: cfg.RecordAll,
	})
	if err != nil {
		return model.AxonResult{}, err
	}

	opts := cfg.Detect
	opts.Dt = rec.Dt
	if opts.Dt <= 0 {
		opts.Dt = cfg.Dt
	}
	events := raster.DetectRecord(rec, opts)
	result = model.AxonResult{
		ID:         axon.ID,
		Diameter:   axon.Diameter,
		Myelinated: axon.Myelinated,
		Events:     events,
		Recruited:  raster.IsRecruited(events, cfg.RecruitFrom, cfg.RecruitTo),
	}
	if cfg.Block != nil {
		position, _ := blockPosition(cfg.Block, stim)
		result.Block = raster.ClassifyBlock(events, raster.BlockQuery{
			TestPulseTime:     cfg.Block.PulseTime,
			TestPulsePosition: cfg.Block.PulsePosition,
			ElectrodePosition: position,
			AxonLength:        axon.Length,
			TestPulseWindow:   cfg.Block.Window,
		})
		result.OnsetSpikes = raster.CountOnsetSpikes(events, rec.X, position, cfg.Block.PulseTime)
		result.Velocity = raster.ConductionVelocity(events, cfg.Block.PulseTime)
	} else {
		result.Velocity = raster.ConductionVelocity(events, cfg.RecruitFrom)
	}

	if o.Store != nil {
		record := model.AxonRecord{FascicleID: job.Fascicle.ID, Result: result}
		if cfg.SaveRecords {
			record.Record = &rec
		}
		if err := o.Store.SaveAxonRecord(ctx, record); err != nil {
			return model.AxonResult{}, fmt.Errorf("persist axon %d: %w", axon.ID, err)
		}
	}
	return result, nil
}

// blockPosition returns the axial position of the blocking electrode.
func blockPosition(b *BlockTest, stim *field.Context) (float64, error) {
	if b.Electrode == "" {
		return b.ElectrodePosition, nil
	}
	if stim == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownElectrode, b.Electrode)
	}
	entry, ok := stim.Lookup(b.Electrode)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownElectrode, b.Electrode)
	}
	return axialPosition(entry.Electrode), nil
}

func axialPosition(e field.Electrode) float64 {
	switch el := e.(type) {
	case field.PointSource:
		return el.X
	case field.LIFE:
		return el.X
	case field.FEMLabeled:
		return el.Site.X
	default:
		return 0
	}
}

// femGeometry returns the mesh spec of a job: its explicit Geometry, or a
// box spanning the fascicle and every FEM site.
func femGeometry(job Job) field.GeometrySpec {
	if job.Geometry != nil {
		return *job.Geometry
	}
	spec := field.GeometrySpec{Sites: make(map[string]field.Point3)}
	minP := field.Point3{X: 0, Y: math.Inf(1), Z: math.Inf(1)}
	maxP := field.Point3{X: job.Fascicle.AxonLength, Y: math.Inf(-1), Z: math.Inf(-1)}
	extend := func(p field.Point3) {
		minP = field.Point3{X: math.Min(minP.X, p.X), Y: math.Min(minP.Y, p.Y), Z: math.Min(minP.Z, p.Z)}
		maxP = field.Point3{X: math.Max(maxP.X, p.X), Y: math.Max(maxP.Y, p.Y), Z: math.Max(maxP.Z, p.Z)}
	}
	radius := job.Fascicle.Contour.Radius()
	center := job.Fascicle.Contour.Center
	extend(field.Point3{Y: center.Y - radius, Z: center.Z - radius})
	extend(field.Point3{Y: center.Y + radius, Z: center.Z + radius})
	for _, e := range job.Stim.Entries() {
		if fem, ok := e.Electrode.(field.FEMLabeled); ok {
			spec.Sites[fem.FEMLabel] = fem.Site
			extend(fem.Site)
		}
	}
	spec.Min, spec.Max = minP, maxP
	return spec
}
