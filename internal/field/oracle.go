package field

import (
	"context"
	"errors"
	"fmt"

	"nervesim/internal/procgroup"
)

var ErrUnexpectedReply = errors.New("unexpected reply from field server")

// Resolver returns, for every electrode label of its context, the unit-current
// potential (mV/µA) at each compartment point of an axon.
type Resolver interface {
	Footprints(ctx context.Context, axonID int, points []Point3) (map[string][]float64, error)
}

// resolveAnalytic fills out from the cache and the analytic electrodes and
// reports whether a FEM electrode is still unresolved.
func resolveAnalytic(c *Context, m Medium, axonID int, points []Point3, out map[string][]float64) bool {
	needFEM := false
	for _, e := range c.entries {
		label := e.Electrode.Label()
		if fp, ok := c.Footprint(axonID, label); ok && len(fp) == len(points) {
			out[label] = fp
			continue
		}
		switch el := e.Electrode.(type) {
		case Analytic:
			fp := el.Footprint(m, points)
			c.SetFootprint(axonID, label, fp)
			out[label] = fp
		case FEMLabeled:
			needFEM = true
		}
	}
	return needFEM
}

// attachRows maps evaluation rows, given in femLabels order, back to the
// electrodes that use those labels.
func attachRows(c *Context, axonID int, femLabels []string, rows [][]float64, npoints int, out map[string][]float64) error {
	if len(rows) != len(femLabels) {
		return fmt.Errorf("%w: %d rows for %d labels", ErrUnexpectedReply, len(rows), len(femLabels))
	}
	for i, femLabel := range femLabels {
		label, ok := c.femElectrode(femLabel)
		if !ok {
			continue
		}
		if len(rows[i]) != npoints {
			return fmt.Errorf("%w: row %s has %d values for %d points", ErrUnexpectedReply, femLabel, len(rows[i]), npoints)
		}
		c.SetFootprint(axonID, label, rows[i])
		out[label] = rows[i]
	}
	for _, e := range c.entries {
		if _, ok := out[e.Electrode.Label()]; !ok {
			return fmt.Errorf("%w: electrode %s", ErrFootprintMissing, e.Electrode.Label())
		}
	}
	return nil
}

// LocalOracle resolves analytic electrodes directly and FEM electrodes from
// a solved model held by the calling rank.
type LocalOracle struct {
	Context *Context
	Medium  Medium
	Model   SolvedModel
}

func (o *LocalOracle) Footprints(ctx context.Context, axonID int, points []Point3) (map[string][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]float64, o.Context.Len())
	if !resolveAnalytic(o.Context, o.Medium, axonID, points, out) {
		return out, nil
	}
	if o.Model == nil {
		return nil, ErrNotSolved
	}
	rows, err := o.Model.Evaluate(points)
	if err != nil {
		return nil, fmt.Errorf("evaluate field for axon %d: %w", axonID, err)
	}
	if err := attachRows(o.Context, axonID, o.Model.Labels(), rows, len(points), out); err != nil {
		return nil, err
	}
	return out, nil
}

// RemoteOracle resolves FEM electrodes by a blocking request to the root rank,
// which owns the solved model. There is no timeout: a root that never replies
// blocks the caller until ctx is cancelled.
type RemoteOracle struct {
	Context *Context
	Medium  Medium
	Comm    procgroup.Comm
	Root    int
}

func (o *RemoteOracle) Footprints(ctx context.Context, axonID int, points []Point3) (map[string][]float64, error) {
	out := make(map[string][]float64, o.Context.Len())
	if !resolveAnalytic(o.Context, o.Medium, axonID, points, out) {
		return out, nil
	}

	req := procgroup.FieldRequest{
		Rank:   o.Comm.Rank(),
		AxonID: axonID,
		X:      make([]float64, len(points)),
		Y:      make([]float64, len(points)),
		Z:      make([]float64, len(points)),
	}
	for i, p := range points {
		req.X[i], req.Y[i], req.Z[i] = p.X, p.Y, p.Z
	}
	if err := o.Comm.Send(ctx, o.Root, req); err != nil {
		return nil, err
	}
	env, err := o.Comm.Recv(ctx)
	if err != nil {
		return nil, err
	}
	reply, ok := env.Msg.(procgroup.FieldReply)
	if !ok || env.Source != o.Root {
		return nil, fmt.Errorf("%w: %T from rank %d", ErrUnexpectedReply, env.Msg, env.Source)
	}
	if reply.Err != "" {
		return nil, fmt.Errorf("field server: %s", reply.Err)
	}
	if err := attachRows(o.Context, axonID, o.Context.FEMLabels(), reply.V, len(points), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Serve answers one field request from the solved model.
func Serve(model SolvedModel, req procgroup.FieldRequest) procgroup.FieldReply {
	if model == nil {
		return procgroup.FieldReply{Err: ErrNotSolved.Error()}
	}
	if len(req.Y) != len(req.X) || len(req.Z) != len(req.X) {
		return procgroup.FieldReply{Err: fmt.Sprintf("ragged coordinates: %d/%d/%d", len(req.X), len(req.Y), len(req.Z))}
	}
	points := make([]Point3, len(req.X))
	for i := range points {
		points[i] = Point3{X: req.X[i], Y: req.Y[i], Z: req.Z[i]}
	}
	rows, err := model.Evaluate(points)
	if err != nil {
		return procgroup.FieldReply{Err: err.Error()}
	}
	return procgroup.FieldReply{V: rows}
}
