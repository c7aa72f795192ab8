// Package cable runs single-axon cable simulations under extracellular and
// intracellular stimulation.
package cable

import (
	"context"
	"errors"
	"fmt"

	"nervesim/internal/field"
	"nervesim/internal/model"
)

// Calibrated time-step range (ms) for threshold and velocity estimates.
const (
	MinCalibratedDt = 0.001
	MaxCalibratedDt = 0.025
)

var ErrInvalidRequest = errors.New("invalid cable request")

// IntraStim is a current clamp at axial Position (µm), active over
// [Start, Start+Duration) ms.
type IntraStim struct {
	Position  float64 `json:"position" yaml:"position"`
	Start     float64 `json:"start" yaml:"start"`
	Duration  float64 `json:"duration" yaml:"duration"`
	Amplitude float64 `json:"amplitude" yaml:"amplitude"`
}

func (s IntraStim) active(t float64) bool {
	return t >= s.Start && t < s.Start+s.Duration
}

// Request is one axon simulation. Stim and Resolver may both be nil for
// purely intracellular runs.
type Request struct {
	Axon      model.Axon
	Stim      *field.Context
	Resolver  field.Resolver
	Intra     []IntraStim
	TSim      float64
	Dt        float64
	RecordAll bool
}

func (r Request) validate() error {
	switch {
	case r.Dt <= 0:
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidRequest, r.Dt)
	case r.TSim <= 0:
		return fmt.Errorf("%w: t_sim must be positive, got %g", ErrInvalidRequest, r.TSim)
	case r.Axon.Length <= 0 || r.Axon.Diameter <= 0:
		return fmt.Errorf("%w: axon %d has no geometry", ErrInvalidRequest, r.Axon.ID)
	case r.Stim != nil && r.Stim.Len() > 0 && r.Resolver == nil:
		return fmt.Errorf("%w: extracellular stimulation without a resolver", ErrInvalidRequest)
	}
	return nil
}

// Oracle simulates one axon. Implementations must be deterministic for
// identical requests.
type Oracle interface {
	Simulate(ctx context.Context, req Request) (model.SimulationRecord, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, req Request) (model.SimulationRecord, error)

func (f OracleFunc) Simulate(ctx context.Context, req Request) (model.SimulationRecord, error) {
	return f(ctx, req)
}
