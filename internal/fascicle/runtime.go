// Package fascicle builds nerve fascicle geometries and runs the per-axon
// simulations of a fascicle over a process group.
package fascicle

import (
	"errors"
	"fmt"
	"log/slog"

	"nervesim/internal/field"
	"nervesim/internal/raster"
)

var (
	ErrFEMDisabled      = errors.New("FEM computation requested but the FEM backend is disabled")
	ErrMissingOracle    = errors.New("orchestrator has no cable oracle")
	ErrMissingFEM       = errors.New("FEM stimulation requires a mesher and a solver")
	ErrInvalidRuntime   = errors.New("invalid runtime configuration")
	ErrUnknownElectrode = errors.New("block electrode not found in stimulation context")
)

// BlockTest injects an intracellular test pulse and classifies whether the
// resulting action potential crosses the blocking electrode.
type BlockTest struct {
	// Electrode is the label of the blocking electrode. When empty,
	// ElectrodePosition is used as its axial position.
	Electrode         string
	ElectrodePosition float64
	PulseTime         float64
	PulsePosition     float64
	PulseAmplitude    float64
	PulseDuration     float64
	// Window bounds the events read after PulseTime. Zero reads to the end
	// of the run.
	Window float64
}

// RuntimeConfig carries everything a simulation run reads besides the job
// itself. It replaces process-wide settings.
type RuntimeConfig struct {
	Workers     int
	FEMEnabled  bool
	Medium      field.Medium
	TSim        float64
	Dt          float64
	Detect      raster.DetectOptions
	RecruitFrom float64
	RecruitTo   float64
	Block       *BlockTest
	RecordAll   bool
	SaveRecords bool
	Resume      bool
	Logger      *slog.Logger
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		Workers:    1,
		FEMEnabled: true,
		Medium:     field.IsotropicMedium(1),
		TSim:       5,
		Dt:         0.005,
		Detect:     raster.DefaultDetectOptions(0.005),
	}
}

func normalizeRuntimeConfig(cfg RuntimeConfig) RuntimeConfig {
	def := DefaultRuntimeConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Medium == (field.Medium{}) {
		cfg.Medium = def.Medium
	}
	if cfg.Detect == (raster.DetectOptions{}) {
		cfg.Detect = raster.DefaultDetectOptions(cfg.Dt)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (cfg RuntimeConfig) validate() error {
	switch {
	case cfg.TSim <= 0:
		return fmt.Errorf("%w: t_sim must be positive, got %g", ErrInvalidRuntime, cfg.TSim)
	case cfg.Dt <= 0:
		return fmt.Errorf("%w: dt must be positive, got %g", ErrInvalidRuntime, cfg.Dt)
	case cfg.RecruitTo > 0 && cfg.RecruitTo < cfg.RecruitFrom:
		return fmt.Errorf("%w: recruitment window [%g, %g] is empty", ErrInvalidRuntime, cfg.RecruitFrom, cfg.RecruitTo)
	case cfg.Block != nil && cfg.Block.PulseDuration <= 0:
		return fmt.Errorf("%w: test pulse duration must be positive", ErrInvalidRuntime)
	}
	return cfg.Medium.Validate()
}
