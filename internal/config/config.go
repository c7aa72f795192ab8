// Package config loads nervesim settings from YAML layered over embedded
// defaults and converts them into the runtime types of the simulator.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nervesim/internal/cable"
	"nervesim/internal/fascicle"
	"nervesim/internal/field"
	"nervesim/internal/model"
	"nervesim/internal/packing"
	"nervesim/internal/population"
	"nervesim/internal/raster"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
	Geometry    GeometryConfig    `yaml:"geometry"`
	Packing     PackingConfig     `yaml:"packing"`
	Stimulation StimulationConfig `yaml:"stimulation"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Detection   DetectionConfig   `yaml:"detection"`
	Block       BlockConfig       `yaml:"block"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"` // memory, dir or sqlite
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type PointConfig struct {
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

type ContourConfig struct {
	Kind     string        `yaml:"kind"`
	Diameter float64       `yaml:"diameter"`
	Center   PointConfig   `yaml:"center"`
	Vertices []PointConfig `yaml:"vertices"`
}

type GeometryConfig struct {
	Contour             ContourConfig `yaml:"contour"`
	AxonLength          float64       `yaml:"axon_length"`
	FVF                 float64       `yaml:"fvf"`
	Count               int           `yaml:"count"`
	PercentUnmyelinated float64       `yaml:"percent_unmyelinated"`
	MyelinatedProfile   string        `yaml:"myelinated_profile"`
	UnmyelinatedProfile string        `yaml:"unmyelinated_profile"`
	Seed                uint64        `yaml:"seed"`
	ElectrodeRadius     float64       `yaml:"electrode_radius"` // > 0 discards axons touching electrode sites
}

type PackingConfig struct {
	MinGap          float64 `yaml:"min_gap"`
	MaxIterations   int     `yaml:"max_iterations"`
	AttractionSpeed float64 `yaml:"attraction_speed"`
	RepulsionSpeed  float64 `yaml:"repulsion_speed"`
	Workers         int     `yaml:"workers"`
}

type WaveformConfig struct {
	Kind      string  `yaml:"kind"` // pulse, biphasic, train or sine
	Start     float64 `yaml:"start"`
	Amplitude float64 `yaml:"amplitude"`
	Duration  float64 `yaml:"duration"`
	Gap       float64 `yaml:"gap,omitempty"`
	Period    float64 `yaml:"period,omitempty"`
	Count     int     `yaml:"count,omitempty"`
	Frequency float64 `yaml:"frequency,omitempty"` // kHz
	Step      float64 `yaml:"step,omitempty"`      // sampling step of sine waveforms, ms
}

type ElectrodeConfig struct {
	Type         string           `yaml:"type"`
	Label        string           `yaml:"label"`
	X            float64          `yaml:"x"`
	Y            float64          `yaml:"y"`
	Z            float64          `yaml:"z"`
	ActiveLength float64          `yaml:"active_length,omitempty"`
	Diameter     float64          `yaml:"diameter,omitempty"`
	FEMLabel     string           `yaml:"fem_label,omitempty"`
	Waveforms    []WaveformConfig `yaml:"waveforms"`
}

type StimulationConfig struct {
	Medium     field.Medium      `yaml:"medium"`
	Electrodes []ElectrodeConfig `yaml:"electrodes"`
	Intra      []cable.IntraStim `yaml:"intra"`
}

type SimulationConfig struct {
	Workers     int     `yaml:"workers"`
	FEMEnabled  bool    `yaml:"fem_enabled"`
	TSim        float64 `yaml:"t_sim"`
	Dt          float64 `yaml:"dt"`
	RecordAll   bool    `yaml:"record_all"`
	SaveRecords bool    `yaml:"save_records"`
	Resume      bool    `yaml:"resume"`
	RecruitFrom float64 `yaml:"recruit_from"`
	RecruitTo   float64 `yaml:"recruit_to"`
}

type DetectionConfig struct {
	Threshold        float64 `yaml:"threshold"`
	RefractoryPeriod float64 `yaml:"refractory_period"`
	MinSpikeDuration float64 `yaml:"min_spike_duration"`
	TStart           float64 `yaml:"t_start"`
	TStop            float64 `yaml:"t_stop"`
}

type BlockConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Electrode         string  `yaml:"electrode"`
	ElectrodePosition float64 `yaml:"electrode_position"`
	PulseTime         float64 `yaml:"pulse_time"`
	PulsePosition     float64 `yaml:"pulse_position"`
	PulseAmplitude    float64 `yaml:"pulse_amplitude"`
	PulseDuration     float64 `yaml:"pulse_duration"`
	Window            float64 `yaml:"window"`
}

// Defaults returns the embedded configuration.
func Defaults() (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}
	return cfg, nil
}

// DefaultsYAML returns the embedded defaults document.
func DefaultsYAML() []byte {
	return append([]byte(nil), defaultsYAML...)
}

// Load reads path over the embedded defaults; only keys present in the file
// are overwritten, lists are replaced as a whole. An empty path returns the
// defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Defaults()
	if err != nil {
		return nil, err
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	switch c.Store.Kind {
	case "memory", "dir", "sqlite":
	default:
		add("unknown store kind %q", c.Store.Kind)
	}
	if c.Store.Kind != "memory" && c.Store.Path == "" {
		add("store %s needs a path", c.Store.Kind)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("unknown log format %q", c.Logging.Format)
	}

	if err := c.Contour().Validate(); err != nil {
		errs = append(errs, err)
	}
	g := c.Geometry
	if g.AxonLength <= 0 {
		add("geometry.axon_length must be positive")
	}
	if g.Count < 0 {
		add("geometry.count must not be negative")
	}
	if g.Count == 0 && (g.FVF <= 0 || g.FVF > 1) {
		add("geometry.fvf %g outside (0, 1]", g.FVF)
	}
	if g.PercentUnmyelinated < 0 || g.PercentUnmyelinated > 1 {
		add("geometry.percent_unmyelinated %g outside [0, 1]", g.PercentUnmyelinated)
	}
	if c.Packing.MaxIterations < 0 || c.Packing.MinGap < 0 {
		add("packing budget and gap must not be negative")
	}

	if err := c.Stimulation.Medium.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.StimContext(); err != nil {
		errs = append(errs, err)
	}

	s := c.Simulation
	if s.Workers <= 0 {
		add("simulation.workers must be positive")
	}
	if s.TSim <= 0 || s.Dt <= 0 {
		add("simulation.t_sim and simulation.dt must be positive")
	}
	if c.Detection.RefractoryPeriod < 0 || c.Detection.MinSpikeDuration < 0 {
		add("detection periods must not be negative")
	}
	if c.Block.Enabled && c.Block.Window < 0 {
		add("block.window must not be negative")
	}
	if c.Block.Enabled && c.Block.PulseDuration <= 0 {
		add("block.pulse_duration must be positive")
	}
	return errors.Join(errs...)
}

func (c *Config) Contour() model.Contour {
	cc := c.Geometry.Contour
	if cc.Kind == model.ContourPolygon {
		vertices := make([]model.Point, len(cc.Vertices))
		for i, v := range cc.Vertices {
			vertices[i] = model.Point{Y: v.Y, Z: v.Z}
		}
		return model.PolygonContour(vertices)
	}
	contour := model.CircleContour(cc.Diameter, model.Point{Y: cc.Center.Y, Z: cc.Center.Z})
	contour.Kind = cc.Kind
	return contour
}

// StimContext builds the stimulation context described by the electrodes.
func (c *Config) StimContext() (*field.Context, error) {
	stim := field.NewContext()
	for i, ec := range c.Stimulation.Electrodes {
		electrode, err := ec.electrode()
		if err != nil {
			return nil, fmt.Errorf("electrode %d: %w", i, err)
		}
		waveform, err := ec.waveform()
		if err != nil {
			return nil, fmt.Errorf("electrode %s: %w", ec.Label, err)
		}
		if err := stim.Add(electrode, waveform); err != nil {
			return nil, err
		}
	}
	return stim, nil
}

func (ec ElectrodeConfig) electrode() (field.Electrode, error) {
	switch ec.Type {
	case field.KindPointSource:
		return field.PointSource{Name: ec.Label, X: ec.X, Y: ec.Y, Z: ec.Z}, nil
	case field.KindLIFE:
		if ec.ActiveLength <= 0 {
			return nil, fmt.Errorf("%w: LIFE %s needs an active length", ErrInvalidConfig, ec.Label)
		}
		return field.LIFE{Name: ec.Label, X: ec.X, Y: ec.Y, Z: ec.Z, ActiveLength: ec.ActiveLength, Diameter: ec.Diameter}, nil
	case field.KindFEM:
		label := ec.FEMLabel
		if label == "" {
			label = ec.Label
		}
		return field.FEMLabeled{Name: ec.Label, FEMLabel: label, Site: field.Point3{X: ec.X, Y: ec.Y, Z: ec.Z}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", field.ErrUnknownVariant, ec.Type)
	}
}

func (ec ElectrodeConfig) waveform() (field.Stimulus, error) {
	parts := make([]field.Stimulus, 0, len(ec.Waveforms))
	for _, w := range ec.Waveforms {
		if w.Duration <= 0 {
			return field.Stimulus{}, fmt.Errorf("%w: %s waveform needs a positive duration", ErrInvalidConfig, w.Kind)
		}
		switch w.Kind {
		case "pulse":
			parts = append(parts, field.Pulse(w.Start, w.Amplitude, w.Duration))
		case "biphasic":
			parts = append(parts, field.Biphasic(w.Start, w.Amplitude, w.Duration, w.Gap))
		case "train":
			if w.Period < w.Duration || w.Count <= 0 {
				return field.Stimulus{}, fmt.Errorf("%w: train needs period >= duration and a positive count", ErrInvalidConfig)
			}
			parts = append(parts, field.PulseTrain(w.Start, w.Amplitude, w.Duration, w.Period, w.Count))
		case "sine":
			if w.Frequency <= 0 || w.Step <= 0 {
				return field.Stimulus{}, fmt.Errorf("%w: sine needs a positive frequency and step", ErrInvalidConfig)
			}
			parts = append(parts, field.Sine(w.Start, w.Amplitude, w.Frequency, w.Duration, w.Step))
		default:
			return field.Stimulus{}, fmt.Errorf("%w: unknown waveform kind %q", ErrInvalidConfig, w.Kind)
		}
	}
	return field.Combine(parts...), nil
}

// Runtime converts the simulation settings for the orchestrator.
func (c *Config) Runtime(logger *slog.Logger) fascicle.RuntimeConfig {
	s := c.Simulation
	rt := fascicle.RuntimeConfig{
		Workers:    s.Workers,
		FEMEnabled: s.FEMEnabled,
		Medium:     c.Stimulation.Medium,
		TSim:       s.TSim,
		Dt:         s.Dt,
		Detect: raster.DetectOptions{
			Threshold:        c.Detection.Threshold,
			Dt:               s.Dt,
			TStart:           c.Detection.TStart,
			TStop:            c.Detection.TStop,
			RefractoryPeriod: c.Detection.RefractoryPeriod,
			MinSpikeDuration: c.Detection.MinSpikeDuration,
		},
		RecruitFrom: s.RecruitFrom,
		RecruitTo:   s.RecruitTo,
		RecordAll:   s.RecordAll,
		SaveRecords: s.SaveRecords,
		Resume:      s.Resume,
		Logger:      logger,
	}
	if b := c.Block; b.Enabled {
		rt.Block = &fascicle.BlockTest{
			Electrode:         b.Electrode,
			ElectrodePosition: b.ElectrodePosition,
			PulseTime:         b.PulseTime,
			PulsePosition:     b.PulsePosition,
			PulseAmplitude:    b.PulseAmplitude,
			PulseDuration:     b.PulseDuration,
			Window:            b.Window,
		}
	}
	return rt
}

// GeometryRequest converts the geometry and packing settings. Every
// electrode site is kept clear when ElectrodeRadius is positive.
func (c *Config) GeometryRequest() fascicle.GeometryRequest {
	g := c.Geometry
	req := fascicle.GeometryRequest{
		Contour:    c.Contour(),
		AxonLength: g.AxonLength,
		Population: population.Request{
			Count:               g.Count,
			FVF:                 g.FVF,
			PercentUnmyelinated: g.PercentUnmyelinated,
			MyelinatedProfile:   g.MyelinatedProfile,
			UnmyelinatedProfile: g.UnmyelinatedProfile,
			Seed:                g.Seed,
		},
		Pack: packing.PackOptions{
			MinGap:          c.Packing.MinGap,
			MaxIterations:   c.Packing.MaxIterations,
			AttractionSpeed: c.Packing.AttractionSpeed,
			RepulsionSpeed:  c.Packing.RepulsionSpeed,
			Workers:         c.Packing.Workers,
		},
		ElectrodeRadius: g.ElectrodeRadius,
	}
	if g.Count > 0 {
		req.Population.FVF = 0
	}
	if g.ElectrodeRadius > 0 {
		for _, e := range c.Stimulation.Electrodes {
			req.ElectrodeSites = append(req.ElectrodeSites, model.Point{Y: e.Y, Z: e.Z})
		}
	}
	return req
}

// Logger builds a slog logger writing to w in the configured format.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return level, nil
}
