// Package field resolves extracellular potentials at axon compartments, either
// analytically or from a solved finite-element model.
package field

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnknownVariant   = errors.New("unknown electrode variant")
	ErrFootprintMissing = errors.New("footprint not resolved")
)

const (
	KindPointSource = "point_source"
	KindLIFE        = "life"
	KindFEM         = "fem"
)

// Point3 is a position in µm; x runs along the axon.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Medium is a homogeneous, possibly anisotropic conductivity in S/m.
type Medium struct {
	SigmaX float64 `json:"sigma_x" yaml:"sigma_x"`
	SigmaY float64 `json:"sigma_y" yaml:"sigma_y"`
	SigmaZ float64 `json:"sigma_z" yaml:"sigma_z"`
}

// IsotropicMedium returns a medium with the same conductivity on every axis.
func IsotropicMedium(sigma float64) Medium {
	return Medium{SigmaX: sigma, SigmaY: sigma, SigmaZ: sigma}
}

func (m Medium) Validate() error {
	if m.SigmaX <= 0 || m.SigmaY <= 0 || m.SigmaZ <= 0 {
		return fmt.Errorf("conductivities must be positive: %+v", m)
	}
	return nil
}

// minDistance keeps the potential finite at the source itself (µm).
const minDistance = 1e-3

// PointPotential is the potential in mV produced by a 1 µA point source at
// offset (dx, dy, dz) µm.
func (m Medium) PointPotential(dx, dy, dz float64) float64 {
	r := math.Sqrt(m.SigmaY*m.SigmaZ*dx*dx + m.SigmaX*m.SigmaZ*dy*dy + m.SigmaX*m.SigmaY*dz*dz)
	r = math.Max(r, minDistance*math.Sqrt(m.SigmaY*m.SigmaZ))
	return 1e3 / (4 * math.Pi * r)
}

// LinePotential is the potential in mV of 1 µA spread evenly over a segment
// of the given length along x, centered at offset (dx, dy, dz).
func (m Medium) LinePotential(dx, dy, dz, length float64) float64 {
	if length <= 0 {
		return m.PointPotential(dx, dy, dz)
	}
	a := m.SigmaY * m.SigmaZ
	c := m.SigmaX*m.SigmaZ*dy*dy + m.SigmaX*m.SigmaY*dz*dz
	c = math.Max(c, a*minDistance*minDistance)
	sa, sc := math.Sqrt(a), math.Sqrt(c)
	u1, u2 := dx-length/2, dx+length/2
	return 1e3 / (4 * math.Pi * length * sa) * (math.Asinh(sa*u2/sc) - math.Asinh(sa*u1/sc))
}

// Electrode is the closed set of stimulating electrodes.
type Electrode interface {
	Label() string
	Kind() string
	isElectrode()
}

// Analytic electrodes compute their own unit-current footprint.
type Analytic interface {
	Electrode
	Footprint(m Medium, points []Point3) []float64
}

type PointSource struct {
	Name string  `json:"label"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
}

func (e PointSource) Label() string { return e.Name }
func (e PointSource) Kind() string  { return KindPointSource }
func (PointSource) isElectrode()    {}

func (e PointSource) Footprint(m Medium, points []Point3) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = m.PointPotential(p.X-e.X, p.Y-e.Y, p.Z-e.Z)
	}
	return out
}

// LIFE is a longitudinal intrafascicular electrode, modelled as a line source
// of ActiveLength µm along x centered at (X, Y, Z).
type LIFE struct {
	Name         string  `json:"label"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	ActiveLength float64 `json:"active_length"`
	Diameter     float64 `json:"diameter"`
}

func (e LIFE) Label() string { return e.Name }
func (e LIFE) Kind() string  { return KindLIFE }
func (LIFE) isElectrode()    {}

func (e LIFE) Footprint(m Medium, points []Point3) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = m.LinePotential(p.X-e.X, p.Y-e.Y, p.Z-e.Z, e.ActiveLength)
	}
	return out
}

// FEMLabeled is an electrode whose footprint comes from a solved model,
// addressed by FEMLabel. Site is its cross-section position.
type FEMLabeled struct {
	Name     string `json:"label"`
	FEMLabel string `json:"fem_label"`
	Site     Point3 `json:"site"`
}

func (e FEMLabeled) Label() string { return e.Name }
func (e FEMLabeled) Kind() string  { return KindFEM }
func (FEMLabeled) isElectrode()    {}

type electrodeEnvelope struct {
	Type      string          `json:"type"`
	Electrode json.RawMessage `json:"electrode"`
}

var electrodeDecoders = map[string]func(json.RawMessage) (Electrode, error){
	KindPointSource: decodeAs[PointSource],
	KindLIFE:        decodeAs[LIFE],
	KindFEM:         decodeAs[FEMLabeled],
}

func decodeAs[T Electrode](raw json.RawMessage) (Electrode, error) {
	var e T
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func EncodeElectrode(e Electrode) ([]byte, error) {
	if _, ok := electrodeDecoders[e.Kind()]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, e.Kind())
	}
	body, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(electrodeEnvelope{Type: e.Kind(), Electrode: body})
}

// DecodeElectrode reads a tagged electrode; tags outside the closed set fail
// with ErrUnknownVariant.
func DecodeElectrode(data []byte) (Electrode, error) {
	var env electrodeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode electrode: %w", err)
	}
	decode, ok := electrodeDecoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, env.Type)
	}
	e, err := decode(env.Electrode)
	if err != nil {
		return nil, fmt.Errorf("decode %s electrode: %w", env.Type, err)
	}
	if e.Label() == "" {
		return nil, fmt.Errorf("decode %s electrode: empty label", env.Type)
	}
	return e, nil
}
