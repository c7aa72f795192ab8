package field

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

var ErrNotSolved = errors.New("field model not solved")

// GeometrySpec describes what a mesher has to build: the nerve bounding box
// and one labeled contact site per FEM electrode.
type GeometrySpec struct {
	Min   Point3            `json:"min"`
	Max   Point3            `json:"max"`
	Sites map[string]Point3 `json:"sites"`
}

// SiteLabels returns the labels of the spec in ascending order.
func (g GeometrySpec) SiteLabels() []string {
	labels := make([]string, 0, len(g.Sites))
	for label := range g.Sites {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Mesh is an opaque meshed geometry; only the sites are visible to callers.
type Mesh struct {
	Spec  GeometrySpec
	Nodes int
}

type MeshBuilder interface {
	Build(ctx context.Context, spec GeometrySpec) (Mesh, error)
}

// Solver computes the unit-current field of every swept label. Parallel
// reports whether one solve can be shared by concurrently running ranks
// without routing evaluations through the root.
type Solver interface {
	Solve(ctx context.Context, mesh Mesh, medium Medium, sweep []string) (SolvedModel, error)
	Parallel() bool
}

// SolvedModel evaluates the solved field; Evaluate returns one row per
// label of Labels, in that (ascending) order.
type SolvedModel interface {
	Labels() []string
	Evaluate(points []Point3) ([][]float64, error)
}

// BoxMesher is the reference mesher: it validates the spec and sizes a
// regular grid over the bounding box.
type BoxMesher struct {
	Resolution float64
	builds     atomic.Int64
}

func (m *BoxMesher) Build(ctx context.Context, spec GeometrySpec) (Mesh, error) {
	if err := ctx.Err(); err != nil {
		return Mesh{}, err
	}
	if len(spec.Sites) == 0 {
		return Mesh{}, errors.New("geometry has no electrode sites")
	}
	res := m.Resolution
	if res <= 0 {
		res = 50
	}
	nodes := 1
	for _, extent := range []float64{spec.Max.X - spec.Min.X, spec.Max.Y - spec.Min.Y, spec.Max.Z - spec.Min.Z} {
		nodes *= int(extent/res) + 1
	}
	m.builds.Add(1)
	return Mesh{Spec: spec, Nodes: nodes}, nil
}

func (m *BoxMesher) Builds() int {
	return int(m.builds.Load())
}

// HomogeneousSolver is the reference solver: the field of each site is the
// point-source solution in the given medium.
type HomogeneousSolver struct {
	Concurrent bool
	solves     atomic.Int64
}

func (s *HomogeneousSolver) Parallel() bool {
	return s.Concurrent
}

func (s *HomogeneousSolver) Solves() int {
	return int(s.solves.Load())
}

func (s *HomogeneousSolver) Solve(ctx context.Context, mesh Mesh, medium Medium, sweep []string) (SolvedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := medium.Validate(); err != nil {
		return nil, err
	}
	labels := append([]string(nil), sweep...)
	sort.Strings(labels)
	sites := make([]Point3, len(labels))
	for i, label := range labels {
		site, ok := mesh.Spec.Sites[label]
		if !ok {
			return nil, fmt.Errorf("sweep label %q has no site in the mesh", label)
		}
		sites[i] = site
	}
	s.solves.Add(1)
	return &homogeneousModel{medium: medium, labels: labels, sites: sites}, nil
}

type homogeneousModel struct {
	medium Medium
	labels []string
	sites  []Point3
}

func (m *homogeneousModel) Labels() []string {
	return append([]string(nil), m.labels...)
}

func (m *homogeneousModel) Evaluate(points []Point3) ([][]float64, error) {
	rows := make([][]float64, len(m.sites))
	for i, site := range m.sites {
		rows[i] = PointSource{X: site.X, Y: site.Y, Z: site.Z}.Footprint(m.medium, points)
	}
	return rows, nil
}
