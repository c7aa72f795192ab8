// Package nervesim is the public entry point for generating fascicle
// geometries, simulating them and exporting the results.
package nervesim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"nervesim/internal/cable"
	"nervesim/internal/config"
	"nervesim/internal/fascicle"
	"nervesim/internal/field"
	"nervesim/internal/model"
	"nervesim/internal/population"
	"nervesim/internal/report"
	"nervesim/internal/storage"
)

const defaultExportsDir = "exports"

type (
	Config       = config.Config
	Fascicle     = model.Fascicle
	Result       = model.FascicleResult
	Summary      = report.Summary
	WorkerStatus = model.WorkerStatus
)

var (
	ErrFascicleNotFound = errors.New("fascicle not found")
	ErrResultNotFound   = errors.New("fascicle result not found")
	ErrFEMDisabled      = fascicle.ErrFEMDisabled
)

// LoadConfig reads a YAML file over the embedded defaults; an empty path
// returns the defaults.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

type Options struct {
	StoreKind  string
	Path       string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	fitter  *population.Fitter
	builder *fascicle.GeometryBuilder

	exportsDir  string
	initialized bool
}

type GenerateRequest struct {
	// ID names the fascicle; empty draws a random UUID.
	ID     string
	Config *Config
}

type SimulateRequest struct {
	FascicleID string
	// AxonIDs restricts the run; nil simulates every axon.
	AxonIDs  []int
	Config   *Config
	OnStatus func(rank int, status WorkerStatus)
}

type ExportRequest struct {
	FascicleID string
	OutDir     string
}

type ExportSummary struct {
	FascicleID string
	Directory  string
	Summary    Summary
}

type ProfileItem struct {
	Name       string
	Myelinated bool
	Source     string
	Mean       float64
}

func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	store, err := storage.NewStore(opts.StoreKind, opts.Path)
	if err != nil {
		return nil, err
	}
	fitter := population.NewFitter(logger, nil)
	return &Client{
		store:      store,
		logger:     logger,
		fitter:     fitter,
		builder:    fascicle.NewGeometryBuilder(logger, population.NewGenerator(logger, fitter)),
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.initialized = true
	return nil
}

// Generate builds a fascicle from the geometry and packing settings and
// persists it.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Fascicle, error) {
	cfg, err := resolveConfig(req.Config)
	if err != nil {
		return Fascicle{}, err
	}
	if err := c.Init(ctx); err != nil {
		return Fascicle{}, err
	}
	geometry := cfg.GeometryRequest()
	geometry.ID = req.ID
	f, err := c.builder.Build(ctx, geometry)
	if err != nil {
		return Fascicle{}, err
	}
	if err := c.store.SaveFascicle(ctx, f); err != nil {
		return Fascicle{}, fmt.Errorf("save fascicle %s: %w", f.ID, err)
	}
	return f, nil
}

func (c *Client) Fascicle(ctx context.Context, id string) (Fascicle, error) {
	if err := c.Init(ctx); err != nil {
		return Fascicle{}, err
	}
	f, ok, err := c.store.GetFascicle(ctx, id)
	if err != nil {
		return Fascicle{}, err
	}
	if !ok {
		return Fascicle{}, fmt.Errorf("%w: %s", ErrFascicleNotFound, id)
	}
	return f, nil
}

func (c *Client) Fascicles(ctx context.Context) ([]string, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.store.ListFascicles(ctx)
}

// Simulate runs the stored fascicle under the configured stimulation. The
// result is persisted and returned even when some axons are missing.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (Result, error) {
	cfg, err := resolveConfig(req.Config)
	if err != nil {
		return Result{}, err
	}
	f, err := c.Fascicle(ctx, req.FascicleID)
	if err != nil {
		return Result{}, err
	}
	stim, err := cfg.StimContext()
	if err != nil {
		return Result{}, err
	}

	orch := &fascicle.Orchestrator{
		Config:   cfg.Runtime(c.logger),
		Cable:    cable.NewReduced(c.logger),
		Mesher:   &field.BoxMesher{},
		Solver:   &field.HomogeneousSolver{},
		Store:    c.store,
		OnStatus: req.OnStatus,
	}
	return orch.Simulate(ctx, fascicle.Job{
		Fascicle: f,
		Stim:     stim,
		Intra:    cfg.Stimulation.Intra,
		AxonIDs:  req.AxonIDs,
	})
}

func (c *Client) Result(ctx context.Context, fascicleID string) (Result, error) {
	if err := c.Init(ctx); err != nil {
		return Result{}, err
	}
	result, ok, err := c.store.GetResult(ctx, fascicleID)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrResultNotFound, fascicleID)
	}
	return result, nil
}

// Export writes axons.csv and summary.json for a simulated fascicle.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.FascicleID == "" {
		return ExportSummary{}, errors.New("export requires a fascicle id")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	result, err := c.Result(ctx, req.FascicleID)
	if err != nil {
		return ExportSummary{}, err
	}
	var geometry *Fascicle
	if f, ok, err := c.store.GetFascicle(ctx, req.FascicleID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		geometry = &f
	}

	dir, err := report.Export(req.OutDir, geometry, result)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{
		FascicleID: req.FascicleID,
		Directory:  filepath.Clean(dir),
		Summary:    report.Summarize(result),
	}, nil
}

// Profiles lists the bundled diameter profiles, optionally filtered by fiber
// type.
func (c *Client) Profiles(myelinated *bool) []ProfileItem {
	profiles := c.fitter.Profiles()
	names := population.ProfileNames(profiles, myelinated)
	items := make([]ProfileItem, 0, len(names))
	for _, name := range names {
		p := profiles[name]
		items = append(items, ProfileItem{Name: name, Myelinated: p.Myelinated, Source: p.Source, Mean: p.Mean()})
	}
	return items
}

func resolveConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return config.Load("")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
