package fascicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"nervesim/internal/cable"
	"nervesim/internal/field"
	"nervesim/internal/model"
	"nervesim/internal/procgroup"
	"nervesim/internal/storage"
)

const root = 0

var ErrUnknownAxon = errors.New("requested axon is not part of the fascicle")

// Job is one fascicle simulation request. AxonIDs restricts the run to a
// subset; nil simulates every axon. Geometry overrides the mesh spec derived
// from the FEM electrodes.
type Job struct {
	Fascicle model.Fascicle
	Stim     *field.Context
	Intra    []cable.IntraStim
	AxonIDs  []int
	Geometry *field.GeometrySpec
}

func (j Job) requested() []int {
	if j.AxonIDs == nil {
		return j.Fascicle.AxonIDs()
	}
	seen := make(map[int]struct{}, len(j.AxonIDs))
	ids := make([]int, 0, len(j.AxonIDs))
	for _, id := range j.AxonIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (j Job) usesFEM() bool {
	return j.Stim != nil && j.Stim.HasFEM()
}

// Orchestrator distributes the axons of a fascicle over a process group.
// Mesher and Solver are only needed for FEM stimulation; Store is optional
// and enables per-axon persistence and resume.
type Orchestrator struct {
	Config RuntimeConfig
	Cable  cable.Oracle
	Mesher field.MeshBuilder
	Solver field.Solver
	Store  storage.Store

	// OnStatus observes every rank state transition.
	OnStatus func(rank int, status model.WorkerStatus)

	board statusBoard
}

// rankOutcome is what every rank contributes to the final gather.
type rankOutcome struct {
	Rank       int
	Status     model.WorkerStatus
	Results    map[int]model.AxonResult
	Failed     int
	Footprints map[int]map[string][]float64 // by axon, then electrode label
}

// resumeState is what the root broadcasts before any work starts.
// FieldCached means every pending axon already has its FEM footprints, so
// no mesh is built and no field is solved.
type resumeState struct {
	Pending     []int
	FieldCached bool
}

// Statuses returns the state of every rank of the current or last run.
func (o *Orchestrator) Statuses() []model.WorkerStatus {
	return o.board.snapshot()
}

func (o *Orchestrator) setStatus(rank int, status model.WorkerStatus) {
	o.board.set(rank, status)
	if o.OnStatus != nil {
		o.OnStatus(rank, status)
	}
}

// Simulate runs job over a world of Config.Workers ranks and returns the
// merged result. Per-axon failures only shrink the result; configuration
// errors and cancellation are returned.
func (o *Orchestrator) Simulate(ctx context.Context, job Job) (model.FascicleResult, error) {
	cfg := normalizeRuntimeConfig(o.Config)
	if err := o.check(cfg, job); err != nil {
		return model.FascicleResult{}, err
	}
	o.board.reset(cfg.Workers)

	var result model.FascicleResult
	err := procgroup.Run(ctx, cfg.Workers, func(ctx context.Context, comm procgroup.Comm) error {
		res, err := o.RunRank(ctx, comm, job)
		if err != nil {
			return err
		}
		if comm.Rank() == root {
			result = res
		}
		return nil
	})
	if err != nil {
		return model.FascicleResult{}, err
	}
	return result, nil
}

func (o *Orchestrator) check(cfg RuntimeConfig, job Job) error {
	if o.Cable == nil {
		return ErrMissingOracle
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	if job.usesFEM() {
		if !cfg.FEMEnabled {
			return ErrFEMDisabled
		}
		if o.Mesher == nil || o.Solver == nil {
			return ErrMissingFEM
		}
	}
	if cfg.Block != nil {
		if _, err := blockPosition(cfg.Block, job.Stim); err != nil {
			return err
		}
	}
	for _, id := range job.requested() {
		if _, ok := job.Fascicle.Axon(id); !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAxon, id)
		}
	}
	return nil
}

// RunRank is the program every rank executes. Only the root returns the
// merged result; other ranks return a zero result.
func (o *Orchestrator) RunRank(ctx context.Context, comm procgroup.Comm, job Job) (model.FascicleResult, error) {
	cfg := normalizeRuntimeConfig(o.Config)
	if err := o.check(cfg, job); err != nil {
		return model.FascicleResult{}, err
	}
	rank, size := comm.Rank(), comm.Size()
	logger := cfg.Logger.With("fascicle", job.Fascicle.ID, "rank", rank)
	o.setStatus(rank, model.StatusPreparing)

	requested := job.requested()
	var (
		state   resumeState
		resumed map[int]model.AxonResult
	)
	if rank == root {
		var err error
		if state, resumed, err = o.resume(ctx, cfg, job.Fascicle.ID, requested); err != nil {
			return model.FascicleResult{}, err
		}
		if len(resumed) > 0 {
			logger.Info("resuming fascicle", "persisted", len(resumed), "pending", len(state.Pending))
		}
		if job.usesFEM() && job.Stim.FEMCached(state.Pending) {
			state.FieldCached = true
			logger.Info("reusing cached field footprints", "axons", len(state.Pending))
		}
	}
	shared, err := comm.Bcast(ctx, root, state)
	if err != nil {
		return model.FascicleResult{}, err
	}
	state = shared.(resumeState)

	solveField := job.usesFEM() && !state.FieldCached
	var outcome rankOutcome
	if solveField && !o.Solver.Parallel() && size > 1 {
		if rank == root {
			outcome, err = o.serve(ctx, comm, cfg, job, logger)
		} else {
			chunk := Partition(state.Pending, size-1)[rank-1]
			outcome, err = o.work(ctx, rank, cfg, job, chunk, logger, func(stim *field.Context) field.Resolver {
				return &field.RemoteOracle{Context: stim, Medium: cfg.Medium, Comm: comm, Root: root}
			})
			if err == nil {
				report := procgroup.StatusReport{Rank: rank, Status: outcome.Status, AxonID: outcome.Failed}
				err = comm.Send(ctx, root, report)
			}
		}
	} else {
		var solved field.SolvedModel
		if solveField {
			if rank == root {
				if solved, err = o.solve(ctx, cfg, job, logger); err != nil {
					return model.FascicleResult{}, err
				}
			}
			shared, err := comm.Bcast(ctx, root, solved)
			if err != nil {
				return model.FascicleResult{}, err
			}
			solved, _ = shared.(field.SolvedModel)
		}
		chunk := Partition(state.Pending, size)[rank]
		outcome, err = o.work(ctx, rank, cfg, job, chunk, logger, func(stim *field.Context) field.Resolver {
			return &field.LocalOracle{Context: stim, Medium: cfg.Medium, Model: solved}
		})
	}
	if err != nil {
		return model.FascicleResult{}, err
	}

	if err := comm.Barrier(ctx); err != nil {
		return model.FascicleResult{}, err
	}
	gathered, err := comm.Gather(ctx, root, outcome)
	if err != nil {
		return model.FascicleResult{}, err
	}
	if rank != root {
		return model.FascicleResult{}, nil
	}

	keepFootprints(job.Stim, gathered)
	result := merge(job.Fascicle.ID, requested, resumed, gathered, logger)
	if o.Store != nil {
		if err := o.Store.SaveResult(ctx, result); err != nil {
			return model.FascicleResult{}, fmt.Errorf("save result of %s: %w", job.Fascicle.ID, err)
		}
	}
	return result, nil
}

// resume splits requested into the IDs still to simulate and the results
// already persisted by an earlier run.
func (o *Orchestrator) resume(ctx context.Context, cfg RuntimeConfig, fascicleID string, requested []int) (resumeState, map[int]model.AxonResult, error) {
	if !cfg.Resume || o.Store == nil {
		return resumeState{Pending: requested}, nil, nil
	}
	persisted, err := o.Store.ListAxonRecords(ctx, fascicleID)
	if err != nil {
		return resumeState{}, nil, fmt.Errorf("list persisted axons of %s: %w", fascicleID, err)
	}
	done := make(map[int]struct{}, len(persisted))
	for _, id := range persisted {
		done[id] = struct{}{}
	}

	state := resumeState{Pending: make([]int, 0, len(requested))}
	resumed := make(map[int]model.AxonResult)
	for _, id := range requested {
		if _, ok := done[id]; !ok {
			state.Pending = append(state.Pending, id)
			continue
		}
		record, ok, err := o.Store.GetAxonRecord(ctx, fascicleID, id)
		if err != nil {
			return resumeState{}, nil, fmt.Errorf("load persisted axon %d: %w", id, err)
		}
		if !ok {
			state.Pending = append(state.Pending, id)
			continue
		}
		resumed[id] = record.Result
	}
	return state, resumed, nil
}

// solve builds the mesh and solves the field once for every FEM label of
// the job.
func (o *Orchestrator) solve(ctx context.Context, cfg RuntimeConfig, job Job, logger *slog.Logger) (field.SolvedModel, error) {
	spec := femGeometry(job)
	mesh, err := o.Mesher.Build(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("build mesh: %w", err)
	}
	labels := job.Stim.FEMLabels()
	solved, err := o.Solver.Solve(ctx, mesh, cfg.Medium, labels)
	if err != nil {
		return nil, fmt.Errorf("solve field: %w", err)
	}
	logger.Info("field solved", "labels", labels, "nodes", mesh.Nodes)
	return solved, nil
}

// serve is the root's side of the master/slave protocol: it solves the
// field once, answers field requests in arrival order and returns when
// every other rank has reported a terminal status.
func (o *Orchestrator) serve(ctx context.Context, comm procgroup.Comm, cfg RuntimeConfig, job Job, logger *slog.Logger) (rankOutcome, error) {
	o.setStatus(root, model.StatusServer)
	solved, err := o.solve(ctx, cfg, job, logger)
	if err != nil {
		return rankOutcome{}, err
	}

	terminal := make(map[int]struct{}, comm.Size()-1)
	served := 0
	for len(terminal) < comm.Size()-1 {
		env, err := comm.Recv(ctx)
		if err != nil {
			return rankOutcome{}, err
		}
		switch msg := env.Msg.(type) {
		case procgroup.FieldRequest:
			if err := comm.Send(ctx, env.Source, field.Serve(solved, msg)); err != nil {
				return rankOutcome{}, err
			}
			served++
		case procgroup.StatusReport:
			o.setStatus(env.Source, msg.Status)
			if msg.Status.IsTerminal() {
				terminal[env.Source] = struct{}{}
			}
		default:
			logger.Warn("ignoring unexpected message", "source", env.Source, "type", fmt.Sprintf("%T", env.Msg))
		}
	}
	logger.Debug("field server finished", "requests", served)

	o.setStatus(root, model.StatusSuccess)
	return rankOutcome{Rank: root, Status: model.StatusSuccess, Failed: -1}, nil
}

// work simulates ids in ascending order. The first per-axon failure is
// reported in the outcome and stops the loop; cancellation is returned.
func (o *Orchestrator) work(ctx context.Context, rank int, cfg RuntimeConfig, job Job, ids []int, logger *slog.Logger, resolver func(*field.Context) field.Resolver) (rankOutcome, error) {
	o.setStatus(rank, model.StatusComputing)
	stim := field.NewContext()
	if job.Stim != nil {
		stim = job.Stim.Clone()
	}
	res := resolver(stim)

	outcome := rankOutcome{
		Rank:       rank,
		Results:    make(map[int]model.AxonResult, len(ids)),
		Failed:     -1,
		Footprints: make(map[int]map[string][]float64, len(ids)),
	}
	for _, id := range ids {
		axon, _ := job.Fascicle.Axon(id)
		result, err := o.simulateAxon(ctx, cfg, job, axon, stim, res)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return rankOutcome{}, ctxErr
			}
			logger.Error("axon simulation failed", "axon", id, "error", err)
			outcome.Status = model.StatusError
			outcome.Failed = id
			o.setStatus(rank, model.StatusError)
			return outcome, nil
		}
		outcome.Results[id] = result
		if fps := stim.AxonFootprints(id); len(fps) > 0 {
			outcome.Footprints[id] = fps
		}
	}
	outcome.Status = model.StatusSuccess
	o.setStatus(rank, model.StatusSuccess)
	logger.Debug("worker finished", "axons", len(ids))
	return outcome, nil
}

// keepFootprints stores the footprints computed by every rank in the job's
// context so later runs over the same geometry reuse them. Only the root
// calls it, after the gather.
func keepFootprints(stim *field.Context, gathered []any) {
	if stim == nil {
		return
	}
	for _, value := range gathered {
		outcome, ok := value.(rankOutcome)
		if !ok {
			continue
		}
		for id, fps := range outcome.Footprints {
			for label, fp := range fps {
				stim.SetFootprint(id, label, fp)
			}
		}
	}
}

// merge combines resumed and freshly gathered results. Requested IDs that
// no rank produced are listed in Missing and reported in one warning.
func merge(fascicleID string, requested []int, resumed map[int]model.AxonResult, gathered []any, logger *slog.Logger) model.FascicleResult {
	result := model.NewFascicleResult(fascicleID)
	result.Requested = requested
	for id, axon := range resumed {
		result.Axons[id] = axon
	}
	result.Statuses = make([]model.WorkerStatus, len(gathered))
	for rank, value := range gathered {
		outcome, ok := value.(rankOutcome)
		if !ok {
			continue
		}
		result.Statuses[rank] = outcome.Status
		if outcome.Status == model.StatusError {
			logger.Warn("worker stopped after an axon failure", "worker", rank, "axon", outcome.Failed)
		}
		for id, axon := range outcome.Results {
			result.Axons[id] = axon
		}
	}
	for _, id := range requested {
		if _, ok := result.Axons[id]; !ok {
			result.Missing = append(result.Missing, id)
		}
	}
	if len(result.Missing) > 0 {
		logger.Warn("axons were not simulated", "count", len(result.Missing), "ids", result.Missing)
	}
	result.Tally()
	return result
}
