package feasibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/parcel-feasibility/internal/arcgis"
	"github.com/sells-group/parcel-feasibility/internal/config"
	"github.com/sells-group/parcel-feasibility/internal/constraint"
	"github.com/sells-group/parcel-feasibility/internal/cost"
	"github.com/sells-group/parcel-feasibility/internal/geometry"
	"github.com/sells-group/parcel-feasibility/internal/layout"
	"github.com/sells-group/parcel-feasibility/internal/scorer"
)

// Exporter writes the artifacts of a finished run and returns their paths
// keyed by artifact name.
type Exporter interface {
	Export(ctx context.Context, s State) (map[string]string, error)
}

// TableLoader supplies the reference tables for one run.
type TableLoader func() (*config.Tables, error)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExporter sets the artifact exporter. Without one the export phase
// only records that nothing was written.
func WithExporter(e Exporter) Option {
	return func(o *Orchestrator) { o.exporter = e }
}

// WithReprojector sets the reprojector handed to constraint layers.
func WithReprojector(r *geometry.Reprojector) Option {
	return func(o *Orchestrator) { o.reproj = r }
}

// WithTables replaces the table loader.
func WithTables(load TableLoader) Option {
	return func(o *Orchestrator) { o.tables = load }
}

// WithParcelSources replaces the parcel lookup chain.
func WithParcelSources(sources []ParcelSource) Option {
	return func(o *Orchestrator) { o.parcelSources = sources }
}

// WithLayers replaces the constraint catalog with a fixed layer set.
func WithLayers(layers ...constraint.Layer) Option {
	return func(o *Orchestrator) { o.layers = layers }
}

// WithProgress registers a callback invoked with every new snapshot.
func WithProgress(fn func(State)) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// Orchestrator drives one parcel through the feasibility state machine.
type Orchestrator struct {
	fetcher       arcgis.Fetcher
	svcs          arcgis.Services
	cfg           *config.Config
	reproj        *geometry.Reprojector
	exporter      Exporter
	tables        TableLoader
	parcelSources []ParcelSource
	layers        []constraint.Layer
	progress      func(State)
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(f arcgis.Fetcher, svcs arcgis.Services, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{fetcher: f, svcs: svcs, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.reproj == nil {
		o.reproj = geometry.NewReprojector()
	}
	if o.tables == nil {
		o.tables = func() (*config.Tables, error) { return config.LoadTables(cfg.Tables) }
	}
	if o.parcelSources == nil {
		o.parcelSources = DefaultParcelSources(svcs)
	}
	return o
}

// run carries the per-run collaborators built from the tables.
type run struct {
	tables    *config.Tables
	evaluator *constraint.Evaluator
}

// Run executes the pipeline for one parcel. Parcel resolution errors are
// terminal and returned with a failed snapshot; every later failure is
// recorded on the state and the run continues. Gate stops skip straight to
// export.
func (o *Orchestrator) Run(ctx context.Context, parcelID string) (State, error) {
	log := zap.L().With(zap.String("component", "feasibility"), zap.String("parcel_id", parcelID))
	start := time.Now()
	s := NewState(parcelID)
	o.notify(s)

	tables, err := o.tables()
	if err != nil {
		return o.fail(s, eris.Wrap(err, "feasibility: load tables"))
	}
	r, err := o.prepare(tables)
	if err != nil {
		return o.fail(s, err)
	}

	s, err = o.resolveParcel(ctx, s)
	if err != nil {
		return o.fail(s, err)
	}

	s = o.stage(ctx, s, PhaseResolvingZoning, func(ctx context.Context, st *State) error {
		return o.resolveZoning(ctx, st, r)
	})
	if !s.Stopped {
		s = o.stage(ctx, s, PhaseEvaluatingConstraints, func(ctx context.Context, st *State) error {
			return o.evaluateConstraints(ctx, st, r)
		})
		s = o.stage(ctx, s, PhaseComputingBuildable, func(_ context.Context, st *State) error {
			return o.computeBuildable(st)
		})
	}
	if !s.Stopped {
		s = o.stage(ctx, s, PhaseGeneratingLayouts, func(_ context.Context, st *State) error {
			return o.generateLayouts(st)
		})
		s = o.stage(ctx, s, PhaseRefiningLayouts, func(ctx context.Context, st *State) error {
			return o.refineLayouts(ctx, st)
		})
		s = o.stage(ctx, s, PhaseScoring, func(_ context.Context, st *State) error {
			return o.score(st, r)
		})
	} else {
		s = s.next()
		s.Phase = PhaseStopped
		o.notify(s)
		log.Info("feasibility: stopped", zap.String("reason", s.StopReason))
	}

	if err := ctx.Err(); err != nil {
		return o.fail(s, eris.Wrap(err, "feasibility: run canceled"))
	}
	s = o.stage(ctx, s, PhaseExporting, o.export)

	s = s.next()
	s.Phase = PhaseDone
	s.Metrics["total_duration_ms"] = float64(time.Since(start).Milliseconds())
	o.notify(s)

	log.Info("feasibility: run complete",
		zap.Bool("stopped", s.Stopped),
		zap.Int("layouts", len(s.Layouts)),
		zap.String("best_layout", s.BestLayoutID),
		zap.Float64("best_score", s.BestScore),
		zap.Int("tags", len(s.Tags)),
		zap.Int("warnings", len(s.Warnings)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return s, nil
}

func (o *Orchestrator) prepare(tables *config.Tables) (*run, error) {
	layers := o.layers
	if layers == nil {
		reg := constraint.NewRegistry(constraint.Catalog(o.svcs, tables.Buffers, constraint.CatalogOptions{
			SlopeGrid: o.cfg.Pipeline.SlopeGridCells,
		})...)
		selected, err := reg.Select(o.cfg.Pipeline.Layers)
		if err != nil {
			return nil, eris.Wrap(err, "feasibility: select layers")
		}
		layers = selected
	}
	return &run{
		tables:    tables,
		evaluator: constraint.NewEvaluator(layers, o.cfg.Pipeline.LayerConcurrency),
	}, nil
}

func (o *Orchestrator) notify(s State) {
	if o.progress != nil {
		o.progress(s.clone())
	}
}

func (o *Orchestrator) fail(s State, err error) (State, error) {
	from := s.Phase
	s = s.next()
	s.Phase = PhaseFailed
	s.History = append(s.History, PhaseRecord{Phase: PhaseFailed, Error: err.Error(), From: from})
	o.notify(s)
	zap.L().Error("feasibility: run failed", zap.String("parcel_id", s.ParcelID), zap.Error(err))
	return s, err
}

// stage runs fn on a copy of in. A returned error or a panic discards the
// copy: the input is returned with a warning and the data-incomplete tag.
// A *partialError keeps the copy instead.
func (o *Orchestrator) stage(ctx context.Context, in State, phase Phase, fn func(context.Context, *State) error) State {
	log := zap.L().With(zap.String("component", "feasibility"), zap.String("parcel_id", in.ParcelID))

	out := in.next()
	out.Phase = phase
	o.notify(out)

	begin := time.Now()
	err := guard(ctx, &out, fn)
	duration := time.Since(begin).Milliseconds()

	if err != nil {
		failed := in.next()
		var partial *partialError
		if errors.As(err, &partial) {
			failed = out.clone()
			err = partial.err
		}
		failed.Version = out.Version + 1
		failed.Phase = phase
		failed.addWarning(fmt.Sprintf("%s failed: %v", phase, err))
		failed.addTag(TagDataIncomplete)
		failed.History = append(failed.History, PhaseRecord{Phase: phase, DurationMs: duration, Error: err.Error()})
		log.Error("feasibility: phase failed",
			zap.String("phase", string(phase)),
			zap.Int64("duration_ms", duration),
			zap.Error(err),
		)
		o.notify(failed)
		return failed
	}

	out.History = append(out.History, PhaseRecord{Phase: phase, DurationMs: duration})
	log.Info("feasibility: phase complete",
		zap.String("phase", string(phase)),
		zap.Int64("duration_ms", duration),
	)
	return out
}

func guard(ctx context.Context, s *State, fn func(context.Context, *State) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, s)
}

func (o *Orchestrator) resolveParcel(ctx context.Context, s State) (State, error) {
	begin := time.Now()
	out := s.next()
	out.Phase = PhaseResolvingParcel

	p, err := NewParcelResolver(o.fetcher, o.parcelSources).Resolve(ctx, s.ParcelID)
	if err != nil {
		return out, err
	}
	out.Parcel = p
	out.Metrics["parcel_area_sqft"] = p.Area()
	out.History = append(out.History, PhaseRecord{
		Phase:      PhaseResolvingParcel,
		DurationMs: time.Since(begin).Milliseconds(),
	})
	o.notify(out)
	return out, nil
}

func (o *Orchestrator) resolveZoning(ctx context.Context, s *State, r *run) error {
	res := NewZoningResolver(o.fetcher, o.svcs.Get(config.SourceZoning), r.tables.Zoning).Resolve(ctx, s.Parcel)
	for _, t := range res.Tags {
		s.addTag(t)
	}
	s.ZoneCode = res.Code

	switch {
	case res.Code == "":
		s.stop("no zone code for parcel")
		return nil
	case !res.Found:
		s.stop(fmt.Sprintf("no zoning standard for zone %s", res.Code))
		return nil
	}
	std := res.Standard
	s.Standard = &std

	if FailsParcelGate(s.Parcel.Area(), std) {
		s.stop(fmt.Sprintf("parcel area %.0f sq ft cannot hold two lots of %.0f sq ft", s.Parcel.Area(), std.MinLotArea))
	}
	return nil
}

func (o *Orchestrator) evaluateConstraints(ctx context.Context, s *State, r *run) error {
	env := constraint.Env{
		Fetcher:       o.fetcher,
		Reproj:        o.reproj,
		ZoneCode:      s.ZoneCode,
		OverlapImpact: o.cfg.Pipeline.OverlapImpact,
	}
	for _, res := range r.evaluator.EvaluateAll(ctx, env, s.Parcel.Geometry) {
		s.Constraints[res.Layer] = res
		s.LayerOrder = append(s.LayerOrder, res.Layer)
		for _, t := range res.Tags {
			s.addTag(t)
		}
		for _, w := range res.Warnings {
			s.addWarning(w)
		}
		for k, v := range res.Metrics {
			s.Metrics[res.Layer+"."+k] = v
		}
	}
	return nil
}

func (o *Orchestrator) computeBuildable(s *State) error {
	if s.Standard == nil {
		return eris.New("zoning standard missing")
	}
	b := ComputeBuildable(s.Parcel.Geometry, *s.Standard, s.ConstraintResults())
	s.Buildable = b.Geometry
	s.Metrics["buildable_area_sqft"] = b.Area
	s.Metrics["excluded_area_sqft"] = geometry.Area(b.Excluded)

	if FailsBuildableGate(b.Area, *s.Standard) {
		s.stop(fmt.Sprintf("buildable area %.0f sq ft cannot hold two lots of %.0f sq ft", b.Area, s.Standard.MinLotArea))
	}
	return nil
}

func (o *Orchestrator) generateLayouts(s *State) error {
	s.Layouts = layout.Generate(s.Buildable, *s.Standard, layout.Options{
		Roads:        s.roads(),
		MaxLots:      o.cfg.Pipeline.MaxLots,
		HybridLambda: o.cfg.Pipeline.HybridLambda,
	})
	s.Metrics["layouts_generated"] = float64(len(s.Layouts))
	if len(s.Layouts) == 0 {
		s.addWarning("no layout produced a valid lot")
	}
	return nil
}

// layoutIssueTags are raised to the run when any layout carries them.
var layoutIssueTags = []string{
	layout.TagStormwaterConstrained,
	layout.TagDrivewayInfeasible,
	layout.TagDrivewaySteep,
	layout.TagTightEnvelope,
	layout.TagElevationDataIncomplete,
}

func (o *Orchestrator) refineLayouts(ctx context.Context, s *State) error {
	if len(s.Layouts) == 0 {
		return nil
	}
	std := *s.Standard
	ls := ReserveStormwater(s.Layouts, geometry.Area(s.Buildable), o.cfg.Pipeline.StormwaterReservePct, std)
	ls = NewDrivewayRouter(o.fetcher, o.svcs.Get(config.SourceElevation), o.cfg.Driveway).Route(ctx, ls, s.roads())
	ls = PlaceEnvelopes(ls, std, o.cfg.Envelope)
	s.Layouts = ls

	for _, l := range ls {
		for _, t := range layoutIssueTags {
			if l.HasTag(t) {
				s.addTag(t)
			}
		}
	}
	return nil
}

func (o *Orchestrator) score(s *State, r *run) error {
	if len(s.Layouts) == 0 {
		return nil
	}
	ranked, scores := scorer.New(r.tables.Scoring.Weights).Rank(s.Layouts, s.Tags)
	s.Layouts = ranked
	for _, sc := range scores {
		s.Scores[sc.LayoutID] = sc
	}
	best := ranked[0]
	s.BestLayoutID, s.BestScore = best.ID, best.Score
	for _, t := range scorer.SummaryTags(best) {
		s.addTag(t)
	}

	site := cost.Site{
		WellRequired:   s.HasTag("RISK_WELL_REQUIRED"),
		SepticRequired: s.HasTag("RISK_SEPTIC_REQUIRED"),
	}
	s.Costs = cost.NewCalculator(r.tables.Scoring.Costs).EstimateAll(ranked, site)
	s.Metrics["best_score"] = best.Score
	return nil
}

func (o *Orchestrator) export(ctx context.Context, s *State) error {
	if o.exporter == nil {
		return nil
	}
	paths, err := o.exporter.Export(ctx, *s)
	for k, v := range paths {
		s.Artifacts[k] = v
	}
	if err != nil {
		return &partialError{err: eris.Wrap(err, "export")}
	}
	return nil
}

// partialError is a stage error whose changes to the state are kept.
type partialError struct {
	err error
}

func (e *partialError) Error() string { return e.err.Error() }

func (e *partialError) Unwrap() error { return e.err }

// roads returns the road centerlines kept by the roads layer.
func (s State) roads() []geom.T {
	res, ok := s.Constraints[constraint.LayerRoads]
	if !ok {
		return nil
	}
	var out []geom.T
	for _, f := range res.Features {
		if f.Geometry != nil {
			out = append(out, f.Geometry)
		}
	}
	return out
}
