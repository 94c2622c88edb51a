// Package pipeline runs the risk mapping pipeline end to end: load, align,
// estimate, classify, aggregate and export, tracking each phase in the run
// ledger.
package pipeline

import (
	"context"
	"math"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/riskmap-cli/internal/align"
	"github.com/sells-group/riskmap-cli/internal/aoi"
	"github.com/sells-group/riskmap-cli/internal/classify"
	"github.com/sells-group/riskmap-cli/internal/config"
	"github.com/sells-group/riskmap-cli/internal/grid"
	"github.com/sells-group/riskmap-cli/internal/model"
	"github.com/sells-group/riskmap-cli/internal/monitoring"
	"github.com/sells-group/riskmap-cli/internal/raster"
	"github.com/sells-group/riskmap-cli/internal/risk"
	"github.com/sells-group/riskmap-cli/internal/store"
	"github.com/sells-group/riskmap-cli/internal/threshold"
)

// Phase names as recorded in the ledger.
const (
	PhaseLoad      = "load"
	PhaseAlign     = "align"
	PhaseEstimate  = "estimate"
	PhaseClassify  = "classify"
	PhaseAggregate = "aggregate"
	PhaseExport    = "export"
)

// OpenFunc returns the reader for a source kind.
type OpenFunc func(kind raster.Kind, opts raster.Options) (raster.Reader, error)

// Pipeline orchestrates one risk mapping run.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	metrics *monitoring.Metrics
	warper  raster.Warper
	open    OpenFunc
	clock   clockwork.Clock
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records run and phase metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWarper replaces the GDAL warper.
func WithWarper(w raster.Warper) Option {
	return func(p *Pipeline) { p.warper = w }
}

// WithOpener replaces raster.Open.
func WithOpener(fn OpenFunc) Option {
	return func(p *Pipeline) { p.open = fn }
}

// WithClock sets the clock used for phase durations.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// New creates a Pipeline. The GDAL warper, raster.Open and the real clock
// are used unless overridden.
func New(cfg *config.Config, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:   cfg,
		store: st,
		open:  raster.Open,
		clock: clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.warper == nil {
		p.warper = raster.NewGDALWarper()
	}
	return p
}

// Result holds every grid produced by a run.
type Result struct {
	Run *model.Run
	AOI *aoi.AOI
	// Layers are the aligned input layers in configuration order.
	Layers []*grid.Grid
	Specs  []threshold.Spec
	// Binary is nil when a layer has no binary interval.
	Binary   *grid.Grid
	Ranked   []*grid.Grid
	PerLayer []*grid.Grid
	Risk     *grid.Grid
	// Variants maps a left-out layer name to the composite without it.
	Variants map[string]*grid.Grid
	Outputs  []model.Output
	Summary  *model.RunResult

	thresholds *threshold.Set
}

// Run executes the full pipeline for the configured layers.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	log := zap.L().With(zap.String("reference", p.cfg.Input.Reference))

	res := &Result{Variants: make(map[string]*grid.Grid)}
	summary := &model.RunResult{}
	res.Summary = summary

	newRun := store.NewRun{Reference: p.cfg.Input.Reference, AOI: p.cfg.Input.AOI}
	for _, l := range p.cfg.EnabledLayers() {
		newRun.Layers = append(newRun.Layers, l.Name)
	}
	if p.cfg.Input.AOI != "" {
		a, err := aoi.Load(p.cfg.Input.AOI)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load aoi")
		}
		res.AOI = a
		if wkb, err := a.WKB(); err == nil {
			newRun.AOIWKB = wkb
		}
	}

	run, err := p.store.CreateRun(ctx, newRun)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	res.Run = run
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: starting run", zap.Strings("layers", newRun.Layers))

	start := p.clock.Now()
	if p.metrics != nil {
		p.metrics.RunsActive.Inc()
		defer p.metrics.RunsActive.Dec()
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		phaseStart := p.clock.Now()
		phaseResult, fnErr := fn()
		elapsed := p.clock.Since(phaseStart)
		duration := elapsed.Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		switch {
		case fnErr != nil:
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
			if p.metrics != nil {
				p.metrics.PhaseErrors.WithLabelValues(name).Inc()
			}
		case phaseResult.Status == model.PhaseStatusSkipped:
			log.Info("pipeline: phase skipped", zap.String("phase", name))
		default:
			phaseResult.Status = model.PhaseStatusComplete
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		if p.metrics != nil {
			p.metrics.PhaseSeconds.WithLabelValues(name).Observe(elapsed.Seconds())
		}

		if phase != nil {
			if err := p.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, phaseResult); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		summary.Phases = append(summary.Phases, *phaseResult)
		return fnErr
	}

	fail := func(err error) (*Result, error) {
		summary.Error = err.Error()
		if updErr := p.store.UpdateRunResult(context.WithoutCancel(ctx), run.ID, model.RunStatusFailed, summary); updErr != nil {
			log.Error("pipeline: failed to record run failure", zap.Error(updErr))
		}
		if p.metrics != nil {
			p.metrics.RunsTotal.WithLabelValues(string(model.RunStatusFailed)).Inc()
			p.metrics.RunDuration.Observe(p.clock.Since(start).Seconds())
		}
		run.Status = model.RunStatusFailed
		run.Result = summary
		return res, err
	}

	steps := []struct {
		status model.RunStatus
		name   string
		fn     func() (*model.PhaseResult, error)
	}{
		{model.RunStatusLoading, PhaseLoad, func() (*model.PhaseResult, error) { return p.load(ctx, res) }},
		{model.RunStatusAligning, PhaseAlign, func() (*model.PhaseResult, error) { return p.align(ctx, res) }},
		{model.RunStatusScoring, PhaseEstimate, func() (*model.PhaseResult, error) { return p.estimate(res) }},
		{model.RunStatusScoring, PhaseClassify, func() (*model.PhaseResult, error) { return p.classify(ctx, res) }},
		{model.RunStatusScoring, PhaseAggregate, func() (*model.PhaseResult, error) { return p.aggregate(res) }},
		{model.RunStatusExporting, PhaseExport, func() (*model.PhaseResult, error) { return p.export(ctx, res) }},
	}
	current := model.RunStatusQueued
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return fail(eris.Wrap(err, "pipeline: run cancelled"))
		}
		if s.status != current {
			if err := p.store.UpdateRunStatus(ctx, run.ID, s.status); err != nil {
				log.Warn("pipeline: failed to update run status", zap.String("status", string(s.status)), zap.Error(err))
			}
			current = s.status
		}
		if err := trackPhase(s.name, s.fn); err != nil {
			return fail(eris.Wrapf(err, "pipeline: %s", s.name))
		}
	}

	stats := res.Risk.Stats()
	summary.Rows = res.Risk.Rows()
	summary.Cols = res.Risk.Cols()
	summary.ValidPixels = stats.Valid
	if stats.Valid > 0 {
		summary.MeanRisk = stats.Mean
		summary.MaxRisk = stats.Max
	} else {
		log.Warn("pipeline: composite risk has no valid pixels")
	}
	summary.Outputs = len(res.Outputs)
	for _, l := range res.Layers {
		if _, ok := res.Variants[l.Name]; ok {
			summary.Variants = append(summary.Variants, l.Name)
		}
	}

	if err := p.store.UpdateRunResult(ctx, run.ID, model.RunStatusComplete, summary); err != nil {
		return fail(eris.Wrap(err, "pipeline: update run result"))
	}
	run.Status = model.RunStatusComplete
	run.Result = summary

	if p.metrics != nil {
		p.metrics.RunsTotal.WithLabelValues(string(model.RunStatusComplete)).Inc()
		p.metrics.RunDuration.Observe(p.clock.Since(start).Seconds())
		if stats.Valid > 0 {
			p.metrics.RiskMean.Set(stats.Mean)
		}
	}
	log.Info("pipeline: run complete",
		zap.Int("valid_pixels", stats.Valid),
		zap.Float64("mean_risk", stats.Mean),
		zap.Int("outputs", len(res.Outputs)),
	)
	return res, nil
}

// load reads every enabled layer concurrently, keeping configuration order.
func (p *Pipeline) load(ctx context.Context, res *Result) (*model.PhaseResult, error) {
	layers := p.cfg.EnabledLayers()
	out := make([]*grid.Grid, len(layers))

	g, gCtx := errgroup.WithContext(ctx)
	if n := p.cfg.Pipeline.MaxConcurrentLayers; n > 0 {
		g.SetLimit(n)
	}
	for i, l := range layers {
		g.Go(func() error {
			r, err := p.open(raster.Kind(strings.ToLower(l.Kind)), raster.Options{
				Name:     l.Name,
				Variable: l.Variable,
				Group:    l.Group,
			})
			if err != nil {
				return eris.Wrapf(err, "pipeline: layer %s", l.Name)
			}
			grd, err := r.Read(gCtx, l.Path)
			if err != nil {
				return eris.Wrapf(err, "pipeline: read %s", l.Name)
			}
			grd.Name = l.Name
			out[i] = grd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Layers = out

	meta := make(map[string]any, len(out))
	for _, l := range out {
		meta[l.Name] = l.Metadata().String()
	}
	return &model.PhaseResult{Metadata: meta}, nil
}

func (p *Pipeline) align(ctx context.Context, res *Result) (*model.PhaseResult, error) {
	method, err := raster.ParseResampling(p.cfg.Align.Resampling)
	if err != nil {
		return nil, err
	}
	var (
		bounds   grid.Bounds
		mismatch []string
	)
	if res.AOI != nil {
		bounds = res.AOI.Buffered(p.cfg.Align.Buffer)
		for _, l := range res.AOI.MismatchedCRS(res.Layers) {
			zap.L().Warn("pipeline: AOI and layer CRS differ, cropping with AOI coordinates as-is",
				zap.String("layer", l.Name),
				zap.String("layer_crs", l.CRS),
				zap.String("aoi_crs", res.AOI.CRS),
			)
			mismatch = append(mismatch, l.Name)
		}
	}
	a := align.New(p.warper, align.WithResampling(method), align.WithScale(p.cfg.Align.Scale))
	aligned, err := a.Align(ctx, res.Layers, bounds, p.cfg.Input.Reference)
	if err != nil {
		return nil, err
	}
	res.Layers = aligned

	ref := aligned[0]
	for _, l := range aligned {
		st := l.Stats()
		if p.metrics != nil {
			p.metrics.LayerPixels.WithLabelValues(l.Name, "valid").Set(float64(st.Valid))
			p.metrics.LayerPixels.WithLabelValues(l.Name, "nodata").Set(float64(st.NoData))
		}
		if strings.EqualFold(l.Name, p.cfg.Input.Reference) {
			ref = l
		}
	}
	meta := map[string]any{
		"rows":       ref.Rows(),
		"cols":       ref.Cols(),
		"crs":        ref.CRS,
		"resampling": string(method),
	}
	if len(mismatch) > 0 {
		meta["crs_mismatch"] = mismatch
	}
	return &model.PhaseResult{Metadata: meta}, nil
}

// estimate resolves the risk levels of every layer, from quantiles for the
// layers selected for estimation and from the threshold file or built-in
// tables otherwise.
func (p *Pipeline) estimate(res *Result) (*model.PhaseResult, error) {
	set := threshold.Defaults()
	if p.cfg.Thresholds.File != "" {
		s, err := threshold.LoadFile(p.cfg.Thresholds.File)
		if err != nil {
			return nil, err
		}
		set = s
	}

	pr := &model.PhaseResult{Metadata: map[string]any{}}
	if p.cfg.Thresholds.Estimate {
		for _, l := range res.Layers {
			if !p.cfg.Thresholds.Estimated(l.Name) {
				continue
			}
			spec, err := threshold.EstimateQuantiles(l, p.cfg.Thresholds.Quantiles, threshold.EstimateOptions{
				Ignore: p.cfg.Thresholds.Ignore,
			})
			if err != nil {
				return nil, err
			}
			set.Override(l.Name, spec)
			pr.Metadata[l.Name] = spec
		}
	} else {
		pr.Status = model.PhaseStatusSkipped
	}

	res.Specs = make([]threshold.Spec, len(res.Layers))
	for i, l := range res.Layers {
		spec, err := set.Spec(l.Name)
		if err != nil {
			return nil, err
		}
		res.Specs[i] = spec
	}
	res.thresholds = set
	return pr, nil
}

func (p *Pipeline) classify(ctx context.Context, res *Result) (*model.PhaseResult, error) {
	intervals := make([]threshold.Interval, 0, len(res.Layers))
	for _, l := range res.Layers {
		iv, err := res.thresholds.Interval(l.Name)
		if err != nil {
			zap.L().Warn("pipeline: no binary interval, skipping binary classification",
				zap.String("layer", l.Name), zap.Error(err))
			intervals = nil
			break
		}
		intervals = append(intervals, iv)
	}
	if intervals != nil {
		bin, err := classify.Combine(res.Layers, intervals, false)
		if err != nil {
			return nil, err
		}
		res.Binary = bin
	}

	ranked, err := classify.RankAll(ctx, res.Layers, res.Specs)
	if err != nil {
		return nil, err
	}
	res.Ranked = ranked

	meta := map[string]any{"binary": res.Binary != nil}
	if res.Binary != nil {
		meta["binary_hits"] = res.Binary.Histogram()[1]
	}
	return &model.PhaseResult{Metadata: meta}, nil
}

func (p *Pipeline) aggregate(res *Result) (*model.PhaseResult, error) {
	opts := risk.Options{
		Average:    p.cfg.Risk.Average,
		Discrete:   p.cfg.Risk.Discrete,
		FirstMatch: p.cfg.Risk.FirstMatch,
	}

	perLayer, err := risk.PerLayer(res.Layers, res.Specs, opts)
	if err != nil {
		return nil, err
	}
	res.PerLayer = perLayer

	composite, err := risk.Aggregate(res.Layers, res.Specs, opts)
	if err != nil {
		return nil, err
	}
	res.Risk = composite

	for _, name := range p.cfg.Risk.LeaveOut {
		layer := layerByName(res.Layers, name)
		if layer == nil {
			return nil, eris.Errorf("pipeline: leave-out layer %q not loaded", name)
		}
		layers, specs := risk.Without(res.Layers, res.Specs, layer.Name)
		if len(layers) == 0 {
			return nil, eris.Errorf("pipeline: leaving out %s leaves no layers", layer.Name)
		}
		v, err := risk.Aggregate(layers, specs, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: variant without %s", layer.Name)
		}
		v.Name = risk.NameComposite + " without " + layer.Name
		res.Variants[layer.Name] = v
	}

	st := composite.Stats()
	return &model.PhaseResult{Metadata: map[string]any{
		"valid":    st.Valid,
		"mean":     finite(st.Mean),
		"max":      finite(st.Max),
		"variants": len(res.Variants),
	}}, nil
}

// finite returns v, or nil for NaN and infinities which JSON cannot encode.
func finite(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func layerByName(layers []*grid.Grid, name string) *grid.Grid {
	for _, l := range layers {
		if strings.EqualFold(l.Name, name) {
			return l
		}
	}
	return nil
}
