// Package pipeline runs the classification workflow end to end: resolve the
// region, composite imagery, load labels, sample, train, evaluate, report
// and export.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/export"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/region"
	"github.com/sells-group/landcover-cli/internal/report"
	"github.com/sells-group/landcover-cli/internal/runlog"
	"github.com/sells-group/landcover-cli/internal/tiger"
)

// RegionResolver turns a boundary name into a geometry.
type RegionResolver interface {
	Resolve(ctx context.Context, name string) (*region.Geometry, error)
}

// SceneFetcher builds a clipped composite for a request.
type SceneFetcher interface {
	Fetch(ctx context.Context, req imagery.Request) (*imagery.Result, error)
}

// LabelLoader reads one label file.
type LabelLoader func(path string, opts labels.Options) (labels.Collection, error)

// Exporter writes rasters and label sets.
type Exporter interface {
	ExportRaster(ctx context.Context, r *raster.Raster, task export.Task) ([]string, error)
	ExportLabels(ctx context.Context, records labels.Collection, task export.Task) ([]string, error)
}

// Ledger records finished runs.
type Ledger interface {
	RecordRun(ctx context.Context, run *runlog.Run) error
}

// Pipeline wires the stages of a run to their dependencies.
type Pipeline struct {
	regions  RegionResolver
	scenes   SceneFetcher
	load     LabelLoader
	exporter Exporter
	ledger   Ledger
}

// New creates a Pipeline. A nil loader reads labels with labels.Load; the
// exporter and ledger are optional.
func New(regions RegionResolver, scenes SceneFetcher, load LabelLoader, exp Exporter, ledger Ledger) *Pipeline {
	if load == nil {
		load = labels.Load
	}
	return &Pipeline{
		regions:  regions,
		scenes:   scenes,
		load:     load,
		exporter: exp,
		ledger:   ledger,
	}
}

// Result is the outcome of a run.
type Result struct {
	RunID       string
	Report      *report.Report
	ReportFiles []string
	Exports     []string
	// ExportErrors holds export failures. They do not fail the run.
	ExportErrors []error
	Stages       *Stages
	Duration     time.Duration
}

// Run executes the workflow under params.Timeout and records the outcome in
// the ledger, if one is configured.
func (p *Pipeline) Run(ctx context.Context, params Params) (*Result, error) {
	started := time.Now().UTC()
	res := &Result{RunID: uuid.New().String()}
	log := zap.L().With(
		zap.String("run_id", res.RunID),
		zap.String("region", params.Region),
		zap.Uint64("seed", params.Sample.Seed),
	)
	log.Info("pipeline: starting run")

	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	res.Stages = p.Plan(params)
	err := p.run(ctx, params, started, res)
	res.Duration = time.Since(started)

	p.record(context.WithoutCancel(ctx), params, started, res, err)

	if err != nil {
		log.Error("pipeline: run failed",
			zap.String("kind", apperr.Kind(err)),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
		return nil, err
	}

	log.Info("pipeline: run complete",
		zap.Float64("accuracy", res.Report.Accuracy),
		zap.Float64("kappa", res.Report.Kappa),
		zap.Int("exports", len(res.Exports)),
		zap.Int("export_errors", len(res.ExportErrors)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, params Params, started time.Time, res *Result) error {
	st := res.Stages

	ev, err := st.Evaluation.Get(ctx)
	if err != nil {
		return err
	}
	// Everything below is memoised by the evaluation above.
	geom, err := st.Region.Get(ctx)
	if err != nil {
		return err
	}
	mosaic, err := st.Mosaic.Get(ctx)
	if err != nil {
		return err
	}
	records, err := st.Labels.Get(ctx)
	if err != nil {
		return err
	}
	split, err := st.Samples.Get(ctx)
	if err != nil {
		return err
	}
	model, err := st.Model.Get(ctx)
	if err != nil {
		return err
	}

	training, validation := split.Counts()
	features := model.Features()
	res.Report = &report.Report{
		RunID:             res.RunID,
		CreatedAt:         started,
		Seed:              params.Sample.Seed,
		Region:            geom.Name(),
		Collection:        params.Imagery.Collection,
		Start:             params.Imagery.Start,
		End:               params.Imagery.End,
		Scenes:            mosaic.Scenes,
		Coverage:          mosaic.Coverage,
		Labels:            records.Counts(),
		Duplicates:        records.Duplicates(),
		Samples:           len(split.Rows),
		SplitThreshold:    split.Threshold,
		Training:          training,
		Validation:        validation,
		Trees:             model.Trees(),
		Features:          features,
		Importance:        report.ImportanceList(features, model.Importance()),
		ErrorMatrix:       report.Matrix{Classes: ev.Matrix.Classes, Counts: ev.Matrix.Counts()},
		Accuracy:          ev.Accuracy,
		Kappa:             ev.Kappa,
		ProducersAccuracy: ev.ProducersAccuracy,
		ConsumersAccuracy: ev.ConsumersAccuracy,
	}

	if params.Export.Enabled {
		p.runExports(ctx, params, geom, res)
		res.Report.Exports = res.Exports
	} else {
		zap.L().Info("pipeline: exports disabled", zap.String("run_id", res.RunID))
	}

	// Written last so the files list what the exports produced.
	if params.Report.Dir != "" {
		files, err := report.WriteFiles(params.Report.Dir, params.Report.Formats, params.Report.Chart, res.Report)
		if err != nil {
			return apperr.Stage("report", params.Report.Dir, err)
		}
		res.ReportFiles = files
	}
	return nil
}

// runExports runs every export task. Failures are logged and kept on res.
func (p *Pipeline) runExports(ctx context.Context, params Params, geom *region.Geometry, res *Result) {
	log := zap.L().With(zap.String("run_id", res.RunID), zap.String("stage", "export"))
	if p.exporter == nil {
		res.ExportErrors = append(res.ExportErrors, apperr.Stage("export", "", eris.New("pipeline: exports enabled without an exporter")))
		return
	}

	st := res.Stages
	type job struct {
		desc  string
		scale float64
		src   func(ctx context.Context) (*raster.Raster, error)
	}
	var jobs []job
	if params.Landcover.Enabled {
		jobs = append(jobs, job{TaskLandcover, params.Export.LandcoverScale, rasterOf(st.Landcover.Get)})
	}
	jobs = append(jobs,
		job{TaskClassified, params.Export.ClassifiedScale, st.Classified.Get},
		job{TaskMosaic, params.Export.MosaicScale, rasterOf(st.Mosaic.Get)},
	)

	fail := func(desc string, err error) {
		var se *apperr.StageError
		if !errors.As(err, &se) {
			err = apperr.Stage("export", desc, err)
		}
		log.Error("pipeline: export failed", zap.String("task", desc), zap.Error(err))
		res.ExportErrors = append(res.ExportErrors, err)
	}

	for _, j := range jobs {
		r, err := j.src(ctx)
		if err != nil {
			fail(j.desc, err)
			continue
		}
		paths, err := p.exporter.ExportRaster(ctx, r, export.Task{
			Description: j.desc,
			Scale:       j.scale,
			CRS:         params.Export.CRS,
			Region:      geom,
		})
		if err != nil {
			fail(j.desc, err)
			continue
		}
		res.Exports = append(res.Exports, paths...)
	}

	records, err := st.Labels.Get(ctx)
	if err == nil {
		var paths []string
		paths, err = p.exporter.ExportLabels(ctx, records, export.Task{
			Description: TaskLabels,
			CRS:         params.Export.CRS,
			Region:      geom,
		})
		res.Exports = append(res.Exports, paths...)
	}
	if err != nil {
		fail(TaskLabels, err)
	}
}

func rasterOf(get func(ctx context.Context) (*imagery.Result, error)) func(ctx context.Context) (*raster.Raster, error) {
	return func(ctx context.Context) (*raster.Raster, error) {
		r, err := get(ctx)
		if err != nil {
			return nil, err
		}
		return r.Raster, nil
	}
}

// record writes the ledger entry for a run. Ledger failures are logged.
func (p *Pipeline) record(ctx context.Context, params Params, started time.Time, res *Result, runErr error) {
	if p.ledger == nil {
		return
	}
	log := zap.L().With(zap.String("run_id", res.RunID))

	run := &runlog.Run{
		ID:         res.RunID,
		Status:     runlog.StatusComplete,
		Region:     params.Region,
		Seed:       params.Sample.Seed,
		CreatedAt:  started,
		FinishedAt: started.Add(res.Duration),
	}
	switch {
	case runErr != nil:
		run.Status = runlog.StatusFailed
		run.ErrorKind = apperr.Kind(runErr)
		run.Error = runErr.Error()
	case len(res.ExportErrors) > 0:
		joined := errors.Join(res.ExportErrors...)
		run.ErrorKind = apperr.Kind(joined)
		run.Error = joined.Error()
	}

	if res.Report != nil {
		run.Accuracy = &res.Report.Accuracy
		run.Kappa = &res.Report.Kappa
		if b, err := json.Marshal(res.Report); err == nil {
			run.Report = b
		} else {
			log.Warn("pipeline: encode report for ledger", zap.Error(err))
		}
	}
	if st := res.Stages; st != nil && st.Region.Evaluated() {
		if geom, err := st.Region.Get(ctx); err == nil {
			if wkb, err := tiger.EncodeWKB(geom.MultiPolygon()); err == nil {
				run.RegionWKB = wkb
			}
		}
	}

	if err := p.ledger.RecordRun(ctx, run); err != nil {
		log.Warn("pipeline: record run", zap.Error(err))
	}
}
