package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/classifier"
	"github.com/sells-group/landcover-cli/internal/evaluate"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/lazy"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/region"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// Stages holds the deferred results of one run. Nothing is computed until a
// stage's Get is called; each stage runs at most once.
type Stages struct {
	Region     *lazy.Value[*region.Geometry]
	Mosaic     *lazy.Value[*imagery.Result]
	Landcover  *lazy.Value[*imagery.Result]
	Labels     *lazy.Value[labels.Collection]
	Samples    *lazy.Value[*sample.Split]
	Model      *lazy.Value[*classifier.Model]
	Evaluation *lazy.Value[*evaluate.Result]
	Classified *lazy.Value[*raster.Raster]
}

// Plan declares the stages of a run without evaluating any of them.
func (p *Pipeline) Plan(params Params) *Stages {
	s := &Stages{}

	s.Region = stage("region", params.Region, func(ctx context.Context) (*region.Geometry, error) {
		return p.regions.Resolve(ctx, params.Region)
	})

	img := params.Imagery
	s.Mosaic = stage("mosaic", describeDates(img.Collection, img.Start, img.End), func(ctx context.Context) (*imagery.Result, error) {
		geom, err := s.Region.Get(ctx)
		if err != nil {
			return nil, err
		}
		return p.scenes.Fetch(ctx, imagery.Request{
			Collection: img.Collection,
			Start:      img.Start,
			End:        img.End,
			Area:       geom,
			Bands:      img.Bands,
			Assets:     img.Assets,
			Scale:      img.Scale,
			Rule:       img.Rule,
		})
	})

	lc := params.Landcover
	s.Landcover = stage("landcover", describeDates(lc.Collection, lc.Start, lc.End), func(ctx context.Context) (*imagery.Result, error) {
		if !lc.Enabled {
			return nil, eris.New("pipeline: land-cover raster is disabled")
		}
		geom, err := s.Region.Get(ctx)
		if err != nil {
			return nil, err
		}
		return p.scenes.Fetch(ctx, imagery.Request{
			Collection: lc.Collection,
			Start:      lc.Start,
			End:        lc.End,
			Area:       geom,
			Bands:      []string{LandcoverBand},
			Assets:     map[string]string{LandcoverBand: lc.Asset},
			Scale:      lc.Scale,
			Rule:       imagery.MostRecent,
		})
	})

	lp := params.Labels
	s.Labels = stage("labels", lp.Positive+", "+lp.Negative, func(_ context.Context) (labels.Collection, error) {
		var positive, negative labels.Collection
		var g errgroup.Group
		g.Go(func() error {
			var err error
			positive, err = p.load(lp.Positive, labels.Options{ClassProperty: lp.ClassProperty, DefaultClass: lp.PositiveClass})
			return err
		})
		g.Go(func() error {
			var err error
			negative, err = p.load(lp.Negative, labels.Options{ClassProperty: lp.ClassProperty, DefaultClass: lp.NegativeClass})
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		merged := labels.Merge(positive, negative)
		if err := merged.Validate(lp.PositiveClass, lp.NegativeClass); err != nil {
			return nil, err
		}
		zap.L().Info("labels merged",
			zap.String("component", "pipeline.labels"),
			zap.Int("positive", len(positive)),
			zap.Int("negative", len(negative)),
		)
		return merged, nil
	})

	sp := params.Sample
	s.Samples = stage("samples", fmt.Sprintf("scale=%gm split=%g seed=%d", sp.Scale, sp.Split, sp.Seed), func(ctx context.Context) (*sample.Split, error) {
		var (
			mosaic  *imagery.Result
			records labels.Collection
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			mosaic, err = s.Mosaic.Get(gctx)
			return err
		})
		g.Go(func() error {
			var err error
			records, err = s.Labels.Get(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}

		features, err := mosaic.Raster.Select(params.Features)
		if err != nil {
			return nil, err
		}
		table, err := sample.Extract(features, records, sample.Options{Scale: sp.Scale, OutOfBounds: sp.OutOfBounds})
		if err != nil {
			return nil, err
		}
		split, err := sample.SplitTable(table, sp.Split, sp.Seed)
		if err != nil {
			return nil, err
		}
		if sp.TablePath != "" {
			if err := writeTable(sp.TablePath, split); err != nil {
				return nil, err
			}
		}
		return split, nil
	})

	s.Model = stage("train", fmt.Sprintf("trees=%d", params.Trees), func(ctx context.Context) (*classifier.Model, error) {
		split, err := s.Samples.Get(ctx)
		if err != nil {
			return nil, err
		}
		return classifier.Train(ctx, split.Training(), classifier.Options{
			Trees:    params.Trees,
			Features: split.Features,
			Classes:  []int{lp.PositiveClass, lp.NegativeClass},
			Seed:     sp.Seed,
		})
	})

	s.Evaluation = stage("evaluate", "", func(ctx context.Context) (*evaluate.Result, error) {
		model, err := s.Model.Get(ctx)
		if err != nil {
			return nil, err
		}
		split, err := s.Samples.Get(ctx)
		if err != nil {
			return nil, err
		}
		return evaluate.Evaluate(model, split)
	})

	s.Classified = stage("classify", "", func(ctx context.Context) (*raster.Raster, error) {
		model, err := s.Model.Get(ctx)
		if err != nil {
			return nil, err
		}
		mosaic, err := s.Mosaic.Get(ctx)
		if err != nil {
			return nil, err
		}
		return model.ClassifyRaster(ctx, mosaic.Raster)
	})

	return s
}

// stage declares a deferred, timed pipeline stage. Errors are tagged with
// the stage name unless an upstream stage already tagged them.
func stage[T any](name, input string, fn func(ctx context.Context) (T, error)) *lazy.Value[T] {
	return lazy.New(func(ctx context.Context) (T, error) {
		log := zap.L().With(zap.String("component", "pipeline"), zap.String("stage", name))
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, apperr.Stage(name, input, err)
		}

		start := time.Now()
		v, err := fn(ctx)
		duration := time.Since(start).Milliseconds()
		if err != nil {
			var se *apperr.StageError
			if errors.As(err, &se) {
				return zero, err
			}
			log.Error("pipeline: stage failed", zap.Int64("duration_ms", duration), zap.Error(err))
			return zero, apperr.Stage(name, input, err)
		}
		log.Info("pipeline: stage complete", zap.Int64("duration_ms", duration))
		return v, nil
	})
}

func describeDates(collection string, start, end time.Time) string {
	return fmt.Sprintf("%s %s..%s", collection, start.Format(time.DateOnly), end.Format(time.DateOnly))
}

func writeTable(path string, split *sample.Split) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create sample table %s", path)
	}
	if err := split.WriteCSV(f); err != nil {
		f.Close()
		return eris.Wrapf(err, "pipeline: write sample table %s", path)
	}
	return eris.Wrapf(f.Close(), "pipeline: close sample table %s", path)
}
