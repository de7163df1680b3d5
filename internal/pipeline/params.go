package pipeline

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/report"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// LandcoverBand names the single band of the land-cover reference raster.
const LandcoverBand = "landcover"

// Export task descriptions, also used as output file names.
const (
	TaskLandcover  = "RI_LC"
	TaskClassified = "RF_RI"
	TaskMosaic     = "RI_mosaic"
	TaskLabels     = "merged"
)

// ImageryParams selects the scenes composited into the mosaic.
type ImageryParams struct {
	Collection string
	Start, End time.Time
	Bands      []string
	Assets     map[string]string
	Scale      float64
	Rule       imagery.Rule
}

// LandcoverParams selects the optional land-cover reference raster.
type LandcoverParams struct {
	Enabled    bool
	Collection string
	Asset      string
	Start, End time.Time
	Scale      float64
}

// LabelParams names the two label sets and their classes.
type LabelParams struct {
	Positive      string
	Negative      string
	ClassProperty string
	PositiveClass int
	NegativeClass int
}

// SampleParams controls extraction and the training/validation split.
type SampleParams struct {
	Scale       float64
	Split       float64
	Seed        uint64
	OutOfBounds sample.Policy
	// TablePath, if set, receives the split sample table as CSV.
	TablePath string
}

// ExportParams sets the grids of the export tasks.
type ExportParams struct {
	Enabled         bool
	CRS             string
	ClassifiedScale float64
	MosaicScale     float64
	LandcoverScale  float64
}

// ReportParams says where and how the run report is written. An empty Dir
// keeps the report in memory only.
type ReportParams struct {
	Dir     string
	Formats []report.Format
	Chart   bool
}

// Params is everything one run needs.
type Params struct {
	Region    string
	Imagery   ImageryParams
	Landcover LandcoverParams
	Labels    LabelParams
	Sample    SampleParams
	Trees     int
	Features  []string
	Export    ExportParams
	Report    ReportParams
	Timeout   time.Duration
}

// ParamsFromConfig builds run parameters from validated configuration. The
// seed is passed separately because the command layer may default it.
func ParamsFromConfig(cfg *config.Config, seed uint64) (Params, error) {
	rule, err := imagery.ParseRule(cfg.Imagery.Mosaic)
	if err != nil {
		return Params{}, err
	}
	start, end, err := dateRange(cfg.Imagery.Start, cfg.Imagery.End)
	if err != nil {
		return Params{}, eris.Wrap(err, "pipeline: imagery dates")
	}
	formats, err := report.ParseFormats(cfg.Report.Formats)
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Region: cfg.Region.Name,
		Imagery: ImageryParams{
			Collection: cfg.Imagery.Collection,
			Start:      start,
			End:        end,
			Bands:      cfg.Imagery.Bands,
			Assets:     cfg.Imagery.Assets,
			Scale:      cfg.Imagery.Scale,
			Rule:       rule,
		},
		Labels: LabelParams{
			Positive:      cfg.Labels.Positive,
			Negative:      cfg.Labels.Negative,
			ClassProperty: cfg.Labels.ClassProperty,
			PositiveClass: cfg.Labels.PositiveClass,
			NegativeClass: cfg.Labels.NegativeClass,
		},
		Sample: SampleParams{
			Scale:       cfg.Sample.Scale,
			Split:       cfg.Sample.Split,
			Seed:        seed,
			OutOfBounds: sample.Policy(cfg.Sample.OutOfBounds),
			TablePath:   cfg.Sample.TablePath,
		},
		Trees:    cfg.Classifier.Trees,
		Features: cfg.Classifier.Features,
		Export: ExportParams{
			Enabled:         cfg.Export.Enabled,
			CRS:             cfg.Export.CRS,
			ClassifiedScale: cfg.Export.ClassifiedScale,
			MosaicScale:     cfg.Export.MosaicScale,
			LandcoverScale:  cfg.Export.LandcoverScale,
		},
		Report: ReportParams{
			Dir:     cfg.Report.Dir,
			Formats: formats,
			Chart:   cfg.Report.Chart,
		},
		Timeout: time.Duration(cfg.Pipeline.TimeoutMins) * time.Minute,
	}

	if cfg.Landcover.Enabled {
		lcStart, lcEnd, err := dateRange(cfg.Landcover.Start, cfg.Landcover.End)
		if err != nil {
			return Params{}, eris.Wrap(err, "pipeline: landcover dates")
		}
		p.Landcover = LandcoverParams{
			Enabled:    true,
			Collection: cfg.Landcover.Collection,
			Asset:      cfg.Landcover.Asset,
			Start:      lcStart,
			End:        lcEnd,
			Scale:      cfg.Landcover.Scale,
		}
	}
	return p, nil
}

func dateRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(time.DateOnly, start)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "parse start %q", start)
	}
	e, err := time.Parse(time.DateOnly, end)
	if err != nil {
		return time.Time{}, time.Time{}, eris.Wrapf(err, "parse end %q", end)
	}
	if !s.Before(e) {
		return time.Time{}, time.Time{}, eris.Errorf("start %s is not before end %s", start, end)
	}
	return s, e, nil
}
