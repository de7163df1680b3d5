package main

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/pipeline"
	"github.com/sells-group/landcover-cli/internal/report"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run the full classification workflow for a region",
	Long:  "Resolves the region, composites imagery, samples the labels, trains and evaluates a random forest, writes the report and runs the enabled exports.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := applyClassifyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate("classify"); err != nil {
			return err
		}

		seed := resolveSeed(cfg)
		params, err := pipeline.ParamsFromConfig(cfg, seed)
		if err != nil {
			return err
		}

		selector, err := initSelector(cfg)
		if err != nil {
			return err
		}
		fetcher := initFetcher(cfg)
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			fetcher.OnScene = (&sceneProgress{out: os.Stderr}).update
		}
		exp, err := initExporter(cfg)
		if err != nil {
			return err
		}

		var ledger pipeline.Ledger
		st, err := initStore(ctx)
		if err != nil {
			zap.L().Warn("run ledger unavailable, run will not be recorded", zap.Error(err))
		} else {
			defer st.Close() //nolint:errcheck
			ledger = st
		}

		res, err := pipeline.New(selector, fetcher, nil, exp, ledger).Run(ctx, params)
		if err != nil {
			return err
		}

		if err := report.WriteText(os.Stdout, res.Report); err != nil {
			return err
		}
		if n := len(res.ExportErrors); n > 0 {
			return eris.Errorf("classify: %d export task(s) failed", n)
		}
		return nil
	},
}

func init() {
	registerClassifyFlags(classifyCmd)
	rootCmd.AddCommand(classifyCmd)
}

// registerClassifyFlags declares the flags applyClassifyFlags reads.
func registerClassifyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("region", "", "boundary name to classify (overrides region.name)")
	f.String("positive", "", "positive label file (overrides labels.positive)")
	f.String("negative", "", "negative label file (overrides labels.negative)")
	f.Uint64("seed", 0, "random seed for the split and importance (default: time based)")
	f.Float64("split", 0, "training fraction of the samples (overrides sample.split)")
	f.Int("trees", 0, "number of trees (overrides classifier.trees)")
	f.StringSlice("features", nil, "feature bands (overrides classifier.features)")
	f.String("start", "", "imagery start date YYYY-MM-DD (overrides imagery.start)")
	f.String("end", "", "imagery end date YYYY-MM-DD, exclusive (overrides imagery.end)")
	f.Bool("export", false, "enable exports (overrides export.enabled)")
	f.String("destination", "", "export directory or s3://bucket/prefix (overrides export.destination)")
	f.String("report-dir", "", "report directory (overrides report.dir)")
	f.StringSlice("format", nil, "report formats: text, json, yaml, xlsx (overrides report.formats)")
	f.String("sample-table", "", "write the split sample table as CSV to this path")
	f.Bool("quiet", false, "hide the scene progress bar")
}

// applyClassifyFlags copies explicitly set flags over the configuration.
func applyClassifyFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	var err error
	set := func(name string, apply func() error) {
		if err == nil && f.Changed(name) {
			err = apply()
		}
	}

	set("region", func() (e error) { c.Region.Name, e = f.GetString("region"); return })
	set("positive", func() (e error) { c.Labels.Positive, e = f.GetString("positive"); return })
	set("negative", func() (e error) { c.Labels.Negative, e = f.GetString("negative"); return })
	set("seed", func() (e error) { c.Sample.Seed, e = f.GetUint64("seed"); return })
	set("split", func() (e error) { c.Sample.Split, e = f.GetFloat64("split"); return })
	set("trees", func() (e error) { c.Classifier.Trees, e = f.GetInt("trees"); return })
	set("features", func() (e error) { c.Classifier.Features, e = f.GetStringSlice("features"); return })
	set("start", func() (e error) { c.Imagery.Start, e = f.GetString("start"); return })
	set("end", func() (e error) { c.Imagery.End, e = f.GetString("end"); return })
	set("export", func() (e error) { c.Export.Enabled, e = f.GetBool("export"); return })
	set("destination", func() (e error) { c.Export.Destination, e = f.GetString("destination"); return })
	set("report-dir", func() (e error) { c.Report.Dir, e = f.GetString("report-dir"); return })
	set("format", func() (e error) { c.Report.Formats, e = f.GetStringSlice("format"); return })
	set("sample-table", func() (e error) { c.Sample.TablePath, e = f.GetString("sample-table"); return })

	return eris.Wrap(err, "classify: read flags")
}

// resolveSeed returns the configured seed, or a time-based one when none is
// set. The chosen seed is logged so a run can be repeated.
func resolveSeed(c *config.Config) uint64 {
	if c.Sample.Seed != 0 {
		return c.Sample.Seed
	}
	seed := uint64(time.Now().UnixNano())
	zap.L().Info("no seed configured, using a time-based seed", zap.Uint64("seed", seed))
	return seed
}

// sceneProgress draws a progress bar for scene reads. A new bar starts
// whenever the scene count changes, i.e. for each composite.
type sceneProgress struct {
	out   io.Writer
	bar   *progressbar.ProgressBar
	total int
}

func (p *sceneProgress) update(done, total int, s imagery.Scene) {
	if p.bar == nil || total != p.total {
		p.total = total
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionSetDescription("Reading scenes"),
			progressbar.OptionShowCount(),
		)
	}
	_ = p.bar.Set(done)
	if done == total {
		_ = p.bar.Finish()
	}
	zap.L().Debug("scene read", zap.String("scene", s.ID), zap.Int("done", done), zap.Int("total", total))
}
