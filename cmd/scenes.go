package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/pipeline"
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "List the scenes a classify run would composite",
	Long:  "Searches the archive for the configured region and date range and prints the matching scenes in stitching priority order, top scene first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scenes"); err != nil {
			return err
		}
		params, err := pipeline.ParamsFromConfig(cfg, 0)
		if err != nil {
			return err
		}

		selector, err := initSelector(cfg)
		if err != nil {
			return err
		}
		g, err := selector.Resolve(ctx, params.Region)
		if err != nil {
			return eris.Wrap(err, "scenes")
		}

		fetcher := imagery.NewFetcher(initSTAC(cfg), nil)
		items, err := fetcher.Search(ctx, imagery.Request{
			Collection: params.Imagery.Collection,
			Start:      params.Imagery.Start,
			End:        params.Imagery.End,
			Area:       g,
			Rule:       params.Imagery.Rule,
		})
		if err != nil {
			return eris.Wrap(err, "scenes")
		}

		scenes := make([]imagery.Scene, 0, len(items))
		for _, it := range items {
			scenes = append(scenes, imagery.SceneOf(it))
		}
		formatScenes(os.Stdout, scenes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenesCmd)
}

// formatScenes writes a tabular list of scenes to out.
func formatScenes(out io.Writer, scenes []imagery.Scene) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tID\tDATETIME\tCLOUD%\tPLATFORM")
	_, _ = fmt.Fprintln(w, "-\t--\t--------\t------\t--------")
	for i, s := range scenes {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%.1f\t%s\n",
			i+1,
			s.ID,
			s.Datetime.UTC().Format(time.RFC3339),
			s.CloudCover,
			s.Platform,
		)
	}
	_ = w.Flush()
}
