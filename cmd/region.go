package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/landcover-cli/internal/region"
)

var regionCmd = &cobra.Command{
	Use:   "region",
	Short: "Inspect the boundaries a region can be resolved against",
}

// -- region list --

var regionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the names in the configured boundary source",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("region"); err != nil {
			return err
		}
		selector, err := initSelector(cfg)
		if err != nil {
			return err
		}

		names, err := selector.List(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "region list")
		}
		for _, n := range names {
			fmt.Fprintln(os.Stdout, n)
		}
		return nil
	},
}

// -- region show --

var regionShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Resolve a name and print its boundary as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("region"); err != nil {
			return err
		}
		selector, err := initSelector(cfg)
		if err != nil {
			return err
		}

		g, err := selector.Resolve(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "region show")
		}
		return writeRegionFeature(os.Stdout, g)
	},
}

func init() {
	regionCmd.AddCommand(regionListCmd)
	regionCmd.AddCommand(regionShowCmd)
	rootCmd.AddCommand(regionCmd)
}

// writeRegionFeature writes g as an indented GeoJSON Feature carrying its
// name and bounding box.
func writeRegionFeature(w io.Writer, g *region.Geometry) error {
	geometry, err := g.GeoJSON()
	if err != nil {
		return err
	}
	feature := struct {
		Type       string          `json:"type"`
		BBox       [4]float64      `json:"bbox"`
		Properties map[string]any  `json:"properties"`
		Geometry   json.RawMessage `json:"geometry"`
	}{
		Type:       "Feature",
		BBox:       g.Bounds(),
		Properties: map[string]any{"name": g.Name()},
		Geometry:   geometry,
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(feature)
}
