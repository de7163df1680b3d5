// Package sample extracts training rows from a raster at labeled locations
// and splits them into training and validation subsets.
package sample

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// Policy decides what happens to labels outside the raster.
type Policy string

const (
	// PolicyError aborts extraction with an OutOfBoundsError.
	PolicyError Policy = "error"
	// PolicyDrop skips the label and counts it.
	PolicyDrop Policy = "drop"
)

// Options controls extraction.
type Options struct {
	// Scale is the sampling distance in metres. Polygons are sampled every
	// Scale metres, rounded to whole pixels.
	Scale       float64
	OutOfBounds Policy
}

// Row is one extracted sample.
type Row struct {
	Values []float64
	Class  int
	Random float64
	// Record is the index of the label the row was taken from.
	Record   int
	Lon, Lat float64
}

// Table holds the rows extracted from one raster.
type Table struct {
	Features []string
	Rows     []Row

	NoDataDropped      int
	OutOfBoundsDropped int
}

// Extract reads the raster's bands at every label. A point label yields the
// pixel containing it; a polygon label yields every sampled pixel whose
// centre lies inside. Rows with a NoData band are dropped.
func Extract(r *raster.Raster, records labels.Collection, opts Options) (*Table, error) {
	if opts.OutOfBounds == "" {
		opts.OutOfBounds = PolicyError
	}
	if opts.OutOfBounds != PolicyError && opts.OutOfBounds != PolicyDrop {
		return nil, eris.Errorf("sample: unknown out-of-bounds policy %q", opts.OutOfBounds)
	}

	stride := strideFor(r.Grid, opts.Scale)
	t := &Table{Features: append([]string(nil), r.Bands...)}
	box := r.Bounds()

	for i, rec := range records {
		var pixels [][2]int
		var inside bool
		switch g := rec.Geometry.(type) {
		case orb.Point:
			col, row, ok := r.PixelOf(g[0], g[1])
			if ok {
				pixels = [][2]int{{col, row}}
			}
			inside = ok
		case orb.Polygon:
			pixels, inside = polygonPixels(r.Grid, orb.MultiPolygon{g}, stride)
		case orb.MultiPolygon:
			pixels, inside = polygonPixels(r.Grid, g, stride)
		default:
			return nil, eris.Errorf("sample: label %d from %s has unsupported geometry %T", i, rec.Source, rec.Geometry)
		}

		if !inside {
			if opts.OutOfBounds == PolicyDrop {
				t.OutOfBoundsDropped++
				continue
			}
			c := rec.Geometry.Bound().Center()
			return nil, &apperr.OutOfBoundsError{Source: rec.Source, Index: i, Lon: c[0], Lat: c[1], RasterBox: box}
		}

		for _, p := range pixels {
			if !r.Valid(p[0], p[1]) {
				t.NoDataDropped++
				continue
			}
			lon, lat := r.Center(p[0], p[1])
			t.Rows = append(t.Rows, Row{Values: r.Pixel(p[0], p[1]), Class: rec.Class, Record: i, Lon: lon, Lat: lat})
		}
	}

	zap.L().Info("samples extracted",
		zap.String("component", "sample.extract"),
		zap.Int("labels", len(records)),
		zap.Int("rows", len(t.Rows)),
		zap.Int("stride", stride),
		zap.Int("nodata_dropped", t.NoDataDropped),
		zap.Int("out_of_bounds_dropped", t.OutOfBoundsDropped),
	)
	return t, nil
}

// Counts returns the number of rows per class.
func (t *Table) Counts() map[int]int {
	return countRows(t.Rows)
}

// strideFor converts a sampling distance to a pixel step.
func strideFor(g raster.Grid, scale float64) int {
	w, _ := g.PixelSize()
	if scale <= 0 || w <= 0 {
		return 1
	}
	if g.EPSG == 4326 {
		w *= raster.MetresPerDegree
	}
	return max(1, int(math.Round(scale/w)))
}

// polygonPixels returns the sampled pixels with centres inside mp. The bool
// is false when mp does not overlap the grid at all.
func polygonPixels(g raster.Grid, mp orb.MultiPolygon, stride int) ([][2]int, bool) {
	gb := g.Bounds()
	grid := orb.Bound{Min: orb.Point{gb[0], gb[1]}, Max: orb.Point{gb[2], gb[3]}}
	b := mp.Bound()
	if !grid.Intersects(b) {
		return nil, false
	}

	w, h := g.PixelSize()
	c0 := clamp(int((b.Min[0]-gb[0])/w), 0, g.Width-1)
	c1 := clamp(int((b.Max[0]-gb[0])/w), 0, g.Width-1)
	r0 := clamp(int((gb[3]-b.Max[1])/h), 0, g.Height-1)
	r1 := clamp(int((gb[3]-b.Min[1])/h), 0, g.Height-1)

	var out [][2]int
	for row := r0; row <= r1; row += stride {
		for col := c0; col <= c1; col += stride {
			x, y := g.Center(col, row)
			if planar.MultiPolygonContains(mp, orb.Point{x, y}) {
				out = append(out, [2]int{col, row})
			}
		}
	}
	return out, true
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

func countRows(rows []Row) map[int]int {
	out := make(map[int]int)
	for _, r := range rows {
		out[r.Class]++
	}
	return out
}
