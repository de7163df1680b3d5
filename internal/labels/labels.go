// Package labels loads the labeled sample sets a classifier is trained on.
package labels

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/tiger"
)

// Record is one labeled location: a point or polygon and its class id.
type Record struct {
	Geometry orb.Geometry
	Class    int
	Source   string
}

// Collection is an ordered set of records.
type Collection []Record

// Options controls how class ids are read.
type Options struct {
	// ClassProperty is the attribute holding the class id.
	ClassProperty string
	// DefaultClass is assigned to records without the attribute. Zero
	// means the attribute is required.
	DefaultClass int
}

// Load reads a label file, choosing the format by extension (.geojson,
// .json, .shp, .csv).
func Load(path string, opts Options) (Collection, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return LoadGeoJSON(path, opts)
	case ".shp":
		return LoadShapefile(path, opts)
	case ".csv":
		return LoadCSV(path, opts)
	default:
		return nil, eris.Errorf("labels: unsupported file type %s", path)
	}
}

// LoadGeoJSON reads a FeatureCollection of points and polygons.
func LoadGeoJSON(path string, opts Options) (Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "labels: read %s", path)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "labels: parse %s", path)
	}

	src := filepath.Base(path)
	out := make(Collection, 0, len(fc.Features))
	for i, f := range fc.Features {
		if !supported(f.Geometry) {
			return nil, eris.Errorf("labels: %s feature %d has unsupported geometry %T", src, i, f.Geometry)
		}
		var raw string
		if v, ok := f.Properties[opts.ClassProperty]; ok && v != nil {
			raw = fmt.Sprint(v)
		}
		class, err := parseClass(raw, opts)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: %s feature %d", src, i)
		}
		out = append(out, Record{Geometry: f.Geometry, Class: class, Source: src})
	}
	return out, nil
}

// LoadShapefile reads a point or polygon shapefile.
func LoadShapefile(path string, opts Options) (Collection, error) {
	features, err := tiger.ReadFeatures(path)
	if err != nil {
		return nil, eris.Wrap(err, "labels")
	}

	src := filepath.Base(path)
	out := make(Collection, 0, len(features))
	for i, f := range features {
		g, err := toOrb(f.Geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: %s record %d", src, i)
		}
		class, err := parseClass(f.Attr(opts.ClassProperty), opts)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: %s record %d", src, i)
		}
		out = append(out, Record{Geometry: g, Class: class, Source: src})
	}
	return out, nil
}

// LoadCSV reads point labels from a CSV with longitude and latitude
// columns and, optionally, the class column.
func LoadCSV(path string, opts Options) (Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "labels: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	rows, err := gocsv.CSVToMaps(f)
	if err != nil {
		return nil, eris.Wrapf(err, "labels: parse %s", path)
	}

	src := filepath.Base(path)
	out := make(Collection, 0, len(rows))
	for i, row := range rows {
		lon, err1 := strconv.ParseFloat(strings.TrimSpace(column(row, "longitude", "lon", "x")), 64)
		lat, err2 := strconv.ParseFloat(strings.TrimSpace(column(row, "latitude", "lat", "y")), 64)
		if err1 != nil || err2 != nil {
			return nil, eris.Errorf("labels: %s row %d: invalid coordinates", src, i+1)
		}
		class, err := parseClass(row[opts.ClassProperty], opts)
		if err != nil {
			return nil, eris.Wrapf(err, "labels: %s row %d", src, i+1)
		}
		out = append(out, Record{Geometry: orb.Point{lon, lat}, Class: class, Source: src})
	}
	return out, nil
}

// Merge concatenates collections in order. Nothing is deduplicated.
func Merge(sets ...Collection) Collection {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make(Collection, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// Validate checks that every record carries one of the allowed classes.
func (c Collection) Validate(classes ...int) error {
	allowed := make(map[int]bool, len(classes))
	for _, cl := range classes {
		allowed[cl] = true
	}
	for i, r := range c {
		if !allowed[r.Class] {
			return eris.Errorf("labels: record %d from %s has class %d, want one of %v", i, r.Source, r.Class, classes)
		}
	}
	return nil
}

// Counts returns the number of records per class.
func (c Collection) Counts() map[int]int {
	out := make(map[int]int)
	for _, r := range c {
		out[r.Class]++
	}
	return out
}

// Duplicates counts records whose geometry repeats an earlier record's.
func (c Collection) Duplicates() int {
	seen := make(map[string]bool, len(c))
	dups := 0
	for _, r := range c {
		key := wkt.MarshalString(r.Geometry)
		if seen[key] {
			dups++
			continue
		}
		seen[key] = true
	}
	if dups > 0 {
		zap.L().Warn("labels: duplicate locations kept", zap.Int("duplicates", dups))
	}
	return dups
}

// Bound returns the bounding box of every record.
func (c Collection) Bound() orb.Bound {
	if len(c) == 0 {
		return orb.Bound{}
	}
	b := c[0].Geometry.Bound()
	for _, r := range c[1:] {
		b = b.Union(r.Geometry.Bound())
	}
	return b
}

func parseClass(raw string, opts Options) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if opts.DefaultClass == 0 {
			return 0, eris.Errorf("missing %s", opts.ClassProperty)
		}
		return opts.DefaultClass, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v != float64(int(v)) {
		return 0, eris.Errorf("%s %q is not an integer class id", opts.ClassProperty, raw)
	}
	return int(v), nil
}

func column(row map[string]string, names ...string) string {
	for _, n := range names {
		if v, ok := row[n]; ok {
			return v
		}
	}
	return ""
}

func supported(g orb.Geometry) bool {
	switch g.(type) {
	case orb.Point, orb.Polygon, orb.MultiPolygon:
		return true
	default:
		return false
	}
}

// toOrb converts a shapefile geometry to orb.
func toOrb(g geom.T) (orb.Geometry, error) {
	switch v := g.(type) {
	case *geom.Point:
		return orb.Point{v.X(), v.Y()}, nil
	case *geom.MultiPolygon:
		mp := make(orb.MultiPolygon, 0, v.NumPolygons())
		for i := 0; i < v.NumPolygons(); i++ {
			p := v.Polygon(i)
			poly := make(orb.Polygon, 0, p.NumLinearRings())
			for j := 0; j < p.NumLinearRings(); j++ {
				coords := p.LinearRing(j).Coords()
				ring := make(orb.Ring, len(coords))
				for k, c := range coords {
					ring[k] = orb.Point{c.X(), c.Y()}
				}
				poly = append(poly, ring)
			}
			mp = append(mp, poly)
		}
		if len(mp) == 1 {
			return mp[0], nil
		}
		return mp, nil
	default:
		return nil, eris.Errorf("unsupported geometry %T", g)
	}
}
