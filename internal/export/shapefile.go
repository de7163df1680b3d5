package export

import (
	"path/filepath"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/tiger"
)

// writeShapefiles writes point records to <name>.shp and polygon records to
// <name>.shp, or to <name>_points.shp and <name>_polygons.shp when the
// collection holds both. It returns every file written.
func writeShapefiles(dir, name, field string, records labels.Collection) ([]string, error) {
	var points, polygons labels.Collection
	for i, r := range records {
		switch r.Geometry.(type) {
		case orb.Point:
			points = append(points, r)
		case orb.Polygon, orb.MultiPolygon:
			polygons = append(polygons, r)
		default:
			return nil, eris.Errorf("record %d has unsupported geometry %T", i, r.Geometry)
		}
	}

	pointName, polyName := name, name
	if len(points) > 0 && len(polygons) > 0 {
		pointName, polyName = name+"_points", name+"_polygons"
	}

	var files []string
	if len(points) > 0 || len(polygons) == 0 {
		f, err := writeShapefile(filepath.Join(dir, pointName+".shp"), shp.POINT, field, points)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
	}
	if len(polygons) > 0 {
		f, err := writeShapefile(filepath.Join(dir, polyName+".shp"), shp.POLYGON, field, polygons)
		if err != nil {
			return nil, err
		}
		files = append(files, f...)
	}
	return files, nil
}

func writeShapefile(path string, kind shp.ShapeType, field string, records labels.Collection) ([]string, error) {
	w, err := tiger.CreateShapefile(path, kind)
	if err != nil {
		return nil, err
	}
	if err := w.SetFields([]shp.Field{shp.NumberField(field, 10)}); err != nil {
		_ = w.Close()
		return nil, eris.Wrapf(err, "set fields on %s", path)
	}

	for _, r := range records {
		idx := w.Write(toShape(r.Geometry))
		if err := w.WriteAttribute(int(idx), 0, r.Class); err != nil {
			_ = w.Close()
			return nil, eris.Wrapf(err, "write attribute to %s", path)
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Files(), nil
}

func toShape(g orb.Geometry) shp.Shape {
	switch v := g.(type) {
	case orb.Point:
		return &shp.Point{X: v[0], Y: v[1]}
	case orb.Polygon:
		return polygonShape(orb.MultiPolygon{v})
	case orb.MultiPolygon:
		return polygonShape(v)
	}
	return &shp.Null{}
}

// polygonShape writes outer rings clockwise and holes counter-clockwise,
// as the shapefile format requires.
func polygonShape(mp orb.MultiPolygon) *shp.Polygon {
	var parts [][]shp.Point
	for _, poly := range mp {
		for i, ring := range poly {
			want := orb.CW
			if i > 0 {
				want = orb.CCW
			}
			r := ring.Clone()
			if r.Orientation() != want {
				r.Reverse()
			}
			pts := make([]shp.Point, len(r))
			for k, p := range r {
				pts[k] = shp.Point{X: p[0], Y: p[1]}
			}
			parts = append(parts, pts)
		}
	}
	p := shp.Polygon(*shp.NewPolyLine(parts))
	return &p
}
