package tiger

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// Feature is one shapefile record: its attributes keyed by upper-case field
// name and its geometry in the file's coordinates.
type Feature struct {
	Attributes map[string]string
	Geometry   geom.T
}

// Attr returns an attribute value, ignoring the case of the field name.
func (f Feature) Attr(name string) string {
	return f.Attributes[strings.ToUpper(name)]
}

// ReadFeatures decodes every record of a shapefile. Records with empty or
// unsupported shapes are skipped and counted in the debug log.
func ReadFeatures(shpPath string) ([]Feature, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
	}

	var features []Feature
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		g := ShapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		attrs := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimRight(reader.Attribute(i), "\x00")
			attrs[name] = strings.TrimSpace(val)
		}

		features = append(features, Feature{Attributes: attrs, Geometry: g})
	}

	if skipped > 0 {
		zap.L().Debug("tiger: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return features, nil
}

// ShapefileWriter is a go-shp writer that leaves its attribute table at
// <base>.dbf. go-shp itself names the table <base>dbf, which no reader
// other than go-shp finds.
type ShapefileWriter struct {
	*shp.Writer
	base string
}

// CreateShapefile creates the .shp and .shx files for path. A path without
// a .shp extension is used as the base name, as go-shp does.
func CreateShapefile(path string, kind shp.ShapeType) (*ShapefileWriter, error) {
	w, err := shp.Create(path, kind)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: create shapefile %s", path)
	}
	base := path
	if strings.HasSuffix(strings.ToLower(path), ".shp") {
		base = path[:len(path)-4]
	}
	return &ShapefileWriter{Writer: w, base: base}, nil
}

// Close writes the headers, closes all three files and moves the attribute
// table to <base>.dbf.
func (w *ShapefileWriter) Close() error {
	w.Writer.Close()
	if err := os.Rename(w.base+"dbf", w.base+".dbf"); err != nil {
		return eris.Wrapf(err, "tiger: move attribute table of %s", w.base)
	}
	return nil
}

// Files lists the files the writer produces.
func (w *ShapefileWriter) Files() []string {
	return []string{w.base + ".shp", w.base + ".shx", w.base + ".dbf"}
}
