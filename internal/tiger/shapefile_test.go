package tiger

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
)

// writeStates writes a two-record STATE-like shapefile and returns its path.
func writeStates(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tl_2018_us_state.shp")

	w, err := CreateShapefile(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 50),
		shp.StringField("STUSPS", 2),
	}))

	records := []struct {
		name, abbr string
		ring       []shp.Point
	}{
		{"Rhode Island", "RI", square(-71.9, 41.1, -71.1, 42.0, true)},
		{"Connecticut", "CT", square(-73.7, 40.9, -71.8, 42.1, true)},
	}
	for _, r := range records {
		idx := w.Write(polygonOf(r.ring))
		require.NoError(t, w.WriteAttribute(int(idx), 0, r.name))
		require.NoError(t, w.WriteAttribute(int(idx), 1, r.abbr))
	}
	require.NoError(t, w.Close())

	return path
}

func TestReadFeatures(t *testing.T) {
	path := writeStates(t)

	features, err := ReadFeatures(path)
	require.NoError(t, err)
	require.Len(t, features, 2)

	assert.Equal(t, "Rhode Island", features[0].Attr("NAME"))
	assert.Equal(t, "RI", features[0].Attr("stusps"))
	assert.Equal(t, "Connecticut", features[1].Attr("name"))

	mp, ok := features[0].Geometry.(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 1, mp.NumPolygons())
}

func TestCreateShapefile_AttributeTableBesideGeometry(t *testing.T) {
	dir := t.TempDir()
	w, err := CreateShapefile(filepath.Join(dir, "labels.SHP"), shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.NumberField("landuse", 4)}))
	idx := w.Write(&shp.Point{X: -71.5, Y: 41.7})
	require.NoError(t, w.WriteAttribute(int(idx), 0, 3))
	require.NoError(t, w.Close())

	files := w.Files()
	assert.Equal(t, []string{
		filepath.Join(dir, "labels.shp"), filepath.Join(dir, "labels.shx"), filepath.Join(dir, "labels.dbf"),
	}, files)
	for _, f := range files {
		assert.FileExists(t, f)
	}
	assert.NoFileExists(t, filepath.Join(dir, "labelsdbf"))

	r, err := shp.Open(files[0])
	require.NoError(t, err)
	defer r.Close()
	fields := r.Fields()
	require.Len(t, fields, 1)
	assert.Equal(t, "landuse", fields[0].String())
	require.True(t, r.Next())
	assert.Equal(t, "3", strings.TrimSpace(r.Attribute(0)))
}

func TestReadFeatures_MissingFile(t *testing.T) {
	_, err := ReadFeatures(filepath.Join(t.TempDir(), "nope.shp"))
	assert.Error(t, err)
}
