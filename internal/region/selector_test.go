package region

import (
	"archive/zip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/resilience"
	"github.com/sells-group/landcover-cli/internal/tiger"
)

type fakeSource struct {
	features []tiger.Feature
	err      error
}

func (f *fakeSource) Features(context.Context) ([]tiger.Feature, error) { return f.features, f.err }
func (f *fakeSource) Describe() string                                  { return "fake" }

func box(x0, y0, x1, y1 float64) *geom.MultiPolygon {
	p := geom.NewPolygonFlat(geom.XY, []float64{x0, y0, x1, y0, x1, y1, x0, y1, x0, y0}, []int{10})
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	if err := mp.Push(p); err != nil {
		panic(err)
	}
	return mp
}

func feature(name string, g geom.T) tiger.Feature {
	return tiger.Feature{Attributes: map[string]string{"NAME": name}, Geometry: g}
}

func TestResolve_SingleMatch(t *testing.T) {
	src := &fakeSource{features: []tiger.Feature{
		feature("Connecticut", box(-73.7, 40.9, -71.8, 42.1)),
		feature("Rhode Island", box(-71.9, 41.1, -71.1, 42.0)),
	}}

	g, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "Rhode Island")
	require.NoError(t, err)
	assert.Equal(t, "Rhode Island", g.Name())
	assert.Equal(t, [4]float64{-71.9, 41.1, -71.1, 42.0}, g.Bounds())
	assert.True(t, g.Contains(-71.4, 41.8))
	assert.False(t, g.Contains(-72.5, 41.5))
}

func TestResolve_NoMatch(t *testing.T) {
	src := &fakeSource{features: []tiger.Feature{feature("Rhode Island", box(0, 0, 1, 1))}}

	_, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "Atlantis")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "NAME", nf.Property)
	assert.Equal(t, "Atlantis", nf.Value)
	assert.Equal(t, 0, nf.Matches)
}

func TestResolve_AmbiguousMatch(t *testing.T) {
	src := &fakeSource{features: []tiger.Feature{
		feature("Washington", box(0, 0, 1, 1)),
		feature("Washington", box(2, 2, 3, 3)),
	}}

	_, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "Washington")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, 2, nf.Matches)
}

func TestResolve_ExactIsCaseSensitive(t *testing.T) {
	src := &fakeSource{features: []tiger.Feature{feature("Rhode Island", box(0, 0, 1, 1))}}

	_, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "rhode island")
	var nf *apperr.NotFoundError
	assert.ErrorAs(t, err, &nf)

	g, err := NewSelector(src, "NAME", true).Resolve(context.Background(), "rhode island ")
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestResolve_SourceError(t *testing.T) {
	boom := errors.New("census unavailable")
	_, err := NewSelector(&fakeSource{err: boom}, "", false).Resolve(context.Background(), "Rhode Island")
	assert.ErrorIs(t, err, boom)
}

func TestList_SortedDistinct(t *testing.T) {
	src := &fakeSource{features: []tiger.Feature{
		feature("Vermont", box(0, 0, 1, 1)),
		feature("Maine", box(0, 0, 1, 1)),
		feature("Vermont", box(0, 0, 1, 1)),
		feature("", box(0, 0, 1, 1)),
	}}

	names, err := NewSelector(src, "NAME", false).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Maine", "Vermont"}, names)
}

func TestGeometry_HoleExcluded(t *testing.T) {
	outer := []float64{0, 0, 10, 0, 10, 10, 0, 10, 0, 0}
	hole := []float64{4, 4, 4, 6, 6, 6, 6, 4, 4, 4}
	p := geom.NewPolygonFlat(geom.XY, append(outer, hole...), []int{10, 20})

	g, err := NewGeometry("donut", p)
	require.NoError(t, err)
	assert.True(t, g.Contains(1, 1))
	assert.False(t, g.Contains(5, 5))
	assert.InDelta(t, 96.0, g.Area(), 1e-9)
}

func TestGeometry_RejectsNonPolygon(t *testing.T) {
	_, err := NewGeometry("pt", geom.NewPointFlat(geom.XY, []float64{1, 2}))
	assert.Error(t, err)
}

func TestGeometry_GeoJSON(t *testing.T) {
	g, err := NewGeometry("sq", box(0, 0, 1, 1))
	require.NoError(t, err)

	data, err := g.GeoJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"MultiPolygon"`)
}

func TestGeoJSONSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states.geojson")
	doc := `{"type":"FeatureCollection","features":[
	  {"type":"Feature","properties":{"name":"Rhode Island","geoid":44},
	   "geometry":{"type":"Polygon","coordinates":[[[-71.9,41.1],[-71.1,41.1],[-71.1,42.0],[-71.9,42.0],[-71.9,41.1]]]}},
	  {"type":"Feature","properties":{"name":"Marker"},
	   "geometry":{"type":"Point","coordinates":[-71.4,41.8]}}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	src := &GeoJSONSource{Path: path}
	features, err := src.Features(context.Background())
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, "44", features[0].Attr("GEOID"))

	g, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "Rhode Island")
	require.NoError(t, err)
	assert.True(t, g.Contains(-71.5, 41.5))
}

// writeStateShapefile writes a one-record polygon shapefile into dir.
func writeStateShapefile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, "tl_2018_us_state.shp")

	w, err := tiger.CreateShapefile(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{shp.StringField("NAME", 50)}))

	ring := []shp.Point{{X: -71.9, Y: 41.1}, {X: -71.9, Y: 42.0}, {X: -71.1, Y: 42.0}, {X: -71.1, Y: 41.1}, {X: -71.9, Y: 41.1}}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{ring}))
	idx := w.Write(&poly)
	require.NoError(t, w.WriteAttribute(int(idx), 0, name))
	require.NoError(t, w.Close())
	return path
}

func TestShapefileSource(t *testing.T) {
	path := writeStateShapefile(t, t.TempDir(), "Rhode Island")

	g, err := NewSelector(&ShapefileSource{Path: path}, "NAME", false).Resolve(context.Background(), "Rhode Island")
	require.NoError(t, err)
	assert.True(t, g.Contains(-71.5, 41.5))
}

func TestTigerSource_DownloadsAndResolves(t *testing.T) {
	shpDir := t.TempDir()
	writeStateShapefile(t, shpDir, "Rhode Island")
	zipBytes := zipDir(t, shpDir)

	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(zipBytes)
	}))
	defer srv.Close()

	product, _ := tiger.ProductByName("STATE")
	src := &TigerSource{
		Downloader: tiger.NewDownloader(srv.Client(), resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond}),
		BaseURL:    srv.URL,
		Product:    product,
		Year:       2018,
		CacheDir:   t.TempDir(),
	}

	g, err := NewSelector(src, "NAME", false).Resolve(context.Background(), "Rhode Island")
	require.NoError(t, err)
	assert.Equal(t, "/TIGER2018/STATE/tl_2018_us_state.zip", requested)
	assert.True(t, g.Contains(-71.5, 41.5))
	assert.Equal(t, "TIGER/Line 2018 STATE", src.Describe())
}

func zipDir(t *testing.T, dir string) []byte {
	t.Helper()
	out := filepath.Join(t.TempDir(), "bundle.zip")
	f, err := os.Create(out)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, readErr := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, readErr)
		fw, createErr := zw.Create(e.Name())
		require.NoError(t, createErr)
		_, writeErr := fw.Write(data)
		require.NoError(t, writeErr)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	return data
}
