package imagery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/pkg/stac"
)

var day = time.Date(2020, 5, 23, 15, 0, 0, 0, time.UTC)

type fakeClient struct {
	items []stac.Item
	err   error
	got   stac.SearchRequest
}

func (f *fakeClient) Search(_ context.Context, req stac.SearchRequest) ([]stac.Item, error) {
	f.got = req
	return append([]stac.Item(nil), f.items...), f.err
}

// fakeReader fills every pixel with the scene's value unless the scene is
// listed in gaps, in which case the left half of the grid is NoData.
type fakeReader struct {
	values map[string]float64 // href prefix (scene id) -> value
	gaps   map[string]bool
	reads  []string
}

func (f *fakeReader) ReadBands(_ context.Context, hrefs, names []string, grid raster.Grid) (*raster.Raster, error) {
	id := hrefs[0][:len(hrefs[0])-len("/blue.tif")]
	f.reads = append(f.reads, id)
	r := raster.New(grid, names)
	for b := range names {
		for row := 0; row < grid.Height; row++ {
			for col := 0; col < grid.Width; col++ {
				if f.gaps[id] && col < grid.Width/2 {
					continue
				}
				r.Set(b, col, row, f.values[id]+float64(b))
			}
		}
	}
	return r, nil
}

// box is an axis-aligned region.
type box [4]float64

func (b box) Bounds() [4]float64 { return b }
func (b box) Contains(lon, lat float64) bool {
	return lon >= b[0] && lon <= b[2] && lat >= b[1] && lat <= b[3]
}

func scene(id string, dt time.Time, cloud float64) stac.Item {
	return stac.Item{
		ID:         id,
		Properties: stac.Properties{Datetime: dt, CloudCover: &cloud},
		Assets: map[string]stac.Asset{
			"blue": {Href: id + "/blue.tif"},
			"nir":  {Href: id + "/nir.tif"},
		},
	}
}

func request() Request {
	return Request{
		Collection: "sentinel-2-l2a",
		Start:      time.Date(2020, 5, 23, 0, 0, 0, 0, time.UTC),
		End:        time.Date(2020, 5, 25, 0, 0, 0, 0, time.UTC),
		Area:       box{0, 0, 0.001, 0.001},
		Bands:      []string{"B2", "B8"},
		Assets:     map[string]string{"b2": "blue", "b8": "nir"},
		Scale:      10,
		Rule:       MostRecent,
	}
}

func TestFetch_MostRecentOnTop(t *testing.T) {
	client := &fakeClient{items: []stac.Item{
		scene("old", day, 0),
		scene("new", day.Add(24*time.Hour), 50),
	}}
	reader := &fakeReader{values: map[string]float64{"old": 100, "new": 200}}

	res, err := NewFetcher(client, reader).Fetch(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, []string{"new", "old"}, []string{res.Scenes[0].ID, res.Scenes[1].ID})
	assert.Equal(t, []string{"B2", "B8"}, res.Raster.Bands)
	assert.Equal(t, 200.0, res.Raster.Value(0, 0, 0))
	assert.Equal(t, 201.0, res.Raster.Value(1, 0, 0))
	assert.InDelta(t, 1.0, res.Coverage, 1e-9)

	assert.Equal(t, []string{"sentinel-2-l2a"}, client.got.Collections)
	assert.Equal(t, [4]float64{0, 0, 0.001, 0.001}, client.got.BBox)
}

func TestFetch_GapFilledFromNextScene(t *testing.T) {
	client := &fakeClient{items: []stac.Item{
		scene("old", day, 0),
		scene("new", day.Add(24*time.Hour), 0),
	}}
	reader := &fakeReader{
		values: map[string]float64{"old": 100, "new": 200},
		gaps:   map[string]bool{"new": true},
	}

	res, err := NewFetcher(client, reader).Fetch(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Raster.Value(0, 0, 0))
	assert.Equal(t, 200.0, res.Raster.Value(0, res.Raster.Width/2, 0))
}

func TestFetch_LeastCloudy(t *testing.T) {
	client := &fakeClient{items: []stac.Item{
		scene("clear", day, 1),
		scene("cloudy", day.Add(24*time.Hour), 80),
	}}
	reader := &fakeReader{values: map[string]float64{"clear": 1, "cloudy": 2}}

	req := request()
	req.Rule = LeastCloudy
	res, err := NewFetcher(client, reader).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "clear", res.Scenes[0].ID)
	assert.Equal(t, 1.0, res.Raster.Value(0, 0, 0))
}

func TestFetch_NoScenes(t *testing.T) {
	_, err := NewFetcher(&fakeClient{}, &fakeReader{}).Fetch(context.Background(), request())

	var empty *apperr.EmptyResultError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "sentinel-2-l2a", empty.Collection)
	assert.Equal(t, "2020-05-23", empty.Start.Format(time.DateOnly))
}

func TestFetch_ScenesMissingAssetsAreSkipped(t *testing.T) {
	broken := scene("broken", day.Add(48*time.Hour), 0)
	delete(broken.Assets, "nir")
	client := &fakeClient{items: []stac.Item{broken, scene("ok", day, 0)}}
	reader := &fakeReader{values: map[string]float64{"ok": 7}}

	res, err := NewFetcher(client, reader).Fetch(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Scenes, 1)
	assert.Equal(t, "ok", res.Scenes[0].ID)
	assert.Equal(t, []string{"ok"}, reader.reads)
}

func TestFetch_SearchError(t *testing.T) {
	boom := apperr.NewExternal("stac", "search", true, errors.New("503"))
	_, err := NewFetcher(&fakeClient{err: boom}, &fakeReader{}).Fetch(context.Background(), request())
	assert.ErrorIs(t, err, boom)
}

func TestFetch_ProgressCallback(t *testing.T) {
	client := &fakeClient{items: []stac.Item{scene("a", day, 0), scene("b", day.Add(time.Hour), 0)}}
	f := NewFetcher(client, &fakeReader{values: map[string]float64{"a": 1, "b": 2}})

	var done []int
	f.OnScene = func(d, total int, _ Scene) {
		assert.Equal(t, 2, total)
		done = append(done, d)
	}
	_, err := f.Fetch(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, done)
}

func TestOrder(t *testing.T) {
	items := func() []stac.Item {
		return []stac.Item{
			scene("b", day, 30),
			scene("c", day.Add(time.Hour), 10),
			scene("a", day, 10),
		}
	}
	ids := func(items []stac.Item) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	tests := []struct {
		rule Rule
		want []string
	}{
		{MostRecent, []string{"c", "a", "b"}},
		{LeastRecent, []string{"a", "b", "c"}},
		{LeastCloudy, []string{"c", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.rule), func(t *testing.T) {
			got := items()
			Order(got, tt.rule)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestParseRule(t *testing.T) {
	r, err := ParseRule("")
	require.NoError(t, err)
	assert.Equal(t, MostRecent, r)

	r, err = ParseRule("least_cloudy")
	require.NoError(t, err)
	assert.Equal(t, LeastCloudy, r)

	_, err = ParseRule("median")
	assert.Error(t, err)
}

func TestAssetKey(t *testing.T) {
	assets := map[string]string{"b11": "swir16", "B12": "swir22"}
	assert.Equal(t, "swir16", assetKey("B11", assets))
	assert.Equal(t, "swir22", assetKey("B12", assets))
	assert.Equal(t, "landcover", assetKey("landcover", assets))
}
