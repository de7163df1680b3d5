// Package imagery searches a STAC archive for scenes over a region and
// composites them into a single clipped multi-band raster.
package imagery

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/pkg/stac"
)

// Rule decides which scene wins where scenes overlap.
type Rule string

const (
	// MostRecent puts the newest scene on top.
	MostRecent Rule = "most_recent"
	// LeastRecent puts the oldest scene on top.
	LeastRecent Rule = "least_recent"
	// LeastCloudy puts the scene with the lowest cloud cover on top; ties
	// go to the newer scene.
	LeastCloudy Rule = "least_cloudy"
)

// ParseRule validates a rule name. Empty means MostRecent.
func ParseRule(s string) (Rule, error) {
	switch Rule(s) {
	case "", MostRecent:
		return MostRecent, nil
	case LeastRecent, LeastCloudy:
		return Rule(s), nil
	default:
		return "", eris.Errorf("imagery: unknown mosaic rule %q", s)
	}
}

// Area is the region imagery is fetched for.
type Area interface {
	Bounds() [4]float64
	Contains(lon, lat float64) bool
}

// SceneReader reads band assets of one scene onto a grid.
type SceneReader interface {
	ReadBands(ctx context.Context, hrefs, names []string, grid raster.Grid) (*raster.Raster, error)
}

// Request describes a composite to build.
type Request struct {
	Collection string
	Start, End time.Time // [Start, End)
	Area       Area
	Bands      []string
	Assets     map[string]string // band name -> STAC asset key
	Scale      float64           // metres per pixel
	Rule       Rule
}

// Scene is one matched archive item.
type Scene struct {
	ID         string    `json:"id" yaml:"id"`
	Datetime   time.Time `json:"datetime" yaml:"datetime"`
	CloudCover float64   `json:"cloud_cover" yaml:"cloud_cover"`
	Platform   string    `json:"platform,omitempty" yaml:"platform,omitempty"`
}

// Result is a clipped composite and the scenes it was built from, in
// stitching priority order.
type Result struct {
	Raster   *raster.Raster
	Scenes   []Scene
	Coverage float64
}

// Fetcher builds composites from a STAC archive.
type Fetcher struct {
	Client stac.Client
	Reader SceneReader
	// OnScene, if set, is called after each scene is read.
	OnScene func(done, total int, s Scene)
}

// NewFetcher creates a Fetcher.
func NewFetcher(client stac.Client, reader SceneReader) *Fetcher {
	return &Fetcher{Client: client, Reader: reader}
}

// Search returns the items matching req in stitching priority order. No
// match is an EmptyResultError.
func (f *Fetcher) Search(ctx context.Context, req Request) ([]stac.Item, error) {
	bounds := req.Area.Bounds()
	items, err := f.Client.Search(ctx, stac.SearchRequest{
		Collections: []string{req.Collection},
		BBox:        bounds,
		Start:       req.Start,
		End:         req.End,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "imagery: search %s", req.Collection)
	}
	if len(items) == 0 {
		return nil, &apperr.EmptyResultError{Collection: req.Collection, Start: req.Start, End: req.End, Bounds: bounds}
	}

	Order(items, req.Rule)
	return items, nil
}

// Fetch searches, reads, composites and clips the requested bands.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	log := zap.L().With(
		zap.String("component", "imagery.fetch"),
		zap.String("collection", req.Collection),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.String("rule", string(req.Rule)),
	)

	if len(req.Bands) == 0 {
		return nil, eris.New("imagery: no bands requested")
	}

	items, err := f.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	scenes := make([]Scene, 0, len(items))
	for _, it := range items {
		scenes = append(scenes, SceneOf(it))
	}
	LogScenes(log, scenes)

	grid, err := raster.GridFor(req.Area.Bounds(), req.Scale)
	if err != nil {
		return nil, err
	}

	var (
		layers []*raster.Raster
		used   []Scene
	)
	for i, it := range items {
		hrefs, err := assetHrefs(it, req.Bands, req.Assets)
		if err != nil {
			log.Warn("skipping scene without requested assets", zap.String("scene", it.ID), zap.Error(err))
			continue
		}
		layer, err := f.Reader.ReadBands(ctx, hrefs, req.Bands, grid)
		if err != nil {
			return nil, eris.Wrapf(err, "imagery: read scene %s", it.ID)
		}
		layers = append(layers, layer)
		used = append(used, scenes[i])
		if f.OnScene != nil {
			f.OnScene(i+1, len(items), scenes[i])
		}
	}
	if len(layers) == 0 {
		return nil, &apperr.EmptyResultError{Collection: req.Collection, Start: req.Start, End: req.End, Bounds: req.Area.Bounds()}
	}

	composite, err := raster.Mosaic(layers)
	if err != nil {
		return nil, eris.Wrap(err, "imagery: mosaic")
	}

	clipped := composite.Clip(req.Area)
	selected, err := clipped.Select(req.Bands)
	if err != nil {
		return nil, err
	}

	coverage := selected.Coverage(req.Area)
	if coverage < 1 {
		log.Warn("composite does not fully cover the region", zap.Float64("coverage", coverage))
	}
	log.Info("composite built",
		zap.Int("scenes", len(used)),
		zap.Int("width", grid.Width),
		zap.Int("height", grid.Height),
		zap.Float64("coverage", coverage),
	)

	return &Result{Raster: selected, Scenes: used, Coverage: coverage}, nil
}

// Order sorts items into stitching priority for rule, highest first.
func Order(items []stac.Item, rule Rule) {
	newer := func(a, b stac.Item) bool {
		if !a.Properties.Datetime.Equal(b.Properties.Datetime) {
			return a.Properties.Datetime.After(b.Properties.Datetime)
		}
		return a.ID < b.ID
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch rule {
		case LeastRecent:
			if !a.Properties.Datetime.Equal(b.Properties.Datetime) {
				return a.Properties.Datetime.Before(b.Properties.Datetime)
			}
			return a.ID < b.ID
		case LeastCloudy:
			if a.Cloud() != b.Cloud() {
				return a.Cloud() < b.Cloud()
			}
			return newer(a, b)
		default:
			return newer(a, b)
		}
	})
}

// SceneOf summarises an item.
func SceneOf(it stac.Item) Scene {
	return Scene{ID: it.ID, Datetime: it.Properties.Datetime, CloudCover: it.Cloud(), Platform: it.Properties.Platform}
}

// LogScenes writes the matched-scene listing.
func LogScenes(log *zap.Logger, scenes []Scene) {
	log.Info("matched scenes", zap.Int("count", len(scenes)))
	for i, s := range scenes {
		log.Info("scene",
			zap.Int("priority", i),
			zap.String("id", s.ID),
			zap.Time("datetime", s.Datetime),
			zap.Float64("cloud_cover", s.CloudCover),
		)
	}
}

func assetHrefs(it stac.Item, bands []string, assets map[string]string) ([]string, error) {
	hrefs := make([]string, len(bands))
	for i, band := range bands {
		key := assetKey(band, assets)
		a, ok := it.Assets[key]
		if !ok || a.Href == "" {
			return nil, eris.Errorf("asset %q for band %s not in item", key, band)
		}
		hrefs[i] = a.Href
	}
	return hrefs, nil
}

// assetKey maps a band name to its asset key. Unmapped bands are used as
// asset keys directly.
func assetKey(band string, assets map[string]string) string {
	if k, ok := assets[band]; ok {
		return k
	}
	if k, ok := assets[strings.ToLower(band)]; ok {
		return k
	}
	return band
}
