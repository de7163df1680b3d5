package region

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/tiger"
)

// BoundarySource yields the candidate boundary features a region name is
// matched against.
type BoundarySource interface {
	Features(ctx context.Context) ([]tiger.Feature, error)
	Describe() string
}

// TigerSource reads a national TIGER/Line boundary product, downloading and
// caching the archive on first use.
type TigerSource struct {
	Downloader *tiger.Downloader
	BaseURL    string
	Product    tiger.Product
	Year       int
	CacheDir   string
}

// Features implements BoundarySource.
func (s *TigerSource) Features(ctx context.Context) ([]tiger.Feature, error) {
	url := tiger.DownloadURL(s.BaseURL, s.Product, s.Year)
	shpPath, err := s.Downloader.Download(ctx, url, s.CacheDir)
	if err != nil {
		return nil, err
	}

	features, err := tiger.ReadFeatures(shpPath)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("region: loaded TIGER boundaries",
		zap.String("product", s.Product.Name),
		zap.Int("year", s.Year),
		zap.Int("features", len(features)),
	)
	return features, nil
}

// Describe implements BoundarySource.
func (s *TigerSource) Describe() string {
	return fmt.Sprintf("TIGER/Line %d %s", s.Year, s.Product.Name)
}

// ShapefileSource reads boundaries from a local shapefile.
type ShapefileSource struct {
	Path string
}

// Features implements BoundarySource.
func (s *ShapefileSource) Features(_ context.Context) ([]tiger.Feature, error) {
	return tiger.ReadFeatures(s.Path)
}

// Describe implements BoundarySource.
func (s *ShapefileSource) Describe() string { return filepath.Base(s.Path) }

// GeoJSONSource reads boundaries from a local GeoJSON FeatureCollection.
type GeoJSONSource struct {
	Path string
}

// Features implements BoundarySource. Non-polygonal features are skipped.
func (s *GeoJSONSource) Features(_ context.Context) ([]tiger.Feature, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: read %s", s.Path)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "region: parse %s", s.Path)
	}

	features := make([]tiger.Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		mp, err := fromOrb(f.Geometry)
		if err != nil {
			zap.L().Debug("region: skipping feature", zap.Int("index", i), zap.Error(err))
			continue
		}
		attrs := make(map[string]string, len(f.Properties))
		for k, v := range f.Properties {
			attrs[strings.ToUpper(k)] = fmt.Sprint(v)
		}
		features = append(features, tiger.Feature{Attributes: attrs, Geometry: mp})
	}
	return features, nil
}

// Describe implements BoundarySource.
func (s *GeoJSONSource) Describe() string { return filepath.Base(s.Path) }
