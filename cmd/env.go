package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/landcover-cli/internal/config"
	"github.com/sells-group/landcover-cli/internal/export"
	"github.com/sells-group/landcover-cli/internal/gdalio"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/region"
	"github.com/sells-group/landcover-cli/internal/resilience"
	"github.com/sells-group/landcover-cli/internal/runlog"
	"github.com/sells-group/landcover-cli/internal/tiger"
	"github.com/sells-group/landcover-cli/pkg/stac"
)

// retryConfig is the policy for every external call: a single retry of
// transient failures with a per-attempt timeout.
func retryConfig(c *config.Config) resilience.RetryConfig {
	return resilience.FromRetryConfig(c.Platform.MaxAttempts, c.Platform.CallTimeout(), c.Platform.InitialBackoffMs)
}

// initSelector builds the region selector for the configured boundary
// source.
func initSelector(c *config.Config) (*region.Selector, error) {
	rc := c.Region
	fold := rc.Match == "fold"

	switch rc.Source {
	case "tiger":
		product, ok := tiger.ProductByName(rc.Layer)
		if !ok {
			return nil, eris.Errorf("unknown TIGER layer %q", rc.Layer)
		}
		property := rc.Property
		if property == "" {
			property = product.NameAttr
		}
		src := &region.TigerSource{
			Downloader: tiger.NewDownloader(&http.Client{Timeout: 10 * time.Minute}, retryConfig(c).Named("tiger", "download")),
			BaseURL:    rc.TigerURL,
			Product:    product,
			Year:       rc.Year,
			CacheDir:   rc.CacheDir,
		}
		return region.NewSelector(src, property, fold), nil
	case "shapefile":
		return region.NewSelector(&region.ShapefileSource{Path: rc.Path}, rc.Property, fold), nil
	case "geojson":
		return region.NewSelector(&region.GeoJSONSource{Path: rc.Path}, rc.Property, fold), nil
	default:
		return nil, eris.Errorf("unknown region source %q", rc.Source)
	}
}

// initSTAC builds the archive client with rate limiting, retries and
// optional client-credentials auth.
func initSTAC(c *config.Config) stac.Client {
	pc := c.Platform
	return stac.NewClient(pc.STACURL,
		stac.WithRateLimit(pc.RequestsPerSec),
		stac.WithRetry(retryConfig(c).Named("stac", "search")),
		stac.WithClientCredentials(pc.TokenURL, pc.ClientID, pc.ClientSecret),
		stac.WithPageLimit(pc.PageLimit),
	)
}

// initFetcher builds the scene fetcher on top of GDAL.
func initFetcher(c *config.Config) *imagery.Fetcher {
	gdalio.Register()
	nodata := c.Imagery.NoData
	reader := gdalio.NewReader(&nodata, retryConfig(c).Named("gdal", "read"))
	reader.Breakers = resilience.NewHostBreakers(resilience.DefaultCircuitBreakerConfig())
	return imagery.NewFetcher(initSTAC(c), reader)
}

// initExporter builds the exporter. An S3 uploader is only created for
// s3:// destinations.
func initExporter(c *config.Config) (*export.Exporter, error) {
	ec := c.Export
	var up export.Uploader
	if ec.Enabled && strings.HasPrefix(ec.Destination, "s3://") {
		u, err := export.NewS3Uploader(export.S3Options{
			Endpoint:  ec.S3.Endpoint,
			AccessKey: ec.S3.AccessKey,
			SecretKey: ec.S3.SecretKey,
			Secure:    ec.S3.Secure,
			Region:    ec.S3.Region,
		}, retryConfig(c))
		if err != nil {
			return nil, err
		}
		up = u
	}
	return export.New(ec.Enabled, ec.Destination, gdalio.Encoder{}, up), nil
}

// initStore opens and migrates the run ledger.
func initStore(ctx context.Context) (runlog.Store, error) {
	st, err := runlog.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open run ledger")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate run ledger")
	}
	return st, nil
}
