// Package gdalio reads remote Cloud-Optimized GeoTIFF band assets onto a
// common grid and writes rasters as GeoTIFF, both through GDAL.
package gdalio

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

var registerOnce sync.Once

// Register registers the GDAL drivers. Safe to call more than once.
func Register() {
	registerOnce.Do(godal.RegisterAll)
}

// VSIPath maps an asset href onto a GDAL virtual file system path.
func VSIPath(href string) string {
	switch {
	case strings.HasPrefix(href, "s3://"):
		return "/vsis3/" + strings.TrimPrefix(href, "s3://")
	case strings.HasPrefix(href, "gs://"):
		return "/vsigs/" + strings.TrimPrefix(href, "gs://")
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return "/vsicurl/" + href
	default:
		return href
	}
}

// errLogger drops GDAL warnings into the debug log and fails on errors.
func errLogger(path string) godal.ErrorHandler {
	return func(ec godal.ErrorCategory, code int, msg string) error {
		if ec <= godal.CE_Warning {
			zap.L().Debug("gdal warning", zap.String("path", path), zap.Int("code", code), zap.String("msg", msg))
			return nil
		}
		return eris.Errorf("gdal: %s (code %d)", msg, code)
	}
}

// Reader warps band assets onto a target grid.
type Reader struct {
	// SrcNoData, when set, marks source pixels that hold no observation
	// (0 for Sentinel-2 L2A COGs).
	SrcNoData *float64
	Retry     resilience.RetryConfig
	// Breakers, when set, fail reads fast against a host that keeps
	// failing after retries.
	Breakers *resilience.HostBreakers
}

// NewReader creates a Reader. Register must have been called.
func NewReader(srcNoData *float64, retry resilience.RetryConfig) *Reader {
	return &Reader{SrcNoData: srcNoData, Retry: retry}
}

// ReadBands reads hrefs[i] as band names[i] resampled (nearest neighbour)
// onto grid. Pixels outside a source or equal to its NoData are NaN.
func (r *Reader) ReadBands(ctx context.Context, hrefs, names []string, grid raster.Grid) (*raster.Raster, error) {
	if len(hrefs) != len(names) {
		return nil, eris.Errorf("gdalio: %d hrefs for %d bands", len(hrefs), len(names))
	}

	out := raster.New(grid, names)
	for i, href := range hrefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := r.readBand(ctx, href, grid)
		if err != nil {
			return nil, eris.Wrapf(err, "gdalio: read band %s", names[i])
		}
		out.Data[i] = data
	}
	return out, nil
}

// readBand retries a single band read, behind the href's host breaker when
// one is configured.
func (r *Reader) readBand(ctx context.Context, href string, grid raster.Grid) ([]float64, error) {
	read := func(ctx context.Context) ([]float64, error) {
		return resilience.DoVal(ctx, r.Retry, func(context.Context) ([]float64, error) {
			return r.warpBand(VSIPath(href), grid)
		})
	}
	if r.Breakers == nil {
		return read(ctx)
	}
	return resilience.ExecuteVal(ctx, r.Breakers.Get(hostOf(href)), read)
}

// hostOf returns the host (or bucket) an href is served from. Local paths
// share the empty host.
func hostOf(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return ""
	}
	return u.Host
}

func (r *Reader) warpBand(path string, grid raster.Grid) ([]float64, error) {
	src, err := godal.Open(path, godal.ErrLogger(errLogger(path)))
	if err != nil {
		return nil, classify("open", err)
	}
	defer src.Close() //nolint:errcheck

	dst, err := src.Warp("", r.warpSwitches(grid), godal.ErrLogger(errLogger(path)))
	if err != nil {
		return nil, classify("warp", err)
	}
	defer dst.Close() //nolint:errcheck

	bands := dst.Bands()
	if len(bands) == 0 {
		return nil, eris.Errorf("gdalio: %s has no bands", path)
	}

	buf := make([]float64, grid.Width*grid.Height)
	if err := bands[0].Read(0, 0, buf, grid.Width, grid.Height); err != nil {
		return nil, classify("read", err)
	}
	return buf, nil
}

func (r *Reader) warpSwitches(grid raster.Grid) []string {
	b := grid.Bounds()
	sw := []string{
		"-of", "MEM",
		"-t_srs", fmt.Sprintf("EPSG:%d", grid.EPSG),
		"-te", ff(b[0]), ff(b[1]), ff(b[2]), ff(b[3]),
		"-ts", strconv.Itoa(grid.Width), strconv.Itoa(grid.Height),
		"-r", "near",
		"-ot", "Float64",
		"-dstnodata", "nan",
	}
	if r.SrcNoData != nil {
		sw = append(sw, "-srcnodata", ff(*r.SrcNoData))
	}
	return sw
}

// classify marks remote I/O failures as external service errors, flagging
// the ones worth a retry.
func classify(op string, err error) error {
	return apperr.NewExternal("gdal", op, resilience.IsTransient(err), err)
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// WriteGeoTIFF writes r to path as a deflate-compressed, tiled GeoTIFF with
// NaN NoData.
func WriteGeoTIFF(path string, r *raster.Raster) error {
	ds, err := godal.Create(godal.GTiff, path, len(r.Bands), godal.Float64, r.Width, r.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"), godal.ErrLogger(errLogger(path)))
	if err != nil {
		return eris.Wrapf(err, "gdalio: create %s", path)
	}

	if err := writeDataset(ds, r); err != nil {
		_ = ds.Close()
		return eris.Wrapf(err, "gdalio: write %s", path)
	}
	if err := ds.Close(); err != nil {
		return eris.Wrapf(err, "gdalio: close %s", path)
	}
	return nil
}

func writeDataset(ds *godal.Dataset, r *raster.Raster) error {
	if err := ds.SetGeoTransform(r.Transform); err != nil {
		return err
	}
	sr, err := godal.NewSpatialRefFromEPSG(r.EPSG)
	if err != nil {
		return err
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		return err
	}

	for i, band := range ds.Bands() {
		if err := band.SetNoData(raster.NoData); err != nil {
			return err
		}
		if err := band.Write(0, 0, r.Data[i], r.Width, r.Height); err != nil {
			return err
		}
	}
	return nil
}

// Encoder adapts WriteGeoTIFF to the exporter's encoder interface.
type Encoder struct{}

// Encode implements export.RasterEncoder.
func (Encoder) Encode(path string, r *raster.Raster) error { return WriteGeoTIFF(path, r) }

// Extension implements export.RasterEncoder.
func (Encoder) Extension() string { return ".tif" }
