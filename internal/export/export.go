// Package export writes pipeline outputs (rasters and label sets) to a local
// directory or an S3-compatible bucket.
package export

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/raster"
)

// RasterEncoder writes a raster file.
type RasterEncoder interface {
	Encode(path string, r *raster.Raster) error
	Extension() string
}

// Uploader copies a local file into a bucket.
type Uploader interface {
	Upload(ctx context.Context, bucket, object, localPath, contentType string) error
}

// Region is the area an export is clipped to.
type Region interface {
	Bounds() [4]float64
	Contains(lon, lat float64) bool
}

// Task describes one export. Description names the output file.
type Task struct {
	Description string
	Scale       float64 // metres per pixel; 0 keeps the source grid
	CRS         string  // "EPSG:<code>"
	Region      Region
}

// Exporter writes outputs to Destination, a directory or s3://bucket/prefix.
type Exporter struct {
	Enabled     bool
	Destination string
	Encoder     RasterEncoder
	Uploader    Uploader
	// ClassField names the attribute holding the class id in label files.
	ClassField string
}

// New creates an Exporter. A nil uploader is only valid for local
// destinations.
func New(enabled bool, destination string, enc RasterEncoder, up Uploader) *Exporter {
	return &Exporter{Enabled: enabled, Destination: destination, Encoder: enc, Uploader: up, ClassField: "landuse"}
}

// ExportRaster resamples r onto the task's scale, clips it to the task
// region and writes it. It returns the written locations.
func (e *Exporter) ExportRaster(ctx context.Context, r *raster.Raster, task Task) ([]string, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("task", task.Description))
	if !e.Enabled {
		log.Info("export disabled, skipping")
		return nil, nil
	}
	if e.Encoder == nil {
		return nil, eris.New("export: no raster encoder")
	}

	out, err := prepare(r, task)
	if err != nil {
		return nil, eris.Wrapf(err, "export: %s", task.Description)
	}

	return e.write(ctx, task.Description, func(dir string) ([]string, error) {
		p := filepath.Join(dir, task.Description+e.Encoder.Extension())
		if err := e.Encoder.Encode(p, out); err != nil {
			return nil, err
		}
		return []string{p}, nil
	})
}

// ExportLabels writes records as ESRI Shapefiles carrying the class
// attribute. Points and polygons go to separate files.
func (e *Exporter) ExportLabels(ctx context.Context, records labels.Collection, task Task) ([]string, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("task", task.Description))
	if !e.Enabled {
		log.Info("export disabled, skipping")
		return nil, nil
	}
	field := e.ClassField
	if field == "" {
		field = "landuse"
	}

	return e.write(ctx, task.Description, func(dir string) ([]string, error) {
		return writeShapefiles(dir, task.Description, field, records)
	})
}

// write runs fn against a local directory and publishes its files.
func (e *Exporter) write(ctx context.Context, desc string, fn func(dir string) ([]string, error)) ([]string, error) {
	log := zap.L().With(zap.String("component", "export"), zap.String("task", desc))

	bucket, prefix, remote := parseS3(e.Destination)
	dir := e.Destination
	if remote {
		tmp, err := os.MkdirTemp("", "landcover-export-*")
		if err != nil {
			return nil, eris.Wrap(err, "export: create staging dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create %s", dir)
	}

	files, err := fn(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "export: write %s", desc)
	}
	if !remote {
		log.Info("export written", zap.Strings("files", files))
		return files, nil
	}

	if e.Uploader == nil {
		return nil, eris.Errorf("export: destination %s needs object storage credentials", e.Destination)
	}
	uris := make([]string, 0, len(files))
	for _, f := range files {
		object := path.Join(prefix, filepath.Base(f))
		if err := e.Uploader.Upload(ctx, bucket, object, f, contentType(f)); err != nil {
			return nil, eris.Wrapf(err, "export: upload %s", object)
		}
		uris = append(uris, fmt.Sprintf("s3://%s/%s", bucket, object))
	}
	log.Info("export uploaded", zap.Strings("objects", uris))
	return uris, nil
}

// prepare puts r on the task grid.
func prepare(r *raster.Raster, task Task) (*raster.Raster, error) {
	if task.Description == "" {
		return nil, eris.New("task has no description")
	}
	if task.CRS != "" {
		code, err := ParseEPSG(task.CRS)
		if err != nil {
			return nil, err
		}
		if code != r.EPSG && r.EPSG != 0 {
			return nil, eris.Errorf("raster is EPSG:%d, reprojection to %s is not supported", r.EPSG, task.CRS)
		}
	}

	out := r
	if task.Scale > 0 {
		bounds := r.Bounds()
		if task.Region != nil {
			bounds = task.Region.Bounds()
		}
		grid, err := raster.GridFor(bounds, task.Scale)
		if err != nil {
			return nil, err
		}
		out = r.Resample(grid)
	}
	if task.Region != nil {
		out = out.Clip(task.Region)
	}
	return out, nil
}

// ParseEPSG reads an "EPSG:<code>" string.
func ParseEPSG(crs string) (int, error) {
	code, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(crs)), "EPSG:")
	if !ok {
		return 0, eris.Errorf("crs %q is not of the form EPSG:<code>", crs)
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return 0, eris.Errorf("crs %q has an invalid code", crs)
	}
	return n, nil
}

// parseS3 splits s3://bucket/prefix.
func parseS3(dest string) (bucket, prefix string, ok bool) {
	rest, ok := strings.CutPrefix(dest, "s3://")
	if !ok {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, strings.Trim(prefix, "/"), bucket != ""
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".tif", ".tiff":
		return "image/tiff"
	case ".dbf":
		return "application/dbase"
	default:
		return "application/octet-stream"
	}
}
