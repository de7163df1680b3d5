package tiger

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

// Downloader fetches TIGER/Line ZIP archives into a cache directory.
type Downloader struct {
	Client *http.Client
	Retry  resilience.RetryConfig
}

// NewDownloader creates a Downloader with the given retry policy.
func NewDownloader(client *http.Client, retry resilience.RetryConfig) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{Client: client, Retry: retry}
}

// Download fetches a TIGER/Line ZIP into destDir and extracts it. Returns the
// path to the extracted .shp file. A cached, non-empty ZIP is reused.
func (d *Downloader) Download(ctx context.Context, url, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", url),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create dest dir")
	}

	parts := strings.Split(url, "/")
	zipName := parts[len(parts)-1]
	zipPath := filepath.Join(destDir, zipName)

	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already cached, skipping download", zap.String("path", zipPath))
	} else {
		log.Info("downloading TIGER shapefile")
		err := resilience.Do(ctx, d.Retry, func(ctx context.Context) error {
			return d.fetch(ctx, url, zipPath)
		})
		if err != nil {
			return "", eris.Wrap(err, "tiger: download shapefile")
		}
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "tiger: create extract dir")
	}

	if err := extractZIP(zipPath, extractDir); err != nil {
		return "", eris.Wrap(err, "tiger: extract ZIP")
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", eris.Wrap(err, "tiger: find .shp file")
	}

	return shpPath, nil
}

// fetch downloads url to dest through a temporary file so a failed attempt
// never leaves a truncated archive in the cache.
func (d *Downloader) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return apperr.NewExternal("tiger", "download", true, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return apperr.NewExternal("tiger", "download",
			resilience.IsTransientHTTPStatus(resp.StatusCode),
			eris.Errorf("download returned status %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tiger-*.zip")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return apperr.NewExternal("tiger", "download", true, err)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}

	return os.Rename(tmp.Name(), dest)
}

// extractZIP extracts the regular files of a ZIP archive, flattened, into
// destDir.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || name == string(filepath.Separator) {
			continue
		}
		if err := extractEntry(f, filepath.Join(destDir, name)); err != nil {
			return err
		}
	}

	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "create %s", destPath)
	}

	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "extract %s", f.Name)
	}
	return out.Close()
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
