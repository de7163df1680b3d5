package tiger

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

func testDownloader() *Downloader {
	return NewDownloader(nil, resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

func TestDownload_Success(t *testing.T) {
	zipContent := createTestZIP(t, map[string]string{
		"tl_2018_us_state.shp": "fake shapefile data",
		"tl_2018_us_state.dbf": "fake dbf data",
		"tl_2018_us_state.shx": "fake shx data",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	shpPath, err := testDownloader().Download(context.Background(), srv.URL+"/tl_2018_us_state.zip", destDir)

	require.NoError(t, err)
	assert.Equal(t, ".shp", filepath.Ext(shpPath))
	assert.FileExists(t, shpPath)
}

func TestDownload_CachedZipSkipsRequest(t *testing.T) {
	zipContent := createTestZIP(t, map[string]string{
		"test.shp": "fake shapefile data",
	})

	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&callCount, 1)
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	url := srv.URL + "/tl_2018_us_state.zip"
	d := testDownloader()

	_, err := d.Download(context.Background(), url, destDir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount))

	_, err = d.Download(context.Background(), url, destDir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount))
}

func TestDownload_RetriesTransientStatusOnce(t *testing.T) {
	zipContent := createTestZIP(t, map[string]string{"x.shp": "shp"})

	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&callCount, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(zipContent)
	}))
	defer srv.Close()

	_, err := testDownloader().Download(context.Background(), srv.URL+"/x.zip", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&callCount))
}

func TestDownload_NotFoundIsNotRetried(t *testing.T) {
	var callCount int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&callCount, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	destDir := t.TempDir()
	_, err := testDownloader().Download(context.Background(), srv.URL+"/missing.zip", destDir)
	require.Error(t, err)
	assert.Equal(t, "external_service", apperr.Kind(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&callCount))
	assert.NoFileExists(t, filepath.Join(destDir, "missing.zip"))
}

func TestDownload_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testDownloader().Download(ctx, srv.URL+"/slow.zip", t.TempDir())
	assert.Error(t, err)
}

func TestExtractZIP(t *testing.T) {
	files := map[string]string{
		"file1.txt": "content1",
		"file2.shp": "shapefile content",
	}
	zipContent := createTestZIP(t, files)

	// Write ZIP to temp file.
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	require.NoError(t, os.WriteFile(zipPath, zipContent, 0o644))

	extractDir := filepath.Join(t.TempDir(), "extracted")
	require.NoError(t, os.MkdirAll(extractDir, 0o755))

	err := extractZIP(zipPath, extractDir)
	require.NoError(t, err)

	// Verify extracted files.
	for name, expectedContent := range files {
		data, readErr := os.ReadFile(filepath.Join(extractDir, name))
		require.NoError(t, readErr)
		assert.Equal(t, expectedContent, string(data))
	}
}

func TestFindFileByExt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.shp"), []byte("shp"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.dbf"), []byte("dbf"), 0o644))

	shpPath, err := findFileByExt(dir, ".shp")
	require.NoError(t, err)
	assert.Contains(t, shpPath, "data.shp")

	_, err = findFileByExt(dir, ".prj")
	assert.Error(t, err)
}

// createTestZIP creates a ZIP file in memory with the given files.
func createTestZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()

	tmpFile := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(tmpFile)
	require.NoError(t, err)

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, createErr := w.Create(name)
		require.NoError(t, createErr)
		_, writeErr := fw.Write([]byte(content))
		require.NoError(t, writeErr)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	data, err := os.ReadFile(tmpFile)
	require.NoError(t, err)
	return data
}
