package gdalio

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/resilience"
)

func TestVSIPath(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"https://sentinel-cogs.s3.us-west-2.amazonaws.com/T19TCG/B02.tif", "/vsicurl/https://sentinel-cogs.s3.us-west-2.amazonaws.com/T19TCG/B02.tif"},
		{"s3://sentinel-cogs/T19TCG/B02.tif", "/vsis3/sentinel-cogs/T19TCG/B02.tif"},
		{"gs://bucket/lc.tif", "/vsigs/bucket/lc.tif"},
		{"/data/local.tif", "/data/local.tif"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VSIPath(tt.href))
	}
}

func TestWarpSwitches(t *testing.T) {
	grid := raster.Grid{Width: 3, Height: 2, Transform: [6]float64{-72, 0.5, 0, 42, 0, -0.5}, EPSG: 4326}
	zero := 0.0

	sw := NewReader(&zero, resilience.RetryConfig{}).warpSwitches(grid)
	assert.Equal(t, []string{
		"-of", "MEM",
		"-t_srs", "EPSG:4326",
		"-te", "-72", "41", "-70.5", "42",
		"-ts", "3", "2",
		"-r", "near",
		"-ot", "Float64",
		"-dstnodata", "nan",
		"-srcnodata", "0",
	}, sw)

	assert.NotContains(t, NewReader(nil, resilience.RetryConfig{}).warpSwitches(grid), "-srcnodata")
}

func TestWriteThenRead(t *testing.T) {
	Register()

	grid := raster.Grid{Width: 4, Height: 3, Transform: [6]float64{-71.5, 0.01, 0, 41.8, 0, -0.01}, EPSG: 4326}
	src := raster.New(grid, []string{"B2", "B8"})
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			src.Set(0, col, row, float64(100+row*grid.Width+col))
			src.Set(1, col, row, float64(200+row*grid.Width+col))
		}
	}
	src.Set(0, 3, 2, raster.NoData)

	path := filepath.Join(t.TempDir(), "mosaic.tif")
	require.NoError(t, Encoder{}.Encode(path, src))
	assert.Equal(t, ".tif", Encoder{}.Extension())

	// Read the single-band file back twice, as two named bands.
	r := NewReader(nil, resilience.RetryConfig{MaxAttempts: 1})
	got, err := r.ReadBands(context.Background(), []string{path, path}, []string{"B2", "B2again"}, grid)
	require.NoError(t, err)

	assert.Equal(t, []string{"B2", "B2again"}, got.Bands)
	assert.Equal(t, 100.0, got.Value(0, 0, 0))
	assert.Equal(t, 106.0, got.Value(0, 2, 1))
	assert.True(t, raster.IsNoData(got.Value(0, 3, 2)))
}

func TestReadBands_LengthMismatch(t *testing.T) {
	_, err := NewReader(nil, resilience.RetryConfig{}).ReadBands(context.Background(), []string{"a"}, nil, raster.Grid{})
	assert.Error(t, err)
}

func TestReadBands_MissingFileIsNotRetried(t *testing.T) {
	Register()

	grid := raster.Grid{Width: 1, Height: 1, Transform: [6]float64{0, 1, 0, 1, 0, -1}, EPSG: 4326}
	r := NewReader(nil, resilience.RetryConfig{MaxAttempts: 2})
	_, err := r.ReadBands(context.Background(), []string{filepath.Join(t.TempDir(), "missing.tif")}, []string{"B2"}, grid)
	assert.Error(t, err)
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		href string
		want string
	}{
		{"https://sentinel-cogs.s3.us-west-2.amazonaws.com/tiles/B02.tif", "sentinel-cogs.s3.us-west-2.amazonaws.com"},
		{"s3://bucket/key/B08.tif", "bucket"},
		{"/data/B02.tif", ""},
		{`C:\data\B02.tif`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, hostOf(tt.href), tt.href)
	}
}

func TestReadBands_MissingFileKeepsBreakerClosed(t *testing.T) {
	Register()

	grid := raster.Grid{Width: 1, Height: 1, Transform: [6]float64{0, 1, 0, 1, 0, -1}, EPSG: 4326}
	r := NewReader(nil, resilience.RetryConfig{MaxAttempts: 1})
	r.Breakers = resilience.NewHostBreakers(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       resilience.IsTransient,
	})

	missing := filepath.Join(t.TempDir(), "missing.tif")
	for range 3 {
		_, err := r.ReadBands(context.Background(), []string{missing}, []string{"B2"}, grid)
		require.Error(t, err)
		assert.NotErrorIs(t, err, resilience.ErrCircuitOpen)
	}
	assert.Equal(t, resilience.CircuitClosed, r.Breakers.States()[""])
}
