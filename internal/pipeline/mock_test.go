package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/landcover-cli/internal/export"
	"github.com/sells-group/landcover-cli/internal/imagery"
	"github.com/sells-group/landcover-cli/internal/labels"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/region"
	"github.com/sells-group/landcover-cli/internal/runlog"
)

// --- Region Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, name string) (*region.Geometry, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*region.Geometry), args.Error(1)
}

// --- Scene Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, req imagery.Request) (*imagery.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*imagery.Result), args.Error(1)
}

// --- Exporter Mock ---

type mockExporter struct {
	mock.Mock
}

func (m *mockExporter) ExportRaster(ctx context.Context, r *raster.Raster, task export.Task) ([]string, error) {
	args := m.Called(ctx, r, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockExporter) ExportLabels(ctx context.Context, records labels.Collection, task export.Task) ([]string, error) {
	args := m.Called(ctx, records, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Ledger Mock ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) RecordRun(ctx context.Context, run *runlog.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}
