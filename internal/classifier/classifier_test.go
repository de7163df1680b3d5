package classifier

import (
	"context"
	"testing"

	randomForest "github.com/malaschitz/randomForest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// separable returns rows where B2 alone decides the class (solar panels are
// bright, class 1) and B8 is unrelated noise.
func separable(n int) []sample.Row {
	rows := make([]sample.Row, 0, n)
	for i := 0; i < n; i++ {
		b2 := float64(i % 100)
		class := 2
		if b2 >= 50 {
			class = 1
		}
		rows = append(rows, sample.Row{Values: []float64{b2, float64((i * 37) % 100)}, Class: class})
	}
	return rows
}

func opts() Options {
	return Options{Trees: 25, Features: []string{"B2", "B8"}, Classes: []int{1, 2}, Seed: 11}
}

func TestTrain_PredictsSeparableClasses(t *testing.T) {
	m, err := Train(context.Background(), separable(400), opts())
	require.NoError(t, err)

	assert.Equal(t, 1, m.Predict([]float64{95, 10}))
	assert.Equal(t, 2, m.Predict([]float64{5, 90}))
	assert.Equal(t, []int{1, 2}, m.Classes())
	assert.Equal(t, []string{"B2", "B8"}, m.Features())
	assert.Equal(t, 25, m.Trees())
}

func TestTrain_Importance(t *testing.T) {
	m, err := Train(context.Background(), separable(400), opts())
	require.NoError(t, err)

	imp := m.Importance()
	require.Len(t, imp, 2)
	assert.InDelta(t, 1.0, imp["B2"], 1e-9)
	assert.GreaterOrEqual(t, imp["B8"], 0.0)
	assert.Less(t, imp["B8"], imp["B2"])

	imp["B2"] = 0
	assert.InDelta(t, 1.0, m.Importance()["B2"], 1e-9)
}

func TestTrain_MissingClass(t *testing.T) {
	rows := []sample.Row{{Values: []float64{1, 2}, Class: 1}, {Values: []float64{3, 4}, Class: 1}}

	_, err := Train(context.Background(), rows, opts())
	var ins *apperr.InsufficientDataError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, []int{2}, ins.Missing)
	assert.Equal(t, 2, ins.Rows)
}

func TestTrain_BadInput(t *testing.T) {
	_, err := Train(context.Background(), separable(10), Options{})
	assert.Error(t, err)

	rows := []sample.Row{{Values: []float64{1}, Class: 1}, {Values: []float64{2}, Class: 2}}
	_, err = Train(context.Background(), rows, opts())
	assert.ErrorContains(t, err, "values for 2 features")

	_, err = Train(context.Background(), nil, Options{Features: []string{"B2"}})
	assert.Error(t, err)
}

func TestTrain_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Train(ctx, separable(400), opts())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrain_SameSeedSameForest(t *testing.T) {
	o := opts()
	o.Trees = 50
	o.Seed = 42

	workers := randomForest.NumWorkers
	a, err := Train(context.Background(), separable(300), o)
	require.NoError(t, err)
	b, err := Train(context.Background(), separable(300), o)
	require.NoError(t, err)
	assert.Equal(t, workers, randomForest.NumWorkers)

	for b2 := 0.0; b2 < 100; b2 += 2.5 {
		for b8 := 0.0; b8 < 100; b8 += 7 {
			v := []float64{b2, b8}
			require.Equal(t, a.Predict(v), b.Predict(v), "B2=%v B8=%v", b2, b8)
		}
	}
	assert.Equal(t, a.Importance(), b.Importance())
	assert.Equal(t, a.forest.FeatureImportance, b.forest.FeatureImportance)
}

func TestClassifyRaster(t *testing.T) {
	m, err := Train(context.Background(), separable(400), opts())
	require.NoError(t, err)

	grid := raster.Grid{Width: 3, Height: 1, Transform: [6]float64{0, 1, 0, 1, 0, -1}}
	r := raster.New(grid, []string{"B4", "B8", "B2"})
	for col, b2 := range []float64{99, 1, 50} {
		r.Set(0, col, 0, 0)
		r.Set(1, col, 0, 20)
		r.Set(2, col, 0, b2)
	}
	r.Set(1, 2, 0, raster.NoData)

	out, err := m.ClassifyRaster(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, []string{ClassificationBand}, out.Bands)
	assert.Equal(t, 1.0, out.Value(0, 0, 0))
	assert.Equal(t, 2.0, out.Value(0, 1, 0))
	assert.True(t, raster.IsNoData(out.Value(0, 2, 0)))

	_, err = m.ClassifyRaster(context.Background(), raster.New(grid, []string{"B2"}))
	assert.Error(t, err)
}
