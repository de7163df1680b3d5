// Package classifier fits a random forest to extracted samples and applies
// it to rasters.
package classifier

import (
	"context"
	mathrand "math/rand"
	"math/rand/v2"
	"slices"
	"sync"

	randomForest "github.com/malaschitz/randomForest"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/raster"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// ClassificationBand names the single band of a classified raster.
const ClassificationBand = "classification"

// DefaultTrees is the forest size used when Options.Trees is zero.
const DefaultTrees = 1000

// Options configures training.
type Options struct {
	Trees    int
	Features []string
	// Classes lists every class the model must learn. Empty means the
	// classes present in the rows.
	Classes []int
	// Seed drives tree induction (bootstrap draws and feature subsets) and
	// the permutation importance shuffles. The same rows, options and seed
	// grow the same forest.
	Seed uint64
}

// Model is a trained forest. It is safe for concurrent use.
type Model struct {
	forest     *randomForest.Forest
	features   []string
	classes    []int // dense index -> class id
	importance map[string]float64
	trees      int
}

// Train fits a forest to rows whose Values follow opts.Features.
func Train(ctx context.Context, rows []sample.Row, opts Options) (*Model, error) {
	if len(opts.Features) == 0 {
		return nil, eris.New("classifier: no feature bands")
	}
	if opts.Trees <= 0 {
		opts.Trees = DefaultTrees
	}

	classes := append([]int(nil), opts.Classes...)
	if len(classes) == 0 {
		for _, r := range rows {
			if !slices.Contains(classes, r.Class) {
				classes = append(classes, r.Class)
			}
		}
	}
	slices.Sort(classes)
	if len(classes) == 0 {
		return nil, eris.New("classifier: no training rows")
	}
	if missing := missingClasses(rows, classes); len(missing) > 0 {
		return nil, &apperr.InsufficientDataError{Missing: missing, Rows: len(rows)}
	}

	index := make(map[int]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}

	x := make([][]float64, len(rows))
	y := make([]int, len(rows))
	for i, r := range rows {
		if len(r.Values) != len(opts.Features) {
			return nil, eris.Errorf("classifier: row %d has %d values for %d features", i, len(r.Values), len(opts.Features))
		}
		cls, ok := index[r.Class]
		if !ok {
			return nil, eris.Errorf("classifier: row %d has unexpected class %d", i, r.Class)
		}
		x[i] = r.Values
		y[i] = cls
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "classifier.train"))
	log.Info("training random forest",
		zap.Int("trees", opts.Trees),
		zap.Int("rows", len(rows)),
		zap.Strings("features", opts.Features),
		zap.Ints("classes", classes),
	)

	forest := fitForest(x, y, opts.Trees, opts.Seed)

	m := &Model{
		forest:   forest,
		features: append([]string(nil), opts.Features...),
		classes:  classes,
		trees:    opts.Trees,
	}

	imp, err := m.permutationImportance(ctx, x, y, opts.Seed)
	if err != nil {
		return nil, err
	}
	m.importance = imp
	log.Info("forest trained", zap.Any("importance", imp))
	return m, nil
}

// trainMu serializes forest fitting. The forest library draws from the
// process-wide math/rand source and sizes its worker pool from a package
// variable, so both are pinned for the duration of a fit.
var trainMu sync.Mutex

// fitForest grows trees one at a time from a source seeded with seed, so
// the draw order (and with it the forest) depends only on the inputs.
// Reseeding needs randseednop=0, set by the go.mod godebug line.
func fitForest(x [][]float64, y []int, trees int, seed uint64) *randomForest.Forest {
	trainMu.Lock()
	defer trainMu.Unlock()

	workers := randomForest.NumWorkers
	randomForest.NumWorkers = 1
	defer func() { randomForest.NumWorkers = workers }()

	mathrand.Seed(int64(seed)) //nolint:staticcheck // the forest library only reads the global source

	forest := &randomForest.Forest{}
	forest.Data = randomForest.ForestData{X: x, Class: y}
	forest.Train(trees)
	return forest
}

// Predict returns the class id with the most votes. Ties go to the lower
// class id.
func (m *Model) Predict(values []float64) int {
	return m.classes[m.predictIndex(values)]
}

func (m *Model) predictIndex(values []float64) int {
	votes := m.forest.Vote(values)
	best := 0
	for i := 1; i < len(votes) && i < len(m.classes); i++ {
		if votes[i] > votes[best] {
			best = i
		}
	}
	return best
}

// Importance returns each feature's permutation importance in [0, 1]; the
// most important feature scores 1.
func (m *Model) Importance() map[string]float64 {
	out := make(map[string]float64, len(m.importance))
	for k, v := range m.importance {
		out[k] = v
	}
	return out
}

// Features returns the feature bands in model input order.
func (m *Model) Features() []string { return append([]string(nil), m.features...) }

// Classes returns the class ids the model predicts, ascending.
func (m *Model) Classes() []int { return append([]int(nil), m.classes...) }

// Trees returns the forest size.
func (m *Model) Trees() int { return m.trees }

// ClassifyRaster predicts every pixel of r. Pixels where any feature band
// is NoData stay NoData.
func (m *Model) ClassifyRaster(ctx context.Context, r *raster.Raster) (*raster.Raster, error) {
	in, err := r.Select(m.features)
	if err != nil {
		return nil, eris.Wrap(err, "classifier: classify raster")
	}

	out := raster.New(r.Grid, []string{ClassificationBand})
	for row := 0; row < in.Height; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for col := 0; col < in.Width; col++ {
			if !in.Valid(col, row) {
				continue
			}
			out.Set(0, col, row, float64(m.Predict(in.Pixel(col, row))))
		}
	}
	return out, nil
}

// permutationImportance measures the accuracy lost on the training rows
// when each feature column is shuffled.
func (m *Model) permutationImportance(ctx context.Context, x [][]float64, y []int, seed uint64) (map[string]float64, error) {
	base := m.accuracy(x, y)
	drops := make([]float64, len(m.features))

	for j := range m.features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rng := rand.New(rand.NewPCG(seed, uint64(j)))
		perm := rng.Perm(len(x))

		shuffled := make([][]float64, len(x))
		for i := range x {
			row := append([]float64(nil), x[i]...)
			row[j] = x[perm[i]][j]
			shuffled[i] = row
		}
		drops[j] = max(0, base-m.accuracy(shuffled, y))
	}

	top := slices.Max(drops)
	out := make(map[string]float64, len(m.features))
	for j, f := range m.features {
		if top > 0 {
			out[f] = drops[j] / top
		} else {
			out[f] = 0
		}
	}
	return out, nil
}

func (m *Model) accuracy(x [][]float64, y []int) float64 {
	if len(x) == 0 {
		return 0
	}
	correct := 0
	for i := range x {
		if m.predictIndex(x[i]) == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(x))
}

func missingClasses(rows []sample.Row, classes []int) []int {
	seen := make(map[int]bool)
	for _, r := range rows {
		seen[r.Class] = true
	}
	var missing []int
	for _, c := range classes {
		if !seen[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
