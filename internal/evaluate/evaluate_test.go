package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// repeat builds n copies of v.
func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func concat(parts ...[]int) []int {
	var out []int
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func TestErrorMatrix_AccuracyAndKappa(t *testing.T) {
	// actual 1: 45 right, 5 wrong; actual 2: 10 wrong, 40 right.
	actual := concat(repeat(1, 50), repeat(2, 50))
	predicted := concat(repeat(1, 45), repeat(2, 5), repeat(1, 10), repeat(2, 40))

	em := NewErrorMatrix(actual, predicted)
	assert.Equal(t, []int{1, 2}, em.Classes)
	assert.Equal(t, [][]int{{45, 5}, {10, 40}}, em.Counts())
	assert.Equal(t, 10, em.At(2, 1))
	assert.Equal(t, 0, em.At(3, 1))
	assert.Equal(t, 100.0, em.Total())

	assert.InDelta(t, 0.85, em.Accuracy(), 1e-12)
	assert.InDelta(t, 0.7, em.Kappa(), 1e-12)

	pa := em.ProducersAccuracy()
	assert.InDelta(t, 0.9, pa[1], 1e-12)
	assert.InDelta(t, 0.8, pa[2], 1e-12)

	ca := em.ConsumersAccuracy()
	assert.InDelta(t, 45.0/55, ca[1], 1e-12)
	assert.InDelta(t, 40.0/45, ca[2], 1e-12)
}

func TestErrorMatrix_ClassesFromPredictionsToo(t *testing.T) {
	em := NewErrorMatrix([]int{1, 1}, []int{1, 3})
	assert.Equal(t, []int{1, 3}, em.Classes)
	assert.Equal(t, [][]int{{1, 1}, {0, 0}}, em.Counts())
	assert.Equal(t, 0.0, em.ProducersAccuracy()[3])
}

func TestKappa_ChanceAgreementIsOne(t *testing.T) {
	em := NewErrorMatrix(repeat(1, 10), repeat(1, 10))
	assert.Equal(t, 1.0, em.Accuracy())
	assert.Equal(t, 1.0, em.Kappa())

	em = NewErrorMatrix(repeat(1, 10), repeat(2, 10))
	assert.Equal(t, 0.0, em.Accuracy())
	assert.Equal(t, 0.0, em.Kappa())
}

func TestKappa_ChanceLevelIsZero(t *testing.T) {
	// Predictions independent of the actual class: Po == Pe == 0.5.
	em := NewErrorMatrix([]int{1, 1, 2, 2}, []int{1, 2, 1, 2})
	assert.InDelta(t, 0.5, em.Accuracy(), 1e-12)
	assert.InDelta(t, 0.0, em.Kappa(), 1e-12)
}

func TestErrorMatrix_Empty(t *testing.T) {
	em := NewErrorMatrix(nil, nil)
	assert.Empty(t, em.Classes)
	assert.Equal(t, 0.0, em.Accuracy())
	assert.Equal(t, 0.0, em.Kappa())
}

// threshold predicts class 1 when the first value is at least 50.
type threshold struct{}

func (threshold) Predict(v []float64) int {
	if v[0] >= 50 {
		return 1
	}
	return 2
}

func TestEvaluate(t *testing.T) {
	s := &sample.Split{Threshold: 0.5, Rows: []sample.Row{
		{Values: []float64{90}, Class: 1, Random: 0.9},
		{Values: []float64{10}, Class: 2, Random: 0.7},
		{Values: []float64{60}, Class: 2, Random: 0.6},
		{Values: []float64{0}, Class: 1, Random: 0.1},
	}}

	res, err := Evaluate(threshold{}, s)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Samples)
	assert.InDelta(t, 2.0/3, res.Accuracy, 1e-12)
	assert.Equal(t, [][]int{{1, 0}, {1, 1}}, res.Matrix.Counts())
	assert.InDelta(t, 0.5, res.ProducersAccuracy[2], 1e-12)
}

func TestEvaluate_EmptyValidation(t *testing.T) {
	s := &sample.Split{Threshold: 1, Rows: []sample.Row{{Values: []float64{1}, Class: 1, Random: 0.3}}}

	_, err := Evaluate(threshold{}, s)
	var ev *apperr.EmptyValidationError
	require.ErrorAs(t, err, &ev)
	assert.Equal(t, 1, ev.Total)
	assert.Equal(t, 1.0, ev.Threshold)
}
