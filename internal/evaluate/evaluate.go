// Package evaluate scores a classifier against held-out samples.
package evaluate

import (
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/sells-group/landcover-cli/internal/apperr"
	"github.com/sells-group/landcover-cli/internal/sample"
)

// Predictor assigns a class to a feature vector.
type Predictor interface {
	Predict(values []float64) int
}

// ErrorMatrix counts validation rows by actual class (rows) and predicted
// class (columns).
type ErrorMatrix struct {
	Classes []int
	m       *mat.Dense
}

// NewErrorMatrix builds the matrix over the sorted union of actual and
// predicted classes.
func NewErrorMatrix(actual, predicted []int) *ErrorMatrix {
	var classes []int
	for _, c := range slices.Concat(actual, predicted) {
		if !slices.Contains(classes, c) {
			classes = append(classes, c)
		}
	}
	slices.Sort(classes)

	n := max(len(classes), 1)
	em := &ErrorMatrix{Classes: classes, m: mat.NewDense(n, n, nil)}
	for i := range actual {
		r, c := em.index(actual[i]), em.index(predicted[i])
		em.m.Set(r, c, em.m.At(r, c)+1)
	}
	return em
}

func (e *ErrorMatrix) index(class int) int {
	i, _ := slices.BinarySearch(e.Classes, class)
	return i
}

// At returns the count of rows of class actual predicted as predicted.
func (e *ErrorMatrix) At(actual, predicted int) int {
	if !slices.Contains(e.Classes, actual) || !slices.Contains(e.Classes, predicted) {
		return 0
	}
	return int(e.m.At(e.index(actual), e.index(predicted)))
}

// Counts returns the matrix as nested slices in Classes order.
func (e *ErrorMatrix) Counts() [][]int {
	out := make([][]int, len(e.Classes))
	for i := range e.Classes {
		out[i] = make([]int, len(e.Classes))
		for j := range e.Classes {
			out[i][j] = int(e.m.At(i, j))
		}
	}
	return out
}

// Total returns the number of rows counted.
func (e *ErrorMatrix) Total() float64 {
	return mat.Sum(e.m)
}

// Accuracy is the fraction of rows on the diagonal.
func (e *ErrorMatrix) Accuracy() float64 {
	total := e.Total()
	if total == 0 {
		return 0
	}
	return mat.Trace(e.m) / total
}

// Kappa is Cohen's kappa. When chance agreement is 1 the statistic is
// undefined; it is reported as 1 for perfect agreement and 0 otherwise.
func (e *ErrorMatrix) Kappa() float64 {
	total := e.Total()
	if total == 0 {
		return 0
	}
	po := e.Accuracy()

	n := len(e.Classes)
	var pe float64
	for i := 0; i < n; i++ {
		rowSum := mat.Sum(e.m.RowView(i))
		colSum := mat.Sum(e.m.ColView(i))
		pe += (rowSum / total) * (colSum / total)
	}
	if pe == 1 {
		if po == 1 {
			return 1
		}
		return 0
	}
	return (po - pe) / (1 - pe)
}

// ProducersAccuracy returns, per actual class, the fraction of its rows
// predicted correctly. Classes with no actual rows score 0.
func (e *ErrorMatrix) ProducersAccuracy() map[int]float64 {
	out := make(map[int]float64, len(e.Classes))
	for i, c := range e.Classes {
		sum := mat.Sum(e.m.RowView(i))
		out[c] = ratio(e.m.At(i, i), sum)
	}
	return out
}

// ConsumersAccuracy returns, per predicted class, the fraction of its
// predictions that were correct. Classes never predicted score 0.
func (e *ErrorMatrix) ConsumersAccuracy() map[int]float64 {
	out := make(map[int]float64, len(e.Classes))
	for j, c := range e.Classes {
		sum := mat.Sum(e.m.ColView(j))
		out[c] = ratio(e.m.At(j, j), sum)
	}
	return out
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Result holds the validation metrics of one model.
type Result struct {
	Matrix            *ErrorMatrix
	Accuracy          float64
	Kappa             float64
	ProducersAccuracy map[int]float64
	ConsumersAccuracy map[int]float64
	Samples           int
}

// Evaluate predicts every validation row of s and scores the predictions.
func Evaluate(model Predictor, s *sample.Split) (*Result, error) {
	rows := s.Validation()
	if len(rows) == 0 {
		return nil, &apperr.EmptyValidationError{Threshold: s.Threshold, Total: len(s.Rows)}
	}

	actual := make([]int, len(rows))
	predicted := make([]int, len(rows))
	for i, r := range rows {
		actual[i] = r.Class
		predicted[i] = model.Predict(r.Values)
	}

	em := NewErrorMatrix(actual, predicted)
	return &Result{
		Matrix:            em,
		Accuracy:          em.Accuracy(),
		Kappa:             em.Kappa(),
		ProducersAccuracy: em.ProducersAccuracy(),
		ConsumersAccuracy: em.ConsumersAccuracy(),
		Samples:           len(rows),
	}, nil
}
