// Package apperr defines the error kinds a classification run can abort with.
// Every kind carries enough of the failing input for an operator to adjust
// parameters and rerun.
package apperr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NotFoundError reports a region lookup that did not resolve to exactly one
// boundary feature.
type NotFoundError struct {
	Property string
	Value    string
	Matches  int
}

func (e *NotFoundError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no boundary where %s = %q", e.Property, e.Value)
	}
	return fmt.Sprintf("%d boundaries where %s = %q, expected exactly one", e.Matches, e.Property, e.Value)
}

// EmptyResultError reports an archive query that matched no scenes.
type EmptyResultError struct {
	Collection string
	Start, End time.Time
	Bounds     [4]float64
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("no scenes in %s between %s and %s intersecting [%g %g %g %g]",
		e.Collection, e.Start.Format(time.DateOnly), e.End.Format(time.DateOnly),
		e.Bounds[0], e.Bounds[1], e.Bounds[2], e.Bounds[3])
}

// OutOfBoundsError reports a label location outside the raster coverage.
type OutOfBoundsError struct {
	Source    string
	Index     int
	Lon, Lat  float64
	RasterBox [4]float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("label %d from %s at (%g, %g) is outside raster [%g %g %g %g]",
		e.Index, e.Source, e.Lon, e.Lat,
		e.RasterBox[0], e.RasterBox[1], e.RasterBox[2], e.RasterBox[3])
}

// InsufficientDataError reports training rows that do not cover every class.
type InsufficientDataError struct {
	Missing []int
	Rows    int
}

func (e *InsufficientDataError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		parts[i] = fmt.Sprint(c)
	}
	return fmt.Sprintf("training set of %d rows has no samples of class %s", e.Rows, strings.Join(parts, ", "))
}

// EmptyValidationError reports a split that left nothing to validate against.
type EmptyValidationError struct {
	Threshold float64
	Total     int
}

func (e *EmptyValidationError) Error() string {
	return fmt.Sprintf("validation set is empty (%d samples, split threshold %g)", e.Total, e.Threshold)
}

// ExternalServiceError wraps a failed call to the archive, boundary host or
// object store. Transient marks failures worth one more attempt.
type ExternalServiceError struct {
	Service   string
	Operation string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NewExternal wraps err as an ExternalServiceError.
func NewExternal(service, operation string, transient bool, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Operation: operation, Transient: transient, Err: err}
}

// StageError attaches the pipeline stage and a description of its input to
// the underlying cause.
type StageError struct {
	Stage string
	Input string
	Err   error
}

func (e *StageError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s (%s): %v", e.Stage, e.Input, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Stage wraps err with stage context. A nil err stays nil.
func Stage(stage, input string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Input: input, Err: err}
}

// Kind returns a short label for the most specific taxonomy error in err's
// chain, or "internal" when none matches.
func Kind(err error) string {
	var (
		nf  *NotFoundError
		er  *EmptyResultError
		oob *OutOfBoundsError
		ins *InsufficientDataError
		ev  *EmptyValidationError
		ext *ExternalServiceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &nf):
		return "not_found"
	case errors.As(err, &er):
		return "empty_result"
	case errors.As(err, &oob):
		return "out_of_bounds"
	case errors.As(err, &ins):
		return "insufficient_data"
	case errors.As(err, &ev):
		return "empty_validation"
	case errors.As(err, &ext):
		return "external_service"
	default:
		return "internal"
	}
}
