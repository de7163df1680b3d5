package region

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/landcover-cli/internal/apperr"
)

// Selector matches a boundary property against a requested name.
type Selector struct {
	Source   BoundarySource
	Property string
	Fold     bool // Unicode case-insensitive matching
}

// NewSelector creates a Selector. An empty property defaults to NAME.
func NewSelector(src BoundarySource, property string, fold bool) *Selector {
	if property == "" {
		property = "NAME"
	}
	return &Selector{Source: src, Property: property, Fold: fold}
}

// Resolve returns the single boundary whose property equals name. Zero or
// several matches are a NotFoundError.
func (s *Selector) Resolve(ctx context.Context, name string) (*Geometry, error) {
	log := zap.L().With(
		zap.String("component", "region.resolve"),
		zap.String("source", s.Source.Describe()),
		zap.String("property", s.Property),
		zap.String("value", name),
	)

	features, err := s.Source.Features(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "region: load %s", s.Source.Describe())
	}

	want := s.normalize(name)
	var matches []int
	for i, f := range features {
		if s.normalize(f.Attr(s.Property)) == want {
			matches = append(matches, i)
		}
	}

	if len(matches) != 1 {
		log.Warn("region did not resolve to a single boundary", zap.Int("matches", len(matches)))
		return nil, &apperr.NotFoundError{Property: s.Property, Value: name, Matches: len(matches)}
	}

	g, err := NewGeometry(name, features[matches[0]].Geometry)
	if err != nil {
		return nil, err
	}
	b := g.Bounds()
	log.Info("region resolved", zap.Float64s("bounds", b[:]))
	return g, nil
}

// List returns the sorted, distinct values of the selector property.
func (s *Selector) List(ctx context.Context) ([]string, error) {
	features, err := s.Source.Features(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "region: load %s", s.Source.Describe())
	}

	seen := make(map[string]struct{}, len(features))
	var names []string
	for _, f := range features {
		v := f.Attr(s.Property)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		names = append(names, v)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Selector) normalize(v string) string {
	if s.Fold {
		return cases.Fold().String(strings.TrimSpace(v))
	}
	return v
}
