// Package report renders the outcome of a classification run as text, JSON,
// YAML, XLSX and an importance chart.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/landcover-cli/internal/imagery"
)

// Importance is one feature's score.
type Importance struct {
	Feature string  `json:"feature" yaml:"feature"`
	Score   float64 `json:"score" yaml:"score"`
}

// Matrix is an error matrix in class order: rows actual, columns predicted.
type Matrix struct {
	Classes []int   `json:"classes" yaml:"classes"`
	Counts  [][]int `json:"counts" yaml:"counts"`
}

// Report summarises one classification run.
type Report struct {
	RunID      string          `json:"run_id" yaml:"run_id"`
	CreatedAt  time.Time       `json:"created_at" yaml:"created_at"`
	Seed       uint64          `json:"seed" yaml:"seed"`
	Region     string          `json:"region" yaml:"region"`
	Collection string          `json:"collection" yaml:"collection"`
	Start      time.Time       `json:"start" yaml:"start"`
	End        time.Time       `json:"end" yaml:"end"`
	Scenes     []imagery.Scene `json:"scenes" yaml:"scenes"`
	Coverage   float64         `json:"coverage" yaml:"coverage"`

	Labels     map[int]int `json:"labels" yaml:"labels"`
	Duplicates int         `json:"duplicates" yaml:"duplicates"`

	Samples        int         `json:"samples" yaml:"samples"`
	SplitThreshold float64     `json:"split_threshold" yaml:"split_threshold"`
	Training       map[int]int `json:"training" yaml:"training"`
	Validation     map[int]int `json:"validation" yaml:"validation"`

	Trees      int          `json:"trees" yaml:"trees"`
	Features   []string     `json:"features" yaml:"features"`
	Importance []Importance `json:"importance" yaml:"importance"`

	ErrorMatrix       Matrix          `json:"error_matrix" yaml:"error_matrix"`
	Accuracy          float64         `json:"accuracy" yaml:"accuracy"`
	Kappa             float64         `json:"kappa" yaml:"kappa"`
	ProducersAccuracy map[int]float64 `json:"producers_accuracy" yaml:"producers_accuracy"`
	ConsumersAccuracy map[int]float64 `json:"consumers_accuracy" yaml:"consumers_accuracy"`

	Exports []string `json:"exports,omitempty" yaml:"exports,omitempty"`
}

// ImportanceList orders an importance map by the given feature order.
func ImportanceList(features []string, scores map[string]float64) []Importance {
	out := make([]Importance, 0, len(features))
	for _, f := range features {
		out = append(out, Importance{Feature: f, Score: scores[f]})
	}
	return out
}

// Format names a report writer.
type Format string

const (
	Text Format = "text"
	JSON Format = "json"
	YAML Format = "yaml"
	XLSX Format = "xlsx"
)

// ParseFormats validates format names.
func ParseFormats(names []string) ([]Format, error) {
	out := make([]Format, 0, len(names))
	for _, n := range names {
		switch f := Format(n); f {
		case Text, JSON, YAML, XLSX:
			out = append(out, f)
		default:
			return nil, eris.Errorf("report: unknown format %q", n)
		}
	}
	return out, nil
}

// WriteFiles writes report.<ext> for each format into dir, plus
// importance.png when chart is set. It returns the written paths.
func WriteFiles(dir string, formats []Format, chart bool, r *Report) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "report: create %s", dir)
	}

	var paths []string
	for _, f := range formats {
		p := filepath.Join(dir, "report."+ext(f))
		var err error
		if f == XLSX {
			err = WriteXLSX(p, r)
		} else {
			err = writeFile(p, func(w io.Writer) error { return Write(w, f, r) })
		}
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}

	if chart {
		p := filepath.Join(dir, "importance.png")
		if err := writeFile(p, func(w io.Writer) error { return ImportanceChart(w, r.Importance) }); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// Write renders r to w in a stream format (text, json or yaml).
func Write(w io.Writer, f Format, r *Report) error {
	switch f {
	case Text:
		return WriteText(w, r)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "report: encode json")
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "report: encode yaml")
		}
		return eris.Wrap(enc.Close(), "report: encode yaml")
	default:
		return eris.Errorf("report: format %q cannot be streamed", f)
	}
}

// WriteText writes a human-readable summary.
func WriteText(out io.Writer, r *Report) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.RunID)
	_, _ = fmt.Fprintf(w, "Seed:\t%d\n", r.Seed)
	_, _ = fmt.Fprintf(w, "Region:\t%s\n", r.Region)
	_, _ = fmt.Fprintf(w, "Imagery:\t%s %s..%s\n", r.Collection, r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	_, _ = fmt.Fprintf(w, "Scenes:\t%d\n", len(r.Scenes))
	for _, s := range r.Scenes {
		_, _ = fmt.Fprintf(w, "  %s\t%s\tcloud %.1f%%\n", s.ID, s.Datetime.Format(time.RFC3339), s.CloudCover)
	}
	_, _ = fmt.Fprintf(w, "Coverage:\t%.1f%%\n", r.Coverage*100)
	_, _ = fmt.Fprintf(w, "Labels:\t%s\n", classCounts(r.Labels))
	if r.Duplicates > 0 {
		_, _ = fmt.Fprintf(w, "  Duplicate locations:\t%d\n", r.Duplicates)
	}
	_, _ = fmt.Fprintf(w, "Samples:\t%d\n", r.Samples)
	_, _ = fmt.Fprintf(w, "  Training (< %g):\t%s\n", r.SplitThreshold, classCounts(r.Training))
	_, _ = fmt.Fprintf(w, "  Validation:\t%s\n", classCounts(r.Validation))
	_, _ = fmt.Fprintf(w, "Trees:\t%d\n", r.Trees)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out, "\nRandom Forest Variable Importance")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BAND\tIMPORTANCE")
	_, _ = fmt.Fprintln(w, "----\t----------")
	for _, imp := range r.Importance {
		_, _ = fmt.Fprintf(w, "%s\t%.4f\n", imp.Feature, imp.Score)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out, "\nError matrix (rows actual, columns predicted)")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	_, _ = fmt.Fprint(w, "\t")
	for _, c := range r.ErrorMatrix.Classes {
		_, _ = fmt.Fprintf(w, "%d\t", c)
	}
	_, _ = fmt.Fprintln(w, "PRODUCERS\t")
	for i, c := range r.ErrorMatrix.Classes {
		_, _ = fmt.Fprintf(w, "%d\t", c)
		for _, n := range r.ErrorMatrix.Counts[i] {
			_, _ = fmt.Fprintf(w, "%d\t", n)
		}
		_, _ = fmt.Fprintf(w, "%.4f\t\n", r.ProducersAccuracy[c])
	}
	_, _ = fmt.Fprint(w, "CONSUMERS\t")
	for _, c := range r.ErrorMatrix.Classes {
		_, _ = fmt.Fprintf(w, "%.4f\t", r.ConsumersAccuracy[c])
	}
	_, _ = fmt.Fprintln(w)
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nAccuracy: %.4f\nKappa:    %.4f\n", r.Accuracy, r.Kappa)
	for _, e := range r.Exports {
		_, _ = fmt.Fprintf(out, "Exported: %s\n", e)
	}
	return nil
}

func classCounts(m map[int]int) string {
	keys := make([]int, 0, len(m))
	total := 0
	for k, v := range m {
		keys = append(keys, k)
		total += v
	}
	sort.Ints(keys)
	s := fmt.Sprintf("%d", total)
	for i, k := range keys {
		if i == 0 {
			s += " ("
		} else {
			s += ", "
		}
		s += fmt.Sprintf("class %d: %d", k, m[k])
	}
	if len(keys) > 0 {
		s += ")"
	}
	return s
}

func ext(f Format) string {
	if f == Text {
		return "txt"
	}
	return string(f)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}
