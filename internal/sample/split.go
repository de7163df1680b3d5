package sample

import (
	"encoding/csv"
	"io"
	"math/rand/v2"
	"strconv"

	"github.com/rotisserie/eris"
)

// Split is a table whose rows carry their random draw. Rows with
// Random < Threshold are training rows; the rest validate.
type Split struct {
	Features  []string
	Rows      []Row
	Threshold float64
	Seed      uint64
}

// SplitTable draws u in [0,1) for every row from a PCG source seeded by
// seed. The result depends only on the table, threshold and seed.
func SplitTable(t *Table, threshold float64, seed uint64) (*Split, error) {
	if !(threshold > 0 && threshold <= 1) {
		return nil, eris.Errorf("sample: split threshold must be in (0, 1], got %g", threshold)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		r.Random = rng.Float64()
		rows[i] = r
	}
	return &Split{Features: t.Features, Rows: rows, Threshold: threshold, Seed: seed}, nil
}

// Training returns the rows drawn below the threshold.
func (s *Split) Training() []Row {
	return s.filter(true)
}

// Validation returns the rows drawn at or above the threshold.
func (s *Split) Validation() []Row {
	return s.filter(false)
}

// Counts returns training and validation row counts per class.
func (s *Split) Counts() (training, validation map[int]int) {
	return countRows(s.Training()), countRows(s.Validation())
}

func (s *Split) filter(training bool) []Row {
	var out []Row
	for _, r := range s.Rows {
		if (r.Random < s.Threshold) == training {
			out = append(out, r)
		}
	}
	return out
}

// WriteCSV writes every row with its subset assignment.
func (s *Split) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"record", "longitude", "latitude"}, s.Features...)
	header = append(header, "class", "random", "subset")
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "sample: write csv header")
	}

	for _, r := range s.Rows {
		rec := []string{strconv.Itoa(r.Record), ff(r.Lon), ff(r.Lat)}
		for _, v := range r.Values {
			rec = append(rec, ff(v))
		}
		subset := "validation"
		if r.Random < s.Threshold {
			subset = "training"
		}
		rec = append(rec, strconv.Itoa(r.Class), ff(r.Random), subset)
		if err := cw.Write(rec); err != nil {
			return eris.Wrap(err, "sample: write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return eris.Wrap(err, "sample: flush csv")
	}
	return nil
}

func ff(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
