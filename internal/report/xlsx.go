package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names of the workbook report.
const (
	SheetSummary     = "summary"
	SheetImportance  = "importance"
	SheetErrorMatrix = "error_matrix"
)

// WriteXLSX saves r as a workbook with summary, importance and error
// matrix sheets.
func WriteXLSX(path string, r *Report) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addRow(summary, "run_id", r.RunID)
	addRow(summary, "created_at", r.CreatedAt.Format(time.RFC3339))
	addRow(summary, "seed", fmt.Sprint(r.Seed))
	addRow(summary, "region", r.Region)
	addRow(summary, "collection", r.Collection)
	addRow(summary, "start", r.Start.Format(time.DateOnly))
	addRow(summary, "end", r.End.Format(time.DateOnly))
	addRow(summary, "scenes", fmt.Sprint(len(r.Scenes)))
	addFloat(summary, "coverage", r.Coverage)
	for _, c := range sortedKeys(r.Labels) {
		addRow(summary, fmt.Sprintf("labels_class_%d", c), fmt.Sprint(r.Labels[c]))
	}
	addRow(summary, "duplicates", fmt.Sprint(r.Duplicates))
	addRow(summary, "samples", fmt.Sprint(r.Samples))
	addRow(summary, "training", fmt.Sprint(sum(r.Training)))
	addRow(summary, "validation", fmt.Sprint(sum(r.Validation)))
	addRow(summary, "trees", fmt.Sprint(r.Trees))
	addFloat(summary, "accuracy", r.Accuracy)
	addFloat(summary, "kappa", r.Kappa)

	imp, err := f.AddSheet(SheetImportance)
	if err != nil {
		return eris.Wrap(err, "report: add importance sheet")
	}
	addRow(imp, "band", "importance")
	for _, s := range r.Importance {
		addFloat(imp, s.Feature, s.Score)
	}

	em, err := f.AddSheet(SheetErrorMatrix)
	if err != nil {
		return eris.Wrap(err, "report: add error matrix sheet")
	}
	header := em.AddRow()
	header.AddCell().SetString("actual \\ predicted")
	for _, c := range r.ErrorMatrix.Classes {
		header.AddCell().SetInt(c)
	}
	header.AddCell().SetString("producers_accuracy")
	for i, c := range r.ErrorMatrix.Classes {
		row := em.AddRow()
		row.AddCell().SetInt(c)
		for _, n := range r.ErrorMatrix.Counts[i] {
			row.AddCell().SetInt(n)
		}
		row.AddCell().SetFloat(r.ProducersAccuracy[c])
	}
	consumers := em.AddRow()
	consumers.AddCell().SetString("consumers_accuracy")
	for _, c := range r.ErrorMatrix.Classes {
		consumers.AddCell().SetFloat(r.ConsumersAccuracy[c])
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, key, value string) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetString(value)
}

func addFloat(sheet *xlsx.Sheet, key string, value float64) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetFloat(value)
}

func sortedKeys(m map[int]int) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func sum(m map[int]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
