package report

import (
	"math"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/habitat-cli/internal/training"
)

// Workbook collects the tables written to results.xlsx.
type Workbook struct {
	CV    *training.CVReport
	Test  *training.Metrics
	Study *training.Study
}

var foldHeader = []string{
	"fold", "train_size", "val_size", "test_size",
	"precision", "recall", "f1", "threshold", "iterations", "skipped", "reason",
}

// WriteWorkbook writes results.xlsx with one sheet per populated table.
// Metrics are stored as fractions; NaN cells are left blank.
func WriteWorkbook(dir string, wb Workbook) error {
	f := xlsx.NewFile()

	if wb.CV != nil {
		sheet, err := f.AddSheet("cv")
		if err != nil {
			return eris.Wrap(err, "report: add cv sheet")
		}
		addStrings(sheet.AddRow(), foldHeader...)
		for _, fold := range wb.CV.Folds {
			row := sheet.AddRow()
			row.AddCell().SetInt(fold.Fold)
			row.AddCell().SetInt(fold.TrainSize)
			row.AddCell().SetInt(fold.ValSize)
			row.AddCell().SetInt(fold.TestSize)
			addFloats(row, fold.Metrics.Precision, fold.Metrics.Recall, fold.Metrics.F1, fold.Threshold)
			row.AddCell().SetInt(fold.Iterations)
			row.AddCell().SetBool(fold.Skipped)
			row.AddCell().SetString(fold.Reason)
		}
		summary := sheet.AddRow()
		summary.AddCell().SetString("mean_f1")
		addFloats(summary, wb.CV.MeanF1)
		summary = sheet.AddRow()
		summary.AddCell().SetString("std_f1")
		addFloats(summary, wb.CV.StdF1)
	}

	if wb.Test != nil {
		sheet, err := f.AddSheet("test")
		if err != nil {
			return eris.Wrap(err, "report: add test sheet")
		}
		addStrings(sheet.AddRow(), "precision", "recall", "f1")
		addFloats(sheet.AddRow(), wb.Test.Precision, wb.Test.Recall, wb.Test.F1)
	}

	if wb.Study != nil {
		sheet, err := f.AddSheet("optimisation")
		if err != nil {
			return eris.Wrap(err, "report: add optimisation sheet")
		}
		addStrings(sheet.AddRow(), "trial", "n_estimators", "learning_rate", "reg_lambda", "mean_f1", "best")
		for _, t := range wb.Study.Trials {
			row := sheet.AddRow()
			row.AddCell().SetInt(t.Number)
			row.AddCell().SetInt(t.Params.NEstimators)
			addFloats(row, t.Params.LearningRate, t.Params.RegLambda, -t.Value)
			row.AddCell().SetBool(t.Number == wb.Study.Best.Number)
		}
	}

	if len(f.Sheets) == 0 {
		return eris.New("report: workbook has no tables")
	}
	path := filepath.Join(dir, WorkbookFile)
	return eris.Wrapf(f.Save(path), "report: save %s", path)
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloats(row *xlsx.Row, values ...float64) {
	for _, v := range values {
		cell := row.AddCell()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			cell.SetString("")
			continue
		}
		cell.SetFloat(v)
	}
}
