// Package export writes detected annotations out as Excel workbooks for
// review outside the app.
package export

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"planlens/app/annotations"
)

var circleHeader = []string{"ID", "Page", "Label", "X", "Y", "Radius", "Texts Above", "Texts Below"}
var textHeader = []string{"ID", "X1", "Y1", "X2", "Y2", "Text"}

// WriteWorkbook writes the detection results for one sheet to an XLSX file
// with a Circles sheet and a Text Regions sheet. Coordinates are written in
// natural image pixels.
func WriteWorkbook(path, pageLabel string, set annotations.Set) error {
	if path == "" {
		return fmt.Errorf("export path is empty")
	}

	f := excelize.NewFile()
	defer f.Close()

	const circlesSheet = "Circles"
	const textsSheet = "Text Regions"

	// The workbook starts with a default sheet; rename it instead of
	// leaving an empty Sheet1 behind.
	if err := f.SetSheetName(f.GetSheetName(0), circlesSheet); err != nil {
		return fmt.Errorf("failed to name circles sheet: %w", err)
	}
	if _, err := f.NewSheet(textsSheet); err != nil {
		return fmt.Errorf("failed to create text regions sheet: %w", err)
	}

	if err := writeRow(f, circlesSheet, 1, toCells(circleHeader)); err != nil {
		return err
	}
	for i, c := range set.Circles {
		row := []any{c.ID, pageLabel, c.CircleText, c.X, c.Y, c.R, joinTexts(c.RawTextsTop), joinTexts(c.RawTextsBottom)}
		if err := writeRow(f, circlesSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, textsSheet, 1, toCells(textHeader)); err != nil {
		return err
	}
	for i, t := range set.Texts {
		row := []any{t.ID, t.X1, t.Y1, t.X2, t.Y2, t.Text}
		if err := writeRow(f, textsSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("failed to write cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toCells(header []string) []any {
	cells := make([]any, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return cells
}

func joinTexts(texts []string) string {
	return strings.Join(texts, "; ")
}
