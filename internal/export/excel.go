// Package export renders availability summaries as spreadsheets.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"slotwise/internal/aggregate"
)

// Writer builds a workbook sheet by sheet, row by row.
type Writer struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
	boldStyle    int
}

func NewWriter() *Writer {
	return &Writer{file: excelize.NewFile()}
}

// AddSheet adds a new sheet and makes it current.
func (w *Writer) AddSheet(name string) error {
	// Excel limits sheet names to 31 characters.
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

// WriteHeader writes bold column headers to the current sheet.
func (w *Writer) WriteHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	start := w.currentRow
	if err := w.WriteRow(row); err != nil {
		return err
	}

	if w.boldStyle == 0 {
		style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
		if err != nil {
			return err
		}
		w.boldStyle = style
	}
	first, _ := excelize.CoordinatesToCellName(1, start)
	last, _ := excelize.CoordinatesToCellName(len(columns), start)
	return w.file.SetCellStyle(w.currentSheet, first, last, w.boldStyle)
}

// WriteRow writes a data row to the current sheet.
func (w *Writer) WriteRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

func (w *Writer) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *Writer) Close() error {
	return w.file.Close()
}

// WriteSummary writes two sheets: one row per date and resource, and a
// calendar with one column per resource showing "available/total".
func WriteSummary(s *aggregate.Summary, out io.Writer) error {
	if s == nil {
		return fmt.Errorf("summary is nil")
	}

	w := NewWriter()
	defer w.Close()

	if err := w.AddSheet("Availability"); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Date", "Resource", "Total slots", "Available slots"}); err != nil {
		return err
	}
	for _, day := range s.Days {
		for _, id := range s.ResourceIDs {
			c := day.Resources[id]
			if err := w.WriteRow([]any{day.Date.String(), id, c.Total, c.Available}); err != nil {
				return err
			}
		}
	}
	if err := w.WriteRow([]any{"Total", "", s.Total.Total, s.Total.Available}); err != nil {
		return err
	}

	if err := w.AddSheet("Calendar"); err != nil {
		return err
	}
	header := append([]string{"Date"}, s.ResourceIDs...)
	header = append(header, "All")
	if err := w.WriteHeader(header); err != nil {
		return err
	}
	for _, day := range s.Days {
		row := make([]any, 0, len(header))
		row = append(row, day.Date.String())
		for _, id := range s.ResourceIDs {
			c := day.Resources[id]
			row = append(row, fmt.Sprintf("%d/%d", c.Available, c.Total))
		}
		row = append(row, fmt.Sprintf("%d/%d", day.Total.Available, day.Total.Total))
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}

	return w.Save(out)
}
