// Package export writes the attendance ledger as a spreadsheet.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/kozaktomas/rollcall/internal/database"
)

const sheetName = "Attendance"

// Columns is the header row, matching the ledger row shape.
var Columns = []string{"Roll", "Name", "Class", "Date", "Time", "Teacher", "Status"}

// ContentType is the MIME type of the generated workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Filename returns a download name for an export of the filter's range.
func Filename(filter database.AttendanceFilter) string {
	switch {
	case filter.Date != "":
		return "attendance-" + filter.Date + ".xlsx"
	case filter.From != "" && filter.To != "":
		return "attendance-" + filter.From + "-to-" + filter.To + ".xlsx"
	case filter.From != "":
		return "attendance-from-" + filter.From + ".xlsx"
	case filter.To != "":
		return "attendance-to-" + filter.To + ".xlsx"
	default:
		return "attendance.xlsx"
	}
}

// WriteXLSX writes records to w as a single-sheet workbook with a header row.
func WriteXLSX(w io.Writer, records []database.AttendanceRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(Columns))
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("styling header: %w", err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{rec.Roll, rec.Name, rec.Class, rec.Date, rec.Time, rec.Teacher, string(rec.Status)}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SetColWidth(sheetName, "A", lastCol, 16); err != nil {
		return fmt.Errorf("setting column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
