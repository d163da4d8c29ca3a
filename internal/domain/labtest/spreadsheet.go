package labtest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet written by ExportWorkbook.
const SheetName = "血液检测"

// WorkbookHeader returns the export column names: date, event, notes, then
// every metric display name in catalog order. The same names are accepted
// by ReadWorkbook, so an exported workbook imports back unchanged.
func WorkbookHeader() []string {
	defs := AllDefinitions()
	header := make([]string, 0, len(defs)+3)
	header = append(header, DateField, EventField, NotesField)
	for _, d := range defs {
		header = append(header, d.DisplayName)
	}
	return header
}

// ExportWorkbook renders records, most recent first, as an xlsx workbook.
func ExportWorkbook(records []*Record) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	header := WorkbookHeader()
	for col, name := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header style: %w", err)
		}
	}
	if err := f.SetColWidth(SheetName, "A", "B", 16); err != nil {
		f.Close()
		return nil, fmt.Errorf("set column width: %w", err)
	}

	sorted := append([]*Record(nil), records...)
	sortByDateDesc(sorted)
	defs := AllDefinitions()

	for i, r := range sorted {
		row := i + 2
		notes := ""
		if r.Notes != nil {
			notes = *r.Notes
		}
		// Dates are written as text so spreadsheet apps do not reformat them.
		fixed := []string{r.Date.Format(DateLayout), r.Event(), notes}
		for col, v := range fixed {
			if v == "" {
				continue
			}
			if err := setCell(f, col+1, row, v); err != nil {
				f.Close()
				return nil, err
			}
		}
		for j, d := range defs {
			v, ok := r.Value(d.Key)
			if !ok {
				continue
			}
			if err := setCell(f, len(fixed)+j+1, row, v); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      1,
		TopLeftCell: "B2",
		ActivePane:  "bottomRight",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze panes: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}

// ReadWorkbook reads the first worksheet of an xlsx workbook. The first row
// holds field names; every following row with at least one non-blank cell
// becomes one Fields in column order.
func ReadWorkbook(data []byte) ([]Fields, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrDecode)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(rows) == 0 {
		return []Fields{}, nil
	}

	header := rows[0]
	out := make([]Fields, 0, len(rows)-1)
	for _, row := range rows[1:] {
		var fields Fields
		for col, cell := range row {
			if col >= len(header) || strings.TrimSpace(header[col]) == "" {
				continue
			}
			if strings.TrimSpace(cell) == "" {
				continue
			}
			fields = append(fields, Field{Key: header[col], Value: cell})
		}
		if len(fields) > 0 {
			out = append(out, fields)
		}
	}
	return out, nil
}
