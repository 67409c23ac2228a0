package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
)

const defaultSheet = "Sheet1"

// maxPaddedRows bounds how many empty trailing rows the sheet dimension may
// add. Larger gaps come from formatting applied to whole columns.
const maxPaddedRows = 1 << 16

// decodeSpreadsheet reads the first sheet of a workbook. Cells keep the type
// the workbook stored for them rather than being inferred per column.
func decodeSpreadsheet(data []byte) (*dataset.Dataset, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode spreadsheet", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fault.New(fault.MalformedInput, "decode spreadsheet", "workbook has no sheets")
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode spreadsheet", err)
	}
	formatted, err := f.GetRows(sheet)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode spreadsheet", err)
	}
	if len(raw) == 0 {
		return nil, fault.New(fault.MalformedInput, "decode spreadsheet", "empty sheet: no header row")
	}

	// GetRows drops trailing rows without values; the sheet dimension
	// still covers them.
	if n := dimensionRows(f, sheet); n > len(raw) && n-len(raw) <= maxPaddedRows {
		for len(raw) < n {
			raw = append(raw, nil)
		}
	}

	width := 0
	for _, r := range raw {
		width = max(width, len(r))
	}
	header := make([]string, width)
	copy(header, raw[0])
	columns := headerNames(header)

	rows := make([][]dataset.Value, 0, len(raw)-1)
	for r := 1; r < len(raw); r++ {
		row := make([]dataset.Value, width)
		for c := 0; c < len(raw[r]); c++ {
			var shown string
			if r < len(formatted) && c < len(formatted[r]) {
				shown = formatted[r][c]
			}
			v, err := spreadsheetCell(f, sheet, c+1, r+1, raw[r][c], shown)
			if err != nil {
				return nil, fault.Wrap(fault.MalformedInput, "decode spreadsheet", err)
			}
			row[c] = v
		}
		rows = append(rows, row)
	}

	d, err := dataset.New(columns, rows)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode spreadsheet", err)
	}
	return d, nil
}

// spreadsheetCell types one cell. col and row are 1-based.
func spreadsheetCell(f *excelize.File, sheet string, col, row int, raw, shown string) (dataset.Value, error) {
	if raw == "" {
		return dataset.Null(), nil
	}
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return dataset.Value{}, err
	}
	typ, err := f.GetCellType(sheet, name)
	if err != nil {
		return dataset.Value{}, err
	}

	switch typ {
	case excelize.CellTypeBool:
		return dataset.Boolean(raw == "1" || strings.EqualFold(raw, "true")), nil
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString:
		return dataset.Text(raw), nil
	case excelize.CellTypeDate:
		return dataset.Text(shown), nil
	case excelize.CellTypeError:
		return dataset.Text(raw), nil
	default:
		// Unset, numeric and formula cells hold numbers. Only a date or
		// time number format turns them into text; percent, fraction and
		// currency formats keep the stored number.
		n, ok := dataset.ParseNumber(raw)
		if !ok {
			return dataset.Text(raw), nil
		}
		date, err := dateFormatted(f, sheet, name)
		if err != nil {
			return dataset.Value{}, err
		}
		if date && shown != "" {
			return dataset.Text(shown), nil
		}
		return dataset.Num(n), nil
	}
}

// dateFormatted reports whether the cell's number format renders a date or
// a time.
func dateFormatted(f *excelize.File, sheet, cell string) (bool, error) {
	idx, err := f.GetCellStyle(sheet, cell)
	if err != nil || idx == 0 {
		return false, err
	}
	style, err := f.GetStyle(idx)
	if err != nil {
		return false, err
	}
	if style.CustomNumFmt != nil {
		return isDateFormatCode(*style.CustomNumFmt), nil
	}
	return isDateFormatID(style.NumFmt), nil
}

// isDateFormatID reports whether a built-in number format id is a date or
// time format, including the East Asian built-ins.
func isDateFormatID(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode reports whether a custom format code contains date or
// time tokens outside quoted literals, escapes and bracketed sections such as
// colors and locales. Elapsed-time sections like [h] or [mm] count as time.
func isDateFormatCode(code string) bool {
	for i := 0; i < len(code); i++ {
		switch c := code[i]; c {
		case '"':
			end := strings.IndexByte(code[i+1:], '"')
			if end < 0 {
				return false
			}
			i += end + 1
		case '[':
			end := strings.IndexByte(code[i+1:], ']')
			if end < 0 {
				return false
			}
			if elapsed := code[i+1 : i+1+end]; elapsed != "" && strings.Trim(strings.ToLower(elapsed), "hms") == "" {
				return true
			}
			i += end + 1
		case '\\', '_', '*':
			i++
		default:
			if strings.IndexByte("yYdDhHmMsS", c) >= 0 {
				return true
			}
		}
	}
	return false
}

// dimensionRows returns the last row covered by the sheet dimension, or 0
// when the workbook does not record one.
func dimensionRows(f *excelize.File, sheet string) int {
	ref, err := f.GetSheetDimension(sheet)
	if err != nil || ref == "" {
		return 0
	}
	_, last, _ := strings.Cut(ref, ":")
	if last == "" {
		last = ref
	}
	_, row, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return 0
	}
	return row
}

func encodeSpreadsheet(d *dataset.Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for c, name := range d.Columns() {
		if err := setCell(f, c+1, 1, name); err != nil {
			return nil, err
		}
	}

	for r := 0; r < d.Len(); r++ {
		for c := 0; c < d.Width(); c++ {
			v := d.At(r, c)
			var cell any
			switch v.Kind() {
			case dataset.Missing:
				continue
			case dataset.Number:
				if !v.Finite() {
					cell = v.String()
				} else {
					cell = v.Float()
				}
			case dataset.Bool:
				cell = v.Bool()
			default:
				cell = v.RawString()
			}
			if err := setCell(f, c+1, r+2, cell); err != nil {
				return nil, err
			}
		}
	}

	// Record the extent so trailing rows of missing cells survive a round
	// trip.
	last, err := excelize.CoordinatesToCellName(max(d.Width(), 1), d.Len()+1)
	if err != nil {
		return nil, fmt.Errorf("encode spreadsheet: %w", err)
	}
	if err := f.SetSheetDimension(defaultSheet, "A1:"+last); err != nil {
		return nil, fmt.Errorf("encode spreadsheet: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode spreadsheet: %w", err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, v any) error {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("encode spreadsheet: %w", err)
	}
	if err := f.SetCellValue(defaultSheet, name, v); err != nil {
		return fmt.Errorf("encode spreadsheet %s: %w", name, err)
	}
	return nil
}
