// Package codec converts raw document bytes to and from datasets.
//
// Two formats are supported: delimited text (csv) and single-sheet
// spreadsheet workbooks (xlsx). Column names always come from the first row.
// Decode followed by Encode preserves column order, row order and scalar
// values; number and string rendering may be canonicalized.
package codec

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
)

// Format is a supported document format.
type Format int

const (
	FormatUnknown Format = iota
	CSV
	Spreadsheet
)

func (f Format) String() string {
	switch f {
	case CSV:
		return "csv"
	case Spreadsheet:
		return "spreadsheet"
	default:
		return "unknown"
	}
}

func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ContentType returns the MIME type used when serving the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv; charset=utf-8"
	case Spreadsheet:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the canonical filename extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case CSV:
		return ".csv"
	case Spreadsheet:
		return ".xlsx"
	default:
		return ""
	}
}

// ParseFormat reads a declared format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return CSV, nil
	case "spreadsheet", "xlsx":
		return Spreadsheet, nil
	default:
		return FormatUnknown, fault.New(fault.UnsupportedFormat, "parse format", fmt.Sprintf("%q", s))
	}
}

// FormatFromFilename derives the format from a filename suffix.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return CSV, nil
	case ".xlsx":
		return Spreadsheet, nil
	case ".xls":
		return FormatUnknown, fault.New(fault.UnsupportedFormat, "detect format",
			fmt.Sprintf("file %q is a legacy .xls workbook; save it as .xlsx", name))
	default:
		return FormatUnknown, fault.New(fault.UnsupportedFormat, "detect format", fmt.Sprintf("file %q", name))
	}
}

// Decode parses data as the given format.
func Decode(data []byte, f Format) (*dataset.Dataset, error) {
	switch f {
	case CSV:
		return decodeCSV(data)
	case Spreadsheet:
		return decodeSpreadsheet(data)
	default:
		return nil, fault.New(fault.UnsupportedFormat, "decode", f.String())
	}
}

// Encode renders d in the given format.
func Encode(d *dataset.Dataset, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return encodeCSV(d)
	case Spreadsheet:
		return encodeSpreadsheet(d)
	default:
		return nil, fault.New(fault.UnsupportedFormat, "encode", f.String())
	}
}

// headerNames makes header cells usable as unique column names: blank
// names become "Unnamed: <i>" and repeats get a ".<n>" suffix.
func headerNames(raw []string) []string {
	names := make([]string, len(raw))
	used := make(map[string]bool, len(raw))
	for i, h := range raw {
		if h == "" {
			h = fmt.Sprintf("Unnamed: %d", i)
		}
		name := h
		for n := 1; used[name]; n++ {
			name = fmt.Sprintf("%s.%d", h, n)
		}
		used[name] = true
		names[i] = name
	}
	return names
}

// buildDataset types raw cells column by column and assembles the table.
func buildDataset(columns []string, cells [][]string) (*dataset.Dataset, error) {
	rows := make([][]dataset.Value, len(cells))
	for r := range rows {
		rows[r] = make([]dataset.Value, len(columns))
	}
	col := make([]string, len(cells))
	for c := range columns {
		for r := range cells {
			col[r] = cells[r][c]
		}
		for r, v := range dataset.InferColumn(col) {
			rows[r][c] = v
		}
	}
	d, err := dataset.New(columns, rows)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode", err)
	}
	return d, nil
}
