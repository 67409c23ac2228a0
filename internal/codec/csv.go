package codec

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeCSV(data []byte) (*dataset.Dataset, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	data = sanitizeUTF8(data)

	records, err := parseCSV(data)
	if err != nil {
		return nil, fault.Wrap(fault.MalformedInput, "decode csv", err)
	}
	if len(records) == 0 {
		return nil, fault.New(fault.MalformedInput, "decode csv", "empty file: no header row")
	}

	columns := headerNames(records[0])
	body := records[1:]
	for i, row := range body {
		switch {
		case len(row) > len(columns):
			// Line numbers are 1-indexed and count the header.
			return nil, fault.New(fault.MalformedInput, "decode csv",
				fmt.Sprintf("line %d: expected %d fields, saw %d", i+2, len(columns), len(row)))
		case len(row) < len(columns):
			padded := make([]string, len(columns))
			copy(padded, row)
			body[i] = padded
		}
	}

	return buildDataset(columns, body)
}

func encodeCSV(d *dataset.Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := writeRecord(w, &buf, d.Columns()); err != nil {
		return nil, fmt.Errorf("encode csv header: %w", err)
	}

	record := make([]string, d.Width())
	for r := 0; r < d.Len(); r++ {
		for c := range record {
			record[c] = d.At(r, c).String()
		}
		if err := writeRecord(w, &buf, record); err != nil {
			return nil, fmt.Errorf("encode csv row %d: %w", r, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRecord writes one record. A lone empty field is written quoted so
// the line is not read back as a blank line and skipped.
func writeRecord(w *csv.Writer, buf *bytes.Buffer, record []string) error {
	if len(record) == 1 && record[0] == "" {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
		buf.WriteString("\"\"\n")
		return nil
	}
	return w.Write(record)
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			return nil, fmt.Errorf("line %d: %w", pe.Line, pe.Err)
		}
		return nil, err
	}
	return records, nil
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
