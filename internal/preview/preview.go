// Package preview renders a bounded, interchange-safe view of a dataset.
package preview

import (
	"bytes"
	"encoding/json"

	"github.com/JonMunkholm/tabula/internal/dataset"
)

// Row limits used by the service.
const (
	InitialRows = 200
	ResultRows  = 50
)

// Cell is a wire-safe scalar: nil, string, float64 or bool.
// Missing values, NaN and infinities are always nil.
type Cell = any

// Row is one previewed row. It marshals as a JSON object whose keys follow
// the dataset's column order.
type Row struct {
	columns []string
	cells   []Cell
}

// Get returns the cell for column name.
func (r Row) Get(name string) (Cell, bool) {
	for i, c := range r.columns {
		if c == name {
			return r.cells[i], true
		}
	}
	return nil, false
}

// Cells returns the row's cells in column order.
func (r Row) Cells() []Cell { return r.cells }

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.cells[i])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Preview is a truncated projection of a dataset. TotalRows always reports
// the untruncated row count.
type Preview struct {
	Columns   []string `json:"columns"`
	Rows      []Row    `json:"data"`
	TotalRows int      `json:"total_rows"`
}

// Project renders at most limit rows of d. A negative limit means no limit.
// Project never fails: any scalar that cannot be represented becomes nil.
func Project(d *dataset.Dataset, limit int) Preview {
	n := d.Len()
	if limit >= 0 && limit < n {
		n = limit
	}
	columns := d.Columns()
	rows := make([]Row, n)
	for r := 0; r < n; r++ {
		cells := make([]Cell, len(columns))
		for c := range columns {
			cells[c] = Scalar(d.At(r, c))
		}
		rows[r] = Row{columns: columns, cells: cells}
	}
	return Preview{Columns: columns, Rows: rows, TotalRows: d.Len()}
}

// Scalar converts one value to its wire form.
func Scalar(v dataset.Value) Cell {
	switch v.Kind() {
	case dataset.String:
		return v.RawString()
	case dataset.Number:
		if !v.Finite() {
			return nil
		}
		return v.Float()
	case dataset.Bool:
		return v.Bool()
	default:
		return nil
	}
}
