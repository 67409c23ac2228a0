// Package dataset provides the in-memory rectangular table that every
// transformation consumes and produces.
//
// A Dataset is immutable once built: accessors return copies, and each
// transformation builds a new Dataset rather than editing one in place, so
// an old version can never observe a change made for a new one.
package dataset

import (
	"fmt"
)

// Dataset is an ordered set of uniquely named columns and rows of scalars.
// Every row holds exactly one Value per column, in column order.
type Dataset struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

// New builds a Dataset. Column names must be unique (exact, case- and
// whitespace-sensitive) and every row must have one value per column.
// New takes ownership of rows; the caller must not modify them afterwards.
func New(columns []string, rows [][]Value) (*Dataset, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(r), len(columns))
		}
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	if rows == nil {
		rows = [][]Value{}
	}
	return &Dataset{columns: cols, index: index, rows: rows}, nil
}

// MustNew is New that panics on error. Intended for tests and literals.
func MustNew(columns []string, rows [][]Value) *Dataset {
	d, err := New(columns, rows)
	if err != nil {
		panic(err)
	}
	return d
}

// Columns returns a copy of the column names in order.
func (d *Dataset) Columns() []string {
	out := make([]string, len(d.columns))
	copy(out, d.columns)
	return out
}

// Width returns the number of columns.
func (d *Dataset) Width() int { return len(d.columns) }

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.rows) }

// ColumnIndex returns the position of the named column.
func (d *Dataset) ColumnIndex(name string) (int, bool) {
	i, ok := d.index[name]
	return i, ok
}

// HasColumn reports whether name matches a column exactly.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// At returns the value at row r, column c.
func (d *Dataset) At(r, c int) Value { return d.rows[r][c] }

// Row returns a copy of row r.
func (d *Dataset) Row(r int) []Value {
	out := make([]Value, len(d.rows[r]))
	copy(out, d.rows[r])
	return out
}

// RowMap returns row r as a column-name to value mapping.
func (d *Dataset) RowMap(r int) map[string]Value {
	m := make(map[string]Value, len(d.columns))
	for i, c := range d.columns {
		m[c] = d.rows[r][i]
	}
	return m
}

// Clone returns a deep copy.
func (d *Dataset) Clone() *Dataset {
	rows := make([][]Value, len(d.rows))
	for i := range d.rows {
		rows[i] = d.Row(i)
	}
	index := make(map[string]int, len(d.index))
	for k, v := range d.index {
		index[k] = v
	}
	return &Dataset{columns: d.Columns(), index: index, rows: rows}
}

// Head returns a new Dataset holding at most the first n rows.
func (d *Dataset) Head(n int) *Dataset {
	if n < 0 || n > len(d.rows) {
		n = len(d.rows)
	}
	rows := make([][]Value, n)
	for i := 0; i < n; i++ {
		rows[i] = d.Row(i)
	}
	return &Dataset{columns: d.Columns(), index: d.index, rows: rows}
}

// Equal reports whether both datasets have the same columns in the same
// order and element-wise equal rows.
func (d *Dataset) Equal(o *Dataset) bool {
	if len(d.columns) != len(o.columns) || len(d.rows) != len(o.rows) {
		return false
	}
	for i := range d.columns {
		if d.columns[i] != o.columns[i] {
			return false
		}
	}
	for r := range d.rows {
		for c := range d.rows[r] {
			if !d.rows[r][c].Equal(o.rows[r][c]) {
				return false
			}
		}
	}
	return true
}
