// Package executor applies validated operations to datasets.
//
// Apply never modifies its input. It either returns a complete new dataset
// or an error classified by the fault package; no partial result escapes.
package executor

import (
	"errors"
	"fmt"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/operation"
	"github.com/JonMunkholm/tabula/internal/operation/expr"
)

// Stats summarizes what an operation changed.
type Stats struct {
	CellsChanged int  `json:"cells_changed"`
	RowsKept     int  `json:"rows_kept"`
	RowsDropped  int  `json:"rows_dropped"`
	ColumnAdded  bool `json:"column_added,omitempty"`
}

// Result is the outcome of a successful Apply.
type Result struct {
	Dataset *dataset.Dataset
	Label   string
	Stats   Stats
	Message string
}

// Apply runs v against d.
func Apply(v *operation.Validated, d *dataset.Dataset) (*Result, error) {
	if v == nil {
		return nil, fault.New(fault.InvalidExpression, "apply", "operation was not validated")
	}

	var (
		res *Result
		err error
	)
	switch v.Kind() {
	case operation.KindSubstitute:
		res, err = substitute(v, d)
	case operation.KindFilter:
		res, err = filter(v, d)
	case operation.KindCompute:
		res, err = compute(v, d)
	default:
		return nil, fault.New(fault.InvalidExpression, "apply", fmt.Sprintf("unknown operation kind %q", v.Kind()))
	}
	if err != nil {
		return nil, err
	}
	res.Label = v.Kind().Label()
	return res, nil
}

// substitute replaces every match of the pattern in the stringified cells of
// the target column, or of every column when the operation is unscoped. An
// unscoped substitution turns every cell into text; a scoped one leaves all
// other columns untouched.
func substitute(v *operation.Validated, d *dataset.Dataset) (*Result, error) {
	op := v.Operation()
	re := v.Pattern()

	target := -1
	if op.Scoped() {
		i, ok := d.ColumnIndex(op.Column)
		if !ok {
			return nil, fault.Column("substitute", op.Column)
		}
		target = i
	}

	var stats Stats
	rows := make([][]dataset.Value, d.Len())
	for r := range rows {
		row := d.Row(r)
		for c := range row {
			if target >= 0 && c != target {
				continue
			}
			before := row[c].String()
			after := re.ReplaceAllLiteralString(before, op.Replacement)
			if after != before {
				stats.CellsChanged++
			}
			row[c] = dataset.Text(after)
		}
		rows[r] = row
	}
	stats.RowsKept = len(rows)

	out, err := dataset.New(d.Columns(), rows)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidPattern, "substitute", err)
	}

	scope := "all columns"
	if target >= 0 {
		scope = fmt.Sprintf("column %q", op.Column)
	}
	return &Result{
		Dataset: out,
		Stats:   stats,
		Message: fmt.Sprintf("Replaced matches of /%s/ in %s (%d %s changed).",
			op.Pattern, scope, stats.CellsChanged, plural(stats.CellsChanged, "cell")),
	}, nil
}

// filter keeps the rows for which the predicate holds, in their original
// order. Any row that fails to evaluate aborts the whole filter.
func filter(v *operation.Validated, d *dataset.Dataset) (*Result, error) {
	prog, err := bind(v.Predicate(), d, "filter")
	if err != nil {
		return nil, err
	}

	rows := make([][]dataset.Value, 0, d.Len())
	for r := 0; r < d.Len(); r++ {
		row := d.Row(r)
		keep, err := prog.Test(row)
		if err != nil {
			return nil, fault.AtRow("filter", r, err)
		}
		if keep {
			rows = append(rows, row)
		}
	}

	out, err := dataset.New(d.Columns(), rows)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidExpression, "filter", err)
	}
	stats := Stats{RowsKept: len(rows), RowsDropped: d.Len() - len(rows)}
	return &Result{
		Dataset: out,
		Stats:   stats,
		Message: fmt.Sprintf("Kept %d of %d %s where %s.",
			stats.RowsKept, d.Len(), plural(d.Len(), "row"), prog),
	}, nil
}

// compute evaluates the assignment for every row and writes the results to
// the target column, appending it when it does not exist yet.
func compute(v *operation.Validated, d *dataset.Dataset) (*Result, error) {
	a := v.Assignment()
	prog, err := a.Value.Bind(d.Columns())
	if err != nil {
		var uc *expr.UnknownColumnError
		if errors.As(err, &uc) {
			return nil, fault.Column("compute", uc.Name)
		}
		return nil, fault.Wrap(fault.InvalidExpression, "compute", err)
	}

	columns := d.Columns()
	target, exists := d.ColumnIndex(a.Target)
	if !exists {
		target = len(columns)
		columns = append(columns, a.Target)
	}

	var stats Stats
	rows := make([][]dataset.Value, d.Len())
	for r := range rows {
		src := d.Row(r)
		val, err := prog.Eval(src)
		if err != nil {
			return nil, fault.AtRow("compute", r, err)
		}
		row := src
		if !exists {
			row = append(src, val)
		} else {
			if !row[target].Equal(val) {
				stats.CellsChanged++
			}
			row[target] = val
		}
		rows[r] = row
	}
	if !exists {
		stats.CellsChanged = len(rows)
		stats.ColumnAdded = true
	}
	stats.RowsKept = len(rows)

	out, err := dataset.New(columns, rows)
	if err != nil {
		return nil, fault.Wrap(fault.InvalidExpression, "compute", err)
	}

	verb := "Updated"
	if !exists {
		verb = "Added"
	}
	return &Result{
		Dataset: out,
		Stats:   stats,
		Message: fmt.Sprintf("%s column %q = %s for %d %s.",
			verb, a.Target, prog, len(rows), plural(len(rows), "row")),
	}, nil
}

// bind resolves a predicate's names. Unknown names surface as an invalid
// expression naming the column.
func bind(e *expr.Expr, d *dataset.Dataset, op string) (*expr.Program, error) {
	prog, err := e.Bind(d.Columns())
	if err == nil {
		return prog, nil
	}
	var uc *expr.UnknownColumnError
	if errors.As(err, &uc) {
		return nil, &fault.Error{Kind: fault.InvalidExpression, Op: op, Column: uc.Name, Row: fault.NoRow, Msg: "undefined column"}
	}
	return nil, fault.Wrap(fault.InvalidExpression, op, err)
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
