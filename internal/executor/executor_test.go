package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabula/internal/dataset"
	"github.com/JonMunkholm/tabula/internal/fault"
	"github.com/JonMunkholm/tabula/internal/operation"
)

func run(t *testing.T, op operation.Operation, d *dataset.Dataset) (*Result, error) {
	t.Helper()
	v, err := operation.Validate(op, d)
	require.NoError(t, err)
	return Apply(v, d)
}

func contacts() *dataset.Dataset {
	return dataset.MustNew(
		[]string{"A", "B"},
		[][]dataset.Value{
			{dataset.Text("foo@x.com"), dataset.Text("foo@y.com")},
			{dataset.Text("bar"), dataset.Num(42)},
			{dataset.Null(), dataset.Boolean(true)},
		},
	)
}

func TestScopedSubstitutionLeavesOtherColumns(t *testing.T) {
	d := contacts()
	res, err := run(t, operation.SubstituteIn("A", `\w+@\w+\.com`, "REDACTED"), d)
	require.NoError(t, err)

	out := res.Dataset
	assert.Equal(t, "edited", res.Label)
	assert.Equal(t, "REDACTED", out.At(0, 0).String())
	assert.Equal(t, "", out.At(2, 0).String())
	for r := 0; r < d.Len(); r++ {
		assert.True(t, d.At(r, 1).Equal(out.At(r, 1)), "row %d of B changed", r)
	}
	assert.Equal(t, 1, res.Stats.CellsChanged)

	// The input is untouched.
	assert.Equal(t, "foo@x.com", d.At(0, 0).String())
}

func TestUnscopedSubstitutionStringifiesEverything(t *testing.T) {
	res, err := run(t, operation.Substitute(`o+`, "0"), contacts())
	require.NoError(t, err)

	out := res.Dataset
	assert.Equal(t, "f0@x.c0m", out.At(0, 0).String())
	assert.Equal(t, "f0@y.c0m", out.At(0, 1).String())
	for r := 0; r < out.Len(); r++ {
		for c := 0; c < out.Width(); c++ {
			assert.Equal(t, dataset.String, out.At(r, c).Kind())
		}
	}
	assert.Equal(t, "42", out.At(1, 1).RawString())
	assert.Equal(t, "true", out.At(2, 1).RawString())
}

func TestSubstitutionReplacementIsLiteral(t *testing.T) {
	d := dataset.MustNew([]string{"A"}, [][]dataset.Value{{dataset.Text("ab")}})
	res, err := run(t, operation.Substitute(`(a)(b)`, "$2$1"), d)
	require.NoError(t, err)
	assert.Equal(t, "$2$1", res.Dataset.At(0, 0).String())
}

func TestSubstitutionAppliesOnce(t *testing.T) {
	d := dataset.MustNew([]string{"A", "B"}, [][]dataset.Value{{dataset.Text("a"), dataset.Text("a")}})
	res, err := run(t, operation.SubstituteIn("A", "a", "aa"), d)
	require.NoError(t, err)
	assert.Equal(t, "aa", res.Dataset.At(0, 0).String())
	assert.Equal(t, "a", res.Dataset.At(0, 1).String())
}

func people() *dataset.Dataset {
	return dataset.MustNew(
		[]string{"Name", "Age"},
		[][]dataset.Value{
			{dataset.Text("Bob"), dataset.Text("21")},
			{dataset.Text("Ann"), dataset.Text("thirty")},
		},
	)
}

func TestFilterScenario(t *testing.T) {
	res, err := run(t, operation.Filter("Age == 21"), people())
	require.NoError(t, err)

	require.Equal(t, 1, res.Dataset.Len())
	assert.Equal(t, "Bob", res.Dataset.At(0, 0).String())
	assert.Equal(t, []string{"Name", "Age"}, res.Dataset.Columns())
	assert.Equal(t, "filtered", res.Label)
	assert.Equal(t, Stats{RowsKept: 1, RowsDropped: 1}, res.Stats)
}

func TestFilterSubsetProperty(t *testing.T) {
	var rows [][]dataset.Value
	for i := 0; i < 20; i++ {
		rows = append(rows, []dataset.Value{dataset.Num(float64(i)), dataset.Num(float64(i % 3))})
	}
	d := dataset.MustNew([]string{"N", "Mod"}, rows)

	res, err := run(t, operation.Filter("Mod == 0 or N > 15"), d)
	require.NoError(t, err)

	// Every surviving row appears in the parent, in order, and every dropped
	// row fails the predicate.
	kept := map[float64]bool{}
	last := -1.0
	for r := 0; r < res.Dataset.Len(); r++ {
		n := res.Dataset.At(r, 0).Float()
		assert.Greater(t, n, last)
		last = n
		kept[n] = true
	}
	for r := 0; r < d.Len(); r++ {
		n, mod := d.At(r, 0).Float(), d.At(r, 1).Float()
		assert.Equal(t, mod == 0 || n > 15, kept[n], "row %d", r)
	}
}

func TestFilterErrors(t *testing.T) {
	_, err := run(t, operation.Filter("Age > 18"), people())
	require.ErrorIs(t, err, fault.ErrInvalidExpression)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Row)

	_, err = run(t, operation.Filter("Salary > 10"), people())
	require.ErrorIs(t, err, fault.ErrInvalidExpression)
	assert.Contains(t, err.Error(), `"Salary"`)
}

func TestFilterCanDropEverything(t *testing.T) {
	res, err := run(t, operation.Filter("Name == 'Zed'"), people())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Dataset.Len())
	assert.Equal(t, 2, res.Dataset.Width())
}

func orders() *dataset.Dataset {
	return dataset.MustNew(
		[]string{"Item", "Price", "Qty"},
		[][]dataset.Value{
			{dataset.Text("a"), dataset.Num(2.5), dataset.Num(4)},
			{dataset.Text("b"), dataset.Text("$1,000"), dataset.Num(2)},
			{dataset.Text("c"), dataset.Num(0), dataset.Num(9)},
		},
	)
}

func TestComputeScenario(t *testing.T) {
	d := orders()
	res, err := run(t, operation.Compute("Total := Price * Qty"), d)
	require.NoError(t, err)

	out := res.Dataset
	assert.Equal(t, []string{"Item", "Price", "Qty", "Total"}, out.Columns())
	assert.Equal(t, 10.0, out.At(0, 3).Float())
	assert.Equal(t, 2000.0, out.At(1, 3).Float())
	assert.Equal(t, 0.0, out.At(2, 3).Float())
	assert.True(t, res.Stats.ColumnAdded)
	assert.Equal(t, "computed", res.Label)

	assert.Equal(t, 3, d.Width(), "input must keep its columns")
}

func TestComputeOverwrite(t *testing.T) {
	res, err := run(t, operation.Compute("Qty = Qty + 1"), orders())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Dataset.Width())
	assert.Equal(t, 5.0, res.Dataset.At(0, 2).Float())
	assert.Equal(t, 3, res.Stats.CellsChanged)
}

func TestComputeMissingOperandAborts(t *testing.T) {
	d := dataset.MustNew(
		[]string{"Price", "Qty"},
		[][]dataset.Value{
			{dataset.Num(1), dataset.Num(2)},
			{dataset.Null(), dataset.Num(2)},
		},
	)
	_, err := run(t, operation.Compute("Total := Price * Qty"), d)
	require.ErrorIs(t, err, fault.ErrInvalidExpression)

	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 1, fe.Row)
	assert.False(t, d.HasColumn("Total"))
}

func TestComputeDivisionByZero(t *testing.T) {
	_, err := run(t, operation.Compute("Unit := Qty / Price"), orders())
	require.ErrorIs(t, err, fault.ErrInvalidExpression)
	assert.Contains(t, err.Error(), "row 2")
	assert.Contains(t, err.Error(), "division by zero")
}

func TestApplyRejectsUnvalidated(t *testing.T) {
	_, err := Apply(nil, orders())
	assert.ErrorIs(t, err, fault.ErrInvalidExpression)
}
