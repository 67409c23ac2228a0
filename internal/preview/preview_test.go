package preview

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabula/internal/dataset"
)

func sample() *dataset.Dataset {
	return dataset.MustNew(
		[]string{"Zeta", "Alpha", "Score"},
		[][]dataset.Value{
			{dataset.Text("a"), dataset.Num(1), dataset.Num(math.NaN())},
			{dataset.Text("b"), dataset.Null(), dataset.Num(math.Inf(1))},
			{dataset.Text("c"), dataset.Boolean(true), dataset.Num(math.Inf(-1))},
		},
	)
}

func TestProjectNonFiniteBecomesNull(t *testing.T) {
	p := Project(sample(), -1)
	require.Len(t, p.Rows, 3)
	for _, r := range p.Rows {
		v, ok := r.Get("Score")
		require.True(t, ok)
		assert.Nil(t, v)
	}
	v, _ := p.Rows[1].Get("Alpha")
	assert.Nil(t, v)
}

func TestProjectTruncates(t *testing.T) {
	p := Project(sample(), 2)
	assert.Len(t, p.Rows, 2)
	assert.Equal(t, 3, p.TotalRows)

	p = Project(sample(), 0)
	assert.Empty(t, p.Rows)
	assert.Equal(t, 3, p.TotalRows)
}

func TestProjectJSONKeepsColumnOrder(t *testing.T) {
	p := Project(sample(), 1)
	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"columns":["Zeta","Alpha","Score"],"data":[{"Zeta":"a","Alpha":1,"Score":null}],"total_rows":3}`,
		string(b))

	row, err := json.Marshal(p.Rows[0])
	require.NoError(t, err)
	assert.Equal(t, `{"Zeta":"a","Alpha":1,"Score":null}`, string(row))
}

func TestProjectEmptyDataset(t *testing.T) {
	p := Project(dataset.MustNew([]string{"A"}, nil), InitialRows)
	assert.Empty(t, p.Rows)
	assert.Zero(t, p.TotalRows)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":[]`)
}
