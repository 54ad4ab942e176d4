package exec

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/pkg/types"
)

func sampleItems() [][]types.Value {
	return [][]types.Value{
		item("N", "O", "17", "100.00", "1998-09-01"),
		item("R", "F", "36", "250.50", "1998-09-22"),
		item("A", "F", "8", "10.01", "1998-09-21"),
		item("N", "O", "28", "42.00", "1996-03-13"),
		item("R", "F", "2", "3.50", "1998-11-30"),
	}
}

func TestFilter_KeepsTrueRowsInOrder(t *testing.T) {
	scan := scanRows(t, itemSchema, sampleItems(), 2)
	f, err := NewFilter(scan, expr.LtEq(expr.Col("ship"), expr.DateSub(expr.DateLit("1998-12-01"), 71)))
	require.NoError(t, err)

	res := run(t, f)
	assert.Equal(t, []string{"100.00", "10.01", "42.00"}, strs(res.Rows, 3))
}

func TestFilter_EmptyBatchesFlowThrough(t *testing.T) {
	scan := scanRows(t, itemSchema, sampleItems(), 1)
	f, err := NewFilter(scan, expr.Eq(expr.Col("flag"), expr.StrLit("A")))
	require.NoError(t, err)

	var sizes []int
	for {
		b, err := f.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, b.NumRows())
	}
	assert.Equal(t, []int{0, 0, 1, 0, 0}, sizes)

	_, err = f.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestFilter_NullPredicateDropsRow(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Int64))
	rows := [][]types.Value{{types.Int64Value(1)}, {types.Null(types.Int64)}, {types.Int64Value(3)}}
	f, err := NewFilter(scanRows(t, s, rows, 0), expr.Gt(expr.Col("v"), expr.IntLit(0)))
	require.NoError(t, err)
	res := run(t, f)
	assert.Equal(t, []string{"1", "3"}, strs(res.Rows, 0))
}

func TestFilter_RequiresBoolean(t *testing.T) {
	_, err := NewFilter(scanRows(t, itemSchema, nil, 0), expr.Col("qty"))
	require.Error(t, err)
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))
}

func TestProject(t *testing.T) {
	scan := scanRows(t, itemSchema, sampleItems()[:2], 0)
	p, err := NewProject(scan, []NamedExpr{
		As(expr.Col("flag"), "flag"),
		As(expr.Mul(expr.Col("qty"), expr.Col("price")), "amount"),
	})
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(18, 4), p.Schema().Field(1).Type)

	res := run(t, p)
	assert.Equal(t, []string{"1700.0000", "9018.0000"}, strs(res.Rows, 1))

	_, err = NewProject(scanRows(t, itemSchema, nil, 0), Cols("flag", "flag"))
	assert.Equal(t, qerrors.CodeDuplicateColumn, qerrors.GetCode(err))

	_, err = NewProject(scanRows(t, itemSchema, nil, 0), Cols("nope"))
	assert.Equal(t, qerrors.CodeColumnNotFound, qerrors.GetCode(err))
}

func TestSort_MultiKey(t *testing.T) {
	scan := scanRows(t, itemSchema, sampleItems(), 2)
	s, err := NewSort(scan, []SortKey{Asc("flag"), Desc("price")}, 2)
	require.NoError(t, err)

	res := run(t, s)
	assert.Equal(t, []string{"A", "N", "N", "R", "R"}, strs(res.Rows, 0))
	assert.Equal(t, []string{"10.01", "100.00", "42.00", "250.50", "3.50"}, strs(res.Rows, 3))

	_, err = NewSort(scanRows(t, itemSchema, nil, 0), []SortKey{Asc("nope")}, 0)
	assert.Equal(t, qerrors.CodeColumnNotFound, qerrors.GetCode(err))
}

func TestSort_Nulls(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Int64))
	rows := [][]types.Value{{types.Int64Value(2)}, {types.Null(types.Int64)}, {types.Int64Value(1)}}

	asc, err := NewSort(scanRows(t, s, rows, 0), []SortKey{Asc("v")}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"NULL", "1", "2"}, strs(run(t, asc).Rows, 0))

	desc, err := NewSort(scanRows(t, s, rows, 0), []SortKey{Desc("v")}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1", "NULL"}, strs(run(t, desc).Rows, 0))
}

func TestLimit(t *testing.T) {
	tests := []struct {
		name          string
		offset, fetch int
		want          []string
	}{
		{"fetch only", 0, 2, []string{"N", "R"}},
		{"offset across batches", 3, -1, []string{"N", "R"}},
		{"offset and fetch", 1, 3, []string{"R", "A", "N"}},
		{"offset past end", 9, 2, []string{}},
		{"zero fetch", 0, 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLimit(scanRows(t, itemSchema, sampleItems(), 2), tt.offset, tt.fetch)
			assert.Equal(t, tt.want, strs(run(t, l).Rows, 0))
		})
	}
}

func TestTopK(t *testing.T) {
	top, err := NewTopK(scanRows(t, itemSchema, sampleItems(), 2), []SortKey{Desc("price")}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"250.50", "100.00"}, strs(run(t, top).Rows, 3))

	none, err := NewTopK(scanRows(t, itemSchema, sampleItems(), 2), []SortKey{Asc("price")}, 0)
	require.NoError(t, err)
	assert.Empty(t, run(t, none).Rows)
}

func TestHashJoin(t *testing.T) {
	custSchema := types.MustSchema(
		types.NewField("c_custkey", types.Int64),
		types.NewField("c_name", types.Utf8),
	)
	ordSchema := types.MustSchema(
		types.NewField("o_orderkey", types.Int64),
		types.NewField("o_custkey", types.Int64),
	)
	customers := [][]types.Value{
		{types.Int64Value(1), types.StringValue("alice")},
		{types.Int64Value(2), types.StringValue("bob")},
		{types.Null(types.Int64), types.StringValue("nobody")},
	}
	var orders [][]types.Value
	for i := int64(0); i < 50; i++ {
		orders = append(orders, []types.Value{types.Int64Value(100 + i), types.Int64Value(i % 10)})
	}
	orders = append(orders, []types.Value{types.Int64Value(999), types.Null(types.Int64)})

	j, err := NewHashJoin(
		scanRows(t, custSchema, customers, 0),
		scanRows(t, ordSchema, orders, 7),
		[]string{"c_custkey"}, []string{"o_custkey"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"o_orderkey", "o_custkey", "c_custkey", "c_name"}, j.Schema().Names())

	res := run(t, j)
	require.Len(t, res.Rows, 10)
	for _, r := range res.Rows {
		assert.Equal(t, r[1].Int(), r[2].Int())
	}
	assert.Equal(t, "101", res.Rows[0][0].String())
	assert.Equal(t, "alice", res.Rows[0][3].String())
	assert.Equal(t, "bob", res.Rows[1][3].String())
	assert.Greater(t, j.BloomPruned(), int64(0))
}

func TestHashJoin_KeyTypes(t *testing.T) {
	a := types.MustSchema(types.NewField("k", types.Int64))
	b := types.MustSchema(types.NewField("k2", types.Int32))
	_, err := NewHashJoin(scanRows(t, a, nil, 0), scanRows(t, b, nil, 0), []string{"k"}, []string{"k2"})
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))

	_, err = NewHashJoin(scanRows(t, a, nil, 0), scanRows(t, b, nil, 0), []string{"k"}, nil)
	assert.Equal(t, qerrors.CodeInvalidPlan, qerrors.GetCode(err))

	_, err = NewHashJoin(scanRows(t, a, nil, 0), scanRows(t, a, nil, 0), []string{"k"}, []string{"k"})
	assert.Equal(t, qerrors.CodeDuplicateColumn, qerrors.GetCode(err))
}

func TestExplain(t *testing.T) {
	scan := scanRows(t, itemSchema, nil, 0)
	f, err := NewFilter(scan, expr.Eq(expr.Col("flag"), expr.StrLit("R")))
	require.NoError(t, err)
	l := NewLimit(f, 0, 5)
	assert.Equal(t,
		"Limit(offset=0, fetch=5)\n  Filter((flag = 'R'))\n    Scan(flag, status, qty, price, ship)\n",
		Explain(l))
}
