package exec

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/pkg/types"
)

func flagAggregate(t *testing.T, child Operator, opts AggregateOptions) *HashAggregate {
	t.Helper()
	agg, err := NewHashAggregate(child, Cols("flag", "status"), []*expr.AggregateCall{
		expr.Sum(expr.Col("qty")).As("sum_qty"),
		expr.Avg(expr.Col("price")).As("avg_price"),
		expr.CountStar().As("count_order"),
	}, opts)
	require.NoError(t, err)
	return agg
}

func TestHashAggregate_Groups(t *testing.T) {
	agg := flagAggregate(t, scanRows(t, itemSchema, sampleItems(), 2), AggregateOptions{})
	assert.Equal(t, []string{"flag", "status", "sum_qty", "avg_price", "count_order"}, agg.Schema().Names())

	res := run(t, agg)
	require.Len(t, res.Rows, 3)
	// first-seen order
	assert.Equal(t, []string{"N", "R", "A"}, strs(res.Rows, 0))
	assert.Equal(t, []string{"45.00", "38.00", "8.00"}, strs(res.Rows, 2))
	assert.Equal(t, []string{"71.000000", "127.000000", "10.010000"}, strs(res.Rows, 3))
	assert.Equal(t, []string{"2", "2", "1"}, strs(res.Rows, 4))
}

func TestHashAggregate_OutputBatchSize(t *testing.T) {
	s := types.MustSchema(types.NewField("k", types.Int64))
	var rows [][]types.Value
	for i := int64(0); i < 10; i++ {
		rows = append(rows, []types.Value{types.Int64Value(i)})
	}
	agg, err := NewHashAggregate(scanRows(t, s, rows, 3), Cols("k"), []*expr.AggregateCall{expr.CountStar()}, AggregateOptions{BatchSize: 4})
	require.NoError(t, err)

	var sizes []int
	for {
		b, err := agg.Next(context.Background())
		if err != nil {
			break
		}
		sizes = append(sizes, b.NumRows())
	}
	assert.Equal(t, []int{4, 4, 2}, sizes)
}

func TestHashAggregate_EmptyInput(t *testing.T) {
	grouped := flagAggregate(t, scanRows(t, itemSchema, nil, 0), AggregateOptions{})
	res := run(t, grouped)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 5, res.Schema.Len())

	global, err := NewHashAggregate(scanRows(t, itemSchema, nil, 0), nil, []*expr.AggregateCall{
		expr.Sum(expr.Col("qty")),
		expr.CountStar(),
		expr.Avg(expr.Col("price")),
	}, AggregateOptions{})
	require.NoError(t, err)
	res = run(t, global)
	require.Len(t, res.Rows, 1)
	assert.True(t, res.Rows[0][0].IsNull())
	assert.Equal(t, types.Int64Value(0), res.Rows[0][1])
	assert.True(t, res.Rows[0][2].IsNull())
}

func TestHashAggregate_Global(t *testing.T) {
	agg, err := NewHashAggregate(scanRows(t, itemSchema, sampleItems(), 2), nil, []*expr.AggregateCall{
		expr.Sum(expr.Col("qty")),
		expr.Min(expr.Col("ship")),
		expr.Max(expr.Col("flag")),
	}, AggregateOptions{})
	require.NoError(t, err)
	res := run(t, agg)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"91.00", "1996-03-13", "R"}, []string{
		res.Rows[0][0].String(), res.Rows[0][1].String(), res.Rows[0][2].String(),
	})
}

func TestHashAggregate_NullKeysFormOneGroup(t *testing.T) {
	s := types.MustSchema(types.NewField("k", types.Utf8), types.NewField("v", types.Int64))
	rows := [][]types.Value{
		{types.Null(types.Utf8), types.Int64Value(1)},
		{types.StringValue(""), types.Int64Value(2)},
		{types.Null(types.Utf8), types.Int64Value(3)},
	}
	agg, err := NewHashAggregate(scanRows(t, s, rows, 1), Cols("k"), []*expr.AggregateCall{expr.Sum(expr.Col("v"))}, AggregateOptions{})
	require.NoError(t, err)
	res := run(t, agg)
	require.Len(t, res.Rows, 2)
	assert.True(t, res.Rows[0][0].IsNull())
	assert.Equal(t, types.Int64Value(4), res.Rows[0][1])
	assert.Equal(t, types.StringValue(""), res.Rows[1][0])
}

func TestHashAggregate_GroupKeyOverflow(t *testing.T) {
	agg := flagAggregate(t, scanRows(t, itemSchema, sampleItems(), 2), AggregateOptions{MaxGroups: 2})
	res, err := NewDriver(DriverConfig{}).Execute(context.Background(), agg)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, qerrors.CodeGroupKeyOverflow, qerrors.GetCode(err))
	details := qerrors.GetDetails(err)
	assert.Equal(t, 2, details["max_groups"])
	assert.Contains(t, details["operator"], "hashaggregate")
	assert.NotEmpty(t, details["query_id"])
}

func TestHashAggregate_RoundedAverage(t *testing.T) {
	s := types.MustSchema(types.NewField("x", types.Decimal(15, 8)))
	rows := [][]types.Value{
		{types.MustDecimal("1.23449999", 15, 8)},
		{types.MustDecimal("1.23449999", 15, 8)},
	}
	agg, err := NewHashAggregate(scanRows(t, s, rows, 1), nil, []*expr.AggregateCall{expr.Avg(expr.Col("x")).As("a")}, AggregateOptions{})
	require.NoError(t, err)
	p, err := NewProject(agg, []NamedExpr{
		As(expr.Round(expr.Col("a"), 4), "r4"),
		As(expr.Round(expr.Col("a"), 2), "r2"),
	})
	require.NoError(t, err)

	res := run(t, p)
	assert.Equal(t, "1.2345", res.Rows[0][0].String())
	assert.Equal(t, "1.23", res.Rows[0][1].String())
}

func TestProperty_AggregateIndependentOfBatching(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	flags := []string{"A", "N", "R"}
	toRows := func(qtys []int64) [][]types.Value {
		rows := make([][]types.Value, len(qtys))
		for i, q := range qtys {
			rows[i] = item(flags[(q%3+3)%3], "F", fmt.Sprintf("%d.%02d", q/100, abs(q%100)), fmt.Sprintf("%d", i), "1998-01-01")
		}
		return rows
	}
	aggregate := func(rows [][]types.Value, batchSize int) ([][]types.Value, error) {
		src := scanRows(t, itemSchema, rows, batchSize)
		agg, err := NewHashAggregate(src, Cols("flag"), []*expr.AggregateCall{
			expr.Sum(expr.Col("qty")),
			expr.Avg(expr.Col("qty")),
			expr.Count(expr.Col("qty")),
		}, AggregateOptions{})
		if err != nil {
			return nil, err
		}
		res, err := NewDriver(DriverConfig{}).Execute(context.Background(), agg)
		if err != nil {
			return nil, err
		}
		return res.Rows, nil
	}

	properties.Property("any batch split gives the single-batch result", prop.ForAll(
		func(qtys []int64, batchSize int) bool {
			rows := toRows(qtys)
			whole, err := aggregate(rows, len(rows)+1)
			if err != nil {
				return false
			}
			split, err := aggregate(rows, batchSize)
			if err != nil {
				return false
			}
			return assert.ObjectsAreEqual(whole, split)
		},
		gen.SliceOf(gen.Int64Range(0, 100000)),
		gen.IntRange(1, 7),
	))

	properties.TestingRun(t)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
