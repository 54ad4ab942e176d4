package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

func TestParseAggFunc(t *testing.T) {
	tests := []struct {
		name    string
		want    AggFunc
		wantErr bool
	}{
		{"sum", AggSum, false},
		{"AVG", AggAvg, false},
		{"Count", AggCount, false},
		{"min", AggMin, false},
		{"MAX", AggMax, false},
		{"median", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAggFunc(tt.name)
			if tt.wantErr {
				assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateCall_DataType(t *testing.T) {
	tests := []struct {
		call *AggregateCall
		want types.DataType
	}{
		{Sum(Col("qty")), types.Decimal(18, 2)},
		{Sum(Col("n")), types.Int64},
		{Avg(Col("qty")), types.Decimal(18, 6)},
		{Avg(Col("n")), types.Decimal(18, 4)},
		{Count(Col("flag")), types.Int64},
		{CountStar(), types.Int64},
		{Min(Col("shipdate")), types.Date},
		{Max(Col("flag")), types.Utf8},
	}
	for _, tt := range tests {
		t.Run(tt.call.String(), func(t *testing.T) {
			got, err := tt.call.DataType(lineSchema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Sum(Col("flag")).DataType(lineSchema)
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))
	_, err = Avg(Col("shipdate")).DataType(lineSchema)
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))
}

func TestAggregateCall_Name(t *testing.T) {
	assert.Equal(t, "sum(qty)", Sum(Col("qty")).Name())
	assert.Equal(t, "count(*)", CountStar().Name())
	assert.Equal(t, "sum_qty", Sum(Col("qty")).As("sum_qty").Name())
}

// accumulate feeds every (value, group) pair through a fresh accumulator in
// chunks of the given size and returns the finalized column.
func accumulate(t *testing.T, call *AggregateCall, schema *types.Schema, rows [][]types.Value, groups []int, numGroups, chunk int) *batch.Column {
	t.Helper()
	acc, err := call.NewAccumulator(schema)
	require.NoError(t, err)
	b, err := batch.FromRows(schema, rows)
	require.NoError(t, err)
	for off := 0; off < len(rows); off += chunk {
		n := min(chunk, len(rows)-off)
		part, err := b.Slice(off, n)
		require.NoError(t, err)
		values, err := call.Eval(part)
		require.NoError(t, err)
		require.NoError(t, acc.Update(values, groups[off:off+n], numGroups))
	}
	out, err := acc.Evaluate()
	require.NoError(t, err)
	return out
}

func TestAccumulators(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Decimal(15, 2)), types.NewField("s", types.Utf8))
	null := types.Null(types.Decimal(15, 2))
	rows := [][]types.Value{
		{types.MustDecimal("1.00", 15, 2), types.StringValue("b")},
		{types.MustDecimal("2.00", 15, 2), types.StringValue("a")},
		{null, types.Null(types.Utf8)},
		{types.MustDecimal("2.00", 15, 2), types.StringValue("c")},
		{types.MustDecimal("-0.01", 15, 2), types.StringValue("z")},
		{types.MustDecimal("-0.02", 15, 2), types.StringValue("y")},
		{null, types.Null(types.Utf8)},
	}
	groups := []int{0, 0, 0, 0, 1, 1, 2}

	for _, chunk := range []int{1, 3, len(rows)} {
		sum := accumulate(t, Sum(Col("v")), s, rows, groups, 3, chunk)
		assert.Equal(t, "5.00", sum.Value(0).String())
		assert.Equal(t, "-0.03", sum.Value(1).String())
		assert.True(t, sum.IsNull(2))

		avg := accumulate(t, Avg(Col("v")), s, rows, groups, 3, chunk)
		assert.Equal(t, "1.666667", avg.Value(0).String())
		assert.Equal(t, "-0.015000", avg.Value(1).String())
		assert.True(t, avg.IsNull(2))

		cnt := accumulate(t, Count(Col("v")), s, rows, groups, 3, chunk)
		assert.Equal(t, []int64{3, 2, 0}, cnt.Ints())

		star := accumulate(t, CountStar(), s, rows, groups, 3, chunk)
		assert.Equal(t, []int64{4, 2, 1}, star.Ints())

		lo := accumulate(t, Min(Col("s")), s, rows, groups, 3, chunk)
		assert.Equal(t, types.StringValue("a"), lo.Value(0))
		assert.Equal(t, types.StringValue("y"), lo.Value(1))
		assert.True(t, lo.IsNull(2))

		hi := accumulate(t, Max(Col("v")), s, rows, groups, 3, chunk)
		assert.Equal(t, "2.00", hi.Value(0).String())
		assert.Equal(t, "-0.01", hi.Value(1).String())
	}
}

func TestAvg_RoundedMatchesExactMean(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Decimal(15, 2)))
	rows := [][]types.Value{
		{types.MustDecimal("0.04", 15, 2)},
		{types.MustDecimal("0.05", 15, 2)},
		{types.MustDecimal("0.06", 15, 2)},
		{types.MustDecimal("0.10", 15, 2)},
	}
	avg := accumulate(t, Avg(Col("v")), s, rows, []int{0, 0, 0, 0}, 1, 2)
	assert.Equal(t, "0.062500", avg.Value(0).String())

	// round(avg, 2) rounds the exact quotient half away from zero.
	rounded := types.RoundHalfAwayFromZero(avg.Int(0), 4)
	assert.Equal(t, int64(6), rounded)
}

func TestSum_Overflow(t *testing.T) {
	s := types.MustSchema(types.NewField("n", types.Int64))
	rows := [][]types.Value{{types.Int64Value(1 << 62)}, {types.Int64Value(1 << 62)}}
	acc, err := Sum(Col("n")).NewAccumulator(s)
	require.NoError(t, err)
	b, err := batch.FromRows(s, rows)
	require.NoError(t, err)
	err = acc.Update(b.Column(0), []int{0, 0}, 1)
	assert.Equal(t, qerrors.CodeDecimalOverflow, qerrors.GetCode(err))
}

func TestAccumulator_NoInput(t *testing.T) {
	acc, err := Sum(Col("qty")).NewAccumulator(lineSchema)
	require.NoError(t, err)
	require.NoError(t, acc.Update(nil, nil, 1))
	out, err := acc.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, 1, out.Len())
	assert.True(t, out.IsNull(0))

	cnt, err := CountStar().NewAccumulator(lineSchema)
	require.NoError(t, err)
	require.NoError(t, cnt.Update(nil, nil, 1))
	out, err = cnt.Evaluate()
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, out.Ints())
}
