package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

var priceType = types.Decimal(15, 2)

var lineSchema = types.MustSchema(
	types.NewField("qty", priceType),
	types.NewField("price", priceType),
	types.NewField("disc", priceType),
	types.NewField("tax", priceType),
	types.NewField("flag", types.Utf8),
	types.NewField("shipdate", types.Date),
	types.NewField("n", types.Int64),
)

func dec(t *testing.T, text string) types.Value {
	t.Helper()
	u, err := types.ParseDecimal(text, 2)
	require.NoError(t, err)
	return types.DecimalValue(u, 15, 2)
}

func lineBatch(t *testing.T) *batch.Batch {
	t.Helper()
	b, err := batch.FromRows(lineSchema, [][]types.Value{
		{dec(t, "17"), dec(t, "100.00"), dec(t, "0.05"), dec(t, "0.02"), types.StringValue("N"), types.DateValue(types.MustParseDate("1998-09-01")), types.Int64Value(7)},
		{dec(t, "36"), dec(t, "250.50"), dec(t, "0.10"), dec(t, "0.08"), types.StringValue("R"), types.DateValue(types.MustParseDate("1998-09-22")), types.Int64Value(-7)},
		{types.Null(priceType), dec(t, "10.01"), dec(t, "0.00"), dec(t, "0.00"), types.StringValue("A"), types.DateValue(types.MustParseDate("1998-09-21")), types.Int64Value(0)},
	})
	require.NoError(t, err)
	return b
}

func evalValues(t *testing.T, e Expr, b *batch.Batch) []types.Value {
	t.Helper()
	col, err := e.Eval(b)
	require.NoError(t, err)
	require.Equal(t, b.NumRows(), col.Len())
	out := make([]types.Value, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out
}

func TestColumnRef_NotFound(t *testing.T) {
	_, err := Col("nope").Eval(lineBatch(t))
	require.Error(t, err)
	assert.Equal(t, qerrors.CodeColumnNotFound, qerrors.GetCode(err))

	_, err = Add(Col("nope"), IntLit(1)).DataType(lineSchema)
	assert.Equal(t, qerrors.CodeColumnNotFound, qerrors.GetCode(err))
}

func TestArithmetic_DiscountedPrice(t *testing.T) {
	b := lineBatch(t)
	discPrice := Mul(Col("price"), Sub(IntLit(1), Col("disc")))
	charge := Mul(discPrice, Add(IntLit(1), Col("tax")))

	typ, err := discPrice.DataType(lineSchema)
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(18, 4), typ)

	got := evalValues(t, discPrice, b)
	assert.Equal(t, "95.0000", got[0].String())
	assert.Equal(t, "225.4500", got[1].String())
	assert.Equal(t, "10.0100", got[2].String())

	got = evalValues(t, charge, b)
	assert.Equal(t, "96.900000", got[0].String())
	assert.Equal(t, "243.486000", got[1].String())
}

func TestArithmetic_IntegerAndNulls(t *testing.T) {
	b := lineBatch(t)
	got := evalValues(t, Add(Col("n"), IntLit(3)), b)
	assert.Equal(t, []types.Value{types.Int64Value(10), types.Int64Value(-4), types.Int64Value(3)}, got)

	got = evalValues(t, Div(Col("n"), IntLit(2)), b)
	assert.Equal(t, []types.Value{types.Int64Value(3), types.Int64Value(-3), types.Int64Value(0)}, got)

	got = evalValues(t, Add(Col("qty"), Col("price")), b)
	assert.Equal(t, "117.00", got[0].String())
	assert.True(t, got[2].IsNull())
}

func TestArithmetic_DecimalDivision(t *testing.T) {
	b := lineBatch(t)
	e := Div(Col("price"), Col("qty"))
	typ, err := e.DataType(lineSchema)
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(18, 6), typ)

	got := evalValues(t, e, b)
	assert.Equal(t, "5.882353", got[0].String())
	assert.Equal(t, "6.958333", got[1].String())
	assert.True(t, got[2].IsNull())
}

func TestArithmetic_DivideByZero(t *testing.T) {
	b := lineBatch(t)
	_, err := Div(Col("price"), Col("disc")).Eval(b)
	require.Error(t, err)
	assert.Equal(t, qerrors.CodeDivideByZero, qerrors.GetCode(err))
	details := qerrors.GetDetails(err)
	assert.Equal(t, 2, details["row"])
	assert.Equal(t, "(price / disc)", details["expression"])

	_, err = Div(Col("n"), IntLit(0)).Eval(b)
	assert.Equal(t, qerrors.CodeDivideByZero, qerrors.GetCode(err))
}

func TestArithmetic_Overflow(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Int64))
	b, err := batch.FromRows(s, [][]types.Value{{types.Int64Value(1 << 62)}})
	require.NoError(t, err)
	_, err = Mul(Col("v"), IntLit(4)).Eval(b)
	assert.Equal(t, qerrors.CodeDecimalOverflow, qerrors.GetCode(err))
}

func TestTypeMismatch(t *testing.T) {
	b := lineBatch(t)
	cases := []Expr{
		Add(Col("flag"), IntLit(1)),
		Lt(Col("flag"), Col("price")),
		And(Col("n"), Lit(types.BoolValue(true))),
		Not(Col("n")),
		DateSub(Col("price"), 3),
		Round(Col("flag"), 2),
		Sub(Col("shipdate"), Col("n")),
	}
	for _, e := range cases {
		_, err := e.Eval(b)
		require.Error(t, err, e.String())
		assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err), e.String())
	}
}

func TestComparison(t *testing.T) {
	b := lineBatch(t)
	cutoff := DateSub(DateLit("1998-12-01"), 71)
	got := evalValues(t, LtEq(Col("shipdate"), cutoff), b)
	assert.Equal(t, []types.Value{types.BoolValue(true), types.BoolValue(false), types.BoolValue(true)}, got)

	// Decimal(15,2) against an integer literal compares by value.
	got = evalValues(t, Gt(Col("price"), IntLit(100)), b)
	assert.Equal(t, []types.Value{types.BoolValue(false), types.BoolValue(true), types.BoolValue(false)}, got)

	got = evalValues(t, Eq(Col("flag"), StrLit("R")), b)
	assert.Equal(t, []types.Value{types.BoolValue(false), types.BoolValue(true), types.BoolValue(false)}, got)

	got = evalValues(t, Lt(Col("qty"), DecLit("24", 15, 2)), b)
	assert.Equal(t, types.BoolValue(true), got[0])
	assert.True(t, got[2].IsNull())
}

func TestDateSub(t *testing.T) {
	b := lineBatch(t)
	e := DateSub(DateLit("1998-12-01"), 71)
	assert.Equal(t, "(date '1998-12-01' - interval '71' day)", e.String())
	got := evalValues(t, e, b)
	assert.Equal(t, "1998-09-21", got[0].String())

	got = evalValues(t, DateAdd(Col("shipdate"), 31), b)
	assert.Equal(t, "1998-10-02", got[0].String())
}

func TestKleeneLogic(t *testing.T) {
	s := types.MustSchema(types.NewField("a", types.Boolean), types.NewField("b", types.Boolean))
	tv, fv, nv := types.BoolValue(true), types.BoolValue(false), types.Null(types.Boolean)
	rows := [][]types.Value{
		{tv, nv}, {fv, nv}, {nv, nv}, {tv, fv}, {tv, tv},
	}
	b, err := batch.FromRows(s, rows)
	require.NoError(t, err)

	assert.Equal(t, []types.Value{nv, fv, nv, fv, tv}, evalValues(t, And(Col("a"), Col("b")), b))
	assert.Equal(t, []types.Value{tv, nv, nv, tv, tv}, evalValues(t, Or(Col("a"), Col("b")), b))
	assert.Equal(t, []types.Value{fv, tv, nv, fv, fv}, evalValues(t, Not(Col("a")), b))
	assert.Equal(t, []types.Value{tv, tv, tv, fv, fv}, evalValues(t, IsNull(Col("b")), b))
}

func TestRound(t *testing.T) {
	s := types.MustSchema(types.NewField("v", types.Decimal(18, 6)))
	b, err := batch.FromRows(s, [][]types.Value{
		{types.MustDecimal("1.666667", 18, 6)},
		{types.MustDecimal("-0.015000", 18, 6)},
		{types.MustDecimal("2.004999", 18, 6)},
		{types.Null(types.Decimal(18, 6))},
	})
	require.NoError(t, err)

	e := Round(Col("v"), 2)
	typ, err := e.DataType(s)
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(15, 2), typ)

	got := evalValues(t, e, b)
	assert.Equal(t, "1.67", got[0].String())
	assert.Equal(t, "-0.02", got[1].String())
	assert.Equal(t, "2.00", got[2].String())
	assert.True(t, got[3].IsNull())

	same := evalValues(t, Round(Col("v"), 8), b)
	assert.Equal(t, "1.666667", same[0].String())
}

func TestRound_FractionOnlyDecimals(t *testing.T) {
	s := types.MustSchema(
		types.NewField("f", types.Decimal(4, 4)),
		types.NewField("g", types.Decimal(3, 2)),
	)
	b, err := batch.FromRows(s, [][]types.Value{
		{types.MustDecimal("0.5000", 4, 4), types.MustDecimal("9.99", 3, 2)},
		{types.MustDecimal("-0.4999", 4, 4), types.MustDecimal("-9.50", 3, 2)},
	})
	require.NoError(t, err)

	typ, err := Round(Col("f"), 0).DataType(s)
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(1, 0), typ)
	require.NoError(t, typ.Validate())

	typ, err = Round(Col("g"), 0).DataType(s)
	require.NoError(t, err)
	assert.Equal(t, types.Decimal(2, 0), typ)

	out := types.MustSchema(types.NewField("r", typ))
	assert.Equal(t, 1, out.Len())

	got := evalValues(t, Round(Col("f"), 0), b)
	assert.Equal(t, "1", got[0].String())
	assert.Equal(t, "0", got[1].String())
	got = evalValues(t, Round(Col("g"), 0), b)
	assert.Equal(t, "10", got[0].String())
	assert.Equal(t, "-10", got[1].String())
}

func TestCast(t *testing.T) {
	b := lineBatch(t)
	got := evalValues(t, Cast(Col("n"), types.Decimal(10, 2)), b)
	assert.Equal(t, "7.00", got[0].String())

	got = evalValues(t, Cast(Col("price"), types.Int64), b)
	assert.Equal(t, types.Int64Value(251), got[1])

	got = evalValues(t, Cast(StrLit("1995-03-15"), types.Date), b)
	assert.Equal(t, "1995-03-15", got[0].String())

	_, err := Cast(StrLit("abc"), types.Int32).Eval(b)
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))

	_, err = Cast(Col("shipdate"), types.Int64).DataType(lineSchema)
	assert.Equal(t, qerrors.CodeTypeMismatch, qerrors.GetCode(err))

	for _, bad := range []types.DataType{
		{ID: types.TypeDecimal, Precision: 10, Scale: 25},
		{ID: types.TypeDecimal, Precision: 20, Scale: 2},
		{ID: types.TypeDecimal, Precision: 5, Scale: -1},
	} {
		var err error
		require.NotPanics(t, func() { _, err = Cast(Col("n"), bad).Eval(b) }, bad.String())
		assert.Equal(t, qerrors.CodeSchemaMismatch, qerrors.GetCode(err), bad.String())
	}
}

func TestAllOf(t *testing.T) {
	b := lineBatch(t)
	pred := AllOf(GtEq(Col("disc"), DecLit("0.05", 15, 2)), Lt(Col("n"), IntLit(5)))
	got := evalValues(t, pred, b)
	assert.Equal(t, []types.Value{types.BoolValue(false), types.BoolValue(true), types.BoolValue(false)}, got)

	got = evalValues(t, AllOf(), b)
	assert.Equal(t, types.BoolValue(true), got[0])
}
