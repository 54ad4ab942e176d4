package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/observability"
	"github.com/quarrydb/quarry/pkg/types"
)

var resultSchema = types.MustSchema(
	types.NewField("flag", types.Utf8),
	types.NewField("sum_qty", types.Decimal(18, 2)),
	types.NewField("shipped", types.Date),
	types.NewField("count", types.Int64),
)

func resultRows() [][]types.Value {
	return [][]types.Value{
		{types.StringValue("A"), types.MustDecimal("40.00", 18, 2), types.DateValue(types.MustParseDate("1995-03-15")), types.Int64Value(2)},
		{types.StringValue("N, O"), types.Null(types.Decimal(18, 2)), types.Null(types.Date), types.Int64Value(0)},
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, resultSchema, resultRows()))
	out := buf.String()

	assert.Contains(t, out, "sum_qty")
	assert.Contains(t, out, "40.00")
	assert.Contains(t, out, "1995-03-15")
	assert.Contains(t, out, NullText)
	assert.True(t, strings.HasSuffix(out, "(2 rows)\n"))
}

func TestWriteTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, resultSchema, nil))
	assert.Contains(t, buf.String(), "flag")
	assert.True(t, strings.HasSuffix(buf.String(), "(0 rows)\n"))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, resultSchema, resultRows()))
	assert.Equal(t,
		"flag,sum_qty,shipped,count\n"+
			"A,40.00,1995-03-15,2\n"+
			"\"N, O\",,,0\n",
		buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, resultSchema, resultRows()))
	assert.Equal(t,
		`{"flag":"A","sum_qty":"40.00","shipped":"1995-03-15","count":2}`+"\n"+
			`{"flag":"N, O","sum_qty":null,"shipped":null,"count":0}`+"\n",
		buf.String())
}

func TestWrite_Dispatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, resultSchema, nil))
	assert.Equal(t, "flag,sum_qty,shipped,count\n", buf.String())

	err := Write(&buf, "xml", resultSchema, nil)
	assert.Equal(t, qerrors.CodeInvalidConfig, qerrors.GetCode(err))
}

func TestWriteStats(t *testing.T) {
	color.NoColor = true
	stats := observability.NewQueryStats()
	stats.RecordInput("filter#2", 10)
	stats.RecordOutput("filter#2", 4, time.Millisecond)

	var buf bytes.Buffer
	WriteStats(&buf, "q-1", stats, 3*time.Millisecond)
	out := buf.String()
	assert.Contains(t, out, "filter#2")
	assert.Contains(t, out, "10")
	assert.Contains(t, out, "query q-1 finished in 3ms")
}

func TestWriteError(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	err := qerrors.ColumnNotFound("l_tax")
	WriteError(&buf, err)
	assert.Contains(t, buf.String(), "error: ")
	assert.Contains(t, buf.String(), "details: ")

	buf.Reset()
	WriteError(&buf, errors.New("plain"))
	assert.Equal(t, "error: plain\n", buf.String())
}
