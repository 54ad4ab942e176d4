package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/pkg/types"
)

var itemSchema = types.MustSchema(
	types.NewField("flag", types.Utf8),
	types.NewField("status", types.Utf8),
	types.NewField("qty", types.Decimal(15, 2)),
	types.NewField("price", types.Decimal(15, 2)),
	types.NewField("ship", types.Date),
)

func item(flag, status, qty, price, ship string) []types.Value {
	return []types.Value{
		types.StringValue(flag),
		types.StringValue(status),
		types.MustDecimal(qty, 15, 2),
		types.MustDecimal(price, 15, 2),
		types.DateValue(types.MustParseDate(ship)),
	}
}

func scanRows(t *testing.T, schema *types.Schema, rows [][]types.Value, batchSize int) *Scan {
	t.Helper()
	src, err := source.NewMemorySourceFromRows(schema, rows, batchSize)
	require.NoError(t, err)
	scan, err := NewScan(src)
	require.NoError(t, err)
	return scan
}

func run(t *testing.T, root Operator) *Result {
	t.Helper()
	res, err := NewDriver(DriverConfig{}).Execute(context.Background(), root)
	require.NoError(t, err)
	return res
}

func strs(rows [][]types.Value, col int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r[col].String()
	}
	return out
}

func TestScan_Projection(t *testing.T) {
	rows := [][]types.Value{item("A", "F", "1", "10", "1998-01-01")}
	src, err := source.NewMemorySourceFromRows(itemSchema, rows, 0)
	require.NoError(t, err)
	scan, err := NewScan(src, "price", "flag")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "flag"}, scan.Schema().Names())

	res := run(t, scan)
	assert.Equal(t, []string{"10.00"}, strs(res.Rows, 0))
	assert.Equal(t, []string{"A"}, strs(res.Rows, 1))

	_, err = NewScan(src, "missing")
	require.Error(t, err)
}
