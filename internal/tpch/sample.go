package tpch

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/pkg/types"
)

var (
	segments   = []string{"AUTOMOBILE", "BUILDING", "FURNITURE", "HOUSEHOLD", "MACHINERY"}
	priorities = []string{"1-URGENT", "2-HIGH", "3-MEDIUM", "4-NOT SPECIFIED", "5-LOW"}
	instructs  = []string{"DELIVER IN PERSON", "COLLECT COD", "NONE", "TAKE BACK RETURN"}
	shipModes  = []string{"REG AIR", "AIR", "RAIL", "SHIP", "TRUCK", "MAIL", "FOB"}

	startDate   = types.MustParseDate("1992-01-01")
	endDate     = types.MustParseDate("1998-08-02")
	currentDate = types.MustParseDate("1995-06-17")
)

// Dataset is a small TPC-H database held in memory.
type Dataset struct {
	tables map[string]*batch.Batch
}

// GenerateSample builds a deterministic dataset with the given number of
// orders, one customer per ten orders and one to seven lines per order.
// The same arguments always produce the same rows.
func GenerateSample(orders int, seed int64) (*Dataset, error) {
	if orders <= 0 {
		orders = 1
	}
	rng := rand.New(rand.NewSource(seed))
	customers := orders/10 + 1

	custRows := make([][]types.Value, 0, customers)
	for k := 1; k <= customers; k++ {
		custRows = append(custRows, []types.Value{
			types.Int64Value(int64(k)),
			types.StringValue(fmt.Sprintf("Customer#%09d", k)),
			types.StringValue(fmt.Sprintf("address %d", rng.Intn(10000))),
			types.Int64Value(int64(rng.Intn(25))),
			types.StringValue(fmt.Sprintf("%02d-%03d-%03d-%04d", 10+rng.Intn(25), rng.Intn(1000), rng.Intn(1000), rng.Intn(10000))),
			money2(int64(rng.Intn(1099999)) - 99999),
			types.StringValue(segments[rng.Intn(len(segments))]),
			types.StringValue("sample customer"),
		})
	}

	orderRows := make([][]types.Value, 0, orders)
	var lineRows [][]types.Value
	span := int(endDate) - int(startDate) - 151
	for k := 1; k <= orders; k++ {
		orderDate := startDate.AddDays(rng.Intn(span))
		lines := 1 + rng.Intn(7)
		var total int64
		shipped := 0
		for n := 1; n <= lines; n++ {
			partKey := int64(1 + rng.Intn(2000))
			qty := int64(1 + rng.Intn(50))
			price := qty * (90000 + partKey%20001 + 100*(partKey%1000))
			disc := int64(rng.Intn(11))
			tax := int64(rng.Intn(9))
			shipDate := orderDate.AddDays(1 + rng.Intn(121))
			commitDate := orderDate.AddDays(30 + rng.Intn(61))
			receiptDate := shipDate.AddDays(1 + rng.Intn(30))

			flag := "N"
			if receiptDate <= currentDate {
				flag = "A"
				if rng.Intn(2) == 0 {
					flag = "R"
				}
			}
			status := "O"
			if shipDate <= currentDate {
				status = "F"
				shipped++
			}
			total += price * (100 - disc) * (100 + tax) / 10000

			lineRows = append(lineRows, []types.Value{
				types.Int64Value(int64(k)),
				types.Int64Value(partKey),
				types.Int64Value(int64(1 + rng.Intn(100))),
				types.Int32Value(int32(n)),
				money2(qty * 100),
				money2(price),
				money2(disc),
				money2(tax),
				types.StringValue(flag),
				types.StringValue(status),
				types.DateValue(shipDate),
				types.DateValue(commitDate),
				types.DateValue(receiptDate),
				types.StringValue(instructs[rng.Intn(len(instructs))]),
				types.StringValue(shipModes[rng.Intn(len(shipModes))]),
				types.StringValue("sample line"),
			})
		}

		orderStatus := "P"
		switch shipped {
		case lines:
			orderStatus = "F"
		case 0:
			orderStatus = "O"
		}
		orderRows = append(orderRows, []types.Value{
			types.Int64Value(int64(k)),
			types.Int64Value(int64(1 + rng.Intn(customers))),
			types.StringValue(orderStatus),
			money2(total),
			types.DateValue(orderDate),
			types.StringValue(priorities[rng.Intn(len(priorities))]),
			types.StringValue(fmt.Sprintf("Clerk#%09d", 1+rng.Intn(1000))),
			types.Int32Value(0),
			types.StringValue("sample order"),
		})
	}

	d := &Dataset{tables: make(map[string]*batch.Batch, 3)}
	for name, rows := range map[string][][]types.Value{
		Customer: custRows,
		Orders:   orderRows,
		Lineitem: lineRows,
	} {
		b, err := batch.FromRows(schemas[name], rows)
		if err != nil {
			return nil, fmt.Errorf("tpch: build %s: %w", name, err)
		}
		d.tables[name] = b
	}
	return d, nil
}

func money2(unscaled int64) types.Value {
	return types.DecimalValue(unscaled, money.Precision, money.Scale)
}

// Table returns every row of a table as one batch.
func (d *Dataset) Table(name string) (*batch.Batch, error) {
	if _, err := Schema(name); err != nil {
		return nil, err
	}
	return d.tables[name], nil
}

// Open returns an OpenFunc serving the dataset from memory in batches of
// batchSize rows.
func (d *Dataset) Open(batchSize int) OpenFunc {
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return func(ctx context.Context, table string, schema *types.Schema) (source.Source, error) {
		full, err := d.Table(table)
		if err != nil {
			return nil, err
		}
		cols := make([]*batch.Column, schema.Len())
		for i, f := range schema.Fields() {
			idx, err := full.Schema().IndexOf(f.Name)
			if err != nil {
				return nil, err
			}
			cols[i] = full.Column(idx)
		}
		projected, err := batch.New(schema, cols)
		if err != nil {
			return nil, err
		}
		var batches []*batch.Batch
		for off := 0; off < projected.NumRows(); off += batchSize {
			b, err := projected.Slice(off, min(batchSize, projected.NumRows()-off))
			if err != nil {
				return nil, err
			}
			batches = append(batches, b)
		}
		return source.NewMemorySource(schema, batches...)
	}
}
