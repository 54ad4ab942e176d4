// Package tpch holds the TPC-H table schemas and hand-built operator plans
// for the pricing summary (Q1), shipping priority (Q3) and forecasting
// revenue change (Q6) queries.
package tpch

import (
	"sort"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

const (
	Lineitem = "lineitem"
	Orders   = "orders"
	Customer = "customer"
)

var money = types.Decimal(15, 2)

// LineitemSchema is the lineitem table.
var LineitemSchema = types.MustSchema(
	types.NewField("l_orderkey", types.Int64),
	types.NewField("l_partkey", types.Int64),
	types.NewField("l_suppkey", types.Int64),
	types.NewField("l_linenumber", types.Int32),
	types.NewField("l_quantity", money),
	types.NewField("l_extendedprice", money),
	types.NewField("l_discount", money),
	types.NewField("l_tax", money),
	types.NewField("l_returnflag", types.Utf8),
	types.NewField("l_linestatus", types.Utf8),
	types.NewField("l_shipdate", types.Date),
	types.NewField("l_commitdate", types.Date),
	types.NewField("l_receiptdate", types.Date),
	types.NewField("l_shipinstruct", types.Utf8),
	types.NewField("l_shipmode", types.Utf8),
	types.NewField("l_comment", types.Utf8),
)

// OrdersSchema is the orders table.
var OrdersSchema = types.MustSchema(
	types.NewField("o_orderkey", types.Int64),
	types.NewField("o_custkey", types.Int64),
	types.NewField("o_orderstatus", types.Utf8),
	types.NewField("o_totalprice", money),
	types.NewField("o_orderdate", types.Date),
	types.NewField("o_orderpriority", types.Utf8),
	types.NewField("o_clerk", types.Utf8),
	types.NewField("o_shippriority", types.Int32),
	types.NewField("o_comment", types.Utf8),
)

// CustomerSchema is the customer table.
var CustomerSchema = types.MustSchema(
	types.NewField("c_custkey", types.Int64),
	types.NewField("c_name", types.Utf8),
	types.NewField("c_address", types.Utf8),
	types.NewField("c_nationkey", types.Int64),
	types.NewField("c_phone", types.Utf8),
	types.NewField("c_acctbal", money),
	types.NewField("c_mktsegment", types.Utf8),
	types.NewField("c_comment", types.Utf8),
)

var schemas = map[string]*types.Schema{
	Lineitem: LineitemSchema,
	Orders:   OrdersSchema,
	Customer: CustomerSchema,
}

// Schema returns the schema of a TPC-H table.
func Schema(table string) (*types.Schema, error) {
	s, ok := schemas[table]
	if !ok {
		return nil, qerrors.NewExecutionError(qerrors.CodeInvalidPlan, "unknown TPC-H table "+table).
			WithDetails(map[string]interface{}{"table": table})
	}
	return s, nil
}

// clusterKeys order exported segments so the Q1, Q3 and Q6 ranges prune well.
var clusterKeys = map[string]string{
	Lineitem: "l_shipdate",
	Orders:   "o_orderdate",
	Customer: "c_custkey",
}

// ClusterKey is the column a table's segments are best ordered by.
func ClusterKey(table string) string { return clusterKeys[table] }

// Tables lists the known table names.
func Tables() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
