package tpch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/internal/exec"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/pkg/types"
)

// OpenFunc opens a logical table. schema holds only the columns the plan
// reads, in plan order; implementations may push that projection down.
type OpenFunc func(ctx context.Context, table string, schema *types.Schema) (source.Source, error)

// Params holds the substitution parameters of the queries plus the engine
// settings every plan is built with.
type Params struct {
	BatchSize int
	MaxGroups int

	// Q1: ship date cutoff is 1998-12-01 minus Q1Delta days
	Q1Delta int

	// Q3
	Q3Segment string
	Q3Date    string
	Q3Limit   int

	// Q6: one year from Q6Date, discount within 0.01 of Q6Discount
	Q6Date     string
	Q6Discount string
	Q6Quantity int64
}

// DefaultParams returns the parameters used when none are given.
func DefaultParams() Params {
	return Params{
		Q1Delta:    71,
		Q3Segment:  "BUILDING",
		Q3Date:     "1995-03-15",
		Q3Limit:    10,
		Q6Date:     "1994-01-01",
		Q6Discount: "0.06",
		Q6Quantity: 24,
	}
}

// Query is one runnable TPC-H query.
type Query struct {
	Name   string
	Title  string
	Tables []string
	build  func(p *planner, params Params) (exec.Operator, error)
}

var queries = map[string]Query{
	"q1": {Name: "q1", Title: "pricing summary report", Tables: []string{Lineitem}, build: buildQ1},
	"q3": {Name: "q3", Title: "shipping priority", Tables: []string{Customer, Orders, Lineitem}, build: buildQ3},
	"q6": {Name: "q6", Title: "forecasting revenue change", Tables: []string{Lineitem}, build: buildQ6},
}

// Queries lists the available queries by name.
func Queries() []Query {
	out := make([]Query, 0, len(queries))
	for _, q := range queries {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup finds a query by name, case-insensitively.
func Lookup(name string) (Query, error) {
	q, ok := queries[strings.ToLower(name)]
	if !ok {
		return Query{}, qerrors.NewExecutionError(qerrors.CodeInvalidPlan, fmt.Sprintf("unknown query %q", name))
	}
	return q, nil
}

// Plan builds the operator tree of q. Sources opened before a failure are
// closed again.
func (q Query) Plan(ctx context.Context, open OpenFunc, params Params) (exec.Operator, error) {
	p := &planner{ctx: ctx, open: open}
	root, err := q.build(p, params)
	if err != nil {
		p.abort()
		return nil, fmt.Errorf("%s: %w", q.Name, err)
	}
	return root, nil
}

type planner struct {
	ctx    context.Context
	open   OpenFunc
	opened []source.Source
}

// scan opens table with only the named columns. Sources that can prune
// are told the ranges the plan filters on.
func (p *planner) scan(table string, zones []source.Range, columns ...string) (*exec.Scan, error) {
	full, err := Schema(table)
	if err != nil {
		return nil, err
	}
	schema, err := full.Select(columns...)
	if err != nil {
		return nil, err
	}
	src, err := p.open(p.ctx, table, schema)
	if err != nil {
		return nil, err
	}
	p.opened = append(p.opened, src)
	if pr, ok := src.(source.Prunable); ok && len(zones) > 0 {
		pr.Prune(zones...)
	}
	return exec.NewScan(src, columns...)
}

func (p *planner) abort() {
	for _, src := range p.opened {
		_ = src.Close()
	}
}

// discounted is l_extendedprice * (1 - l_discount).
func discounted() expr.Expr {
	return expr.Mul(expr.Col("l_extendedprice"), expr.Sub(expr.IntLit(1), expr.Col("l_discount")))
}

func buildQ1(p *planner, params Params) (exec.Operator, error) {
	last := types.MustParseDate("1998-12-01").AddDays(-params.Q1Delta)
	scan, err := p.scan(Lineitem, []source.Range{source.AtMost("l_shipdate", int64(last))},
		"l_quantity", "l_extendedprice", "l_discount", "l_tax",
		"l_returnflag", "l_linestatus", "l_shipdate")
	if err != nil {
		return nil, err
	}
	cutoff := expr.DateSub(expr.DateLit("1998-12-01"), params.Q1Delta)
	filter, err := exec.NewFilter(scan, expr.LtEq(expr.Col("l_shipdate"), cutoff))
	if err != nil {
		return nil, err
	}
	agg, err := exec.NewHashAggregate(filter, exec.Cols("l_returnflag", "l_linestatus"), []*expr.AggregateCall{
		expr.Sum(expr.Col("l_quantity")).As("sum_qty"),
		expr.Sum(expr.Col("l_extendedprice")).As("sum_base_price"),
		expr.Sum(discounted()).As("sum_disc_price"),
		expr.Sum(expr.Mul(discounted(), expr.Add(expr.IntLit(1), expr.Col("l_tax")))).As("sum_charge"),
		expr.Avg(expr.Col("l_quantity")).As("avg_qty"),
		expr.Avg(expr.Col("l_extendedprice")).As("avg_price"),
		expr.Avg(expr.Col("l_discount")).As("avg_disc"),
		expr.CountStar().As("count_order"),
	}, exec.AggregateOptions{MaxGroups: params.MaxGroups, BatchSize: params.BatchSize})
	if err != nil {
		return nil, err
	}
	return exec.NewSort(agg, []exec.SortKey{exec.Asc("l_returnflag"), exec.Asc("l_linestatus")}, params.BatchSize)
}

func buildQ6(p *planner, params Params) (exec.Operator, error) {
	from, err := types.ParseDate(params.Q6Date)
	if err != nil {
		return nil, err
	}
	to := types.DateFromTime(from.Time().AddDate(1, 0, 0))
	disc, err := types.ParseDecimal(params.Q6Discount, money.Scale)
	if err != nil {
		return nil, err
	}
	qty, err := types.ParseDecimal(fmt.Sprint(params.Q6Quantity), money.Scale)
	if err != nil {
		return nil, err
	}
	lo := types.DecimalValue(disc-1, money.Precision, money.Scale)
	hi := types.DecimalValue(disc+1, money.Precision, money.Scale)

	scan, err := p.scan(Lineitem, []source.Range{
		source.Between("l_shipdate", int64(from), int64(to)-1),
		source.Between("l_discount", disc-1, disc+1),
		source.AtMost("l_quantity", qty-1),
	}, "l_quantity", "l_extendedprice", "l_discount", "l_shipdate")
	if err != nil {
		return nil, err
	}
	filter, err := exec.NewFilter(scan, expr.AllOf(
		expr.GtEq(expr.Col("l_shipdate"), expr.Lit(types.DateValue(from))),
		expr.Lt(expr.Col("l_shipdate"), expr.Lit(types.DateValue(to))),
		expr.GtEq(expr.Col("l_discount"), expr.Lit(lo)),
		expr.LtEq(expr.Col("l_discount"), expr.Lit(hi)),
		expr.Lt(expr.Col("l_quantity"), expr.IntLit(params.Q6Quantity)),
	))
	if err != nil {
		return nil, err
	}
	return exec.NewHashAggregate(filter, nil, []*expr.AggregateCall{
		expr.Sum(expr.Mul(expr.Col("l_extendedprice"), expr.Col("l_discount"))).As("revenue"),
	}, exec.AggregateOptions{BatchSize: params.BatchSize})
}

func buildQ3(p *planner, params Params) (exec.Operator, error) {
	date, err := types.ParseDate(params.Q3Date)
	if err != nil {
		return nil, err
	}
	pivot := expr.Lit(types.DateValue(date))

	customers, err := p.scan(Customer, nil, "c_custkey", "c_mktsegment")
	if err != nil {
		return nil, err
	}
	building, err := exec.NewFilter(customers, expr.Eq(expr.Col("c_mktsegment"), expr.StrLit(params.Q3Segment)))
	if err != nil {
		return nil, err
	}

	orders, err := p.scan(Orders, []source.Range{source.AtMost("o_orderdate", int64(date)-1)},
		"o_orderkey", "o_custkey", "o_orderdate", "o_shippriority")
	if err != nil {
		return nil, err
	}
	early, err := exec.NewFilter(orders, expr.Lt(expr.Col("o_orderdate"), pivot))
	if err != nil {
		return nil, err
	}
	custOrders, err := exec.NewHashJoin(building, early, []string{"c_custkey"}, []string{"o_custkey"})
	if err != nil {
		return nil, err
	}

	items, err := p.scan(Lineitem, []source.Range{source.AtLeast("l_shipdate", int64(date)+1)},
		"l_orderkey", "l_extendedprice", "l_discount", "l_shipdate")
	if err != nil {
		return nil, err
	}
	late, err := exec.NewFilter(items, expr.Gt(expr.Col("l_shipdate"), pivot))
	if err != nil {
		return nil, err
	}
	joined, err := exec.NewHashJoin(custOrders, late, []string{"o_orderkey"}, []string{"l_orderkey"})
	if err != nil {
		return nil, err
	}

	agg, err := exec.NewHashAggregate(joined,
		exec.Cols("l_orderkey", "o_orderdate", "o_shippriority"),
		[]*expr.AggregateCall{expr.Sum(discounted()).As("revenue")},
		exec.AggregateOptions{MaxGroups: params.MaxGroups, BatchSize: params.BatchSize})
	if err != nil {
		return nil, err
	}
	proj, err := exec.NewProject(agg, exec.Cols("l_orderkey", "revenue", "o_orderdate", "o_shippriority"))
	if err != nil {
		return nil, err
	}
	return exec.NewTopK(proj, []exec.SortKey{exec.Desc("revenue"), exec.Asc("o_orderdate")}, params.Q3Limit)
}
