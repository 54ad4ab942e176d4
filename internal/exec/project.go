package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/expr"
	"github.com/quarrydb/quarry/pkg/types"
)

// NamedExpr is an expression with its output column name.
type NamedExpr struct {
	Expr expr.Expr
	Name string
}

// As names an expression.
func As(e expr.Expr, name string) NamedExpr { return NamedExpr{Expr: e, Name: name} }

// Cols names column references after themselves.
func Cols(names ...string) []NamedExpr {
	out := make([]NamedExpr, len(names))
	for i, n := range names {
		out[i] = As(expr.Col(n), n)
	}
	return out
}

func (n NamedExpr) name() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Expr.String()
}

// namedSchema derives the output schema of exprs over input.
func namedSchema(input *types.Schema, exprs []NamedExpr) (*types.Schema, error) {
	fields := make([]types.Field, len(exprs))
	for i, e := range exprs {
		t, err := e.Expr.DataType(input)
		if err != nil {
			return nil, err
		}
		fields[i] = types.NewField(e.name(), t)
	}
	return types.NewSchema(fields...)
}

// Project computes one output column per expression.
type Project struct {
	base
	child  Operator
	exprs  []NamedExpr
	schema *types.Schema
	done   bool
}

// NewProject type-checks exprs against child's schema; output names must be
// unique.
func NewProject(child Operator, exprs []NamedExpr) (*Project, error) {
	schema, err := namedSchema(child.Schema(), exprs)
	if err != nil {
		return nil, err
	}
	return &Project{child: child, exprs: exprs, schema: schema}, nil
}

func (p *Project) Schema() *types.Schema { return p.schema }

func (p *Project) Next(ctx context.Context) (*batch.Batch, error) {
	if p.done {
		return nil, io.EOF
	}
	in, err := p.child.Next(ctx)
	if err != nil {
		p.done = true
		return nil, p.fail("project", err)
	}
	start := time.Now()
	p.consumed(in)

	cols := make([]*batch.Column, len(p.exprs))
	for i, e := range p.exprs {
		if cols[i], err = e.Expr.Eval(in); err != nil {
			p.done = true
			return nil, p.fail("project", err)
		}
	}
	out, err := batch.New(p.schema, cols)
	if err != nil {
		p.done = true
		return nil, p.fail("project", err)
	}
	p.emit(out, start)
	return out, nil
}

func (p *Project) Close() error {
	p.done = true
	return p.child.Close()
}

func (p *Project) Children() []Operator { return []Operator{p.child} }

func (p *Project) String() string {
	parts := make([]string, len(p.exprs))
	for i, e := range p.exprs {
		parts[i] = fmt.Sprintf("%s AS %s", e.Expr, e.name())
	}
	return fmt.Sprintf("Project(%s)", strings.Join(parts, ", "))
}
