package exec

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// SortPreservingMerge interleaves children that are each already ordered by
// the sort keys into one ordered stream. Equal keys are emitted in child
// order, so merging the runs of a stable sort is itself stable. NULLs order
// as in Sort.
type SortPreservingMerge struct {
	base
	children  []Operator
	keys      []SortKey
	cmp       rowComparator
	batchSize int
	heap      *mergeHeap
	started   bool
	done      bool
}

// mergeCursor is the current row of one child.
type mergeCursor struct {
	child int
	b     *batch.Batch
	row   int
}

// NewSortPreservingMerge checks that every child has the same schema and
// resolves keys against it; batchSize <= 0 uses the default.
func NewSortPreservingMerge(children []Operator, keys []SortKey, batchSize int) (*SortPreservingMerge, error) {
	if len(children) == 0 {
		return nil, qerrors.NewExecutionError(qerrors.CodeInvalidPlan, "merge needs at least one input")
	}
	schema := children[0].Schema()
	for i, c := range children[1:] {
		if !c.Schema().Equal(schema) {
			return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch, "merge inputs have different schemas").
				WithDetails(map[string]interface{}{
					"input":    i + 1,
					"expected": schema.String(),
					"actual":   c.Schema().String(),
				})
		}
	}
	indices, err := resolveKeys(schema, keys)
	if err != nil {
		return nil, err
	}
	cmp := rowComparator{keys: keys, indices: indices}
	return &SortPreservingMerge{
		children:  children,
		keys:      keys,
		cmp:       cmp,
		batchSize: batchSizeOr(batchSize),
		heap:      &mergeHeap{cmp: cmp},
	}, nil
}

func (m *SortPreservingMerge) Schema() *types.Schema { return m.children[0].Schema() }

func (m *SortPreservingMerge) Next(ctx context.Context) (*batch.Batch, error) {
	if m.done {
		return nil, io.EOF
	}
	if !m.started {
		m.started = true
		for i := range m.children {
			c := &mergeCursor{child: i}
			ok, err := m.advance(ctx, c)
			if err != nil {
				return nil, m.abort(err)
			}
			if ok {
				heap.Push(m.heap, c)
			}
		}
	}

	start := time.Now()
	schema := m.Schema()
	builders := make([]*batch.Builder, schema.Len())
	for i, f := range schema.Fields() {
		builders[i] = batch.NewBuilder(f.Type, m.batchSize)
	}
	n := 0
	for n < m.batchSize && m.heap.Len() > 0 {
		c := m.heap.cursors[0]
		for i, bldr := range builders {
			if err := bldr.Append(c.b.Column(i).Value(c.row)); err != nil {
				return nil, m.abort(err)
			}
		}
		n++
		c.row++
		if c.row < c.b.NumRows() {
			heap.Fix(m.heap, 0)
			continue
		}
		ok, err := m.advance(ctx, c)
		if err != nil {
			return nil, m.abort(err)
		}
		if ok {
			heap.Fix(m.heap, 0)
		} else {
			heap.Pop(m.heap)
		}
	}
	if n == 0 {
		m.done = true
		return nil, io.EOF
	}

	cols := make([]*batch.Column, len(builders))
	for i, bldr := range builders {
		cols[i] = bldr.Finish()
	}
	out, err := batch.New(schema, cols)
	if err != nil {
		return nil, m.abort(err)
	}
	m.emit(out, start)
	return out, nil
}

// advance moves c to the first row of the next non-empty batch of its
// child. It reports false once the child is exhausted.
func (m *SortPreservingMerge) advance(ctx context.Context, c *mergeCursor) (bool, error) {
	for {
		b, err := m.children[c.child].Next(ctx)
		if errors.Is(err, io.EOF) {
			c.b = nil
			return false, nil
		}
		if err != nil {
			return false, err
		}
		m.consumed(b)
		if b.NumRows() > 0 {
			c.b, c.row = b, 0
			return true, nil
		}
	}
}

func (m *SortPreservingMerge) abort(err error) error {
	m.done = true
	m.heap.cursors = nil
	return m.fail("sortpreservingmerge", err)
}

func (m *SortPreservingMerge) Close() error {
	m.done = true
	m.heap.cursors = nil
	return closeAll(m.children...)
}

func (m *SortPreservingMerge) Children() []Operator { return m.children }

func (m *SortPreservingMerge) String() string {
	return fmt.Sprintf("SortPreservingMerge(%s, inputs=%d)", joinKeys(m.keys), len(m.children))
}

// mergeHeap is a min-heap of cursors by their current row.
type mergeHeap struct {
	cursors []*mergeCursor
	cmp     rowComparator
}

func (h *mergeHeap) Len() int { return len(h.cursors) }

func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.cursors[i], h.cursors[j]
	if r := h.cmp.compare(a.b, a.row, b.b, b.row); r != 0 {
		return r < 0
	}
	return a.child < b.child
}

func (h *mergeHeap) Swap(i, j int) { h.cursors[i], h.cursors[j] = h.cursors[j], h.cursors[i] }
func (h *mergeHeap) Push(x any)    { h.cursors = append(h.cursors, x.(*mergeCursor)) }
func (h *mergeHeap) Pop() any {
	last := h.cursors[len(h.cursors)-1]
	h.cursors = h.cursors[:len(h.cursors)-1]
	return last
}
