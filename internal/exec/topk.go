package exec

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/pkg/types"
)

// TopK emits the first k rows of its input under the sort keys. It keeps at
// most k candidate rows, and its output equals a stable Sort followed by a
// Limit of k.
type TopK struct {
	base
	child  Operator
	keys   []SortKey
	cmp    rowComparator
	k      int
	kept   *batch.Batch
	seq    []int64 // arrival position of every kept row
	next   int64
	done   bool
	output chunker
}

func NewTopK(child Operator, keys []SortKey, k int) (*TopK, error) {
	indices, err := resolveKeys(child.Schema(), keys)
	if err != nil {
		return nil, err
	}
	return &TopK{
		child:  child,
		keys:   keys,
		cmp:    rowComparator{keys: keys, indices: indices},
		k:      max(k, 0),
		kept:   batch.Empty(child.Schema()),
		output: chunker{size: batch.DefaultSize},
	}, nil
}

func (t *TopK) Schema() *types.Schema { return t.child.Schema() }

func (t *TopK) Next(ctx context.Context) (*batch.Batch, error) {
	if t.done {
		return nil, io.EOF
	}
	if t.output.out == nil {
		err := drain(ctx, t.child, func(b *batch.Batch) error {
			t.consumed(b)
			return t.absorb(b)
		})
		if err != nil {
			t.done = true
			t.kept = nil
			return nil, t.fail("topk", err)
		}
		t.output.out = t.kept
	}
	start := time.Now()
	out, err := t.output.next()
	if err != nil {
		t.done = true
		return nil, err
	}
	t.emit(out, start)
	return out, nil
}

// candidates is a max-heap of row positions: the root is the worst row kept.
type candidates struct {
	rows *batch.Batch
	seq  []int64
	cmp  rowComparator
	idx  []int
}

func (c *candidates) less(a, b int) bool {
	if r := c.cmp.compare(c.rows, a, c.rows, b); r != 0 {
		return r < 0
	}
	return c.seq[a] < c.seq[b]
}

func (c *candidates) Len() int           { return len(c.idx) }
func (c *candidates) Less(i, j int) bool { return c.less(c.idx[j], c.idx[i]) }
func (c *candidates) Swap(i, j int)      { c.idx[i], c.idx[j] = c.idx[j], c.idx[i] }
func (c *candidates) Push(x any)         { c.idx = append(c.idx, x.(int)) }
func (c *candidates) Pop() any {
	last := c.idx[len(c.idx)-1]
	c.idx = c.idx[:len(c.idx)-1]
	return last
}

// absorb merges b into the kept rows and trims them back to k.
func (t *TopK) absorb(b *batch.Batch) error {
	if b.NumRows() == 0 || t.k == 0 {
		return nil
	}
	all, err := batch.Concat(t.Schema(), []*batch.Batch{t.kept, b})
	if err != nil {
		return err
	}
	seq := append(append(make([]int64, 0, all.NumRows()), t.seq...), make([]int64, b.NumRows())...)
	for i := len(t.seq); i < len(seq); i++ {
		seq[i] = t.next
		t.next++
	}

	c := &candidates{rows: all, seq: seq, cmp: t.cmp}
	for r := 0; r < all.NumRows(); r++ {
		if c.Len() < t.k {
			heap.Push(c, r)
			continue
		}
		if c.less(r, c.idx[0]) {
			c.idx[0] = r
			heap.Fix(c, 0)
		}
	}
	sort.Slice(c.idx, func(i, j int) bool { return c.less(c.idx[i], c.idx[j]) })

	t.kept = all.Take(c.idx)
	t.seq = make([]int64, len(c.idx))
	for i, r := range c.idx {
		t.seq[i] = seq[r]
	}
	return nil
}

func (t *TopK) Close() error {
	t.done = true
	t.kept, t.output.out = nil, nil
	return t.child.Close()
}

func (t *TopK) Children() []Operator { return []Operator{t.child} }

func (t *TopK) String() string { return fmt.Sprintf("TopK(k=%d, %s)", t.k, joinKeys(t.keys)) }
