package exec

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/pkg/types"
)

// SortKey orders by one column. NULLs sort first ascending and last
// descending.
type SortKey struct {
	Column string
	Desc   bool
}

func Asc(column string) SortKey  { return SortKey{Column: column} }
func Desc(column string) SortKey { return SortKey{Column: column, Desc: true} }

func (k SortKey) String() string {
	if k.Desc {
		return k.Column + " DESC"
	}
	return k.Column + " ASC"
}

// resolveKeys maps sort keys to column positions.
func resolveKeys(schema *types.Schema, keys []SortKey) ([]int, error) {
	indices := make([]int, len(keys))
	for i, k := range keys {
		idx, err := schema.IndexOf(k.Column)
		if err != nil {
			return nil, err
		}
		indices[i] = idx
	}
	return indices, nil
}

// rowComparator compares rows of two batches under the sort keys.
type rowComparator struct {
	keys    []SortKey
	indices []int
}

func (c rowComparator) compare(a *batch.Batch, i int, b *batch.Batch, j int) int {
	for k, idx := range c.indices {
		cmp := compareSlots(a.Column(idx), i, b.Column(idx), j)
		if cmp == 0 {
			continue
		}
		if c.keys[k].Desc {
			return -cmp
		}
		return cmp
	}
	return 0
}

// Sort materializes its input and emits it ordered by the keys. Ties keep
// input arrival order.
type Sort struct {
	base
	child  Operator
	keys   []SortKey
	cmp    rowComparator
	sorted bool
	output chunker
	done   bool
}

// NewSort resolves keys against child's schema; batchSize <= 0 uses the default.
func NewSort(child Operator, keys []SortKey, batchSize int) (*Sort, error) {
	indices, err := resolveKeys(child.Schema(), keys)
	if err != nil {
		return nil, err
	}
	return &Sort{
		child:  child,
		keys:   keys,
		cmp:    rowComparator{keys: keys, indices: indices},
		output: chunker{size: batchSizeOr(batchSize)},
	}, nil
}

func (s *Sort) Schema() *types.Schema { return s.child.Schema() }

func (s *Sort) Next(ctx context.Context) (*batch.Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	if !s.sorted {
		if err := s.sortInput(ctx); err != nil {
			s.done = true
			s.output.out = nil
			return nil, s.fail("sort", err)
		}
		s.sorted = true
	}
	start := time.Now()
	out, err := s.output.next()
	if err != nil {
		s.done = true
		return nil, err
	}
	s.emit(out, start)
	return out, nil
}

func (s *Sort) sortInput(ctx context.Context) error {
	var batches []*batch.Batch
	err := drain(ctx, s.child, func(b *batch.Batch) error {
		s.consumed(b)
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return err
	}
	all, err := batch.Concat(s.Schema(), batches)
	if err != nil {
		return err
	}
	perm := make([]int, all.NumRows())
	for i := range perm {
		perm[i] = i
	}
	// Stable sort preserves arrival order for equal keys
	sort.SliceStable(perm, func(i, j int) bool {
		return s.cmp.compare(all, perm[i], all, perm[j]) < 0
	})
	s.output.out = all.Take(perm)
	return nil
}

func (s *Sort) Close() error {
	s.done = true
	s.output.out = nil
	return s.child.Close()
}

func (s *Sort) Children() []Operator { return []Operator{s.child} }

func (s *Sort) String() string { return fmt.Sprintf("Sort(%s)", joinKeys(s.keys)) }

func joinKeys(keys []SortKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}

// Limit skips offset rows and then passes at most fetch rows. A negative
// fetch passes everything after the offset.
type Limit struct {
	base
	child   Operator
	offset  int
	fetch   int
	skipped int
	emitted int
	done    bool
}

func NewLimit(child Operator, offset, fetch int) *Limit {
	return &Limit{child: child, offset: max(offset, 0), fetch: fetch}
}

func (l *Limit) Schema() *types.Schema { return l.child.Schema() }

func (l *Limit) Next(ctx context.Context) (*batch.Batch, error) {
	for !l.done {
		if l.fetch >= 0 && l.emitted >= l.fetch {
			l.done = true
			break
		}
		in, err := l.child.Next(ctx)
		if err != nil {
			l.done = true
			return nil, l.fail("limit", err)
		}
		start := time.Now()
		l.consumed(in)

		lo := min(l.offset-l.skipped, in.NumRows())
		l.skipped += lo
		n := in.NumRows() - lo
		if l.fetch >= 0 {
			n = min(n, l.fetch-l.emitted)
		}
		if n == 0 && in.NumRows() > 0 {
			continue
		}
		out, err := in.Slice(lo, n)
		if err != nil {
			l.done = true
			return nil, l.fail("limit", err)
		}
		l.emitted += n
		l.emit(out, start)
		return out, nil
	}
	return nil, io.EOF
}

func (l *Limit) Close() error {
	l.done = true
	return l.child.Close()
}

func (l *Limit) Children() []Operator { return []Operator{l.child} }

func (l *Limit) String() string {
	return fmt.Sprintf("Limit(offset=%d, fetch=%d)", l.offset, l.fetch)
}
