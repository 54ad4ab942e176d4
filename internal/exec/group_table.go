package exec

import (
	"fmt"

	"github.com/spaolacci/murmur3"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// groupTable assigns dense group ids in first-seen order. Keys are compared
// by their exact encoded bytes; each group's key values are kept in
// column builders indexed by id.
type groupTable struct {
	index     map[uint64][]int
	keys      []string
	builders  []*batch.Builder
	maxGroups int
	buf       []byte
}

func newGroupTable(keyTypes []types.DataType, maxGroups int) *groupTable {
	builders := make([]*batch.Builder, len(keyTypes))
	for i, t := range keyTypes {
		builders[i] = batch.NewBuilder(t, 64)
	}
	return &groupTable{
		index:     make(map[uint64][]int),
		builders:  builders,
		maxGroups: maxGroups,
	}
}

func (t *groupTable) len() int { return len(t.keys) }

// intern fills ids with the group id of every row of cols, creating groups
// for unseen keys. It fails with GROUP_KEY_OVERFLOW past maxGroups.
func (t *groupTable) intern(cols []*batch.Column, rows int, ids []int) error {
	for r := 0; r < rows; r++ {
		t.buf = appendKey(t.buf[:0], cols, r)
		h := murmur3.Sum64(t.buf)
		id := -1
		for _, cand := range t.index[h] {
			if t.keys[cand] == string(t.buf) {
				id = cand
				break
			}
		}
		if id < 0 {
			if t.maxGroups > 0 && len(t.keys) >= t.maxGroups {
				return qerrors.NewExecutionError(qerrors.CodeGroupKeyOverflow,
					fmt.Sprintf("more than %d distinct groups", t.maxGroups)).
					WithDetails(map[string]interface{}{
						"max_groups": t.maxGroups,
						"key":        describeKey(cols, r),
					})
			}
			id = len(t.keys)
			t.keys = append(t.keys, string(t.buf))
			t.index[h] = append(t.index[h], id)
			for i, c := range cols {
				if err := t.builders[i].Append(c.Value(r)); err != nil {
					return err
				}
			}
		}
		ids[r] = id
	}
	return nil
}

// keyColumns returns the key values of every group in id order.
func (t *groupTable) keyColumns() []*batch.Column {
	cols := make([]*batch.Column, len(t.builders))
	for i, b := range t.builders {
		cols[i] = b.Finish()
	}
	return cols
}

func describeKey(cols []*batch.Column, row int) string {
	vals := make([]string, len(cols))
	for i, c := range cols {
		vals[i] = c.Value(row).String()
	}
	return fmt.Sprint(vals)
}
