package exec

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/bloom"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// bloomFPR is the target false positive rate of the runtime join filter.
const bloomFPR = 0.01

// HashJoin is an inner equi-join. The build side is materialized into a
// hash table and a bloom filter; probe rows whose key is rejected by the
// filter skip the hash lookup. Output columns are the probe columns followed
// by the build columns, in probe order. NULL keys never match.
type HashJoin struct {
	base
	build, probe Operator
	buildKeys    []int
	probeKeys    []int
	schema       *types.Schema

	built  bool
	rows   *batch.Batch
	table  map[uint64][]int
	keys   []string // encoded key of every build row
	filter *bloom.Filter
	pruned int64
	buf    []byte
	done   bool
}

// NewHashJoin pairs buildKeys[i] with probeKeys[i]; paired columns must have
// identical types.
func NewHashJoin(build, probe Operator, buildKeys, probeKeys []string) (*HashJoin, error) {
	if len(buildKeys) == 0 || len(buildKeys) != len(probeKeys) {
		return nil, qerrors.NewExecutionError(qerrors.CodeInvalidPlan,
			fmt.Sprintf("join needs matching key lists, got %d build and %d probe keys", len(buildKeys), len(probeKeys)))
	}
	bIdx, err := columnIndices(build.Schema(), buildKeys)
	if err != nil {
		return nil, err
	}
	pIdx, err := columnIndices(probe.Schema(), probeKeys)
	if err != nil {
		return nil, err
	}
	for i := range bIdx {
		bt, pt := build.Schema().Field(bIdx[i]).Type, probe.Schema().Field(pIdx[i]).Type
		if bt != pt {
			return nil, qerrors.TypeMismatch("join key %s (%s) does not match %s (%s)",
				probeKeys[i], pt, buildKeys[i], bt)
		}
	}
	schema, err := probe.Schema().Join(build.Schema())
	if err != nil {
		return nil, err
	}
	return &HashJoin{
		build:     build,
		probe:     probe,
		buildKeys: bIdx,
		probeKeys: pIdx,
		schema:    schema,
	}, nil
}

func columnIndices(schema *types.Schema, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		idx, err := schema.IndexOf(n)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

func pick(b *batch.Batch, indices []int) []*batch.Column {
	cols := make([]*batch.Column, len(indices))
	for i, idx := range indices {
		cols[i] = b.Column(idx)
	}
	return cols
}

func (j *HashJoin) Schema() *types.Schema { return j.schema }

// BloomPruned is the number of probe rows rejected by the runtime filter.
func (j *HashJoin) BloomPruned() int64 { return j.pruned }

func (j *HashJoin) Next(ctx context.Context) (*batch.Batch, error) {
	if j.done {
		return nil, io.EOF
	}
	if !j.built {
		if err := j.buildTable(ctx); err != nil {
			j.release()
			return nil, j.fail("hashjoin", err)
		}
		j.built = true
	}
	in, err := j.probe.Next(ctx)
	if err != nil {
		j.release()
		return nil, j.fail("hashjoin", err)
	}
	start := time.Now()
	j.consumed(in)

	out, err := j.probeBatch(in)
	if err != nil {
		j.release()
		return nil, j.fail("hashjoin", err)
	}
	j.emit(out, start)
	return out, nil
}

func (j *HashJoin) buildTable(ctx context.Context) error {
	var batches []*batch.Batch
	err := drain(ctx, j.build, func(b *batch.Batch) error {
		j.consumed(b)
		batches = append(batches, b)
		return nil
	})
	if err != nil {
		return err
	}
	rows, err := batch.Concat(j.build.Schema(), batches)
	if err != nil {
		return err
	}
	j.rows = rows
	j.table = make(map[uint64][]int, rows.NumRows())
	j.keys = make([]string, rows.NumRows())
	j.filter = bloom.NewWithEstimates(rows.NumRows(), bloomFPR)

	keyCols := pick(rows, j.buildKeys)
	for r := 0; r < rows.NumRows(); r++ {
		if anyNull(keyCols, r) {
			continue
		}
		j.buf = appendKey(j.buf[:0], keyCols, r)
		j.keys[r] = string(j.buf)
		j.filter.Add(j.buf)
		h := murmur3.Sum64(j.buf)
		j.table[h] = append(j.table[h], r)
	}
	return nil
}

func (j *HashJoin) probeBatch(in *batch.Batch) (*batch.Batch, error) {
	keyCols := pick(in, j.probeKeys)
	var probeIdx, buildIdx []int
	for r := 0; r < in.NumRows(); r++ {
		if anyNull(keyCols, r) {
			continue
		}
		j.buf = appendKey(j.buf[:0], keyCols, r)
		if !j.filter.MayContain(j.buf) {
			j.pruned++
			continue
		}
		for _, br := range j.table[murmur3.Sum64(j.buf)] {
			if j.keys[br] == string(j.buf) {
				probeIdx = append(probeIdx, r)
				buildIdx = append(buildIdx, br)
			}
		}
	}
	cols := append(in.Take(probeIdx).Columns(), j.rows.Take(buildIdx).Columns()...)
	return batch.New(j.schema, cols)
}

func (j *HashJoin) release() {
	j.done = true
	j.rows, j.table, j.keys, j.filter = nil, nil, nil, nil
}

func (j *HashJoin) Close() error {
	j.release()
	return closeAll(j.probe, j.build)
}

func (j *HashJoin) Children() []Operator { return []Operator{j.probe, j.build} }

func (j *HashJoin) String() string {
	pairs := make([]string, len(j.buildKeys))
	for i := range j.buildKeys {
		pairs[i] = fmt.Sprintf("%s = %s",
			j.probe.Schema().Field(j.probeKeys[i]).Name,
			j.build.Schema().Field(j.buildKeys[i]).Name)
	}
	return fmt.Sprintf("HashJoin(%s)", strings.Join(pairs, ", "))
}
