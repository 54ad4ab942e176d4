package exec

import (
	"encoding/binary"
	"strings"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/pkg/types"
)

// appendKey appends the exact byte encoding of row's values in cols to buf.
// Equal tuples encode to equal bytes: a NULL is a single 0 byte, other
// values are a 1 byte followed by 8 little-endian bytes or a length-prefixed
// string.
func appendKey(buf []byte, cols []*batch.Column, row int) []byte {
	for _, c := range cols {
		if c.IsNull(row) {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		if c.Type().ID == types.TypeUtf8 {
			s := c.Str(row)
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
			continue
		}
		buf = binary.LittleEndian.AppendUint64(buf, uint64(c.Int(row)))
	}
	return buf
}

// anyNull reports whether any key column is NULL at row.
func anyNull(cols []*batch.Column, row int) bool {
	for _, c := range cols {
		if c.IsNull(row) {
			return true
		}
	}
	return false
}

// compareSlots orders two slots of one column; NULL sorts first.
func compareSlots(a *batch.Column, i int, b *batch.Column, j int) int {
	ni, nj := a.IsNull(i), b.IsNull(j)
	switch {
	case ni && nj:
		return 0
	case ni:
		return -1
	case nj:
		return 1
	}
	if a.Type().ID == types.TypeUtf8 {
		return strings.Compare(a.Str(i), b.Str(j))
	}
	x, y := a.Int(i), b.Int(j)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
