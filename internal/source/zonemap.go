package source

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// ZoneMap holds the min/max of one int-backed column of a segment.
// Min and Max are unset when every value is NULL.
type ZoneMap struct {
	Column string `json:"column"`
	Min    *int64 `json:"min,omitempty"`
	Max    *int64 `json:"max,omitempty"`
	Nulls  int    `json:"nulls"`
}

// Range restricts Column to [Min, Max] in the column's physical
// representation (days for dates, unscaled units for decimals).
type Range struct {
	Column string
	Min    int64
	Max    int64
}

// AtLeast is Column >= v.
func AtLeast(column string, v int64) Range {
	return Range{Column: column, Min: v, Max: maxInt64}
}

// AtMost is Column <= v.
func AtMost(column string, v int64) Range {
	return Range{Column: column, Min: minInt64, Max: v}
}

// Between is lo <= Column <= hi.
func Between(column string, lo, hi int64) Range {
	return Range{Column: column, Min: lo, Max: hi}
}

const (
	maxInt64 = int64(^uint64(0) >> 1)
	minInt64 = -maxInt64 - 1
)

// Prunable is implemented by sources that can skip whole chunks of input
// using the ranges a plan is about to filter on. Pruning never replaces the
// filter: rows outside the ranges may still be returned.
type Prunable interface {
	Prune(ranges ...Range)
}

// buildZoneMaps computes zone maps for the int-backed columns of b.
func buildZoneMaps(b *batch.Batch) []ZoneMap {
	var zones []ZoneMap
	for i, f := range b.Schema().Fields() {
		switch f.Type.ID {
		case types.TypeUtf8, types.TypeBoolean:
			continue
		}
		col := b.Column(i)
		zone := ZoneMap{Column: f.Name}
		for r := 0; r < col.Len(); r++ {
			if col.IsNull(r) {
				zone.Nulls++
				continue
			}
			v := col.Int(r)
			if zone.Min == nil || v < *zone.Min {
				zone.Min = &v
			}
			if zone.Max == nil || v > *zone.Max {
				zone.Max = &v
			}
		}
		zones = append(zones, zone)
	}
	return zones
}

// overlaps reports whether the segment described by zones may hold a row
// inside every range. Columns without a zone map never exclude a segment.
func overlaps(zones []ZoneMap, ranges []Range) bool {
	for _, r := range ranges {
		for _, z := range zones {
			if z.Column != r.Column {
				continue
			}
			if z.Min == nil || z.Max == nil {
				// only NULLs: no comparison can match
				return false
			}
			if *z.Min > r.Max || *z.Max < r.Min {
				return false
			}
		}
	}
	return true
}

// ReadSegmentZoneMaps reads only the header of the segment at path.
func ReadSegmentZoneMaps(path string) ([]ZoneMap, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound, "segment: file not found", err).
				WithDetails(map[string]interface{}{"path": path})
		}
		return nil, fmt.Errorf("segment: failed to open file: %w", err)
	}
	defer f.Close()

	header, err := readSegmentHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", path, err)
	}
	return header.Zones, nil
}

func readSegmentHeader(r *bufio.Reader) (*segmentHeader, error) {
	var prefix [len(segmentMagic) + 2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil || string(prefix[:len(segmentMagic)]) != segmentMagic {
		return nil, corrupt("bad magic")
	}
	if v := prefix[len(segmentMagic)]; v != segmentVersion {
		return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat,
			fmt.Sprintf("segment: unsupported version %d", v), nil)
	}
	n, err := binary.ReadUvarint(r)
	if err != nil || n > 1<<24 {
		return nil, corrupt("bad length")
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, corrupt("truncated header")
	}
	var header segmentHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeCorruptSegment, "segment: invalid header", err)
	}
	return &header, nil
}
