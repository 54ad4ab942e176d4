package source

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/pkg/types"
)

func TestBuildZoneMaps(t *testing.T) {
	zones := buildZoneMaps(lineBatch(t))
	require.Len(t, zones, 3, "flag and open carry no zone map")

	byName := map[string]ZoneMap{}
	for _, z := range zones {
		byName[z.Column] = z
	}
	key := byName["key"]
	require.NotNil(t, key.Min)
	assert.Equal(t, int64(1), *key.Min)
	assert.Equal(t, int64(3), *key.Max)
	assert.Zero(t, key.Nulls)

	qty := byName["qty"]
	assert.Equal(t, int64(-325), *qty.Min)
	assert.Equal(t, int64(1700), *qty.Max)
	assert.Equal(t, 1, qty.Nulls)
}

func TestOverlaps(t *testing.T) {
	lo, hi := int64(10), int64(20)
	zones := []ZoneMap{{Column: "ship", Min: &lo, Max: &hi}, {Column: "empty", Nulls: 4}}

	cases := []struct {
		name   string
		ranges []Range
		want   bool
	}{
		{"no ranges", nil, true},
		{"inside", []Range{Between("ship", 12, 14)}, true},
		{"touches min", []Range{AtMost("ship", 10)}, true},
		{"touches max", []Range{AtLeast("ship", 20)}, true},
		{"below", []Range{AtMost("ship", 9)}, false},
		{"above", []Range{AtLeast("ship", 21)}, false},
		{"unknown column", []Range{Between("other", 0, 0)}, true},
		{"all nulls", []Range{AtLeast("empty", 0)}, false},
		{"one range excludes", []Range{AtLeast("ship", 0), AtMost("ship", 5)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, overlaps(zones, tc.ranges))
		})
	}
}

func TestSegmentSource_Prune(t *testing.T) {
	dir := t.TempDir()
	b := lineBatch(t)
	var paths []string
	for i := 0; i < b.NumRows(); i++ {
		path := filepath.Join(dir, "line", string(rune('a'+i))+SegmentExt)
		part, err := b.Slice(i, 1)
		require.NoError(t, err)
		require.NoError(t, WriteSegmentFile(path, part, CodecSnappy))
		paths = append(paths, path)
	}

	zones, err := ReadSegmentZoneMaps(paths[0])
	require.NoError(t, err)
	assert.NotEmpty(t, zones)

	src := NewSegmentSource(lineSchema, paths)
	var _ Prunable = src
	src.Prune(AtLeast("ship", int64(types.MustParseDate("1990-01-01"))))
	_, rows := drain(t, src)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0].Int())
	assert.Equal(t, 2, src.Pruned(), "the 1970 segment and the NULL segment are skipped")

	_, err = ReadSegmentZoneMaps(filepath.Join(dir, "missing"+SegmentExt))
	assert.Error(t, err)
}
