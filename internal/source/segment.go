package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/spaolacci/murmur3"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// Segment file layout:
//   - 4 bytes: magic "QSEG"
//   - 1 byte: format version
//   - 1 byte: codec
//   - uvarint: header length, then the JSON header (fields, row count and
//     zone maps of the int-backed columns)
//   - per column: uvarint block length, 4 bytes murmur3 checksum of the
//     stored block (little-endian), then the block
//
// A decompressed block holds one null-flag byte, one validity byte per row
// when the flag is set, then the values: 8 bytes little-endian for
// int-backed types, uvarint length plus bytes for Utf8.
const (
	segmentMagic   = "QSEG"
	segmentVersion = 1

	// SegmentExt is the file extension of segment files.
	SegmentExt = ".qseg"
)

// Codec selects the block compression of a segment.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
)

// ParseCodec converts a codec name. The empty string selects snappy.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "none":
		return CodecNone, nil
	case "", "snappy":
		return CodecSnappy, nil
	case "lz4":
		return CodecLZ4, nil
	}
	return 0, qerrors.NewConfigError(fmt.Sprintf("unknown codec %q", name))
}

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecSnappy:
		return "snappy"
	case CodecLZ4:
		return "lz4"
	}
	return fmt.Sprintf("codec(%d)", uint8(c))
}

type segmentHeader struct {
	Fields []types.Field `json:"fields"`
	Rows   int           `json:"rows"`
	Zones  []ZoneMap     `json:"zones,omitempty"`
}

// WriteSegment encodes b to w.
func WriteSegment(w io.Writer, b *batch.Batch, codec Codec) error {
	header, err := json.Marshal(segmentHeader{
		Fields: b.Schema().Fields(),
		Rows:   b.NumRows(),
		Zones:  buildZoneMaps(b),
	})
	if err != nil {
		return fmt.Errorf("segment: failed to marshal header: %w", err)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(segmentMagic)
	bw.WriteByte(segmentVersion)
	bw.WriteByte(byte(codec))
	writeUvarint(bw, uint64(len(header)))
	bw.Write(header)

	var raw []byte
	for _, col := range b.Columns() {
		raw = encodeColumn(raw[:0], col)
		block, err := compressBlock(codec, raw)
		if err != nil {
			return err
		}
		writeUvarint(bw, uint64(len(block)))
		var sum [4]byte
		binary.LittleEndian.PutUint32(sum[:], murmur3.Sum32(block))
		bw.Write(sum[:])
		bw.Write(block)
	}
	return bw.Flush()
}

// ReadSegment decodes one segment from r.
func ReadSegment(r io.Reader) (*batch.Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("segment: failed to read: %w", err)
	}
	if len(data) < len(segmentMagic)+2 || string(data[:len(segmentMagic)]) != segmentMagic {
		return nil, corrupt("bad magic")
	}
	pos := len(segmentMagic)
	if data[pos] != segmentVersion {
		return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat,
			fmt.Sprintf("segment: unsupported version %d", data[pos]), nil)
	}
	codec := Codec(data[pos+1])
	pos += 2

	n, err := readLength(data, &pos)
	if err != nil {
		return nil, err
	}
	var header segmentHeader
	if err := json.Unmarshal(data[pos:pos+n], &header); err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeCorruptSegment, "segment: invalid header", err)
	}
	pos += n
	if header.Rows < 0 {
		return nil, corrupt("negative row count")
	}

	schema, err := types.NewSchema(header.Fields...)
	if err != nil {
		return nil, err
	}
	cols := make([]*batch.Column, schema.Len())
	for i, f := range schema.Fields() {
		n, err := readLength(data, &pos)
		if err != nil {
			return nil, err
		}
		if pos+4+n > len(data) {
			return nil, corrupt("truncated block")
		}
		want := binary.LittleEndian.Uint32(data[pos : pos+4])
		block := data[pos+4 : pos+4+n]
		pos += 4 + n
		if murmur3.Sum32(block) != want {
			return nil, corrupt(fmt.Sprintf("checksum mismatch in column %q", f.Name))
		}
		raw, err := decompressBlock(codec, block)
		if err != nil {
			return nil, err
		}
		cols[i], err = decodeColumn(raw, f.Type, header.Rows)
		if err != nil {
			return nil, err
		}
	}
	if pos != len(data) {
		return nil, corrupt("trailing bytes")
	}
	return batch.New(schema, cols)
}

// WriteSegmentFile writes b to path, replacing any existing file.
func WriteSegmentFile(path string, b *batch.Batch, codec Codec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("segment: failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("segment: failed to create file: %w", err)
	}
	if err := WriteSegment(f, b, codec); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("segment: failed to close file: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadSegmentFile reads the segment at path.
func ReadSegmentFile(path string) (*batch.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound, "segment: file not found", err).
				WithDetails(map[string]interface{}{"path": path})
		}
		return nil, fmt.Errorf("segment: failed to open file: %w", err)
	}
	defer f.Close()
	b, err := ReadSegment(f)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	return b, nil
}

// ListSegments returns the segment files of table under dir in name order.
func ListSegments(dir, table string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, table, "*"+SegmentExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// SegmentSource streams segment files in order, one batch per segment.
// The declared schema may name a subset of the stored columns; only those
// are read back, in declared order. Segments whose zone maps fall outside
// the ranges given to Prune are skipped.
type SegmentSource struct {
	schema *types.Schema
	paths  []string
	ranges []Range
	pruned int
}

// NewSegmentSource reads paths lazily. Every segment must carry each
// declared column with its declared type.
func NewSegmentSource(schema *types.Schema, paths []string) *SegmentSource {
	return &SegmentSource{schema: schema, paths: append([]string(nil), paths...)}
}

func (s *SegmentSource) Schema() *types.Schema { return s.schema }

func (s *SegmentSource) Next(ctx context.Context) (*batch.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var path string
	for {
		if len(s.paths) == 0 {
			return nil, io.EOF
		}
		path = s.paths[0]
		s.paths = s.paths[1:]
		if len(s.ranges) == 0 {
			break
		}
		zones, err := ReadSegmentZoneMaps(path)
		if err != nil {
			s.paths = nil
			return nil, err
		}
		if overlaps(zones, s.ranges) {
			break
		}
		s.pruned++
	}

	b, err := ReadSegmentFile(path)
	if err != nil {
		s.paths = nil
		return nil, err
	}
	out, err := s.project(b)
	if err != nil {
		s.paths = nil
		return nil, qerrors.NewSchemaError(qerrors.CodeSchemaMismatch, "segment does not match declared schema").
			WithDetails(map[string]interface{}{
				"path":     path,
				"expected": s.schema.String(),
				"actual":   b.Schema().String(),
			})
	}
	return out, nil
}

// Prune adds ranges every returned segment must overlap.
func (s *SegmentSource) Prune(ranges ...Range) {
	s.ranges = append(s.ranges, ranges...)
}

// Pruned is the number of segments skipped so far.
func (s *SegmentSource) Pruned() int { return s.pruned }

func (s *SegmentSource) project(b *batch.Batch) (*batch.Batch, error) {
	if b.Schema().Equal(s.schema) {
		return b, nil
	}
	cols := make([]*batch.Column, s.schema.Len())
	for i, f := range s.schema.Fields() {
		stored, err := b.Schema().FieldByName(f.Name)
		if err != nil {
			return nil, err
		}
		if stored.Type != f.Type {
			return nil, qerrors.TypeMismatch("column %s is %s, declared %s", f.Name, stored.Type, f.Type)
		}
		col, err := b.ColumnByName(f.Name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return batch.New(s.schema, cols)
}

func (s *SegmentSource) Close() error {
	s.paths = nil
	return nil
}

func encodeColumn(dst []byte, col *batch.Column) []byte {
	n := col.Len()
	if col.NullCount() > 0 {
		dst = append(dst, 1)
		for i := 0; i < n; i++ {
			if col.IsNull(i) {
				dst = append(dst, 0)
			} else {
				dst = append(dst, 1)
			}
		}
	} else {
		dst = append(dst, 0)
	}
	if col.Type().ID == types.TypeUtf8 {
		for i := 0; i < n; i++ {
			s := col.Str(i)
			dst = binary.AppendUvarint(dst, uint64(len(s)))
			dst = append(dst, s...)
		}
		return dst
	}
	for i := 0; i < n; i++ {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(col.Int(i)))
	}
	return dst
}

func decodeColumn(raw []byte, typ types.DataType, n int) (*batch.Column, error) {
	if len(raw) < 1 {
		return nil, corrupt("empty block")
	}
	// every row takes at least one byte after the validity flag
	if n < 0 || n > len(raw)-1 {
		return nil, corrupt("row count exceeds block")
	}
	pos := 1
	var valid []bool
	if raw[0] == 1 {
		if len(raw) < pos+n {
			return nil, corrupt("truncated validity")
		}
		valid = make([]bool, n)
		for i := range valid {
			valid[i] = raw[pos+i] == 1
		}
		pos += n
	}

	if typ.ID == types.TypeUtf8 {
		vals := make([]string, n)
		for i := range vals {
			l, k := binary.Uvarint(raw[pos:])
			if k <= 0 || l > uint64(len(raw)-pos-k) {
				return nil, corrupt("truncated string")
			}
			pos += k
			vals[i] = string(raw[pos : pos+int(l)])
			pos += int(l)
		}
		if pos != len(raw) {
			return nil, corrupt("column length mismatch")
		}
		return batch.NewStringColumn(vals, valid), nil
	}

	if len(raw)-pos != n*8 {
		return nil, corrupt("column length mismatch")
	}
	vals := make([]int64, n)
	for i := range vals {
		vals[i] = int64(binary.LittleEndian.Uint64(raw[pos+i*8:]))
	}
	if typ.ID == types.TypeBoolean {
		bools := make([]bool, n)
		for i, v := range vals {
			bools[i] = v != 0
		}
		return batch.NewBoolColumn(bools, valid), nil
	}
	return batch.NewIntColumn(typ, vals, valid), nil
}

func compressBlock(codec Codec, raw []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return append([]byte(nil), raw...), nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	case CodecLZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("segment: lz4 compress failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("segment: lz4 compress failed: %w", err)
		}
		return buf.Bytes(), nil
	}
	return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat, fmt.Sprintf("segment: unknown codec %d", codec), nil)
}

func decompressBlock(codec Codec, block []byte) ([]byte, error) {
	switch codec {
	case CodecNone:
		return block, nil
	case CodecSnappy:
		raw, err := snappy.Decode(nil, block)
		if err != nil {
			return nil, qerrors.NewStorageError(qerrors.CodeCorruptSegment, "segment: snappy decompress failed", err)
		}
		return raw, nil
	case CodecLZ4:
		raw, err := io.ReadAll(lz4.NewReader(bytes.NewReader(block)))
		if err != nil {
			return nil, qerrors.NewStorageError(qerrors.CodeCorruptSegment, "segment: lz4 decompress failed", err)
		}
		return raw, nil
	}
	return nil, qerrors.NewStorageError(qerrors.CodeUnsupportedFormat, fmt.Sprintf("segment: unknown codec %d", codec), nil)
}

func writeUvarint(w *bufio.Writer, v uint64) {
	var buf [binary.MaxVarintLen64]byte
	w.Write(buf[:binary.PutUvarint(buf[:], v)])
}

func readLength(data []byte, pos *int) (int, error) {
	v, k := binary.Uvarint(data[*pos:])
	if k <= 0 || v > uint64(len(data)-*pos-k) {
		return 0, corrupt("bad length")
	}
	*pos += k
	return int(v), nil
}

func corrupt(msg string) error {
	return qerrors.NewStorageError(qerrors.CodeCorruptSegment, "segment: "+msg, nil)
}
