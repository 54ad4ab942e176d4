package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// ArrowExt is the file extension of Arrow IPC files.
const ArrowExt = ".arrow"

// WriteArrowFile writes batches of schema to path as one Arrow IPC file,
// one record per batch, replacing any existing file.
func WriteArrowFile(path string, schema *types.Schema, batches ...*batch.Batch) error {
	as, err := ArrowSchema(schema)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("arrow: failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("arrow: failed to create file: %w", err)
	}
	if err := writeArrow(f, as, batches); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("arrow: failed to close file: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeArrow(w io.Writer, schema *arrow.Schema, batches []*batch.Batch) error {
	mem := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return fmt.Errorf("arrow: failed to create writer: %w", err)
	}
	for _, b := range batches {
		rec, err := ToArrow(b, mem)
		if err != nil {
			fw.Close()
			return err
		}
		err = fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return fmt.Errorf("arrow: failed to write record: %w", err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("arrow: failed to finish file: %w", err)
	}
	return nil
}

// ArrowFileSource streams the records of Arrow IPC files in path order,
// cutting records longer than the batch size. Columns are picked by name.
type ArrowFileSource struct {
	schema    *types.Schema
	batchSize int
	paths     []string

	file   *os.File
	reader *ipc.FileReader
	next   int
	rec    arrow.Record
	offset int64
}

// OpenArrowFiles expands pattern (a path or a glob) and returns a source
// over every matching file. Files are opened lazily.
func OpenArrowFiles(pattern string, schema *types.Schema, batchSize int) (*ArrowFileSource, error) {
	paths := []string{pattern}
	if strings.ContainsAny(pattern, "*?[]") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, qerrors.NewConfigError(fmt.Sprintf("invalid glob pattern %q: %v", pattern, err))
		}
		sort.Strings(matches)
		paths = matches
	}
	if len(paths) == 0 {
		return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound,
			fmt.Sprintf("no files match pattern: %s", pattern), nil)
	}
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &ArrowFileSource{schema: schema, batchSize: batchSize, paths: paths}, nil
}

func (a *ArrowFileSource) Schema() *types.Schema { return a.schema }

func (a *ArrowFileSource) Next(ctx context.Context) (*batch.Batch, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.rec != nil && a.offset < a.rec.NumRows() {
			end := a.offset + int64(a.batchSize)
			if end > a.rec.NumRows() {
				end = a.rec.NumRows()
			}
			part := a.rec.NewSlice(a.offset, end)
			a.offset = end
			b, err := FromArrow(part, a.schema)
			part.Release()
			if err != nil {
				a.Close()
				return nil, err
			}
			return b, nil
		}
		if err := a.advance(); err != nil {
			if err != io.EOF {
				a.Close()
			}
			return nil, err
		}
	}
}

// advance loads the next record, opening the next file when the current
// one is exhausted.
func (a *ArrowFileSource) advance() error {
	if a.rec != nil {
		a.rec.Release()
		a.rec = nil
	}
	for a.reader == nil || a.next >= a.reader.NumRecords() {
		a.closeFile()
		if len(a.paths) == 0 {
			return io.EOF
		}
		path := a.paths[0]
		a.paths = a.paths[1:]
		if err := a.open(path); err != nil {
			return err
		}
	}
	rec, err := a.reader.RecordAt(a.next)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeCorruptSegment, "arrow: failed to read record", err).
			WithDetails(map[string]interface{}{"record": a.next})
	}
	a.next++
	a.rec = rec
	a.offset = 0
	return nil
}

func (a *ArrowFileSource) open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return qerrors.NewStorageError(qerrors.CodeObjectNotFound, "arrow: file not found", err).
				WithDetails(map[string]interface{}{"path": path})
		}
		return fmt.Errorf("arrow: failed to open file: %w", err)
	}
	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		f.Close()
		return qerrors.NewStorageError(qerrors.CodeUnsupportedFormat, "arrow: not an Arrow IPC file", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	a.file, a.reader, a.next = f, r, 0
	return nil
}

func (a *ArrowFileSource) closeFile() {
	if a.reader != nil {
		a.reader.Close()
		a.reader = nil
	}
	if a.file != nil {
		a.file.Close()
		a.file = nil
	}
}

func (a *ArrowFileSource) Close() error {
	if a.rec != nil {
		a.rec.Release()
		a.rec = nil
	}
	a.closeFile()
	a.paths = nil
	return nil
}
