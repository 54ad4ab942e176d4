package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// maxParquetFiles bounds how many files one glob may expand to.
const maxParquetFiles = 1000

// ParquetSource reads one or more parquet files as rows keyed by column
// name, converting each declared column to its schema type. Files are
// opened one at a time in lexical order.
type ParquetSource struct {
	schema    *types.Schema
	batchSize int
	paths     []string

	file   *os.File
	reader *parquet.Reader
	raw    []interface{}
	done   bool
}

// OpenParquet expands pattern (a path or a glob) and returns a source over
// every matching file.
func OpenParquet(pattern string, schema *types.Schema, batchSize int) (*ParquetSource, error) {
	paths := []string{pattern}
	if strings.ContainsAny(pattern, "*?[]") {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, qerrors.NewConfigError(fmt.Sprintf("invalid glob pattern %q: %v", pattern, err))
		}
		if len(matches) > maxParquetFiles {
			return nil, qerrors.NewConfigError(fmt.Sprintf(
				"glob pattern matched too many files (%d), maximum is %d", len(matches), maxParquetFiles))
		}
		paths = matches
	}
	if len(paths) == 0 {
		return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound,
			fmt.Sprintf("no files match pattern: %s", pattern), nil)
	}
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &ParquetSource{schema: schema, batchSize: batchSize, paths: paths, raw: make([]interface{}, schema.Len())}, nil
}

func (p *ParquetSource) Schema() *types.Schema { return p.schema }

// Next returns up to batchSize rows. A batch never spans two files.
func (p *ParquetSource) Next(ctx context.Context) (*batch.Batch, error) {
	for !p.done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.reader == nil {
			if len(p.paths) == 0 {
				p.done = true
				break
			}
			if err := p.open(p.paths[0]); err != nil {
				p.Close()
				return nil, err
			}
			p.paths = p.paths[1:]
		}

		app := newRowAppender(p.schema, p.batchSize)
		for app.rows < p.batchSize {
			row := make(map[string]interface{}, p.schema.Len())
			err := p.reader.Read(&row)
			if errors.Is(err, io.EOF) {
				p.closeFile()
				break
			}
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("parquet: failed to read row: %w", err)
			}
			for i, name := range p.schema.Names() {
				p.raw[i] = row[name]
			}
			if err := app.append(p.raw); err != nil {
				p.Close()
				return nil, err
			}
		}
		if app.rows > 0 {
			return app.flush(0)
		}
	}
	return nil, io.EOF
}

func (p *ParquetSource) open(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeObjectNotFound, "parquet: failed to open file", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("parquet: failed to stat file: %w", err)
	}
	pqFile, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return qerrors.NewStorageError(qerrors.CodeUnsupportedFormat, "parquet: failed to open parquet file", err).
			WithDetails(map[string]interface{}{"path": path})
	}
	for _, name := range p.schema.Names() {
		if _, ok := pqFile.Schema().Lookup(name); !ok {
			_ = file.Close()
			return qerrors.ColumnNotFound(name).WithDetails(map[string]interface{}{"path": path})
		}
	}
	p.file = file
	p.reader = parquet.NewReader(pqFile)
	return nil
}

func (p *ParquetSource) closeFile() {
	if p.reader != nil {
		_ = p.reader.Close()
		p.reader = nil
	}
	if p.file != nil {
		_ = p.file.Close()
		p.file = nil
	}
}

// Close releases the open file. It is safe to call more than once.
func (p *ParquetSource) Close() error {
	p.closeFile()
	p.done = true
	return nil
}
