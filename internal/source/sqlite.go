package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quarrydb/quarry/internal/batch"
	qerrors "github.com/quarrydb/quarry/internal/errors"
	"github.com/quarrydb/quarry/pkg/types"
)

// SQLiteSource streams one table of a SQLite database, converting each
// column to the declared schema. Columns are selected by name so the table
// may hold more columns than the schema declares.
type SQLiteSource struct {
	db        *sql.DB
	ownsDB    bool
	table     string
	schema    *types.Schema
	batchSize int

	rows *sql.Rows
	raw  []interface{}
	dest []interface{}
	done bool
}

// OpenSQLite opens path read-only and returns a source over table.
func OpenSQLite(ctx context.Context, path, table string, schema *types.Schema, batchSize int) (*SQLiteSource, error) {
	dsn := fmt.Sprintf("file:%s?mode=ro&_query_only=true", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound, "sqlite: failed to open database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, qerrors.NewStorageError(qerrors.CodeObjectNotFound, "sqlite: failed to ping database", err).
			WithDetails(map[string]interface{}{"path": path})
	}

	s := NewSQLiteSource(db, table, schema, batchSize)
	s.ownsDB = true
	return s, nil
}

// NewSQLiteSource reads table through an existing handle. The handle stays
// open after Close.
func NewSQLiteSource(db *sql.DB, table string, schema *types.Schema, batchSize int) *SQLiteSource {
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &SQLiteSource{
		db:        db,
		table:     table,
		schema:    schema,
		batchSize: batchSize,
	}
}

func (s *SQLiteSource) Schema() *types.Schema { return s.schema }

// Next returns up to batchSize rows; io.EOF once the table is exhausted.
func (s *SQLiteSource) Next(ctx context.Context) (*batch.Batch, error) {
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.rows == nil {
		if err := s.query(ctx); err != nil {
			s.done = true
			return nil, err
		}
	}

	app := newRowAppender(s.schema, s.batchSize)
	for app.rows < s.batchSize && s.rows.Next() {
		for i := range s.raw {
			s.raw[i] = nil
		}
		if err := s.rows.Scan(s.dest...); err != nil {
			s.finish()
			return nil, fmt.Errorf("sqlite: failed to scan row: %w", err)
		}
		if err := app.append(s.raw); err != nil {
			s.finish()
			return nil, err
		}
	}
	if app.rows < s.batchSize {
		err := s.rows.Err()
		s.finish()
		if err != nil {
			return nil, fmt.Errorf("sqlite: error iterating rows: %w", err)
		}
		if app.rows == 0 {
			return nil, io.EOF
		}
	}
	return app.flush(0)
}

func (s *SQLiteSource) query(ctx context.Context) error {
	cols := make([]string, s.schema.Len())
	for i, name := range s.schema.Names() {
		cols[i] = quoteIdent(name)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(s.table))
	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return qerrors.NewStorageError(qerrors.CodeObjectNotFound,
			fmt.Sprintf("sqlite: failed to query table %q", s.table), err)
	}
	s.rows = rows
	s.raw = make([]interface{}, len(cols))
	s.dest = make([]interface{}, len(cols))
	for i := range s.raw {
		s.dest[i] = &s.raw[i]
	}
	return nil
}

func (s *SQLiteSource) finish() {
	s.done = true
	if s.rows != nil {
		s.rows.Close()
	}
}

func (s *SQLiteSource) Close() error {
	s.finish()
	if s.ownsDB {
		s.ownsDB = false
		return s.db.Close()
	}
	return nil
}

// CreateSQLiteTable creates table with columns typed from schema and inserts
// every row of batches in one transaction. Decimals and dates are stored as
// text so they read back exactly.
func CreateSQLiteTable(ctx context.Context, db *sql.DB, table string, schema *types.Schema, batches ...*batch.Batch) error {
	defs := make([]string, schema.Len())
	marks := make([]string, schema.Len())
	for i, f := range schema.Fields() {
		defs[i] = quoteIdent(f.Name) + " " + sqliteType(f.Type)
		marks[i] = "?"
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlite: failed to create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)",
		quoteIdent(table), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("sqlite: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]interface{}, schema.Len())
	for _, b := range batches {
		if !b.Schema().Equal(schema) {
			return qerrors.NewSchemaError(qerrors.CodeSchemaMismatch, "sqlite: batch does not match table schema")
		}
		for r := 0; r < b.NumRows(); r++ {
			for c := range args {
				args[c] = b.Column(c).Value(r).Interface()
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("sqlite: failed to insert row: %w", err)
			}
		}
	}
	return tx.Commit()
}

func sqliteType(t types.DataType) string {
	switch t.ID {
	case types.TypeBoolean, types.TypeInt32, types.TypeInt64:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
