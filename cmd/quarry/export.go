package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/quarrydb/quarry/internal/batch"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/exec"
	"github.com/quarrydb/quarry/internal/output"
	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/internal/storage"
	"github.com/quarrydb/quarry/internal/tpch"
)

// runExport copies every TPC-H table from the configured source into
// segment files (optionally uploaded to object storage), Arrow IPC files or
// a SQLite file.
func runExport(args []string) int {
	fs := flag.NewFlagSet("quarry export", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	to := fs.String("to", "segment", "Export target: segment, arrow or sqlite")
	out := fs.String("out", "", "Segment or Arrow directory, or SQLite file to create")
	codec := fs.String("codec", "", "Segment codec: none, snappy, lz4")
	upload := fs.Bool("upload", false, "Upload written segments to the configured storage")
	cluster := fs.Bool("cluster", false, "Order each table by its cluster key before writing segments")
	fs.Parse(args)

	cfg, err := common.load(fs, func(name string, cfg *config.Config) {
		if name == "codec" {
			cfg.Source.Codec = *codec
		}
	})
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 2
	}
	if *out == "" {
		output.WriteError(os.Stderr, errors.New("export: -out is required"))
		return 2
	}

	ctx := context.Background()
	opener, err := newTableOpener(ctx, cfg, common.sampleOrders)
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 1
	}

	switch *to {
	case "segment":
		err = exportSegments(ctx, cfg, opener, *out, *upload, *cluster)
	case "arrow":
		err = exportArrow(ctx, cfg, opener, *out)
	case "sqlite":
		err = exportSQLite(ctx, cfg, opener, *out)
	default:
		err = fmt.Errorf("export: unknown target %q", *to)
	}
	if err != nil {
		output.WriteError(os.Stderr, err)
		return 1
	}
	return 0
}

// readTable drains a whole table through the opener.
func readTable(ctx context.Context, opener *tableOpener, table string) ([]*batch.Batch, error) {
	schema, err := tpch.Schema(table)
	if err != nil {
		return nil, err
	}
	src, err := opener.Open(ctx, table, schema)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var batches []*batch.Batch
	for {
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return batches, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export: read %s: %w", table, err)
		}
		if b.NumRows() > 0 {
			batches = append(batches, b)
		}
	}
}

func exportSegments(ctx context.Context, cfg *config.Config, opener *tableOpener, dir string, upload, cluster bool) error {
	codec, err := source.ParseCodec(cfg.Source.Codec)
	if err != nil {
		return err
	}

	var store storage.ObjectStorage
	if upload {
		if store, err = newObjectStorage(ctx, cfg); err != nil {
			return err
		}
		if store == nil {
			return errors.New("export: -upload needs storage.type local or s3")
		}
	}

	ids := source.NewSegmentIDGenerator()
	for _, table := range tpch.Tables() {
		batches, err := readTable(ctx, opener, table)
		if err != nil {
			return err
		}
		if cluster {
			if batches, err = clusterTable(ctx, table, batches, cfg.Engine.BatchSize); err != nil {
				return err
			}
		}
		physical := cfg.TableName(table)
		rows := 0
		for _, b := range batches {
			id, err := ids.Next()
			if err != nil {
				return err
			}
			name := id.FileName()
			path := filepath.Join(dir, physical, name)
			if err := source.WriteSegmentFile(path, b, codec); err != nil {
				return err
			}
			if store != nil {
				if err := store.Upload(ctx, path, storage.SegmentKey(physical, name)); err != nil {
					return err
				}
			}
			rows += b.NumRows()
		}
		log.Printf("quarry: exported %s: %d rows in %d %s segments", physical, rows, len(batches), codec)
	}
	return nil
}

// clusterTable orders batches by the table's cluster key: every batch is
// sorted on its own and the sorted runs are merged. Segments written in the
// resulting order carry narrow zone maps.
func clusterTable(ctx context.Context, table string, batches []*batch.Batch, batchSize int) ([]*batch.Batch, error) {
	key := tpch.ClusterKey(table)
	if key == "" || len(batches) == 0 {
		return batches, nil
	}
	schema := batches[0].Schema()
	keys := []exec.SortKey{exec.Asc(key)}
	runs := make([]exec.Operator, len(batches))
	for i, b := range batches {
		src, err := source.NewMemorySource(schema, b)
		if err != nil {
			return nil, err
		}
		scan, err := exec.NewScan(src)
		if err != nil {
			return nil, err
		}
		if runs[i], err = exec.NewSort(scan, keys, b.NumRows()); err != nil {
			return nil, err
		}
	}
	merge, err := exec.NewSortPreservingMerge(runs, keys, batchSize)
	if err != nil {
		return nil, err
	}
	defer merge.Close()

	var out []*batch.Batch
	for {
		b, err := merge.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("export: cluster %s: %w", table, err)
		}
		out = append(out, b)
	}
}

// exportArrow writes each table as one Arrow IPC file with a record per
// source batch.
func exportArrow(ctx context.Context, cfg *config.Config, opener *tableOpener, dir string) error {
	for _, table := range tpch.Tables() {
		batches, err := readTable(ctx, opener, table)
		if err != nil {
			return err
		}
		schema, _ := tpch.Schema(table)
		physical := cfg.TableName(table)
		path := filepath.Join(dir, physical, physical+source.ArrowExt)
		if err := source.WriteArrowFile(path, schema, batches...); err != nil {
			return err
		}
		log.Printf("quarry: exported %s to %s", physical, path)
	}
	return nil
}

func exportSQLite(ctx context.Context, cfg *config.Config, opener *tableOpener, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("export: %s already exists", path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range tpch.Tables() {
		batches, err := readTable(ctx, opener, table)
		if err != nil {
			return err
		}
		schema, _ := tpch.Schema(table)
		physical := cfg.TableName(table)
		if err := source.CreateSQLiteTable(ctx, db, physical, schema, batches...); err != nil {
			return err
		}
		log.Printf("quarry: exported %s to %s", physical, path)
	}
	return nil
}
