package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/quarrydb/quarry/internal/cache"
	"github.com/quarrydb/quarry/internal/config"
	"github.com/quarrydb/quarry/internal/source"
	"github.com/quarrydb/quarry/internal/storage"
	"github.com/quarrydb/quarry/internal/tpch"
	"github.com/quarrydb/quarry/pkg/types"
)

// tableOpener opens TPC-H tables from the configured source.
type tableOpener struct {
	cfg      *config.Config
	sample   *tpch.Dataset
	segments *cache.SegmentCache
	fetcher  *storage.Fetcher
	fetched  []*storage.FetchResult
	scanned  map[string]*source.SegmentSource
}

func newTableOpener(ctx context.Context, cfg *config.Config, sampleOrders int) (*tableOpener, error) {
	o := &tableOpener{cfg: cfg, scanned: map[string]*source.SegmentSource{}}
	switch cfg.Source.Format {
	case config.FormatMemory:
		d, err := tpch.GenerateSample(sampleOrders, 1)
		if err != nil {
			return nil, err
		}
		o.sample = d
	case config.FormatSegment:
		store, err := newObjectStorage(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if store != nil {
			segments, err := cache.NewSegmentCache(cfg.Storage.CacheDir, cfg.Storage.CacheMaxBytes)
			if err != nil {
				return nil, err
			}
			o.segments = segments
			o.fetcher = storage.NewFetcher(store, cfg.Storage.Concurrency, segments)
			if cfg.Engine.Verbose {
				log.Printf("quarry: segment cache at %s, capacity %d bytes", segments.Dir(), segments.Capacity())
			}
		}
	}
	return o, nil
}

// Open satisfies tpch.OpenFunc.
func (o *tableOpener) Open(ctx context.Context, table string, schema *types.Schema) (source.Source, error) {
	batchSize := o.cfg.Engine.BatchSize
	physical := o.cfg.TableName(table)

	switch o.cfg.Source.Format {
	case config.FormatMemory:
		return o.sample.Open(batchSize)(ctx, table, schema)

	case config.FormatSQLite:
		return source.OpenSQLite(ctx, o.cfg.Source.Path, physical, schema, batchSize)

	case config.FormatParquet:
		return source.OpenParquet(filepath.Join(o.cfg.Source.Path, physical, "*.parquet"), schema, batchSize)

	case config.FormatArrow:
		return source.OpenArrowFiles(filepath.Join(o.cfg.Source.Path, physical, "*"+source.ArrowExt), schema, batchSize)

	case config.FormatSegment:
		paths, err := o.segmentPaths(ctx, physical)
		if err != nil {
			return nil, err
		}
		src := source.NewSegmentSource(schema, paths)
		o.scanned[table] = src
		return src, nil
	}
	return nil, fmt.Errorf("unsupported source format %q", o.cfg.Source.Format)
}

func (o *tableOpener) segmentPaths(ctx context.Context, table string) ([]string, error) {
	if o.fetcher == nil {
		return source.ListSegments(o.cfg.Source.Path, table)
	}
	res, err := o.fetcher.FetchTable(ctx, table, source.SegmentExt)
	if err != nil {
		return nil, err
	}
	o.fetched = append(o.fetched, res)
	if o.cfg.Engine.Verbose {
		log.Printf("quarry: fetched %d segments of %s (%d cached, %d downloaded)",
			len(res.LocalPaths), table, res.CacheHits, res.Downloads)
	}
	return res.LocalPaths, nil
}

// release unpins every segment fetched so far and logs cache usage.
func (o *tableOpener) release() {
	if o.cfg.Engine.Verbose {
		for table, src := range o.scanned {
			log.Printf("quarry: pruned %d segments of %s", src.Pruned(), table)
		}
	}
	if o.fetcher == nil {
		return
	}
	for _, res := range o.fetched {
		o.fetcher.Release(res)
	}
	o.fetched = nil
	if o.cfg.Engine.Verbose {
		stats := o.segments.Stats()
		log.Printf("quarry: segment cache %d entries, %d of %d bytes, %.1f%% hit rate, %d evictions",
			stats.Entries, stats.SizeBytes, o.segments.Capacity(), o.segments.HitRate(), stats.Evictions)
	}
}

// newObjectStorage returns the configured storage, or nil when segments are
// read from source.path directly.
func newObjectStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3cfg.Region = cfg.Storage.S3.Region
		}
		s3cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3cfg)
	}
	return nil, nil
}
