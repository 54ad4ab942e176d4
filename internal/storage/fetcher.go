package storage

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/quarrydb/quarry/internal/cache"
)

// Fetcher downloads a table's segment objects into a local cache in
// parallel. Objects already present in the cache are not downloaded again.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int
	cache       *cache.SegmentCache
}

// FetchResult lists the local copies in object order. They stay pinned in
// the cache until Release.
type FetchResult struct {
	Objects    []string
	LocalPaths []string
	CacheHits  int
	Downloads  int
}

// NewFetcher creates a fetcher.
// storage: the ObjectStorage implementation to download from
// concurrency: maximum number of parallel downloads
// segments: local cache holding the copies
func NewFetcher(storage ObjectStorage, concurrency int, segments *cache.SegmentCache) *Fetcher {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{
		storage:     storage,
		concurrency: concurrency,
		cache:       segments,
	}
}

// FetchTable lists every object of table ending in suffix and fetches it.
func (f *Fetcher) FetchTable(ctx context.Context, table, suffix string) (*FetchResult, error) {
	objects, err := f.storage.ListObjects(ctx, TablePrefix(table))
	if err != nil {
		return nil, err
	}
	var keep []string
	for _, o := range objects {
		if strings.HasSuffix(o, suffix) {
			keep = append(keep, o)
		}
	}
	return f.Fetch(ctx, keep)
}

// Fetch downloads objectPaths. It either returns a local path for every
// object or fails with the error of the first failed object in input
// order; partial results are never returned.
func (f *Fetcher) Fetch(ctx context.Context, objectPaths []string) (*FetchResult, error) {
	result := &FetchResult{
		Objects:    append([]string(nil), objectPaths...),
		LocalPaths: make([]string, len(objectPaths)),
	}
	if len(objectPaths) == 0 {
		return result, nil
	}

	errs := make([]error, len(objectPaths))
	pinned := make([]bool, len(objectPaths))
	sem := semaphore.NewWeighted(int64(f.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, p := range objectPaths {
		// hits are pinned as they are found so a concurrent Evict cannot
		// drop them before the whole table is local
		if local, ok := f.cache.Acquire(p); ok {
			result.LocalPaths[i] = local
			result.CacheHits++
			pinned[i] = true
			continue
		}
		local := f.cache.Path(p)
		result.LocalPaths[i] = local

		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = fmt.Errorf("semaphore acquire failed: %w", err)
			break
		}

		wg.Add(1)
		go func(i int, path, local string) {
			defer sem.Release(1)
			defer wg.Done()

			if err := f.storage.Download(ctx, path, local); err != nil {
				errs[i] = err
				return
			}
			if err := f.cache.AddPinned(path); err != nil {
				errs[i] = err
				return
			}

			mu.Lock()
			result.Downloads++
			pinned[i] = true
			mu.Unlock()
		}(i, p, local)
	}

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			log.Printf("storage: fetch of %s failed: %v", objectPaths[i], err)
			for j, p := range objectPaths {
				if pinned[j] {
					f.cache.Unpin(p)
				}
			}
			return nil, err
		}
	}

	f.cache.Evict()
	return result, nil
}

// Release unpins the local copies of a fetch so they may be evicted.
func (f *Fetcher) Release(result *FetchResult) {
	if result == nil {
		return
	}
	for _, p := range result.Objects {
		f.cache.Unpin(p)
	}
}
