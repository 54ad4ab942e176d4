// Package storage provides object storage abstractions for the segment
// files a table is made of: a local filesystem store, an S3 store, and a
// fetcher that pulls a table's segments into a local cache.
package storage

import (
	"context"
	"path"
	"strings"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath. A missing object yields
	// OBJECT_NOT_FOUND; transport failures yield a retryable
	// DOWNLOAD_FAILED.
	Download(ctx context.Context, objectPath, localPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// TablePrefix is the object prefix holding a table's segments.
func TablePrefix(table string) string {
	return strings.Trim(table, "/") + "/"
}

// SegmentKey is the object path of one segment of a table.
func SegmentKey(table, name string) string {
	return path.Join(strings.Trim(table, "/"), name)
}

func notFound(objectPath string, cause error) error {
	return qerrors.NewStorageError(qerrors.CodeObjectNotFound, "object not found", cause).
		WithDetails(map[string]interface{}{"object": objectPath})
}

func downloadFailed(objectPath string, cause error) error {
	return qerrors.NewStorageError(qerrors.CodeDownloadFailed, "download failed", cause).
		WithDetails(map[string]interface{}{"object": objectPath})
}

func uploadFailed(objectPath string, cause error) error {
	return qerrors.NewStorageError(qerrors.CodeUnexpected, "upload failed", cause).
		WithDetails(map[string]interface{}{"object": objectPath})
}
