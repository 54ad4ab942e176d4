package storage

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

func TestLocalStorage_UploadDownload(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	srcDir := t.TempDir()
	srcPath := filepath.Join(srcDir, "test.qseg")
	content := []byte("hello world")
	if err := os.WriteFile(srcPath, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	ctx := context.Background()

	objectPath := SegmentKey("lineitem", "000000.qseg")
	if objectPath != "lineitem/000000.qseg" {
		t.Fatalf("unexpected segment key %q", objectPath)
	}
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(srcDir, "nested", "downloaded.qseg")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", downloaded, content)
	}
	if _, err := os.Stat(dstPath + ".part"); !os.IsNotExist(err) {
		t.Error("expected no leftover partial file")
	}
}

func TestLocalStorage_DownloadNotFound(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	err = storage.Download(context.Background(), "missing/object.qseg", filepath.Join(t.TempDir(), "out"))
	if qerrors.GetCode(err) != qerrors.CodeObjectNotFound {
		t.Fatalf("expected OBJECT_NOT_FOUND, got %v", err)
	}
	if qerrors.IsRetryable(err) {
		t.Error("missing objects must not be retryable")
	}

	exists, err := storage.Exists(context.Background(), "missing/object.qseg")
	if err != nil || exists {
		t.Errorf("Exists = %v, %v; want false, nil", exists, err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := filepath.Join(t.TempDir(), "src")
	if err := os.WriteFile(src, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	for _, p := range []string{"orders/b.qseg", "lineitem/b.qseg", "lineitem/a.qseg"} {
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	got, err := storage.ListObjects(ctx, TablePrefix("lineitem"))
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	want := []string{"lineitem/a.qseg", "lineitem/b.qseg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ListObjects = %v, want %v", got, want)
	}

	got, err = storage.ListObjects(ctx, TablePrefix("customer"))
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no objects, got %v", got)
	}
}

func TestLocalStorage_Cancelled(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := storage.Download(ctx, "a", "b"); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
