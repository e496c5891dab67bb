package storage

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/polyquery/polyquery/internal/config"
)

func TestLocalStorage_PutGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	key := "reports/2026/run.json"
	content := []byte(`{"speedup_ratio":70}`)
	if err := storage.Put(ctx, key, content, "application/json"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, key)
	if err != nil || !exists {
		t.Fatalf("expected object to exist: %v", err)
	}

	got, err := storage.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	// Overwrite replaces the object.
	if err := storage.Put(ctx, key, []byte("v2"), ""); err != nil {
		t.Fatal(err)
	}
	if got, _ := storage.Get(ctx, key); string(got) != "v2" {
		t.Errorf("overwrite failed: %q", got)
	}

	if err := storage.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, key)
	if exists {
		t.Error("expected object to be deleted")
	}
}

func TestLocalStorage_GetNotFound(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	_, err := storage.Get(context.Background(), "missing.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_DeleteNonExistent(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	if err := storage.Delete(context.Background(), "nonexistent"); err != nil {
		t.Errorf("Delete of missing object should be a no-op: %v", err)
	}
}

func TestLocalStorage_List(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"reports/b.csv", "reports/a.json", "other/c.json"} {
		if err := storage.Put(ctx, key, []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
	}

	got, err := storage.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if want := []string{"reports/a.json", "reports/b.csv"}; !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	all, _ := storage.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 objects, got %v", all)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := storage.Put(ctx, "k", []byte("v"), ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), config.StorageConfig{Type: "local", Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.URI("r/x.json"); got != filepath.Join(dir, "r", "x.json") {
		t.Errorf("URI = %s", got)
	}
	if _, err := New(context.Background(), config.StorageConfig{Type: "gcs"}); err == nil {
		t.Error("unknown storage type should fail")
	}
	if _, err := New(context.Background(), config.StorageConfig{Type: "s3"}); err == nil {
		t.Error("s3 without a bucket should fail")
	}
}
