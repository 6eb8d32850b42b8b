package migrations

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveDir(t *testing.T) {
	t.Run("existing directory", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "db", "migrations")
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatalf("mkdir temp migrations: %v", err)
		}
		resolved, err := resolveDir(path)
		if err != nil {
			t.Fatalf("resolveDir: %v", err)
		}
		if !filepath.IsAbs(resolved) {
			t.Fatalf("expected absolute path, got %s", resolved)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := resolveDir(filepath.Join(t.TempDir(), "missing"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("expected fs.ErrNotExist, got %v", err)
		}
	})

	t.Run("regular file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file.txt")
		if err := os.WriteFile(path, []byte("data"), 0o600); err != nil {
			t.Fatalf("write temp file: %v", err)
		}
		_, err := resolveDir(path)
		if !errors.Is(err, errNotDirectory) {
			t.Fatalf("expected errNotDirectory, got %v", err)
		}
	})

	t.Run("blank path", func(t *testing.T) {
		if _, err := resolveDir("  "); err == nil {
			t.Fatal("expected error for blank path")
		}
	})
}

func TestFileURL(t *testing.T) {
	for _, path := range []string{
		"/tmp/migrations",
		"/home/example/project/db/migrations",
		"C:/tmp/migrations",
	} {
		got := fileURL(path)
		if !strings.HasPrefix(got, "file://") {
			t.Fatalf("expected file:// prefix for %s, got %s", path, got)
		}
	}
}

func TestApplyValidatesPathBeforeConnecting(t *testing.T) {
	err := Apply(context.Background(), "postgresql://invalid", "does-not-exist", nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected missing directory error, got %v", err)
	}
}

func TestRollbackValidatesInput(t *testing.T) {
	if err := Rollback(context.Background(), "postgresql://invalid", "missing", 0, nil); err == nil {
		t.Fatal("expected error for non-positive steps")
	}
	err := Rollback(context.Background(), "postgresql://invalid", "missing", 1, nil)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected missing directory error, got %v", err)
	}
}
