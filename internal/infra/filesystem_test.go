package infra

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func TestOSFilesystemRepository(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "a"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := NewOSFilesystemRepository()
	entries, err := r.ReadDir(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name() != "a" || entries[1].Name() != "b.txt" {
		t.Errorf("ReadDir() = %v", entries)
	}
	if ok, err := r.IsDir(ctx, filepath.Join(dir, "a")); err != nil || !ok {
		t.Errorf("IsDir(a) = %v, %v", ok, err)
	}
	if ok, _ := r.IsDir(ctx, filepath.Join(dir, "b.txt")); ok {
		t.Error("IsDir(b.txt) = true")
	}
	data, err := r.ReadFile(ctx, filepath.Join(dir, "b.txt"))
	if err != nil || string(data) != "b" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
}

func TestOSFilesystemRepositoryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewOSFilesystemRepository().ReadFile(ctx, "/nonexistent"); err != context.Canceled {
		t.Errorf("ReadFile() error = %v, want context.Canceled", err)
	}
}

func TestFSRepository(t *testing.T) {
	ctx := context.Background()
	r := NewFSRepository(fstest.MapFS{
		"kb/notes.md":     {Data: []byte("notes")},
		"kb/sub/paper.md": {Data: []byte("paper")},
	})

	for _, root := range []string{"kb", "./kb", "/kb/"} {
		ok, err := r.IsDir(ctx, root)
		if err != nil || !ok {
			t.Errorf("IsDir(%q) = %v, %v", root, ok, err)
		}
	}
	entries, err := r.ReadDir(ctx, "kb")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name() != "notes.md" || !entries[1].IsDir() {
		t.Errorf("ReadDir() = %v", entries)
	}
	data, err := r.ReadFile(ctx, filepath.Join("kb", "sub", "paper.md"))
	if err != nil || string(data) != "paper" {
		t.Errorf("ReadFile() = %q, %v", data, err)
	}
	if _, err := r.ReadFile(ctx, "kb/missing.md"); err == nil {
		t.Error("ReadFile(missing) succeeded")
	}
}
