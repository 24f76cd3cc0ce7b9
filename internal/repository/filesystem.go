package repository

import (
	"context"
	"io/fs"
)

// FilesystemRepository is the read-only file access used to load knowledge
// bases and payloads.
type FilesystemRepository interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ReadDir returns entries sorted by name.
	ReadDir(ctx context.Context, path string) ([]fs.DirEntry, error)
	IsDir(ctx context.Context, path string) (bool, error)
}
