package infra

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fpt/kanoa/internal/repository"
)

// OSFilesystemRepository reads from the host filesystem.
type OSFilesystemRepository struct{}

func NewOSFilesystemRepository() repository.FilesystemRepository {
	return &OSFilesystemRepository{}
}

func (r *OSFilesystemRepository) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func (r *OSFilesystemRepository) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadDir(name)
}

func (r *OSFilesystemRepository) IsDir(ctx context.Context, name string) (bool, error) {
	info, err := os.Stat(name)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// FSRepository serves files from an fs.FS, such as an embedded knowledge
// base. Paths are slash separated and relative to the root of the FS; a
// leading "./" or "/" is ignored.
type FSRepository struct {
	fsys fs.FS
}

func NewFSRepository(fsys fs.FS) repository.FilesystemRepository {
	return &FSRepository{fsys: fsys}
}

func fsPath(name string) string {
	p := path.Clean(strings.TrimPrefix(filepath.ToSlash(name), "/"))
	if p == "" {
		return "."
	}
	return p
}

func (r *FSRepository) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.ReadFile(r.fsys, fsPath(name))
}

func (r *FSRepository) ReadDir(ctx context.Context, name string) ([]fs.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fs.ReadDir(r.fsys, fsPath(name))
}

func (r *FSRepository) IsDir(ctx context.Context, name string) (bool, error) {
	info, err := fs.Stat(r.fsys, fsPath(name))
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
