// Package local keeps run snapshots on disk. Each snapshot is staged in a
// temporary file next to its destination and renamed into place, so readers
// never observe a partially written snapshot.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirMode  os.FileMode = 0o750
	fileMode os.FileMode = 0o640
	// stagePrefix marks in-flight snapshot files; they are removed on failure.
	stagePrefix = ".staging-"
)

// Config locates the snapshot directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore implements ingest.BlobStore on the local filesystem.
type BlobStore struct {
	baseDir string
}

// New opens baseDir, creating it when missing, and checks that snapshots can be
// staged there.
func New(cfg Config) (*BlobStore, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	dir = filepath.Clean(dir)

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat snapshot directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("snapshot directory %s is not a directory", dir)
	}

	check, err := os.CreateTemp(dir, stagePrefix)
	if err != nil {
		return nil, fmt.Errorf("snapshot directory is not writable: %w", err)
	}
	name := check.Name()
	_ = check.Close()
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove write check file: %w", err)
	}
	return &BlobStore{baseDir: dir}, nil
}

// PutObject streams body into baseDir/path and returns a file:// URI. An
// existing snapshot at path is replaced atomically.
func (s *BlobStore) PutObject(ctx context.Context, path string, _ string, body io.Reader) (string, error) {
	dest, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), dirMode); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	staged, err := os.CreateTemp(filepath.Dir(dest), stagePrefix+filepath.Base(dest)+"-")
	if err != nil {
		return "", fmt.Errorf("stage snapshot %s: %w", path, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = staged.Close()
			_ = os.Remove(staged.Name())
		}
	}()

	if _, err := io.Copy(staged, ctxReader{ctx: ctx, r: body}); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}
	if err := staged.Chmod(fileMode); err != nil {
		return "", fmt.Errorf("chmod snapshot %s: %w", path, err)
	}
	if err := staged.Sync(); err != nil {
		return "", fmt.Errorf("sync snapshot %s: %w", path, err)
	}
	if err := staged.Close(); err != nil {
		return "", fmt.Errorf("close snapshot %s: %w", path, err)
	}
	if err := os.Rename(staged.Name(), dest); err != nil {
		return "", fmt.Errorf("commit snapshot %s: %w", path, err)
	}
	committed = true
	return "file://" + dest, nil
}

// resolve maps a relative snapshot path into baseDir.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("snapshot path is required")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("snapshot path %q must be relative", path)
	}
	dest := filepath.Join(s.baseDir, path)
	rel, err := filepath.Rel(s.baseDir, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("snapshot path %q escapes %s", path, s.baseDir)
	}
	return dest, nil
}

// ctxReader stops a copy once ctx ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
