package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FSBlob stores document payloads under a base directory. Used for dev
// and tests.
type FSBlob struct {
	base string
}

func NewFSBlob(base string) *FSBlob {
	return &FSBlob{base: base}
}

func (f *FSBlob) fullPath(path string) string {
	return filepath.Join(f.base, filepath.FromSlash(path))
}

func (f *FSBlob) Store(ctx context.Context, r io.Reader, path string) (string, error) {
	full := f.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	out, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (f *FSBlob) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(f.fullPath(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (f *FSBlob) Delete(ctx context.Context, path string) error {
	if err := os.Remove(f.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
