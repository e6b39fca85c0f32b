package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileArchive stores documents as files under a directory.
type FileArchive struct {
	dir string
}

// NewFileArchive creates dir if needed.
func NewFileArchive(dir string) (*FileArchive, error) {
	//nolint:gosec // G301: archive is shared with operators
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure archive dir: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

func (f *FileArchive) Put(ctx context.Context, data []byte) (string, error) {
	digest := Digest(data)
	name, err := objectName(digest)
	if err != nil {
		return "", err
	}
	path := filepath.Join(f.dir, name)
	if _, err := os.Stat(path); err == nil {
		return digest, nil
	}

	tmp, err := os.CreateTemp(f.dir, ".settlement-*")
	if err != nil {
		return "", fmt.Errorf("failed to write settlement: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write settlement: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write settlement: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to commit settlement: %w", err)
	}
	return digest, nil
}

func (f *FileArchive) Get(ctx context.Context, digest string) ([]byte, error) {
	name, err := objectName(digest)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(f.dir, name)) //nolint:gosec // name validated as hex
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return data, err
}

func (f *FileArchive) Exists(ctx context.Context, digest string) (bool, error) {
	name, err := objectName(digest)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(f.dir, name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
