package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidPath = errors.New("invalid storage path")

// Blobs stores artifacts as files under a root directory. Paths are
// slash-separated and relative, e.g. "300/math101_2026-03-01_09:00.zip".
type Blobs struct {
	root string
}

func NewBlobs(root string) (*Blobs, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Blobs{root: root}, nil
}

func (b *Blobs) resolve(path string) (string, error) {
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return filepath.Join(b.root, filepath.FromSlash(path)), nil
}

// Put writes r to path, replacing any existing blob, and returns the number
// of bytes written.
func (b *Blobs) Put(path string, r io.Reader) (int64, error) {
	full, err := b.resolve(path)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("put %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("put %s: %w", path, err)
	}
	return n, nil
}

// Open returns the blob at path. The caller closes it.
func (b *Blobs) Open(path string) (*os.File, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
