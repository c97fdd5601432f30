package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/camdencbrown/relay/internal/domain"
)

// LocalStore implements ObjectStore on a local filesystem directory.
// Artifacts land under root/key and Put returns absolute paths, so the
// query engine can hand them to readers directly.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and resolves it to
// an absolute path.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage path is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", abs, err)
	}
	return &LocalStore{root: abs}, nil
}

// Mode reports the backend name.
func (s *LocalStore) Mode() string { return "local" }

// Root returns the absolute storage directory.
func (s *LocalStore) Root() string { return s.root }

// resolve maps a key or previously returned absolute path to a path
// under root, rejecting anything that escapes it.
func (s *LocalStore) resolve(key string) (string, error) {
	p := filepath.FromSlash(key)
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes storage root", key)
	}
	return p, nil
}

// Put writes an artifact under root/key and returns its absolute path.
func (s *LocalStore) Put(_ context.Context, key string, data []byte) (string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", key, err)
	}
	return path, nil
}

// Get reads an artifact by the absolute path Put returned.
func (s *LocalStore) Get(_ context.Context, uri string) ([]byte, error) {
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s: %w", uri, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact %s: %w", uri, err)
	}
	return data, nil
}
