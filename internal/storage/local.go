package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient stores objects as files below a root directory. It refuses to
// overwrite and its listings only carry bare names.
type LocalClient struct {
	root string
}

// NewLocalClient creates a local backend rooted at root.
func NewLocalClient(root string) (*LocalClient, error) {
	if root == "" {
		return nil, fmt.Errorf("local root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create local root: %w", err)
	}
	return &LocalClient{root: filepath.Clean(root)}, nil
}

// Type returns the backend identifier
func (c *LocalClient) Type() string { return "local" }

func (c *LocalClient) resolve(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash("/" + key))
	full := filepath.Join(c.root, clean)
	if full != c.root && !strings.HasPrefix(full, c.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes local root", key)
	}
	return full, nil
}

// Upload copies localPath to the key location.
func (c *LocalClient) Upload(ctx context.Context, localPath, key, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dst, err := c.resolve(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dst); err == nil {
		return ErrAlreadyExists
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), dst)
}

// List returns the names directly below prefix. A missing directory lists
// as empty.
func (c *LocalClient) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir, err := c.resolve(prefix)
	if err != nil {
		return nil, err
	}

	items, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, it := range items {
		if strings.HasPrefix(it.Name(), ".upload-") {
			continue
		}
		entries = append(entries, Entry{Name: it.Name(), IsFolder: it.IsDir()})
	}
	return entries, nil
}

// Delete removes the file stored under key.
func (c *LocalClient) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := c.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
