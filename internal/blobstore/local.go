package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalClient is a disk-backed Client, grounded on the teacher's
// LocalStorage: useful for local development and for tests that would
// otherwise need a real Azure Storage account.
type LocalClient struct {
	root string
}

// NewLocalClient returns a Client rooted at dir, creating it if necessary.
func NewLocalClient(dir string) (*LocalClient, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating local blob root %s: %w", dir, err)
	}
	return &LocalClient{root: dir}, nil
}

func (c *LocalClient) Blob(path string) Blob {
	return &localBlob{root: c.root, path: path}
}

func (c *LocalClient) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	base := filepath.Join(c.root, filepath.FromSlash(prefix))
	err := filepath.Walk(c.root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if !strings.HasPrefix(p, base) {
			return nil
		}
		rel, err := filepath.Rel(c.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	return names, err
}

type localBlob struct {
	root string
	path string
}

var _ Blob = (*localBlob)(nil)

func (b *localBlob) Path() string { return b.path }

func (b *localBlob) fullPath() string {
	return filepath.Join(b.root, filepath.FromSlash(b.path))
}

func (b *localBlob) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(b.fullPath())
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (b *localBlob) Read(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.fullPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("reading blob %s: %w", b.path, err)
	}
	return data, nil
}

func (b *localBlob) Download(ctx context.Context, localPath string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(localPath); err == nil {
			return fmt.Errorf("download %s: %s already exists", b.path, localPath)
		}
	}
	data, err := b.Read(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(localPath), err)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (b *localBlob) Update(ctx context.Context, data []byte) error {
	if data == nil {
		return b.Delete(ctx)
	}
	full := b.fullPath()
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(full), err)
	}
	return os.WriteFile(full, data, 0644)
}

func (b *localBlob) Delete(ctx context.Context) error {
	err := os.Remove(b.fullPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", b.path, err)
	}
	return nil
}
