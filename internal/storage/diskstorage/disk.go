// Package diskstorage keeps derivatives on the local file system under the cache root.
package diskstorage

import (
	"context"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/pkg/errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

type LocalStorage struct {
	root string
}

// New stores files under root, which must be an absolute path
func New(root string) *LocalStorage {
	return &LocalStorage{root: filepath.Clean(root)}
}

func (ls *LocalStorage) Root() string {
	return ls.root
}

// Path of a file, the namespace cannot escape the root
func (ls *LocalStorage) Path(namespace, filename string) (string, error) {
	rel := path.Clean("/" + path.Join(namespace, filename))
	if strings.Contains(filename, "/") || rel == "/" {
		return "", errors.Wrapf(storage.ErrStorageFailed, "invalid file name %s/%s", namespace, filename)
	}

	return filepath.Join(ls.root, filepath.FromSlash(rel)), nil
}

// EnsureDir creates the namespace directory, a concurrent creation is not a failure
func (ls *LocalStorage) EnsureDir(namespace string) error {
	dir := filepath.Join(ls.root, filepath.FromSlash(path.Clean("/"+namespace)))

	if err := os.MkdirAll(dir, 0755); err != nil {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			return nil
		}

		if os.IsPermission(err) {
			return errors.Wrapf(storage.ErrPermission, "could not create %s: %v", dir, err)
		}

		return errors.Wrapf(storage.ErrStorageFailed, "could not create %s: %v", dir, err)
	}

	return nil
}

// Put writes into a temp file of the target directory and renames it into place
func (ls *LocalStorage) Put(ctx context.Context, namespace, filename string, source io.Reader) (*storage.Item, error) {
	target, err := ls.Path(namespace, filename)
	if err != nil {
		return nil, err
	}

	if err := ls.EnsureDir(namespace); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".derivative-*")
	if err != nil {
		if os.IsPermission(err) {
			return nil, errors.Wrapf(storage.ErrPermission, "could not write %s: %v", target, err)
		}

		return nil, errors.Wrapf(storage.ErrStorageFailed, "could not write %s: %v", target, err)
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		return nil, errors.Wrapf(storage.ErrStorageFailed, "could not write %s: %v", target, err)
	}

	if err := tmp.Close(); err != nil {
		return nil, errors.Wrapf(storage.ErrStorageFailed, "could not write %s: %v", target, err)
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		return nil, errors.Wrapf(storage.ErrStorageFailed, "could not chmod %s: %v", target, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return nil, errors.Wrapf(storage.ErrStorageFailed, "could not move %s into place: %v", target, err)
	}

	return &storage.Item{
		Path: target,
		URL:  path.Join(namespace, filename),
	}, nil
}

func (ls *LocalStorage) Exists(ctx context.Context, namespace, filename string) (bool, error) {
	p, err := ls.Path(namespace, filename)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, errors.Wrapf(storage.ErrStorageFailed, "could not stat %s: %v", p, err)
	}

	return info.Mode().IsRegular(), nil
}

// Remove a file, a missing one is not an error
func (ls *LocalStorage) Remove(ctx context.Context, namespace, filename string) error {
	p, err := ls.Path(namespace, filename)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(storage.ErrStorageFailed, "could not remove %s: %v", p, err)
	}

	return nil
}
