// Package fsregistry stores derivative records as JSON sidecar files next to the cache.
package fsregistry

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/pkg/errors"
	"os"
	"path/filepath"
)

type FileRegistry struct {
	layout media.Layout
}

func New(layout media.Layout) *FileRegistry {
	return &FileRegistry{layout: layout}
}

func (r *FileRegistry) Get(ctx context.Context, key string) (media.Record, error) {
	data, err := os.ReadFile(r.layout.RecordPathForKey(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(registry.ErrEntityNotFound, "no record for %s", key)
		}

		return nil, errors.Wrapf(registry.ErrRegistryReadFailed, "could not read record for %s: %v", key, err)
	}

	rec, err := media.DecodeRecord(data)
	if err != nil {
		return nil, errors.Wrapf(registry.ErrCorruptRecord, "record for %s: %v", key, err)
	}

	return rec, nil
}

func (r *FileRegistry) Put(ctx context.Context, key string, record media.Record) error {
	data, err := media.EncodeRecord(record)
	if err != nil {
		return errors.Wrapf(registry.ErrRegistryWriteFailed, "could not encode record for %s: %v", key, err)
	}

	path := r.layout.RecordPathForKey(key)
	dir := filepath.Dir(path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		if os.IsPermission(err) {
			return errors.Wrapf(registry.ErrPermission, "could not create %s: %v", dir, err)
		}

		return errors.Wrapf(registry.ErrRegistryWriteFailed, "could not create %s: %v", dir, err)
	}

	if err := writeFileAtomic(dir, path, data); err != nil {
		if os.IsPermission(err) {
			return errors.Wrapf(registry.ErrPermission, "could not write record for %s: %v", key, err)
		}

		return errors.Wrapf(registry.ErrRegistryWriteFailed, "could not write record for %s: %v", key, err)
	}

	return nil
}

func (r *FileRegistry) Remove(ctx context.Context, key string) error {
	if err := os.Remove(r.layout.RecordPathForKey(key)); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(registry.ErrEntityNotFound, "no record for %s", key)
		}

		return errors.Wrapf(registry.ErrRegistryWriteFailed, "could not remove record for %s: %v", key, err)
	}

	return nil
}

// writeFileAtomic writes into a temp file of the same directory and renames it over path
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".record-*")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
