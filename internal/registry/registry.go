package registry

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
)

var ErrEntityNotFound = errors.New("entity not found")
var ErrRegistryReadFailed = errors.New("registry read error")
var ErrRegistryWriteFailed = errors.New("registry write error")
var ErrPermission = errors.New("registry permission denied")
var ErrCorruptRecord = errors.New("corrupt registry record")

// Registry keeps one derivative record per source image key
type Registry interface {
	Get(ctx context.Context, key string) (media.Record, error)
	// Put replaces the record of key as a whole, readers never observe a partial record
	Put(ctx context.Context, key string, record media.Record) error
	Remove(ctx context.Context, key string) error
}
