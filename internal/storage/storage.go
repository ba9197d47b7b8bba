package storage

import (
	"context"
	"github.com/pkg/errors"
	"io"
)

var ErrStorageFailed = errors.New("storage failed")
var ErrPermission = errors.New("storage permission denied")

type Item struct {
	Path string
	URL  string
}

// Storage keeps derivative files, namespace is a slash separated directory
type Storage interface {
	Put(ctx context.Context, namespace, filename string, source io.Reader) (*Item, error)
	Exists(ctx context.Context, namespace, filename string) (bool, error)
	Remove(ctx context.Context, namespace, filename string) error
}
