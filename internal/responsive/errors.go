package responsive

import "github.com/pkg/errors"

// None of these reach the page renderer, each one leaves the tag as it was
var (
	ErrPathOutsideMediaRoot    = errors.New("path outside media root")
	ErrUnsupportedFormat       = errors.New("unsupported image format")
	ErrSourceUnreadable        = errors.New("source image unreadable")
	ErrNoImageBackendAvailable = errors.New("no image backend available")
	ErrMemoryLimitExceeded     = errors.New("image too big to be processed")
	ErrFilesystemPermission    = errors.New("file system permission problem")
	ErrImageTooSmall           = errors.New("image not wider than the smallest breakpoint")
	ErrNoSource                = errors.New("tag has no src attribute")
)
