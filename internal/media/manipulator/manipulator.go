package manipulator

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
	"io"
)

var ErrNoBackend = errors.New("manipulator no image backend available")
var ErrBadImage = errors.New("manipulator bad image provided")
var ErrUnsupportedFormat = errors.New("manipulator unsupported format")
var ErrTransformationFailed = errors.New("manipulator transformation failed")

// maximum distance into image to look for EXIF tags
const maxExifSize = 1 << 20

const (
	Auto = "auto"
	None = "none"
)

type Config struct {
	// Backend is the backend name, Auto or None
	Backend string
	// Concurrency of backends running their own worker threads, 0 lets them decide
	Concurrency int
}

// Backend is an image library capable of reading, resizing and encoding images
type Backend interface {
	Name() string
	SupportsWebp() bool
	// Probe reads dimensions and color layout without decoding pixel data where possible
	Probe(path string) (media.Info, error)
	Open(path string) (Canvas, error)
	Shutdown()
}

// Canvas is a decoded image held by a backend
type Canvas interface {
	Width() int
	Height() int
	// Resize to width, preserving the aspect ratio. Without allowUpscale
	// the width is capped at the current one.
	Resize(width int, allowUpscale bool) (Canvas, error)
	Encode(dst io.Writer, ext media.Extension, quality int) error
	// Close releases the decoded pixels
	Close()
}

type factory struct {
	name   string
	webp   bool
	create func(cfg *Config) (Backend, error)
}

// factories in order of registration, the pure Go one always present
var factories = []factory{
	{name: imagingName, webp: false, create: newImagingBackend},
}

func register(f factory) {
	factories = append(factories, f)
}

// Available lists the names of compiled in backends
func Available() []string {
	names := make([]string, 0, len(factories))
	for _, f := range factories {
		names = append(names, f.name)
	}

	return names
}

// Select picks the backend once at startup. Auto prefers a backend able to encode WebP.
func Select(cfg *Config) (Backend, error) {
	switch cfg.Backend {
	case None:
		return nil, errors.Wrap(ErrNoBackend, "image processing disabled")
	case "", Auto:
		return selectAuto(cfg)
	}

	for _, f := range factories {
		if f.name == cfg.Backend {
			b, err := f.create(cfg)
			if err != nil {
				return nil, errors.Wrapf(ErrNoBackend, "backend %s failed to start: %v", f.name, err)
			}

			return b, nil
		}
	}

	return nil, errors.Wrapf(ErrNoBackend, "backend %s is not compiled in, available: %v", cfg.Backend, Available())
}

func selectAuto(cfg *Config) (Backend, error) {
	var errs []string
	for _, preferWebp := range []bool{true, false} {
		for _, f := range factories {
			if f.webp != preferWebp {
				continue
			}

			b, err := f.create(cfg)
			if err != nil {
				errs = append(errs, f.name+": "+err.Error())
				continue
			}

			return b, nil
		}
	}

	return nil, errors.Wrapf(ErrNoBackend, "no backend could start %v", errs)
}
