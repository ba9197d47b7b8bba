//go:build vips

package manipulator

import (
	"github.com/davidbyttow/govips/v2/vips"
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
	"io"
	"sync"
)

const vipsName = "vips"

func init() {
	register(factory{name: vipsName, webp: true, create: newVipsBackend})
}

var (
	vipsStartup  sync.Once
	vipsShutdown sync.Once
)

// vipsBackend runs on libvips and encodes WebP
type vipsBackend struct {
	cfg *Config
}

func newVipsBackend(cfg *Config) (Backend, error) {
	vipsStartup.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: cfg.Concurrency,
			MaxCacheSize:     100,
			MaxCacheMem:      50 * 1024 * 1024,
		})
	})

	return &vipsBackend{cfg: cfg}, nil
}

func (b *vipsBackend) Name() string {
	return vipsName
}

func (b *vipsBackend) SupportsWebp() bool {
	return true
}

func (b *vipsBackend) Shutdown() {
	vipsShutdown.Do(vips.Shutdown)
}

func (b *vipsBackend) Probe(path string) (media.Info, error) {
	// libvips loads lazily, pixels are not decoded here
	ref, err := vips.NewImageFromFile(path)
	if err != nil {
		return media.Info{}, errors.Wrapf(ErrBadImage, "could not read header of %s: %v", path, err)
	}
	defer ref.Close()

	info := media.Info{
		Width:    ref.Width(),
		Height:   ref.Height(),
		Channels: ref.Bands(),
		BitDepth: 8,
	}

	switch ref.Interpretation() {
	case vips.InterpretationRGB16, vips.InterpretationGrey16:
		info.BitDepth = 16
	}

	switch ref.Format() {
	case vips.ImageTypeJPEG:
		info.Mime = "image/jpeg"
	case vips.ImageTypePNG:
		info.Mime = "image/png"
	case vips.ImageTypeWEBP:
		info.Mime = "image/webp"
	default:
		info.Mime = "application/octet-stream"
	}

	return info, nil
}

func (b *vipsBackend) Open(path string) (Canvas, error) {
	ref, err := vips.NewImageFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrBadImage, "could not decode %s: %v", path, err)
	}

	if err := ref.AutoRotate(); err != nil {
		ref.Close()
		return nil, errors.Wrapf(ErrBadImage, "could not orient %s: %v", path, err)
	}

	return &vipsCanvas{ref: ref}, nil
}

type vipsCanvas struct {
	ref *vips.ImageRef
}

func (c *vipsCanvas) Width() int {
	return c.ref.Width()
}

func (c *vipsCanvas) Height() int {
	return c.ref.Height()
}

func (c *vipsCanvas) Resize(width int, allowUpscale bool) (Canvas, error) {
	if c.ref == nil {
		return nil, errors.Wrap(ErrTransformationFailed, "canvas already closed")
	}

	if width <= 0 {
		return nil, errors.Wrapf(ErrTransformationFailed, "invalid width %d", width)
	}

	if !allowUpscale && width > c.Width() {
		width = c.Width()
	}

	resized, err := c.ref.Copy()
	if err != nil {
		return nil, errors.Wrapf(ErrTransformationFailed, "could not copy image: %v", err)
	}

	scale := float64(width) / float64(c.Width())
	if err := resized.Resize(scale, vips.KernelLanczos3); err != nil {
		resized.Close()
		return nil, errors.Wrapf(ErrTransformationFailed, "could not resize to %d: %v", width, err)
	}

	return &vipsCanvas{ref: resized}, nil
}

func (c *vipsCanvas) Encode(dst io.Writer, ext media.Extension, quality int) error {
	if c.ref == nil {
		return errors.Wrap(ErrTransformationFailed, "canvas already closed")
	}

	var (
		buf []byte
		err error
	)

	switch ext {
	case media.JPEG:
		params := vips.NewJpegExportParams()
		params.Quality = quality
		buf, _, err = c.ref.ExportJpeg(params)
	case media.PNG:
		buf, _, err = c.ref.ExportPng(vips.NewPngExportParams())
	case media.WEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		buf, _, err = c.ref.ExportWebp(params)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s backend cannot encode %s", vipsName, ext)
	}

	if err != nil {
		return errors.Wrapf(ErrTransformationFailed, "could not encode %s: %v", ext, err)
	}

	if _, err := dst.Write(buf); err != nil {
		return errors.Wrapf(ErrTransformationFailed, "could not write %s: %v", ext, err)
	}

	return nil
}

func (c *vipsCanvas) Close() {
	if c.ref != nil {
		c.ref.Close()
		c.ref = nil
	}
}
