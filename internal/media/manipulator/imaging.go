package manipulator

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
)

const imagingName = "imaging"

// imagingBackend is the pure Go backend, it cannot encode WebP
type imagingBackend struct {
	cfg *Config
}

func newImagingBackend(cfg *Config) (Backend, error) {
	return &imagingBackend{cfg: cfg}, nil
}

func (b *imagingBackend) Name() string {
	return imagingName
}

func (b *imagingBackend) SupportsWebp() bool {
	return false
}

func (b *imagingBackend) Shutdown() {}

func (b *imagingBackend) Probe(path string) (media.Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return media.Info{}, errors.Wrapf(ErrBadImage, "could not open %s: %v", path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return media.Info{}, errors.Wrapf(ErrBadImage, "could not read header of %s: %v", path, err)
	}

	channels, bits := colorLayout(cfg.ColorModel)

	return media.Info{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Mime:     "image/" + format,
		BitDepth: bits,
		Channels: channels,
	}, nil
}

func (b *imagingBackend) Open(path string) (Canvas, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrBadImage, "could not open %s: %v", path, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrBadImage, "could not decode %s: %v", path, err)
	}

	if format == "jpeg" {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			img = computeExifOrientation(io.LimitReader(f, maxExifSize)).apply(img)
		}
	}

	return &imagingCanvas{img: img}, nil
}

type imagingCanvas struct {
	img image.Image
}

func (c *imagingCanvas) Width() int {
	return c.img.Bounds().Dx()
}

func (c *imagingCanvas) Height() int {
	return c.img.Bounds().Dy()
}

func (c *imagingCanvas) Resize(width int, allowUpscale bool) (Canvas, error) {
	if c.img == nil {
		return nil, errors.Wrap(ErrTransformationFailed, "canvas already closed")
	}

	if width <= 0 {
		return nil, errors.Wrapf(ErrTransformationFailed, "invalid width %d", width)
	}

	if !allowUpscale && width > c.Width() {
		width = c.Width()
	}

	// height 0 keeps the aspect ratio
	return &imagingCanvas{img: imaging.Resize(c.img, width, 0, imaging.Lanczos)}, nil
}

func (c *imagingCanvas) Encode(dst io.Writer, ext media.Extension, quality int) error {
	if c.img == nil {
		return errors.Wrap(ErrTransformationFailed, "canvas already closed")
	}

	var err error
	switch ext {
	case media.JPEG:
		err = imaging.Encode(dst, c.img, imaging.JPEG, imaging.JPEGQuality(quality))
	case media.PNG:
		err = imaging.Encode(dst, c.img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s backend cannot encode %s", imagingName, ext)
	}

	if err != nil {
		return errors.Wrapf(ErrTransformationFailed, "could not encode %s: %v", ext, err)
	}

	return nil
}

func (c *imagingCanvas) Close() {
	c.img = nil
}

func colorLayout(m color.Model) (channels, bits int) {
	switch m {
	case color.GrayModel:
		return 1, 8
	case color.Gray16Model:
		return 1, 16
	case color.YCbCrModel:
		return 3, 8
	case color.NYCbCrAModel, color.CMYKModel:
		return 4, 8
	case color.RGBA64Model, color.NRGBA64Model:
		return 4, 16
	case color.RGBAModel, color.NRGBAModel, color.AlphaModel:
		return 4, 8
	}

	// palettes and anything unknown count as RGB
	return 3, 8
}
