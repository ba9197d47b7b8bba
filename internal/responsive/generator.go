package responsive

import (
	"bytes"
	"context"
	"fmt"
	"github.com/denismitr/respimg/internal/limits"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type GeneratorConfig struct {
	Quality int
	ScaleUp bool
	// MemoryCeiling in bytes, 0 or less disables the check
	MemoryCeiling int64
}

// Generator resizes a source to every breakpoint and persists the record last
type Generator struct {
	cfg      GeneratorConfig
	layout   media.Layout
	backend  manipulator.Backend
	store    CacheStore
	mirror   storage.Storage
	registry registry.Registry
	logger   *logrus.Logger
}

// NewGenerator accepts a nil backend, every source is then skipped.
// The mirror is optional.
func NewGenerator(
	cfg GeneratorConfig,
	layout media.Layout,
	backend manipulator.Backend,
	store CacheStore,
	mirror storage.Storage,
	r registry.Registry,
	logger *logrus.Logger,
) *Generator {
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = media.DefaultQuality
	}

	return &Generator{
		cfg:      cfg,
		layout:   layout,
		backend:  backend,
		store:    store,
		mirror:   mirror,
		registry: r,
		logger:   logger,
	}
}

// Generate produces the derivatives of src. Sources that cannot or should not be
// processed get a persisted skip record and no error. An error means nothing
// usable was persisted.
func (g *Generator) Generate(ctx context.Context, src media.SourceImage, breakpoints media.Breakpoints) (media.Record, error) {
	breakpoints = breakpoints.Normalize()
	lg := g.logger.WithField("source", src.Path)

	if g.backend == nil {
		return g.skip(ctx, src, errors.Wrap(ErrNoImageBackendAvailable, src.Name()))
	}

	if len(breakpoints) == 0 {
		return nil, errors.Wrap(ErrImageTooSmall, "no breakpoints requested")
	}

	info, err := g.backend.Probe(src.Path)
	if err != nil {
		return g.skip(ctx, src, errors.Wrapf(ErrSourceUnreadable, "%v", err))
	}

	if !media.IsSupportedMime(info.Mime) {
		return g.skip(ctx, src, errors.Wrapf(ErrUnsupportedFormat, "%s is %s", src.Name(), info.Mime))
	}

	if info.Width <= breakpoints.Smallest() {
		return g.skip(ctx, src, errors.Wrapf(
			ErrImageTooSmall, "%s is %dpx wide, smallest breakpoint is %dpx",
			src.Name(), info.Width, breakpoints.Smallest()))
	}

	if estimated := info.PeakMemory(); limits.Exceeds(estimated, g.cfg.MemoryCeiling) {
		enqueue(ctx, LevelWarning, fmt.Sprintf(
			"Image %s is too big to be processed: %dx%d would need %d bytes of %d available",
			src.Name(), info.Width, info.Height, estimated, g.cfg.MemoryCeiling))

		return g.skip(ctx, src, errors.Wrapf(
			ErrMemoryLimitExceeded, "%s needs about %d bytes, ceiling is %d",
			src.Name(), estimated, g.cfg.MemoryCeiling))
	}

	hash, err := hashFile(src.Path)
	if err != nil {
		return g.skip(ctx, src, err)
	}

	canvas, err := g.backend.Open(src.Path)
	if err != nil {
		return g.skip(ctx, src, errors.Wrapf(ErrSourceUnreadable, "%v", err))
	}
	defer canvas.Close()

	ext, err := media.NormalizeExtension(src.Ext)
	if err != nil {
		return g.skip(ctx, src, errors.Wrapf(ErrUnsupportedFormat, "%v", err))
	}

	set := &media.DerivativeSet{
		Mime:  info.Mime,
		Hash:  hash,
		Width: canvas.Width(),
		Base:  make(map[int]string),
		Webp:  make(map[int]string),
	}

	smallest := 0
	for _, bp := range breakpoints {
		if canvas.Width() < bp && !g.cfg.ScaleUp {
			lg.WithField("breakpoint", bp).Debug("source narrower than breakpoint")
			continue
		}

		base, webp, err := g.derive(ctx, src, canvas, bp, ext)
		if err != nil {
			if errors.Is(err, ErrFilesystemPermission) {
				return nil, err
			}

			lg.WithField("breakpoint", bp).Warn(err)
			continue
		}

		set.Base[bp] = base + "?" + hash
		if webp != "" {
			set.Webp[bp] = webp + "?" + hash
		}

		if smallest == 0 {
			smallest = bp
			set.Tag = base
		}
	}

	if len(set.Base) == 0 {
		return g.skip(ctx, src, errors.Wrapf(ErrSourceUnreadable, "no derivative of %s could be written", src.Name()))
	}

	if err := g.registry.Put(ctx, src.Key(), set); err != nil {
		return nil, g.registryError(err)
	}

	lg.WithFields(logrus.Fields{
		"backend":     g.backend.Name(),
		"breakpoints": set.Breakpoints(),
		"webp":        len(set.Webp),
	}).Info("derivatives generated")

	return set, nil
}

// derive writes the derivatives of one breakpoint and returns their URLs,
// the resized pixels are released before returning
func (g *Generator) derive(
	ctx context.Context,
	src media.SourceImage,
	canvas manipulator.Canvas,
	bp int,
	ext media.Extension,
) (string, string, error) {
	resized, err := canvas.Resize(bp, g.cfg.ScaleUp)
	if err != nil {
		return "", "", errors.Wrapf(ErrSourceUnreadable, "could not resize to %d: %v", bp, err)
	}
	defer resized.Close()

	if err := g.write(ctx, src, resized, bp, src.Ext, ext); err != nil {
		return "", "", err
	}

	base := g.layout.DerivativeURL(src, bp, src.Ext)

	if !g.backend.SupportsWebp() {
		return base, "", nil
	}

	if err := g.write(ctx, src, resized, bp, media.WEBP.String(), media.WEBP); err != nil {
		if errors.Is(err, ErrFilesystemPermission) {
			return "", "", err
		}

		g.logger.WithFields(logrus.Fields{"source": src.Path, "breakpoint": bp}).Warnf("webp skipped: %v", err)
		return base, "", nil
	}

	return base, g.layout.DerivativeURL(src, bp, media.WEBP.String()), nil
}

func (g *Generator) write(
	ctx context.Context,
	src media.SourceImage,
	canvas manipulator.Canvas,
	bp int,
	fileExt string,
	format media.Extension,
) error {
	buf := &bytes.Buffer{}
	if err := canvas.Encode(buf, format, g.cfg.Quality); err != nil {
		return errors.Wrapf(ErrUnsupportedFormat, "could not encode %s at %d: %v", format, bp, err)
	}

	namespace := g.layout.Namespace(src)
	filename := media.DerivativeName(src, bp, fileExt)
	data := buf.Bytes()

	if _, err := g.store.Put(ctx, namespace, filename, bytes.NewReader(data)); err != nil {
		if errors.Is(err, storage.ErrPermission) {
			return errors.Wrapf(ErrFilesystemPermission, "%v", err)
		}

		return err
	}

	if g.mirror != nil {
		if _, err := g.mirror.Put(ctx, namespace, filename, bytes.NewReader(data)); err != nil {
			g.logger.WithField("file", filename).Warnf("could not mirror derivative: %v", err)
		}
	}

	return nil
}

// skip persists a skip record so the reason is paid for once
func (g *Generator) skip(ctx context.Context, src media.SourceImage, reason error) (media.Record, error) {
	g.logger.WithField("source", src.Path).Warnf("skipping responsive image: %v", reason)

	if err := g.registry.Put(ctx, src.Key(), media.Skip{}); err != nil {
		return nil, g.registryError(err)
	}

	return media.Skip{}, nil
}

func (g *Generator) registryError(err error) error {
	if errors.Is(err, registry.ErrPermission) {
		return errors.Wrapf(ErrFilesystemPermission, "%v", err)
	}

	return err
}
