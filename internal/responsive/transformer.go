// Package responsive turns <img> tags into <picture> elements backed by
// cached derivatives generated on first use.
package responsive

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const permissionMessage = "There was a file permissions problem in the responsive images cache folder"

type Config struct {
	// Breakpoints used when a caller passes none
	Breakpoints media.Breakpoints
	Staleness   Staleness
	Generator   GeneratorConfig
}

// Transformer is the entry point of the page rendering pipeline
type Transformer struct {
	cfg       Config
	layout    media.Layout
	resolver  *Resolver
	planner   *Planner
	generator *Generator
	store     CacheStore
	mirror    storage.Storage
	registry  registry.Registry
	logger    *logrus.Logger
	inflight  singleflight.Group
}

func NewTransformer(
	cfg Config,
	layout media.Layout,
	backend manipulator.Backend,
	store CacheStore,
	mirror storage.Storage,
	r registry.Registry,
	logger *logrus.Logger,
) *Transformer {
	cfg.Breakpoints = cfg.Breakpoints.Normalize()
	if len(cfg.Breakpoints) == 0 {
		cfg.Breakpoints = media.DefaultBreakpoints
	}

	return &Transformer{
		cfg:       cfg,
		layout:    layout,
		resolver:  NewResolver(layout),
		planner:   NewPlanner(layout, store, r, cfg.Staleness, cfg.Generator.ScaleUp),
		generator: NewGenerator(cfg.Generator, layout, backend, store, mirror, r, logger),
		store:     store,
		mirror:    mirror,
		registry:  r,
		logger:    logger,
	}
}

func (t *Transformer) Layout() media.Layout {
	return t.layout
}

func (t *Transformer) Breakpoints() media.Breakpoints {
	return t.cfg.Breakpoints
}

func (t *Transformer) Staleness() Staleness {
	return t.cfg.Staleness
}

// Transform never fails, a tag that cannot be rewritten comes back unchanged.
// Only the requested breakpoints are listed, even when more are cached.
func (t *Transformer) Transform(ctx context.Context, tag string, breakpoints media.Breakpoints) string {
	src, ok := ExtractSrc(tag)
	if !ok {
		t.report(ctx, "", ErrNoSource)
		return tag
	}

	rec, err := t.Ensure(ctx, src, breakpoints)
	if err != nil {
		t.report(ctx, src, err)
		return tag
	}

	if set, ok := rec.(*media.DerivativeSet); ok {
		rec = set.Select(t.requested(breakpoints))
	}

	return Rewrite(tag, rec)
}

// requested normalizes the breakpoints of a call, none means the configured ones
func (t *Transformer) requested(breakpoints media.Breakpoints) media.Breakpoints {
	breakpoints = breakpoints.Normalize()
	if len(breakpoints) == 0 {
		return t.cfg.Breakpoints
	}

	return breakpoints
}

// Ensure resolves src and returns its current record, generating it when needed
func (t *Transformer) Ensure(ctx context.Context, src string, breakpoints media.Breakpoints) (media.Record, error) {
	source, err := t.resolver.Resolve(src)
	if err != nil {
		return nil, err
	}

	return t.EnsureSource(ctx, source, breakpoints)
}

// EnsureSource is Ensure for an already resolved source.
// Concurrent callers for the same source share a single generation.
func (t *Transformer) EnsureSource(ctx context.Context, source media.SourceImage, breakpoints media.Breakpoints) (media.Record, error) {
	breakpoints = t.requested(breakpoints)

	plan, err := t.planner.Plan(ctx, source, breakpoints)
	if err != nil {
		return nil, err
	}

	if !plan.NeedsGeneration {
		return plan.Record, nil
	}

	v, err, _ := t.inflight.Do(source.Key(), func() (interface{}, error) {
		// a generation finishing between the plan above and this flight is reused
		plan, err := t.planner.Plan(ctx, source, breakpoints)
		if err != nil {
			return nil, err
		}

		if !plan.NeedsGeneration {
			return plan.Record, nil
		}

		// widths other pages asked for stay available
		all := append(append(media.Breakpoints{}, breakpoints...), plan.Known...)

		return t.generator.Generate(ctx, source, all.Normalize())
	})
	if err != nil {
		return nil, err
	}

	return v.(media.Record), nil
}

// Lookup returns the persisted record of src without generating anything
func (t *Transformer) Lookup(ctx context.Context, src string) (media.SourceImage, media.Record, error) {
	source, err := t.resolver.Locate(src)
	if err != nil {
		return media.SourceImage{}, nil, err
	}

	rec, err := t.registry.Get(ctx, source.Key())
	if err != nil {
		return source, nil, err
	}

	return source, rec, nil
}

// Purge removes the derivatives, their mirrored copies and the record of src
func (t *Transformer) Purge(ctx context.Context, src string) (media.SourceImage, error) {
	source, err := t.resolver.Locate(src)
	if err != nil {
		return media.SourceImage{}, err
	}

	return source, t.PurgeSource(ctx, source)
}

// PurgeSource removes every derivative a record or the configured breakpoints
// may have produced for source, then the record itself
func (t *Transformer) PurgeSource(ctx context.Context, source media.SourceImage) error {
	bps := append(media.Breakpoints{}, t.cfg.Breakpoints...)
	if rec, err := t.registry.Get(ctx, source.Key()); err == nil {
		if set, ok := rec.(*media.DerivativeSet); ok {
			bps = append(bps, set.Breakpoints()...)
			bps = append(bps, set.WebpBreakpoints()...)
		}
	}

	namespace := t.layout.Namespace(source)
	lg := t.logger.WithField("source", source.Path)

	for _, bp := range bps.Normalize() {
		for _, ext := range []string{source.Ext, media.WEBP.String()} {
			filename := media.DerivativeName(source, bp, ext)

			if err := t.store.Remove(ctx, namespace, filename); err != nil {
				if errors.Is(err, storage.ErrPermission) {
					return errors.Wrapf(ErrFilesystemPermission, "%v", err)
				}

				return err
			}

			if t.mirror != nil {
				if err := t.mirror.Remove(ctx, namespace, filename); err != nil {
					lg.WithField("file", filename).Warnf("could not remove mirrored derivative: %v", err)
				}
			}
		}
	}

	if err := t.registry.Remove(ctx, source.Key()); err != nil && !errors.Is(err, registry.ErrEntityNotFound) {
		return err
	}

	lg.Info("derivatives purged")

	return nil
}

func (t *Transformer) report(ctx context.Context, src string, err error) {
	lg := t.logger.WithField("src", src)

	switch {
	case errors.Is(err, ErrFilesystemPermission):
		lg.Error(err)
		enqueue(ctx, LevelError, permissionMessage)
	case errors.Is(err, ErrNoSource),
		errors.Is(err, ErrPathOutsideMediaRoot),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrSourceUnreadable):
		lg.Debug(err)
	default:
		lg.Warn(err)
	}
}
