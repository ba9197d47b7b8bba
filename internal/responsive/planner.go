package responsive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/pkg/errors"
	"io"
	"os"
	"strings"
)

// Staleness decides when a cached derivative set stops being current
type Staleness string

const (
	// StalenessNever trusts a record as long as its smallest derivative exists
	StalenessNever Staleness = "never"
	// StalenessHash re-hashes the source on every lookup
	StalenessHash Staleness = "hash"
	// StalenessWatch leaves invalidation to the file watcher
	StalenessWatch Staleness = "watch"
)

var ErrInvalidStaleness = errors.New("invalid staleness policy")

func ParseStaleness(s string) (Staleness, error) {
	switch Staleness(strings.ToLower(strings.TrimSpace(s))) {
	case "", StalenessNever:
		return StalenessNever, nil
	case StalenessHash:
		return StalenessHash, nil
	case StalenessWatch:
		return StalenessWatch, nil
	}

	return "", errors.Wrapf(ErrInvalidStaleness, "%q, expected never, hash or watch", s)
}

// CacheStore is the local derivative store, it can create namespace directories
type CacheStore interface {
	storage.Storage
	EnsureDir(namespace string) error
}

// Plan is either a current record or a request for generation.
// Known lists the breakpoints of an outdated set, regenerated along with the requested ones.
type Plan struct {
	Record          media.Record
	NeedsGeneration bool
	Known           media.Breakpoints
}

// Planner decides whether the derivatives of a source are current
type Planner struct {
	layout    media.Layout
	store     CacheStore
	registry  registry.Registry
	staleness Staleness
	scaleUp   bool
}

func NewPlanner(layout media.Layout, store CacheStore, r registry.Registry, staleness Staleness, scaleUp bool) *Planner {
	return &Planner{
		layout:    layout,
		store:     store,
		registry:  r,
		staleness: staleness,
		scaleUp:   scaleUp,
	}
}

// Plan creates the derivative directory of src and looks the record up.
// A skip record is always current. A derivative set is current while its smallest
// derivative exists, it covers every requested breakpoint the source can serve
// and, with StalenessHash, the source hash matches.
func (p *Planner) Plan(ctx context.Context, src media.SourceImage, requested media.Breakpoints) (Plan, error) {
	if err := p.store.EnsureDir(p.layout.Namespace(src)); err != nil {
		if errors.Is(err, storage.ErrPermission) {
			return Plan{}, errors.Wrapf(ErrFilesystemPermission, "%v", err)
		}

		return Plan{}, errors.Wrapf(ErrFilesystemPermission, "could not create cache directory: %v", err)
	}

	rec, err := p.registry.Get(ctx, src.Key())
	if err != nil {
		if errors.Is(err, registry.ErrPermission) {
			return Plan{}, errors.Wrapf(ErrFilesystemPermission, "%v", err)
		}

		if errors.Is(err, registry.ErrEntityNotFound) || errors.Is(err, registry.ErrCorruptRecord) {
			return Plan{NeedsGeneration: true}, nil
		}

		// an unavailable registry must not turn every render into a generation
		return Plan{}, err
	}

	set, ok := rec.(*media.DerivativeSet)
	if !ok {
		return Plan{Record: rec}, nil
	}

	bps := set.Breakpoints()
	if len(bps) == 0 {
		return Plan{NeedsGeneration: true}, nil
	}

	outdated := Plan{NeedsGeneration: true, Known: bps}

	exists, err := p.store.Exists(ctx, p.layout.Namespace(src), media.DerivativeName(src, bps.Smallest(), src.Ext))
	if err != nil || !exists {
		return outdated, nil
	}

	if p.uncovered(set, requested) {
		return outdated, nil
	}

	if p.staleness == StalenessHash {
		hash, err := hashFile(src.Path)
		if err != nil {
			return Plan{}, errors.Wrapf(ErrSourceUnreadable, "%v", err)
		}

		if hash != set.Hash {
			return outdated, nil
		}
	}

	return Plan{Record: set}, nil
}

// uncovered reports whether a requested breakpoint the source could serve has no derivative.
// Sets recorded without the source width are assumed wide enough.
func (p *Planner) uncovered(set *media.DerivativeSet, requested media.Breakpoints) bool {
	for _, bp := range requested {
		if _, ok := set.Base[bp]; ok {
			continue
		}

		if p.scaleUp || set.Width == 0 || bp <= set.Width {
			return true
		}
	}

	return false
}

// hashFile is the md5 of the file contents, hex encoded
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(ErrSourceUnreadable, "could not open %s: %v", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(ErrSourceUnreadable, "could not read %s: %v", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
