package responsive

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry/fsregistry"
	"github.com/denismitr/respimg/internal/storage"
	"github.com/denismitr/respimg/internal/storage/diskstorage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// fakeBackend pretends every file is an image of the configured size
// and counts how often it is called
type fakeBackend struct {
	width  int
	height int
	mime   string
	webp   bool

	mu     sync.Mutex
	probes int
	opens  int
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) SupportsWebp() bool { return b.webp }

func (b *fakeBackend) Shutdown() {}

func (b *fakeBackend) Probe(path string) (media.Info, error) {
	b.mu.Lock()
	b.probes++
	b.mu.Unlock()

	if _, err := os.Stat(path); err != nil {
		return media.Info{}, errors.Wrap(manipulator.ErrBadImage, err.Error())
	}

	return media.Info{Width: b.width, Height: b.height, Mime: b.mime, BitDepth: 8, Channels: 3}, nil
}

func (b *fakeBackend) Open(path string) (manipulator.Canvas, error) {
	b.mu.Lock()
	b.opens++
	b.mu.Unlock()

	return &fakeCanvas{width: b.width, height: b.height, webp: b.webp}, nil
}

func (b *fakeBackend) calls() (probes, opens int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.probes, b.opens
}

type fakeCanvas struct {
	width  int
	height int
	webp   bool
}

func (c *fakeCanvas) Width() int  { return c.width }
func (c *fakeCanvas) Height() int { return c.height }

func (c *fakeCanvas) Resize(width int, allowUpscale bool) (manipulator.Canvas, error) {
	if !allowUpscale && width > c.width {
		width = c.width
	}

	return &fakeCanvas{width: width, height: c.height * width / c.width, webp: c.webp}, nil
}

func (c *fakeCanvas) Encode(dst io.Writer, ext media.Extension, quality int) error {
	if ext == media.WEBP && !c.webp {
		return manipulator.ErrUnsupportedFormat
	}

	_, err := fmt.Fprintf(dst, "%s %dx%d q%d", ext, c.width, c.height, quality)
	return err
}

func (c *fakeCanvas) Close() {}

// lockedStore refuses to create directories
type lockedStore struct {
	*diskstorage.LocalStorage
}

func (s lockedStore) EnsureDir(namespace string) error {
	return errors.Wrap(storage.ErrPermission, "mkdir "+namespace+": permission denied")
}

type testSite struct {
	layout   media.Layout
	store    *diskstorage.LocalStorage
	registry *fsregistry.FileRegistry
}

func newTestSite(t *testing.T) *testSite {
	t.Helper()

	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "images"), 0755))

	layout, err := media.NewLayout(site, "images", "images", "https://example.com/")
	require.NoError(t, err)

	return &testSite{
		layout:   layout,
		store:    diskstorage.New(layout.CacheRoot),
		registry: fsregistry.New(layout),
	}
}

// writeSource creates a file under the media root and returns its md5
func (s *testSite) writeSource(t *testing.T, rel, contents string) string {
	t.Helper()

	p := filepath.Join(s.layout.MediaRoot, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(contents), 0644))

	sum := md5.Sum([]byte(contents))

	return hex.EncodeToString(sum[:])
}

func (s *testSite) cached(rel string) string {
	return filepath.Join(s.layout.CacheDir(), filepath.FromSlash(rel))
}

func (s *testSite) transformer(backend manipulator.Backend, cfg Config) *Transformer {
	return s.transformerWithStore(backend, s.store, cfg)
}

func (s *testSite) transformerWithStore(backend manipulator.Backend, store CacheStore, cfg Config) *Transformer {
	return NewTransformer(cfg, s.layout, backend, store, nil, s.registry, testLogger())
}

func testLogger() *logrus.Logger {
	lg := logrus.New()
	lg.Out = io.Discard

	return lg
}

var bg = context.Background()
