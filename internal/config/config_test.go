package config

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 85, s.Quality)
	assert.False(t, s.ScaleUp)
	assert.Equal(t, media.DefaultBreakpoints, s.BreakpointList())
	assert.Equal(t, "images", s.CacheDir)
	assert.Equal(t, RegistryFS, s.Registry)
	assert.Equal(t, ":3333", s.Proxy.Port)
	assert.Equal(t, 500*time.Millisecond, s.Watcher.Debounce)
}

func TestParse(t *testing.T) {
	s, err := Parse([]byte(`
site_root: /var/www/html
base_url: https://example.com/
media_dir: uploads
cache_dir: media
quality: 70
scale_up: true
breakpoints: [480, 200, 480, 1200]
backend: imaging
staleness: hash
registry: Mongo
proxy:
  port: ":8080"
  read_timeout: 2s
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/www/html", s.SiteRoot)
	assert.Equal(t, "uploads", s.MediaDir)
	assert.Equal(t, "media", s.CacheDir)
	assert.Equal(t, 70, s.Quality)
	assert.True(t, s.ScaleUp)
	assert.Equal(t, []int{200, 480, 1200}, s.Breakpoints)
	assert.Equal(t, "imaging", s.Backend)
	assert.Equal(t, "hash", s.Staleness)
	assert.Equal(t, RegistryMongo, s.Registry)
	assert.Equal(t, ":8080", s.Proxy.Port)
	assert.Equal(t, 2*time.Second, s.Proxy.ReadTimeout)
	assert.Equal(t, 30*time.Second, s.Proxy.WriteTimeout)
}

func TestParse_invalid(t *testing.T) {
	tt := []struct {
		name string
		yml  string
	}{
		{name: "quality too high", yml: "quality: 101"},
		{name: "negative breakpoint", yml: "breakpoints: [200, -1]"},
		{name: "unknown registry", yml: "registry: redis"},
		{name: "malformed", yml: "breakpoints: {a: b"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yml))
			assert.True(t, errors.Is(err, ErrInvalidSettings), "got %v", err)
		})
	}
}

func TestSettings_Layout(t *testing.T) {
	site := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(site, "images"), 0755))

	path := filepath.Join(site, "respimg.yml")
	require.NoError(t, os.WriteFile(path, []byte("site_root: "+site+"\n"), 0644))

	s, err := Load(path)
	require.NoError(t, err)

	l, err := s.Layout()
	require.NoError(t, err)
	assert.Equal(t, l.MediaRoot, l.CacheRoot)
	assert.Equal(t, filepath.Join(l.MediaRoot, media.CacheDirName), l.CacheDir())

	_, err = Default().Layout()
	assert.True(t, errors.Is(err, ErrInvalidSettings))
}
