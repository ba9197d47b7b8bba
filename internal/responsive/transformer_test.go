package responsive

import (
	"fmt"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestTransformer_Transform(t *testing.T) {
	t.Run("it generates the breakpoints not wider than the source", func(t *testing.T) {
		site := newTestSite(t)
		hash := site.writeSource(t, "2020/hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{})

		out := tr.Transform(bg, `<img src="/images/2020/hero.jpg" alt="Hero">`, media.Breakpoints{200, 480, 1200})

		expected := `<picture class="responsive-image">` +
			`<source type="image/jpeg" sizes="(min-width: 480px) 480px, (min-width: 200px) 200px" ` +
			`srcset="/images/cached-resp-images/2020/hero_480.jpg?` + hash + ` 480w, ` +
			`/images/cached-resp-images/2020/hero_200.jpg?` + hash + ` 200w">` +
			`<img loading="lazy" src="/images/cached-resp-images/2020/hero_200.jpg?` + hash + `" alt="Hero">` +
			`</picture>`

		assert.Equal(t, expected, out)
		assert.FileExists(t, site.cached("2020/hero_200.jpg"))
		assert.FileExists(t, site.cached("2020/hero_480.jpg"))
		assert.NoFileExists(t, site.cached("2020/hero_1200.jpg"))
		assert.NoFileExists(t, site.cached("2020/hero_200.webp"))

		rec, err := site.registry.Get(bg, "2020/hero.jpg")
		require.NoError(t, err)
		set, ok := rec.(*media.DerivativeSet)
		require.True(t, ok)
		assert.Equal(t, media.Breakpoints{200, 480}, set.Breakpoints())
		assert.Equal(t, "/images/cached-resp-images/2020/hero_200.jpg", set.Tag)
		assert.Equal(t, hash, set.Hash)
	})

	t.Run("it lists webp derivatives first when the backend encodes them", func(t *testing.T) {
		site := newTestSite(t)
		hash := site.writeSource(t, "hero.png", "hero")
		backend := &fakeBackend{width: 500, height: 500, mime: "image/png", webp: true}
		tr := site.transformer(backend, Config{})

		out := tr.Transform(bg, `<img src="https://example.com/images/hero.png">`, media.Breakpoints{200, 320})

		expected := `<picture class="responsive-image">` +
			`<source type="image/webp" sizes="(min-width: 320px) 320px, (min-width: 200px) 200px" ` +
			`srcset="/images/cached-resp-images/hero_320.webp?` + hash + ` 320w, ` +
			`/images/cached-resp-images/hero_200.webp?` + hash + ` 200w">` +
			`<source type="image/png" sizes="(min-width: 320px) 320px, (min-width: 200px) 200px" ` +
			`srcset="/images/cached-resp-images/hero_320.png?` + hash + ` 320w, ` +
			`/images/cached-resp-images/hero_200.png?` + hash + ` 200w">` +
			`<img loading="lazy" src="/images/cached-resp-images/hero_200.png?` + hash + `">` +
			`</picture>`

		assert.Equal(t, expected, out)
		assert.FileExists(t, site.cached("hero_320.webp"))
	})

	t.Run("it allows upscaling when enabled", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{Generator: GeneratorConfig{ScaleUp: true}})

		out := tr.Transform(bg, `<img src="/images/hero.jpg">`, media.Breakpoints{200, 480, 1200})

		assert.Contains(t, out, "hero_1200.jpg")
		assert.FileExists(t, site.cached("hero_1200.jpg"))

		contents, err := os.ReadFile(site.cached("hero_1200.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "jpg 1200x720 q85", string(contents))
	})

	t.Run("it keeps an existing loading attribute", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		tr := site.transformer(&fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}, Config{})

		out := tr.Transform(bg, `<img loading="eager" src="/images/hero.jpg">`, media.Breakpoints{200})

		assert.Contains(t, out, `<img loading="eager" src="/images/cached-resp-images/hero_200.jpg?`)
		assert.Equal(t, 1, strings.Count(out, "loading="))
		assert.NotContains(t, out, "lazy")
	})

	t.Run("it uses the configured breakpoints when none are given", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		tr := site.transformer(&fakeBackend{width: 400, height: 300, mime: "image/jpeg"}, Config{
			Breakpoints: media.Breakpoints{300, 100},
		})

		out := tr.Transform(bg, `<img src="/images/hero.jpg">`, nil)

		assert.Contains(t, out, `sizes="(min-width: 300px) 300px, (min-width: 100px) 100px"`)
	})
}

func TestTransformer_Transform_sameNameDifferentExtension(t *testing.T) {
	site := newTestSite(t)
	pngHash := site.writeSource(t, "photo.png", "png photo")
	jpgHash := site.writeSource(t, "photo.jpg", "jpg photo")
	backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
	tr := site.transformer(backend, Config{})
	bps := media.Breakpoints{200, 480}

	pngTag := `<img src="/images/photo.png">`
	jpgTag := `<img src="/images/photo.jpg">`

	first := tr.Transform(bg, pngTag, bps)
	jpgOut := tr.Transform(bg, jpgTag, bps)
	second := tr.Transform(bg, pngTag, bps)

	assert.Equal(t, first, second)
	assert.Contains(t, second, `src="/images/cached-resp-images/photo_200.png?`+pngHash+`"`)
	assert.NotContains(t, second, ".jpg")
	assert.NotContains(t, second, jpgHash)
	assert.Contains(t, jpgOut, `src="/images/cached-resp-images/photo_200.jpg?`+jpgHash+`"`)
	assert.NotContains(t, jpgOut, ".png")

	_, opens := backend.calls()
	assert.Equal(t, 2, opens)

	// purging one source leaves the other alone
	_, err := tr.Purge(bg, "/images/photo.jpg")
	require.NoError(t, err)

	_, err = site.registry.Get(bg, "photo.jpg")
	assert.True(t, errors.Is(err, registry.ErrEntityNotFound))

	_, rec, err := tr.Lookup(bg, "/images/photo.png")
	require.NoError(t, err)
	assert.Equal(t, pngHash, rec.(*media.DerivativeSet).Hash)
	assert.FileExists(t, site.cached("photo_200.png"))
}

func TestTransformer_Transform_requestedBreakpoints(t *testing.T) {
	site := newTestSite(t)
	hash := site.writeSource(t, "a.jpg", "a")
	backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
	tr := site.transformer(backend, Config{})
	tag := `<img src="/images/a.jpg">`
	url := func(bp int) string {
		return fmt.Sprintf("/images/cached-resp-images/a_%d.jpg?%s %dw", bp, hash, bp)
	}

	t.Run("widths the source can serve are generated on request", func(t *testing.T) {
		first := tr.Transform(bg, tag, media.Breakpoints{200, 480})
		assert.Contains(t, first, url(480)+", "+url(200))

		out := tr.Transform(bg, tag, media.Breakpoints{320, 768})

		assert.Contains(t, out, `sizes="(min-width: 768px) 768px, (min-width: 320px) 320px"`)
		assert.Contains(t, out, `srcset="`+url(768)+", "+url(320)+`"`)
		assert.Contains(t, out, `<img loading="lazy" src="/images/cached-resp-images/a_320.jpg?`+hash+`">`)
		assert.NotContains(t, out, "a_480.jpg")
		assert.NotContains(t, out, "a_200.jpg")

		_, opens := backend.calls()
		assert.Equal(t, 2, opens)
	})

	t.Run("earlier widths stay cached", func(t *testing.T) {
		out := tr.Transform(bg, tag, media.Breakpoints{200, 480})

		assert.Contains(t, out, `srcset="`+url(480)+", "+url(200)+`"`)
		assert.NotContains(t, out, "a_768.jpg")

		_, opens := backend.calls()
		assert.Equal(t, 2, opens)

		rec, err := site.registry.Get(bg, "a.jpg")
		require.NoError(t, err)
		assert.Equal(t, media.Breakpoints{200, 320, 480, 768}, rec.(*media.DerivativeSet).Breakpoints())
		assert.Equal(t, 1000, rec.(*media.DerivativeSet).Width)
	})

	t.Run("widths above the source are not worth a regeneration", func(t *testing.T) {
		out := tr.Transform(bg, tag, media.Breakpoints{480, 1200})

		assert.Contains(t, out, `srcset="`+url(480)+`"`)
		assert.NotContains(t, out, "1200")

		_, opens := backend.calls()
		assert.Equal(t, 2, opens)
	})
}

func TestTransformer_Transform_reportsMissingSrc(t *testing.T) {
	site := newTestSite(t)
	lg, hook := test.NewNullLogger()
	lg.SetLevel(logrus.DebugLevel)
	tr := NewTransformer(Config{}, site.layout, &fakeBackend{}, site.store, nil, site.registry, lg)

	tag := `<img alt="nothing">`
	assert.Equal(t, tag, tr.Transform(bg, tag, nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.DebugLevel, entry.Level)
	assert.Equal(t, ErrNoSource.Error(), entry.Message)
}

func TestTransformer_Transform_passThrough(t *testing.T) {
	tt := []struct {
		name string
		tag  string
	}{
		{name: "parent traversal", tag: `<img src="../../etc/passwd">`},
		{name: "traversal through the media root", tag: `<img src="/images/../../etc/passwd.jpg">`},
		{name: "encoded traversal", tag: `<img src="/images/%2e%2e/%2e%2e/etc/passwd.jpg">`},
		{name: "remote image", tag: `<img src="https://cdn.example.org/images/hero.jpg">`},
		{name: "protocol relative", tag: `<img src="//cdn.example.org/images/hero.jpg">`},
		{name: "data uri", tag: `<img src="data:image/png;base64,AAAA">`},
		{name: "outside the media root", tag: `<img src="/templates/logo.jpg">`},
		{name: "unsupported extension", tag: `<img src="/images/anim.gif">`},
		{name: "missing file", tag: `<img src="/images/missing.jpg">`},
		{name: "derivative", tag: `<img src="/images/cached-resp-images/hero_200.jpg">`},
		{name: "symlink leaving the media root", tag: `<img src="/images/link.jpg">`},
		{name: "no src", tag: `<img alt="nothing">`},
		{name: "empty src", tag: `<img src="">`},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			site := newTestSite(t)
			site.writeSource(t, "anim.gif", "gif")
			require.NoError(t, os.MkdirAll(filepath.Join(site.layout.SiteRoot, "templates"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(site.layout.SiteRoot, "templates", "logo.jpg"), []byte("logo"), 0644))

			outside := filepath.Join(t.TempDir(), "secret.jpg")
			require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
			require.NoError(t, os.Symlink(outside, filepath.Join(site.layout.MediaRoot, "link.jpg")))

			backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
			tr := site.transformer(backend, Config{})

			assert.Equal(t, tc.tag, tr.Transform(bg, tc.tag, media.Breakpoints{200}))

			probes, opens := backend.calls()
			assert.Equal(t, 0, probes)
			assert.Equal(t, 0, opens)
			assert.NoDirExists(t, site.layout.CacheDir())
			assert.NoDirExists(t, site.layout.DataDir())
		})
	}
}

func TestTransformer_Transform_skip(t *testing.T) {
	t.Run("a skipped source is never handed to the backend again", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "icon.png", "icon")
		backend := &fakeBackend{width: 150, height: 150, mime: "image/png"}
		tr := site.transformer(backend, Config{})
		tag := `<img src="/images/icon.png">`

		assert.Equal(t, tag, tr.Transform(bg, tag, media.Breakpoints{200, 480}))
		assert.Equal(t, tag, tr.Transform(bg, tag, media.Breakpoints{200, 480}))

		probes, opens := backend.calls()
		assert.Equal(t, 1, probes)
		assert.Equal(t, 0, opens)

		data, err := os.ReadFile(site.layout.RecordPathForKey("icon.png"))
		require.NoError(t, err)
		assert.Equal(t, "false", string(data))
	})

	t.Run("a width equal to the smallest breakpoint is skipped", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "icon.png", "icon")
		tr := site.transformer(&fakeBackend{width: 200, height: 150, mime: "image/png"}, Config{})
		tag := `<img src="/images/icon.png">`

		assert.Equal(t, tag, tr.Transform(bg, tag, media.Breakpoints{200, 480}))

		rec, err := site.registry.Get(bg, "icon.png")
		require.NoError(t, err)
		assert.Equal(t, media.Skip{}, rec)
	})

	t.Run("no backend", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		tr := site.transformer(nil, Config{})
		tag := `<img src="/images/hero.jpg">`

		assert.Equal(t, tag, tr.Transform(bg, tag, media.Breakpoints{200}))

		rec, err := site.registry.Get(bg, "hero.jpg")
		require.NoError(t, err)
		assert.Equal(t, media.Skip{}, rec)
	})

	t.Run("unsupported mime behind a supported extension", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "GIF89a")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/gif"}
		tr := site.transformer(backend, Config{})
		tag := `<img src="/images/hero.jpg">`

		assert.Equal(t, tag, tr.Transform(bg, tag, media.Breakpoints{200}))

		rec, err := site.registry.Get(bg, "hero.jpg")
		require.NoError(t, err)
		assert.Equal(t, media.Skip{}, rec)
	})

	t.Run("memory ceiling exceeded queues a warning", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "huge.jpg", "huge")
		backend := &fakeBackend{width: 10000, height: 10000, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{Generator: GeneratorConfig{MemoryCeiling: 64 << 20}})
		tag := `<img src="/images/huge.jpg">`

		msgs := &Messages{}
		assert.Equal(t, tag, tr.Transform(WithMessages(bg, msgs), tag, media.Breakpoints{200}))

		all := msgs.All()
		require.Len(t, all, 1)
		assert.Equal(t, LevelWarning, all[0].Level)
		assert.Contains(t, all[0].Text, "huge.jpg")

		_, opens := backend.calls()
		assert.Equal(t, 0, opens)

		rec, err := site.registry.Get(bg, "huge.jpg")
		require.NoError(t, err)
		assert.Equal(t, media.Skip{}, rec)
	})
}

func TestTransformer_Transform_permissionProblem(t *testing.T) {
	site := newTestSite(t)
	site.writeSource(t, "hero.jpg", "hero")
	backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
	tr := site.transformerWithStore(backend, lockedStore{site.store}, Config{})
	tag := `<img src="/images/hero.jpg">`

	msgs := &Messages{}
	assert.Equal(t, tag, tr.Transform(WithMessages(bg, msgs), tag, media.Breakpoints{200}))

	all := msgs.All()
	require.Len(t, all, 1)
	assert.Equal(t, LevelError, all[0].Level)

	// nothing is persisted, the next render tries again
	_, err := site.registry.Get(bg, "hero.jpg")
	assert.True(t, errors.Is(err, registry.ErrEntityNotFound))

	probes, _ := backend.calls()
	assert.Equal(t, 0, probes)
}

func TestTransformer_Transform_cache(t *testing.T) {
	tag := `<img src="/images/hero.jpg" alt="">`
	bps := media.Breakpoints{200, 480}

	t.Run("it is idempotent", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{})

		first := tr.Transform(bg, tag, bps)
		second := tr.Transform(bg, tag, bps)

		assert.Equal(t, first, second)
		probes, opens := backend.calls()
		assert.Equal(t, 1, probes)
		assert.Equal(t, 1, opens)
	})

	t.Run("a missing smallest derivative triggers regeneration", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{})

		first := tr.Transform(bg, tag, bps)
		require.NoError(t, os.Remove(site.cached("hero_200.jpg")))
		second := tr.Transform(bg, tag, bps)

		assert.Equal(t, first, second)
		_, opens := backend.calls()
		assert.Equal(t, 2, opens)
		assert.FileExists(t, site.cached("hero_200.jpg"))
	})

	t.Run("never staleness ignores source edits", func(t *testing.T) {
		site := newTestSite(t)
		hash := site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{Staleness: StalenessNever})

		tr.Transform(bg, tag, bps)
		site.writeSource(t, "hero.jpg", "edited hero")
		out := tr.Transform(bg, tag, bps)

		assert.Contains(t, out, hash)
		_, opens := backend.calls()
		assert.Equal(t, 1, opens)
	})

	t.Run("hash staleness regenerates edited sources", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{Staleness: StalenessHash})

		tr.Transform(bg, tag, bps)
		tr.Transform(bg, tag, bps)
		edited := site.writeSource(t, "hero.jpg", "edited hero")
		out := tr.Transform(bg, tag, bps)

		assert.Contains(t, out, "?"+edited)
		_, opens := backend.calls()
		assert.Equal(t, 2, opens)
	})

	t.Run("concurrent renders share one generation", func(t *testing.T) {
		site := newTestSite(t)
		site.writeSource(t, "hero.jpg", "hero")
		backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg"}
		tr := site.transformer(backend, Config{})

		var wg sync.WaitGroup
		results := make([]string, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = tr.Transform(bg, tag, bps)
			}(i)
		}
		wg.Wait()

		for _, r := range results {
			assert.Equal(t, results[0], r)
		}

		_, opens := backend.calls()
		assert.Equal(t, 1, opens)
	})
}

func TestTransformer_LookupAndPurge(t *testing.T) {
	site := newTestSite(t)
	site.writeSource(t, "2020/hero.jpg", "hero")
	backend := &fakeBackend{width: 1000, height: 600, mime: "image/jpeg", webp: true}
	tr := site.transformer(backend, Config{Breakpoints: media.Breakpoints{200, 480}})

	_, _, err := tr.Lookup(bg, "/images/2020/hero.jpg")
	assert.True(t, errors.Is(err, registry.ErrEntityNotFound))

	tr.Transform(bg, `<img src="/images/2020/hero.jpg">`, nil)

	source, rec, err := tr.Lookup(bg, "/images/2020/hero.jpg")
	require.NoError(t, err)
	assert.Equal(t, "2020/hero.jpg", source.Key())
	assert.IsType(t, &media.DerivativeSet{}, rec)

	_, err = tr.Purge(bg, "/images/2020/hero.jpg")
	require.NoError(t, err)

	for _, name := range []string{"hero_200.jpg", "hero_480.jpg", "hero_200.webp", "hero_480.webp"} {
		assert.NoFileExists(t, site.cached("2020/"+name))
	}

	assert.NoFileExists(t, site.layout.RecordPathForKey("2020/hero.jpg"))

	_, err = tr.Purge(bg, "/images/../../etc/passwd.jpg")
	assert.True(t, errors.Is(err, ErrPathOutsideMediaRoot))

	// the source is gone, its derivatives can still be purged
	require.NoError(t, os.Remove(filepath.Join(site.layout.MediaRoot, "2020", "hero.jpg")))
	_, err = tr.Purge(bg, "/images/2020/hero.jpg")
	assert.NoError(t, err)
}

func TestTransformer_imagingBackend(t *testing.T) {
	site := newTestSite(t)

	img := image.NewNRGBA(image.Rect(0, 0, 640, 400))
	for x := 0; x < 640; x++ {
		img.Set(x, x%400, color.NRGBA{R: 200, A: 255})
	}

	p := filepath.Join(site.layout.MediaRoot, "plot.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	backend, err := manipulator.Select(&manipulator.Config{Backend: "imaging"})
	require.NoError(t, err)

	tr := site.transformer(backend, Config{})
	out := tr.Transform(bg, `<img src="/images/plot.png">`, media.Breakpoints{200, 320, 480, 768})

	assert.True(t, strings.HasPrefix(out, `<picture class="responsive-image"><source type="image/png"`))
	assert.NotContains(t, out, "image/webp")

	for _, bp := range []int{200, 320, 480} {
		f, err := os.Open(site.cached(fmt.Sprintf("plot_%d.png", bp)))
		require.NoError(t, err)

		cfg, err := png.DecodeConfig(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, bp, cfg.Width)
		assert.Equal(t, bp*400/640, cfg.Height)
	}

	assert.NoFileExists(t, site.cached("plot_768.png"))
}
