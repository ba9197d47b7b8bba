package media

import (
	"fmt"
	"github.com/pkg/errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var ErrInvalidLayout = errors.New("invalid layout")

const (
	CacheDirName = "cached-resp-images"
	DataDirName  = "cached-resp-images-data"
	sizeSplit    = "_"
)

// Layout maps source images to their derivative files, records and URLs.
// All roots are absolute, cleaned paths.
type Layout struct {
	// SiteRoot is the document root src attributes are resolved against
	SiteRoot string
	// MediaRoot is the only subtree source images may come from
	MediaRoot string
	// CacheRoot holds the derivative and record directories, inside SiteRoot
	CacheRoot string
	// BaseURL is stripped from absolute src attributes
	BaseURL string
}

// NewLayout canonicalizes the roots, mediaDir and cacheDir are relative to siteRoot.
// The site and media roots must exist, the cache root is created when missing.
func NewLayout(siteRoot, mediaDir, cacheDir, baseURL string) (Layout, error) {
	site, err := canonical(siteRoot)
	if err != nil {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "site root: %v", err)
	}

	mediaRoot, err := canonical(filepath.Join(site, mediaDir))
	if err != nil {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "media root: %v", err)
	}

	cacheRoot := filepath.Join(site, cacheDir)
	if err := os.MkdirAll(cacheRoot, 0755); err != nil {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "cache root: %v", err)
	}

	if cacheRoot, err = canonical(cacheRoot); err != nil {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "cache root: %v", err)
	}

	if !within(site, cacheRoot) {
		return Layout{}, errors.Wrapf(ErrInvalidLayout, "cache root %s is outside the site root %s", cacheRoot, site)
	}

	return Layout{
		SiteRoot:  site,
		MediaRoot: mediaRoot,
		CacheRoot: cacheRoot,
		BaseURL:   baseURL,
	}, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	return filepath.EvalSymlinks(abs)
}

func (l Layout) CacheDir() string {
	return filepath.Join(l.CacheRoot, CacheDirName)
}

func (l Layout) DataDir() string {
	return filepath.Join(l.CacheRoot, DataDirName)
}

// Namespace is the cache-dir-relative directory holding the derivatives of src
func (l Layout) Namespace(src SourceImage) string {
	return path.Join(CacheDirName, src.Dir)
}

func DerivativeName(src SourceImage, breakpoint int, ext string) string {
	return fmt.Sprintf("%s%s%d.%s", src.Filename, sizeSplit, breakpoint, ext)
}

func (l Layout) DerivativePath(src SourceImage, breakpoint int, ext string) string {
	return filepath.Join(l.CacheDir(), filepath.FromSlash(src.Dir), DerivativeName(src, breakpoint, ext))
}

// RecordPathForKey resolves a registry key to its sidecar file
func (l Layout) RecordPathForKey(key string) string {
	return filepath.Join(l.DataDir(), filepath.FromSlash(key)+".json")
}

// URL turns an absolute path under the site root into a root-relative URL
func (l Layout) URL(absPath string) string {
	rel, err := filepath.Rel(l.SiteRoot, absPath)
	if err != nil {
		return ""
	}

	return (&url.URL{Path: "/" + filepath.ToSlash(rel)}).EscapedPath()
}

// DerivativeURL of a derivative, without the hash query
func (l Layout) DerivativeURL(src SourceImage, breakpoint int, ext string) string {
	return l.URL(l.DerivativePath(src, breakpoint, ext))
}

// CacheURLPrefix is the URL path every derivative URL starts with
func (l Layout) CacheURLPrefix() string {
	return l.URL(l.CacheDir()) + "/"
}

// InCache reports whether an absolute path lies in one of the cache directories
func (l Layout) InCache(absPath string) bool {
	return within(l.CacheDir(), absPath) || within(l.DataDir(), absPath)
}

// InMedia reports whether an absolute path lies in the media root
func (l Layout) InMedia(absPath string) bool {
	return within(l.MediaRoot, absPath)
}

func within(root, p string) bool {
	if p == root {
		return true
	}

	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

// SourceFromPath builds the SourceImage of an absolute path inside the media root
func (l Layout) SourceFromPath(absPath string) (SourceImage, bool) {
	if !l.InMedia(absPath) || absPath == l.MediaRoot {
		return SourceImage{}, false
	}

	rel, err := filepath.Rel(l.MediaRoot, absPath)
	if err != nil {
		return SourceImage{}, false
	}

	rel = filepath.ToSlash(rel)
	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}

	base := path.Base(rel)
	ext := path.Ext(base)

	return SourceImage{
		Dir:      dir,
		Filename: strings.TrimSuffix(base, ext),
		Ext:      strings.TrimPrefix(ext, "."),
		Path:     absPath,
	}, true
}
