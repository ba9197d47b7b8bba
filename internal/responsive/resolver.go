package responsive

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/pkg/errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var rxSrc = regexp.MustCompile(`(?i)(^|\s)src\s*=\s*"([^"]*)"`)

// ExtractSrc returns the value of the src attribute of an <img> tag
func ExtractSrc(tag string) (string, bool) {
	match := rxSrc.FindStringSubmatch(tag)
	if match == nil || strings.TrimSpace(match[2]) == "" {
		return "", false
	}

	return match[2], true
}

// Resolver maps src attributes onto source images inside the media root
type Resolver struct {
	layout media.Layout
}

func NewResolver(layout media.Layout) *Resolver {
	return &Resolver{layout: layout}
}

// Resolve canonicalizes src and refuses anything outside the media root,
// derivatives, unsupported extensions and missing files
func (r *Resolver) Resolve(src string) (media.SourceImage, error) {
	source, err := r.Locate(src)
	if err != nil {
		return media.SourceImage{}, err
	}

	info, err := os.Stat(source.Path)
	if err != nil {
		return media.SourceImage{}, errors.Wrapf(ErrSourceUnreadable, "%s: %v", src, err)
	}

	if !info.Mode().IsRegular() {
		return media.SourceImage{}, errors.Wrapf(ErrSourceUnreadable, "%s is not a regular file", src)
	}

	return source, nil
}

// Locate applies the same boundary checks as Resolve but accepts a source that
// no longer exists, its cached derivatives can still be purged
func (r *Resolver) Locate(src string) (media.SourceImage, error) {
	rel, err := r.sitePath(src)
	if err != nil {
		return media.SourceImage{}, err
	}

	canonical, err := canonicalPath(filepath.Join(r.layout.SiteRoot, filepath.FromSlash(rel)))
	if err != nil {
		return media.SourceImage{}, errors.Wrapf(ErrSourceUnreadable, "could not resolve %s: %v", src, err)
	}

	if !r.layout.InMedia(canonical) {
		return media.SourceImage{}, errors.Wrapf(ErrPathOutsideMediaRoot, "%s resolves to %s", src, canonical)
	}

	if r.layout.InCache(canonical) {
		return media.SourceImage{}, errors.Wrapf(ErrUnsupportedFormat, "%s is a derivative", src)
	}

	source, ok := r.layout.SourceFromPath(canonical)
	if !ok || !media.IsSupportedSource(source.Ext) {
		return media.SourceImage{}, errors.Wrapf(ErrUnsupportedFormat, "%s", src)
	}

	return source, nil
}

// canonicalPath evaluates symlinks of p, or of its closest existing parent
// when p does not exist
func canonicalPath(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}

	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(p)
	if parent == p {
		return "", err
	}

	dir, err := canonicalPath(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, filepath.Base(p)), nil
}

// sitePath strips the base URL, query and fragment and returns a clean
// site-root-relative path
func (r *Resolver) sitePath(src string) (string, error) {
	src = strings.TrimSpace(src)

	if r.layout.BaseURL != "" && strings.HasPrefix(src, r.layout.BaseURL) {
		src = strings.TrimPrefix(src, r.layout.BaseURL)
	}

	if strings.Contains(src, "://") || strings.HasPrefix(src, "//") || strings.HasPrefix(strings.ToLower(src), "data:") {
		return "", errors.Wrapf(ErrPathOutsideMediaRoot, "%s is not a local image", src)
	}

	if i := strings.IndexAny(src, "?#"); i >= 0 {
		src = src[:i]
	}

	unescaped, err := url.PathUnescape(src)
	if err != nil {
		return "", errors.Wrapf(ErrSourceUnreadable, "malformed src %s: %v", src, err)
	}

	// cleaning against the root keeps .. from climbing above the site
	return strings.TrimPrefix(path.Clean("/"+unescaped), "/"), nil
}
