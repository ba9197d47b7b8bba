package proxy

import (
	"context"
	"fmt"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/responsive"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrResourceNotFound = errors.New("requested resource not found")
var ErrInternalError = errors.New("proxy error")
var ErrBadInput = errors.New("bad user input")

// Request names one derivative file
type Request struct {
	// Dir is relative to the cache directory, slash separated
	Dir        string
	Name       string
	Breakpoint int
	Ext        string
}

func (r Request) Filename() string {
	return fmt.Sprintf("%s_%d.%s", r.Name, r.Breakpoint, r.Ext)
}

func (r Request) Namespace() string {
	return path.Join(media.CacheDirName, r.Dir)
}

// Derivative is an open derivative file ready to be streamed
type Derivative struct {
	Content io.ReadSeekCloser
	Name    string
	Mime    string
	ModTime time.Time
}

type DerivativeProxy interface {
	Open(ctx context.Context, req Request) (*Derivative, error)
}

// Locator finds derivative files of the local cache
type Locator interface {
	Path(namespace, filename string) (string, error)
}

// OnTheFlyDerivativeProxy serves cached derivatives and generates
// the derivatives of a source on the first miss
type OnTheFlyDerivativeProxy struct {
	transformer *responsive.Transformer
	locator     Locator
	logger      *logrus.Logger
}

func NewOnTheFlyDerivativeProxy(
	l *logrus.Logger,
	t *responsive.Transformer,
	locator Locator,
) *OnTheFlyDerivativeProxy {
	return &OnTheFlyDerivativeProxy{
		transformer: t,
		locator:     locator,
		logger:      l,
	}
}

func (p *OnTheFlyDerivativeProxy) Open(ctx context.Context, req Request) (*Derivative, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	mime, err := media.GuessMimeFromExtension(req.Ext)
	if err != nil {
		return nil, errors.Wrap(ErrBadInput, err.Error())
	}

	// Step 1: serve the cached file when there is one
	d, err := p.open(req, mime)
	if err == nil {
		return d, nil
	}

	if !errors.Is(err, ErrResourceNotFound) {
		return nil, err
	}

	// Step 2: generate the derivatives of the source and look again
	if err := p.ensureSource(ctx, req); err != nil {
		return nil, err
	}

	return p.open(req, mime)
}

func (p *OnTheFlyDerivativeProxy) open(req Request, mime string) (*Derivative, error) {
	target, err := p.locator.Path(req.Namespace(), req.Filename())
	if err != nil {
		return nil, errors.Wrap(ErrBadInput, err.Error())
	}

	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrResourceNotFound, "derivative %s not found", req.Filename())
		}

		return nil, errors.Wrapf(ErrInternalError, "could not open %s: %v", req.Filename(), err)
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, errors.Wrapf(ErrResourceNotFound, "derivative %s not found", req.Filename())
	}

	return &Derivative{Content: f, Name: req.Filename(), Mime: mime, ModTime: info.ModTime()}, nil
}

// ensureSource runs generation for the first existing source the derivative may come from
func (p *OnTheFlyDerivativeProxy) ensureSource(ctx context.Context, req Request) error {
	layout := p.transformer.Layout()

	for _, ext := range sourceExtensions(req.Ext) {
		candidate := filepath.Join(layout.MediaRoot, filepath.FromSlash(req.Dir), req.Name+"."+ext)
		if info, err := os.Stat(candidate); err != nil || !info.Mode().IsRegular() {
			continue
		}

		rec, err := p.transformer.Ensure(ctx, layout.URL(candidate), nil)
		if err != nil {
			if errors.Is(err, responsive.ErrFilesystemPermission) {
				return errors.Wrap(ErrInternalError, err.Error())
			}

			return errors.Wrapf(ErrResourceNotFound, "source of %s unusable: %v", req.Filename(), err)
		}

		if _, ok := rec.(media.Skip); ok {
			return errors.Wrapf(ErrResourceNotFound, "no derivatives are generated for %s", candidate)
		}

		p.logger.WithField("derivative", req.Filename()).Debug("generated on the fly")

		return nil
	}

	return errors.Wrapf(ErrResourceNotFound, "no source for %s", req.Filename())
}

// sourceExtensions lists the extensions a source of a derivative may have,
// the derivative's own first
func sourceExtensions(ext string) []string {
	result := make([]string, 0, 7)
	if media.IsSupportedSource(ext) {
		result = append(result, ext)
	}

	for _, e := range []string{"jpg", "jpeg", "png", "JPG", "JPEG", "PNG"} {
		if e != ext {
			result = append(result, e)
		}
	}

	return result
}

func validate(req Request) error {
	if req.Breakpoint <= 0 || req.Name == "" {
		return errors.Wrapf(ErrBadInput, "invalid derivative %s", req.Filename())
	}

	for _, segment := range strings.Split(req.Dir, "/") {
		if segment == ".." || segment == "." {
			return errors.Wrapf(ErrBadInput, "invalid directory %s", req.Dir)
		}
	}

	return nil
}
