package backoffice

import (
	"context"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/media/manipulator"
	"github.com/denismitr/respimg/internal/registry"
	"github.com/denismitr/respimg/internal/responsive"
	"github.com/gosimple/slug"
	"github.com/pkg/errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var ErrBackOfficeError = errors.New("back office error")
var ErrResourceNotFound = errors.New("resource not found")
var ErrBadInput = errors.New("bad input")
var ErrSourceExists = errors.New("source image already exists")

// DerivativeService is a collection of use cases specific to the back office:
// rendering fragments, inspecting and purging cache entries and uploading sources
type DerivativeService struct {
	transformer *responsive.Transformer
	backend     manipulator.Backend
}

func NewDerivativeService(t *responsive.Transformer, backend manipulator.Backend) *DerivativeService {
	return &DerivativeService{transformer: t, backend: backend}
}

func (ds *DerivativeService) transform(req *transformRequest) *transformResponse {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	msgs := &responsive.Messages{}
	out := ds.transformer.TransformHTML(responsive.WithMessages(ctx, msgs), req.HTML, media.Breakpoints(req.Breakpoints))

	return &transformResponse{HTML: out, Messages: msgs.All()}
}

func (ds *DerivativeService) getDerivatives(src string) (*recordResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	source, rec, err := ds.transformer.Lookup(ctx, src)
	if err != nil {
		return nil, ds.classify(err)
	}

	resp := mapRecordToResponse(src, source, rec)

	return &resp, nil
}

func (ds *DerivativeService) removeDerivatives(src string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := ds.transformer.Purge(ctx, src); err != nil {
		return ds.classify(err)
	}

	return nil
}

// createSource stores an uploaded image under the media root with a URL friendly
// name and generates its derivatives
func (ds *DerivativeService) createSource(dto *createSourceDTO) (*recordResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	layout := ds.transformer.Layout()

	filename := createUrlFriendlyName(dto)
	if filename == "" {
		return nil, errors.Wrapf(ErrBadInput, "unsupported file %s", dto.originalName)
	}

	dir := filepath.Join(layout.MediaRoot, filepath.FromSlash(path.Clean("/"+dto.dir)))
	target := filepath.Join(dir, filename)
	if layout.InCache(target) || !layout.InMedia(target) {
		return nil, errors.Wrapf(ErrBadInput, "invalid directory %s", dto.dir)
	}

	if _, err := os.Stat(target); err == nil {
		return nil, errors.Wrapf(ErrSourceExists, "%s", layout.URL(target))
	}

	if err := writeSource(dir, target, dto.source); err != nil {
		return nil, err
	}

	src := layout.URL(target)
	rec, err := ds.transformer.Ensure(ctx, src, nil)
	if err != nil {
		return nil, ds.classify(err)
	}

	source, _ := layout.SourceFromPath(target)
	resp := mapRecordToResponse(src, source, rec)

	return &resp, nil
}

func (ds *DerivativeService) health() *healthResponse {
	resp := &healthResponse{Status: "ok", Backend: manipulator.None, Breakpoints: ds.transformer.Breakpoints()}
	if ds.backend != nil {
		resp.Backend = ds.backend.Name()
		resp.Webp = ds.backend.SupportsWebp()
	}

	return resp
}

func (ds *DerivativeService) classify(err error) error {
	switch {
	case errors.Is(err, responsive.ErrFilesystemPermission):
		return errors.Wrap(ErrBackOfficeError, err.Error())
	case errors.Is(err, responsive.ErrPathOutsideMediaRoot),
		errors.Is(err, responsive.ErrUnsupportedFormat):
		return errors.Wrap(ErrBadInput, err.Error())
	case errors.Is(err, responsive.ErrSourceUnreadable),
		errors.Is(err, registry.ErrEntityNotFound):
		return errors.Wrap(ErrResourceNotFound, err.Error())
	}

	return errors.Wrap(ErrBackOfficeError, err.Error())
}

func createUrlFriendlyName(dto *createSourceDTO) string {
	if !media.IsSupportedSource(dto.originalExt) {
		return ""
	}

	name := dto.name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(dto.originalName), filepath.Ext(dto.originalName))
	}

	slugged := slug.Make(name)
	if slugged == "" {
		return ""
	}

	return slugged + "." + strings.ToLower(dto.originalExt)
}

func writeSource(dir, target string, source io.Reader) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(ErrBackOfficeError, "could not create %s: %v", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return errors.Wrapf(ErrBackOfficeError, "could not persist image: %v", err)
	}

	if _, err := io.Copy(tmp, source); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(ErrBackOfficeError, "could not persist image: %v", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(ErrBackOfficeError, "could not persist image: %v", err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(ErrBackOfficeError, "could not persist image: %v", err)
	}

	return os.Chmod(target, 0644)
}
