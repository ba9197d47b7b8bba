package media

import (
	"github.com/pkg/errors"
	"strings"
)

var ErrInvalidExtension = errors.New("invalid extension")

const (
	JPEG Extension = "jpg"
	PNG  Extension = "png"
	WEBP Extension = "webp"
)

type Extension string

func (e Extension) String() string {
	return string(e)
}

var extensions = map[string]Extension{
	"png":  PNG,
	"jpg":  JPEG,
	"jpeg": JPEG,
	"webp": WEBP,
}

var mimes = map[Extension]string{
	PNG:  "image/png",
	JPEG: "image/jpeg",
	WEBP: "image/webp",
}

// sources lists the extensions a source image may carry
var sources = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
}

// supportedMimes are the decoded source types derivatives are generated for
var supportedMimes = map[string]Extension{
	"image/jpeg": JPEG,
	"image/jpg":  JPEG,
	"image/png":  PNG,
}

func GuessMimeFromExtension(ext string) (string, error) {
	e, err := NormalizeExtension(ext)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidExtension, "mime type unsupported for %s", ext)
	}

	return mimes[e], nil
}

func NormalizeExtension(ext string) (Extension, error) {
	if e, ok := extensions[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return e, nil
	}

	return "", errors.Wrapf(ErrInvalidExtension, "extension unsupported: %s", ext)
}

// IsSupportedSource checks the extension of a source file, case-insensitively
func IsSupportedSource(ext string) bool {
	return sources[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// IsSupportedMime reports whether derivatives can be generated for a decoded mime type
func IsSupportedMime(mime string) bool {
	_, ok := supportedMimes[mime]
	return ok
}

// SourceType returns the subtype used in <source type="image/..."> for a source mime
func SourceType(mime string) string {
	if e, ok := supportedMimes[mime]; ok && e == JPEG {
		return "jpeg"
	}

	return strings.TrimPrefix(mime, "image/")
}
