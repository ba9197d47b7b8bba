package media

import (
	"bytes"
	"encoding/json"
	"github.com/pkg/errors"
	"sort"
	"strconv"
	"strings"
)

var ErrInvalidRecord = errors.New("invalid derivative record")

// Record is the persisted outcome of generation for one source image,
// either a *DerivativeSet or Skip.
type Record interface {
	isRecord()
}

// Skip marks a source for which generation was attempted and deliberately not performed
type Skip struct{}

func (Skip) isRecord() {}

// DerivativeSet lists the generated derivatives of a source image.
// Base and Webp map a breakpoint to the derivative URL, hash query included.
type DerivativeSet struct {
	Mime string
	Hash string
	// Width of the decoded source, 0 when unknown
	Width int
	// Tag is the URL of the smallest derivative without the hash query
	Tag  string
	Base map[int]string
	Webp map[int]string
}

func (*DerivativeSet) isRecord() {}

// Breakpoints of the base format derivatives, ascending
func (s *DerivativeSet) Breakpoints() Breakpoints {
	return sortedKeys(s.Base)
}

func (s *DerivativeSet) WebpBreakpoints() Breakpoints {
	return sortedKeys(s.Webp)
}

func (s *DerivativeSet) FallbackURL() string {
	return s.Tag + "?" + s.Hash
}

// Select narrows the set to the given breakpoints, the fallback moves
// to the smallest derivative left
func (s *DerivativeSet) Select(bps Breakpoints) *DerivativeSet {
	result := &DerivativeSet{
		Mime:  s.Mime,
		Hash:  s.Hash,
		Width: s.Width,
		Base:  make(map[int]string),
		Webp:  make(map[int]string),
	}

	for _, bp := range bps {
		if u, ok := s.Base[bp]; ok {
			result.Base[bp] = u
		}

		if u, ok := s.Webp[bp]; ok {
			result.Webp[bp] = u
		}
	}

	if kept := result.Breakpoints(); len(kept) > 0 {
		result.Tag = strings.TrimSuffix(result.Base[kept.Smallest()], "?"+s.Hash)
	}

	return result
}

func sortedKeys(m map[int]string) Breakpoints {
	result := make(Breakpoints, 0, len(m))
	for w := range m {
		result = append(result, w)
	}

	sort.Ints(result)

	return result
}

type derivativeSetJSON struct {
	Mime       string            `json:"mime"`
	Hash       string            `json:"hash"`
	Width      int               `json:"width,omitempty"`
	Tag        string            `json:"tag"`
	SrcsetBase map[string]string `json:"srcsetBase"`
	SrcsetWebp map[string]string `json:"srcsetWebp"`
}

var skipJSON = []byte("false")

func EncodeRecord(r Record) ([]byte, error) {
	switch rec := r.(type) {
	case Skip:
		return skipJSON, nil
	case *DerivativeSet:
		if rec == nil {
			return nil, errors.Wrap(ErrInvalidRecord, "nil derivative set")
		}

		return json.Marshal(derivativeSetJSON{
			Mime:       rec.Mime,
			Hash:       rec.Hash,
			Width:      rec.Width,
			Tag:        rec.Tag,
			SrcsetBase: stringKeys(rec.Base),
			SrcsetWebp: stringKeys(rec.Webp),
		})
	default:
		return nil, errors.Wrapf(ErrInvalidRecord, "unknown record type %T", r)
	}
}

func DecodeRecord(data []byte) (Record, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, skipJSON) {
		return Skip{}, nil
	}

	if len(data) == 0 || data[0] != '{' {
		return nil, errors.Wrapf(ErrInvalidRecord, "unexpected payload %q", truncate(data, 32))
	}

	var raw derivativeSetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(ErrInvalidRecord, "could not decode: %v", err)
	}

	base, err := intKeys(raw.SrcsetBase)
	if err != nil {
		return nil, err
	}

	webp, err := intKeys(raw.SrcsetWebp)
	if err != nil {
		return nil, err
	}

	if raw.Mime == "" || raw.Hash == "" {
		return nil, errors.Wrap(ErrInvalidRecord, "mime and hash are required")
	}

	return &DerivativeSet{
		Mime: raw.Mime,
		Hash:  raw.Hash,
		Width: raw.Width,
		Tag:   raw.Tag,
		Base:  base,
		Webp:  webp,
	}, nil
}

func stringKeys(m map[int]string) map[string]string {
	result := make(map[string]string, len(m))
	for w, url := range m {
		result[strconv.Itoa(w)] = url
	}

	return result
}

func intKeys(m map[string]string) (map[int]string, error) {
	result := make(map[int]string, len(m))
	for k, url := range m {
		w, err := strconv.Atoi(k)
		if err != nil || w <= 0 {
			return nil, errors.Wrapf(ErrInvalidRecord, "invalid breakpoint %q", k)
		}

		result[w] = url
	}

	return result, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}

	return b
}
