package media

import (
	"path"
	"sort"
)

// DefaultBreakpoints are the widths derivatives are generated for unless configured otherwise
var DefaultBreakpoints = Breakpoints{200, 320, 480, 768, 992, 1200, 1600, 1920}

const DefaultQuality = 85

// Breakpoints is a list of target pixel widths
type Breakpoints []int

// Normalize drops non-positive and duplicate widths and sorts the rest ascending
func (b Breakpoints) Normalize() Breakpoints {
	seen := make(map[int]bool, len(b))
	result := make(Breakpoints, 0, len(b))
	for _, w := range b {
		if w <= 0 || seen[w] {
			continue
		}

		seen[w] = true
		result = append(result, w)
	}

	sort.Ints(result)

	return result
}

func (b Breakpoints) Smallest() int {
	if len(b) == 0 {
		return 0
	}

	return b[0]
}

func (b Breakpoints) Descending() Breakpoints {
	result := make(Breakpoints, len(b))
	for i, w := range b {
		result[len(b)-1-i] = w
	}

	return result
}

// SourceImage is an uploaded image under the media root.
// Dir is relative to the media root and slash separated ("" for the root itself),
// Ext keeps the case found in the src attribute.
type SourceImage struct {
	Dir      string
	Filename string
	Ext      string
	Path     string
}

// Key identifies the source in the registry, one record per key.
// The extension is part of it, photo.jpg and photo.png are different sources.
func (s SourceImage) Key() string {
	return path.Join(s.Dir, s.Name())
}

func (s SourceImage) Name() string {
	return s.Filename + "." + s.Ext
}

// Info is what a backend reads from the header of a source image
type Info struct {
	Width    int
	Height   int
	Mime     string
	BitDepth int
	Channels int
}

// PeakMemory estimates the bytes needed to hold the decoded source
func (i Info) PeakMemory() int64 {
	channels := i.Channels
	if i.Mime == "image/png" {
		channels = 4
	}

	bits := i.BitDepth
	if bits == 0 {
		bits = 16
	}

	return int64(i.Width) * int64(i.Height) * int64(bits*channels) / 8
}
