package responsive

import (
	"bytes"
	"context"
	"github.com/denismitr/respimg/internal/media"
	"golang.org/x/net/html"
	"io"
	"strings"
)

// TransformHTML rewrites every <img> of an HTML fragment. Images already
// wrapped in a <picture> are left alone, everything else is copied byte for byte.
func (t *Transformer) TransformHTML(ctx context.Context, fragment string, breakpoints media.Breakpoints) string {
	if !strings.Contains(strings.ToLower(fragment), "<img") {
		return fragment
	}

	var out strings.Builder
	out.Grow(len(fragment))

	z := html.NewTokenizer(strings.NewReader(fragment))
	pictures := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				return out.String()
			}

			// the tokenizer gave up, keep the original rather than a truncated page
			return fragment
		}

		// TagName lowercases the raw buffer in place
		raw := string(z.Raw())
		name, _ := z.TagName()

		switch {
		case bytes.Equal(name, []byte("picture")) && tt == html.StartTagToken:
			pictures++
		case bytes.Equal(name, []byte("picture")) && tt == html.EndTagToken:
			if pictures > 0 {
				pictures--
			}
		case bytes.Equal(name, []byte("img")) && pictures == 0 &&
			(tt == html.StartTagToken || tt == html.SelfClosingTagToken):
			out.WriteString(t.Transform(ctx, raw, breakpoints))
			continue
		}

		out.WriteString(raw)
	}
}
