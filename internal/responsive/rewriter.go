package responsive

import (
	"fmt"
	"github.com/denismitr/respimg/internal/media"
	"html"
	"regexp"
	"strings"
)

const pictureClass = "responsive-image"

var rxImgOpen = regexp.MustCompile(`(?i)^\s*<img\s`)

// Rewrite wraps an <img> tag into a <picture> listing the derivatives of rec,
// largest first. Skip records, empty sets and tags without src come back unchanged.
func Rewrite(tag string, rec media.Record) string {
	set, ok := rec.(*media.DerivativeSet)
	if !ok || set == nil || len(set.Base) == 0 {
		return tag
	}

	if !rxSrc.MatchString(tag) {
		return tag
	}

	var b strings.Builder
	b.WriteString(`<picture class="` + pictureClass + `">`)

	if len(set.Webp) > 0 {
		writeSource(&b, "image/webp", set.WebpBreakpoints(), set.Webp)
	}

	writeSource(&b, "image/"+media.SourceType(set.Mime), set.Breakpoints(), set.Base)

	b.WriteString(fallback(tag, set.FallbackURL()))
	b.WriteString("</picture>")

	return b.String()
}

func writeSource(b *strings.Builder, mime string, bps media.Breakpoints, urls map[int]string) {
	desc := bps.Descending()
	sizes := make([]string, 0, len(desc))
	srcset := make([]string, 0, len(desc))

	for _, bp := range desc {
		sizes = append(sizes, fmt.Sprintf("(min-width: %dpx) %dpx", bp, bp))
		srcset = append(srcset, fmt.Sprintf("%s %dw", urls[bp], bp))
	}

	fmt.Fprintf(b, `<source type="%s" sizes="%s" srcset="%s">`,
		mime,
		html.EscapeString(strings.Join(sizes, ", ")),
		html.EscapeString(strings.Join(srcset, ", ")),
	)
}

// fallback points src at the smallest derivative and adds lazy loading
// unless the tag already has a loading attribute
func fallback(tag, src string) string {
	replaced := false
	tag = rxSrc.ReplaceAllStringFunc(tag, func(m string) string {
		if replaced {
			return m
		}

		replaced = true
		lead := m[:len(m)-len(strings.TrimLeft(m, " \t\r\n\f"))]

		return lead + `src="` + html.EscapeString(src) + `"`
	})

	if !strings.Contains(tag, " loading=") {
		if loc := rxImgOpen.FindStringIndex(tag); loc != nil {
			at := loc[1] - 1
			tag = tag[:at] + ` loading="lazy"` + tag[at:]
		}
	}

	return tag
}
