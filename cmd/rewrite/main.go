// Command rewrite reads an HTML fragment on stdin and writes it to stdout
// with every <img> turned into a responsive <picture>.
package main

import (
	"context"
	"flag"
	"github.com/denismitr/respimg/cmd/initialize"
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/responsive"
	"io"
	"os"
	"strconv"
	"strings"
)

func main() {
	bpFlag := flag.String("breakpoints", "", "comma separated widths, the configured ones when empty")
	flag.Parse()

	c := initialize.Wire()
	defer c.Close()

	breakpoints, err := parseBreakpoints(*bpFlag)
	if err != nil {
		c.Logger.Fatalln(err)
	}

	in, err := io.ReadAll(os.Stdin)
	if err != nil {
		c.Logger.Fatalln(err)
	}

	msgs := &responsive.Messages{}
	out := c.Transformer.TransformHTML(responsive.WithMessages(context.Background(), msgs), string(in), breakpoints)

	for _, m := range msgs.All() {
		if m.Level == responsive.LevelError {
			c.Logger.Errorln(m.Text)
		} else {
			c.Logger.Warnln(m.Text)
		}
	}

	if _, err := io.WriteString(os.Stdout, out); err != nil {
		c.Logger.Fatalln(err)
	}
}

func parseBreakpoints(s string) (media.Breakpoints, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var result media.Breakpoints
	for _, part := range strings.Split(s, ",") {
		w, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}

		result = append(result, w)
	}

	return result, nil
}
