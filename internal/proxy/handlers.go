package proxy

import (
	"context"
	"fmt"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"net/http"
	"strconv"
	"strings"
)

type handler func(*requestContext) error
type errorHandler func(*requestContext)

func makeErrorHandler(err error, lg *logrus.Logger) errorHandler {
	return func(rCtx *requestContext) {
		var httpErr *httpError
		if errors.Is(err, ErrResourceNotFound) {
			httpErr = &httpError{statusCode: 404, message: "Derivative not found"}
		} else if errors.Is(err, ErrBadInput) {
			httpErr = &httpError{statusCode: 400, message: err.Error()}
		} else if e, ok := err.(*httpError); ok {
			httpErr = e
		}

		if httpErr == nil {
			httpErr = &httpError{statusCode: 500, message: "Internal server error"}
		}

		if lg != nil {
			lg.WithField("status", httpErr.statusCode).Warnln(err)
		}

		rCtx.fail(httpErr)
	}
}

func makeProxyHandler(derivatives DerivativeProxy, cfg Config) handler {
	return func(rCtx *requestContext) error {
		bp, err := strconv.Atoi(rCtx.params[2])
		if err != nil {
			return errors.Wrapf(ErrBadInput, "invalid breakpoint %s", rCtx.params[2])
		}

		req := Request{
			Dir:        strings.TrimSuffix(rCtx.params[0], "/"),
			Name:       rCtx.params[1],
			Breakpoint: bp,
			Ext:        rCtx.params[3],
		}

		ctx, cancel := context.WithTimeout(rCtx.req.Context(), cfg.GenerationTimeout)
		defer cancel()

		d, err := derivatives.Open(ctx, req)
		if err != nil {
			return err
		}
		defer d.Content.Close()

		rCtx.prepareDownloadHeaders(d)
		http.ServeContent(rCtx.resp, rCtx.req, d.Name, d.ModTime, d.Content)

		return nil
	}
}

func (c *requestContext) prepareDownloadHeaders(d *Derivative) {
	// Enable CORS for 3rd party applications
	c.resp.Header().Set("Access-Control-Allow-Origin", "*")

	// Add a Content-Security-Policy to prevent stored-XSS attacks
	c.resp.Header().Set("Content-Security-Policy", "script-src 'none'")

	// Disable Content-Type sniffing
	c.resp.Header().Set("X-Content-Type-Options", "nosniff")

	// derivative URLs carry the source hash, a changed source gets a new URL
	c.resp.Header().Set("Cache-Control", "public, max-age=31536000")

	c.resp.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", d.Name))
	c.resp.Header().Set("Content-Type", d.Mime)
}
