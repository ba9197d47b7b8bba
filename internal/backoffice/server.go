// Package backoffice is the JSON API used by site administrators.
package backoffice

import (
	"context"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxUploadSize = 64 << 20

type Server struct {
	e           *echo.Echo
	port        string
	derivatives *DerivativeService
	logger      *logrus.Logger
}

func NewServer(e *echo.Echo, port string, derivatives *DerivativeService, logger *logrus.Logger) *Server {
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.BodyLimit("64M"))

	s := &Server{e: e, port: port, derivatives: derivatives, logger: logger}

	e.GET("/api/v1/health", s.health)
	e.POST("/api/v1/transform", s.transform)
	e.GET("/api/v1/derivatives", s.getDerivatives)
	e.DELETE("/api/v1/derivatives", s.removeDerivatives)
	e.POST("/api/v1/images", s.createSource)

	return s
}

// Run the server until a stop signal arrives
func (s *Server) Run(stopCh <-chan os.Signal, shutDownTime time.Duration) error {
	s.logger.Println("Backoffice server : Starting")

	serverError := make(chan error, 1)
	go func() {
		if err := s.e.Start(s.port); err != nil && err != http.ErrServerClosed {
			serverError <- errors.Wrap(err, "http server error")
		}
	}()

	select {
	case err := <-serverError:
		return err
	case <-stopCh:
		s.logger.Println("Backoffice server : Received stop signal")

		ctx, cancel := context.WithTimeout(context.Background(), shutDownTime)
		defer cancel()

		return s.e.Shutdown(ctx)
	}
}

func (s *Server) health(rCtx echo.Context) error {
	return rCtx.JSON(200, s.derivatives.health())
}

func (s *Server) transform(rCtx echo.Context) error {
	var req transformRequest
	if err := rCtx.Bind(&req); err != nil {
		return rCtx.JSON(badRequest(err))
	}

	for _, bp := range req.Breakpoints {
		if bp <= 0 {
			return rCtx.JSON(unprocessableEntity(errors.Errorf("breakpoint %d is not a positive width", bp)))
		}
	}

	return rCtx.JSON(200, s.derivatives.transform(&req))
}

func (s *Server) getDerivatives(rCtx echo.Context) error {
	src := rCtx.QueryParam("src")
	if src == "" {
		return rCtx.JSON(badRequest(errors.New("src query parameter is required")))
	}

	resp, err := s.derivatives.getDerivatives(src)
	if err != nil {
		return s.fail(rCtx, err)
	}

	return rCtx.JSON(200, resp)
}

func (s *Server) removeDerivatives(rCtx echo.Context) error {
	src := rCtx.QueryParam("src")
	if src == "" {
		return rCtx.JSON(badRequest(errors.New("src query parameter is required")))
	}

	if err := s.derivatives.removeDerivatives(src); err != nil {
		return s.fail(rCtx, err)
	}

	return rCtx.NoContent(204)
}

func (s *Server) createSource(rCtx echo.Context) error {
	file, err := rCtx.FormFile("file")
	if err != nil {
		return rCtx.JSON(badRequest(errors.Wrap(err, "file is required")))
	}

	if file.Size > maxUploadSize {
		return rCtx.JSON(unprocessableEntity(errors.Errorf("file exceeds %d bytes", maxUploadSize)))
	}

	source, err := file.Open()
	if err != nil {
		return rCtx.JSON(badRequest(err))
	}
	defer source.Close()

	dto := createSourceDTO{
		dir:          rCtx.FormValue("dir"),
		name:         rCtx.FormValue("name"),
		originalName: file.Filename,
		originalExt:  extractExtension(file.Filename),
		source:       source,
	}

	resp, err := s.derivatives.createSource(&dto)
	if err != nil {
		return s.fail(rCtx, err)
	}

	return rCtx.JSON(201, resp)
}

func (s *Server) fail(rCtx echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrBadInput):
		return rCtx.JSON(badRequest(err))
	case errors.Is(err, ErrResourceNotFound):
		return rCtx.JSON(notFound(err))
	case errors.Is(err, ErrSourceExists):
		return rCtx.JSON(conflict(err))
	}

	s.logger.Errorln(err)

	return rCtx.JSON(internalError(err))
}

func extractExtension(filename string) string {
	return strings.TrimPrefix(filepath.Ext(strings.TrimSpace(filename)), ".")
}
