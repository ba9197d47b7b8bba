package backoffice

import (
	"github.com/denismitr/respimg/internal/media"
	"github.com/denismitr/respimg/internal/responsive"
)

type errorResponse struct {
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func internalError(err error) (int, errorResponse) {
	return 500, errorResponse{Message: err.Error()}
}

func badRequest(err error) (int, errorResponse) {
	return 400, errorResponse{Message: err.Error()}
}

func notFound(err error) (int, errorResponse) {
	return 404, errorResponse{Message: err.Error()}
}

func conflict(err error) (int, errorResponse) {
	return 409, errorResponse{Message: err.Error()}
}

func unprocessableEntity(err error) (int, errorResponse) {
	return 422, errorResponse{Message: err.Error()}
}

type transformResponse struct {
	HTML     string               `json:"html"`
	Messages []responsive.Message `json:"messages"`
}

type recordResponse struct {
	Src     string         `json:"src"`
	Key     string         `json:"key"`
	Skipped bool           `json:"skipped"`
	Mime    string         `json:"mime,omitempty"`
	Hash    string         `json:"hash,omitempty"`
	Width   int            `json:"width,omitempty"`
	Tag     string         `json:"tag,omitempty"`
	Base    map[int]string `json:"srcsetBase,omitempty"`
	Webp    map[int]string `json:"srcsetWebp,omitempty"`
}

func mapRecordToResponse(src string, source media.SourceImage, rec media.Record) recordResponse {
	resp := recordResponse{Src: src, Key: source.Key()}

	set, ok := rec.(*media.DerivativeSet)
	if !ok {
		resp.Skipped = true
		return resp
	}

	resp.Mime = set.Mime
	resp.Hash = set.Hash
	resp.Width = set.Width
	resp.Tag = set.Tag
	resp.Base = set.Base
	resp.Webp = set.Webp

	return resp
}

type healthResponse struct {
	Status      string            `json:"status"`
	Backend     string            `json:"backend"`
	Webp        bool              `json:"webp"`
	Breakpoints media.Breakpoints `json:"breakpoints"`
}
