package backoffice

import "io"

type transformRequest struct {
	HTML        string `json:"html"`
	Breakpoints []int  `json:"breakpoints"`
}

type createSourceDTO struct {
	dir          string
	name         string
	originalName string
	originalExt  string
	source       io.Reader
}
