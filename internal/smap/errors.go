package smap

import "github.com/pkg/errors"

var (
	ErrInvalidOverpass   = errors.New("invalid overpass")
	ErrAmbiguousOverpass = errors.New("ambiguous overpass")
	ErrMissingField      = errors.New("missing field")
	ErrShapeMismatch     = errors.New("grid shape mismatch")
	ErrNotImplemented    = errors.New("not implemented")
	ErrFileNotFound      = errors.New("no file for date")
	ErrAmbiguousFile     = errors.New("multiple files for date")
)
