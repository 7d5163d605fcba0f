package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("resource already exists")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")

	// Scan pipeline errors
	ErrMalformedAnalysis   = errors.New("analyzer response could not be parsed")
	ErrAnalyzerUnavailable = errors.New("analyzer unavailable")
	ErrInvalidTransition   = errors.New("invalid finding status transition")
)
