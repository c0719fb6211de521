package store

import "errors"

var (
	// ErrEmptyURL indicates a URL parameter is missing or empty
	ErrEmptyURL = errors.New("empty_url")

	// ErrEmptyID indicates a task id parameter is missing
	ErrEmptyID = errors.New("empty_id")
)
