package utils

import "errors"

var (
	// ErrInvalidInput marks errors caused by an unreadable or malformed
	// source book. The run aborts with the input-error exit code.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration marks missing or invalid credentials, voices, or
	// options. Never retried; the run aborts before chapter processing.
	ErrConfiguration = errors.New("invalid configuration")
)
