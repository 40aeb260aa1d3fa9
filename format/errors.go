package format

import "errors"

var (
	// ErrUnknownFormat is returned when a named format is not registered.
	ErrUnknownFormat = errors.New("weave: unknown format")

	// ErrMaxDepth is returned when nested formats exceed the configured depth.
	ErrMaxDepth = errors.New("weave: format nesting too deep")

	// ErrInvalidSpec is returned for relation declarations missing required parts.
	ErrInvalidSpec = errors.New("weave: invalid relation spec")
)
