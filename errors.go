// Package ndchunk implements chunked, compressed n-dimensional arrays with
// deferred (lazy) arithmetic expression evaluation.
package ndchunk

import "errors"

// Sentinel errors returned by the public API.
var (
	// ErrValidation covers any malformed request: an invalid expression,
	// an operand map referencing an undeclared name, an unsupported dtype.
	ErrValidation = errors.New("ndchunk: validation error")

	// ErrInvalidShape covers negative or rank-mismatched shapes/slices.
	ErrInvalidShape = errors.New("ndchunk: invalid shape")

	// ErrEmptyReduction is returned when reducing a zero-length axis with
	// no identity element to fall back on.
	ErrEmptyReduction = errors.New("ndchunk: cannot reduce an empty axis")

	// ErrDecompress wraps any failure while inflating a stored chunk.
	ErrDecompress = errors.New("ndchunk: decompress error")

	// ErrIO wraps any failure reading from or writing to a backing store
	// (disk, a Proxy source).
	ErrIO = errors.New("ndchunk: io error")

	// ErrUnsupportedOperation covers operations this engine explicitly
	// does not implement (e.g. the MEDIAN reduction).
	ErrUnsupportedOperation = errors.New("ndchunk: unsupported operation")

	// ErrResourceExhausted is returned when an operation would exceed a
	// configured resource bound (e.g. the maximum chunk or array size).
	ErrResourceExhausted = errors.New("ndchunk: resource exhausted")
)
