package models

import "errors"

var (
	// ErrNotFound is returned for a missing source file, file id, chunk or stored blob
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned before any I/O for malformed arguments
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderUnavailable is returned when a storage provider name is not registered
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrIntegrityFailure is returned on a chunk or whole-file checksum mismatch
	ErrIntegrityFailure = errors.New("integrity failure")
	// ErrPartialData is returned when stored chunks do not cover the planned layout
	ErrPartialData = errors.New("partial data")
)
