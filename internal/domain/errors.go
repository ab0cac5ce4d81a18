package domain

import "errors"

var (
	// ErrUpstreamUnavailable covers network failures, timeouts, non-2xx responses
	// and responses carrying an explicit error object.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrUpstreamSchema means the metadata endpoint no longer reports the
	// expected last-edit timestamp.
	ErrUpstreamSchema = errors.New("upstream schema error")

	// ErrSchemaMismatch means a snapshot lacks the container the normalizer
	// needs (the features array, or the CSV header).
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrStoreWrite is returned when any step of the store load fails.
	ErrStoreWrite = errors.New("store write error")

	// ErrNoData is returned by read queries when the live table is missing or
	// the query matched nothing.
	ErrNoData = errors.New("data unavailable")
)
