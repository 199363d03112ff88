package engine

import "errors"

var (
	// ErrNotFound reports that a key has no live value: it was never
	// written, or its newest record is a tombstone.
	ErrNotFound = errors.New("crunchkv: key not found")

	// ErrCorruptData reports a checksum or framing failure while reading
	// stored data.
	ErrCorruptData = errors.New("crunchkv: corrupt data")

	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("crunchkv: store is closed")

	// ErrEmptyKey reports a write with a zero-length key.
	ErrEmptyKey = errors.New("crunchkv: empty key")
)
