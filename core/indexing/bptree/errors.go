package bptree

import "errors"

// --- Error Definitions ---

var (
	ErrInvalidOrder    = errors.New("bptree order out of range")
	ErrNilSerializer   = errors.New("all key/value serializers must be provided")
	ErrSerialization   = errors.New("error during serialization")
	ErrDeserialization = errors.New("error during deserialization")
	ErrCorruptTree     = errors.New("tree structure violates b+ tree invariants")
)
