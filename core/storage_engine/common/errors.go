package common

import "errors"

var (
	ErrChecksumMismatch = errors.New("backup checksum does not match source")
	ErrInvalidRate      = errors.New("backup rate must not be negative")
)
