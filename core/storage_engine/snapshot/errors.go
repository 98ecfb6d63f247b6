package snapshot

import "errors"

var (
	ErrBadMagic           = errors.New("not a bpindex snapshot file")
	ErrUnsupportedVersion = errors.New("unsupported snapshot format version")
	ErrChecksumMismatch   = errors.New("snapshot payload checksum mismatch")
	ErrCorruptSnapshot    = errors.New("snapshot file is corrupted")
	ErrIO                 = errors.New("snapshot I/O error")
)
