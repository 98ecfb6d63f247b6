// Package snapshot persists a whole bptree.Tree as one file: a fixed header
// followed by the tree image, optionally snappy-compressed. Files are replaced
// atomically, so a reader sees either the previous snapshot or the new one.
package snapshot

import (
	"bufio"
	"bytes"
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/sushant-115/bpindex/core/indexing/bptree"
)

const (
	// Magic is "BPIX" read as a little-endian uint32.
	Magic   uint32 = 0x58495042
	Version uint16 = 1

	FlagCompressed uint16 = 1 << 0

	HeaderSize = 48
)

// FileHeader is the fixed-size prefix of a snapshot file.
// All fields have fixed sizes so binary.Read/Write can use the struct directly.
type FileHeader struct {
	Magic      uint32
	Version    uint16
	Flags      uint16
	Order      uint32
	Entries    uint64
	ID         uuid.UUID
	PayloadLen uint64
	Checksum   uint32 // CRC-32 (IEEE) of the payload as stored
}

// Compressed reports whether the payload is snappy-compressed.
func (h FileHeader) Compressed() bool { return h.Flags&FlagCompressed != 0 }

// Save writes tree to path, replacing any existing file.
func Save[K cmp.Ordered, V any](path string, tree *bptree.Tree[K, V], s bptree.KeyValueSerializer[K, V], compress bool) (FileHeader, error) {
	var buf bytes.Buffer
	if err := tree.Encode(&buf, s); err != nil {
		return FileHeader{}, err
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return FileHeader{}, fmt.Errorf("generating snapshot id: %w", err)
	}
	header := FileHeader{
		Magic:   Magic,
		Version: Version,
		Order:   uint32(tree.Order()),
		Entries: uint64(tree.Len()),
		ID:      id,
	}
	payload := buf.Bytes()
	if compress {
		payload = snappy.Encode(nil, payload)
		header.Flags |= FlagCompressed
	}
	header.PayloadLen = uint64(len(payload))
	header.Checksum = crc32.ChecksumIEEE(payload)

	err = writeFileAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	})
	if err != nil {
		return FileHeader{}, err
	}
	return header, nil
}

// Load reads the snapshot at path and rebuilds the tree. The header, the
// payload checksum and the tree invariants are all checked.
func Load[K cmp.Ordered, V any](path string, s bptree.KeyValueSerializer[K, V], opts ...bptree.Option) (*bptree.Tree[K, V], FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	header, err := readHeader(f)
	if err != nil {
		return nil, FileHeader{}, err
	}
	if want := uint64(info.Size()) - HeaderSize; header.PayloadLen != want {
		return nil, FileHeader{}, fmt.Errorf("%w: header reports %d payload bytes, file holds %d", ErrCorruptSnapshot, header.PayloadLen, want)
	}

	payload := make([]byte, header.PayloadLen)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: reading payload: %v", ErrIO, err)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != header.Checksum {
		return nil, FileHeader{}, fmt.Errorf("%w: expected %08x, got %08x", ErrChecksumMismatch, header.Checksum, sum)
	}
	if header.Compressed() {
		if payload, err = snappy.Decode(nil, payload); err != nil {
			return nil, FileHeader{}, fmt.Errorf("%w: decompressing payload: %v", ErrCorruptSnapshot, err)
		}
	}

	tree, err := bptree.Decode(bytes.NewReader(payload), s, opts...)
	if err != nil {
		return nil, FileHeader{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if tree.Order() != int(header.Order) || uint64(tree.Len()) != header.Entries {
		return nil, FileHeader{}, fmt.Errorf("%w: header describes order %d with %d entries, image holds order %d with %d",
			ErrCorruptSnapshot, header.Order, header.Entries, tree.Order(), tree.Len())
	}
	return tree, header, nil
}

// ReadHeader returns the header of the snapshot at path without loading the tree.
func ReadHeader(path string) (FileHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileHeader{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer f.Close()
	return readHeader(f)
}

func readHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return FileHeader{}, fmt.Errorf("%w: file is shorter than the %d byte header", ErrCorruptSnapshot, HeaderSize)
		}
		return FileHeader{}, fmt.Errorf("%w: reading header: %v", ErrIO, err)
	}
	if h.Magic != Magic {
		return FileHeader{}, fmt.Errorf("%w: magic 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return FileHeader{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// writeFileAtomic writes to path.tmp, syncs it and renames it over path.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriter(f)
	if err = write(bw); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrIO, tmp, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing %s: %w", ErrIO, tmp, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, tmp, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrIO, tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	syncDir(filepath.Dir(path))
	return nil
}

// syncDir makes the rename durable where the platform allows syncing a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
