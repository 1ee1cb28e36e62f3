package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bsm/kvstore/fs"
)

var magic = []byte{82, 13, 201, 77, 158, 40, 96, 233}

const (
	payloadNoCompression     = 0
	payloadSnappyCompression = 1
)

// footer: index offset (8) + filter offset (8) + compression tag (1) + magic (8).
const footerSize = 25

// ErrNotFound is returned by the reader when a key cannot be found.
var ErrNotFound = errors.New("kvstore: not found")

var (
	errClosed         = errors.New("kvstore: is closed")
	errBadMagic       = errors.New("kvstore: bad magic byte sequence")
	errBadCompression = errors.New("kvstore: bad compression codec")
	errCorrupted      = errors.New("kvstore: corrupted partition index")
	errReleased       = errors.New("kvstore: iterator was released")
)

// EntryTooLargeError is returned by Writer.Put when a single key/value
// pair cannot fit into a partition of the configured maximum size.
type EntryTooLargeError struct {
	KeyLen, ValueLen int
	MaxPartitionSize int64
}

func (e *EntryTooLargeError) Error() string {
	return fmt.Sprintf("kvstore: entry too large, key %d + value %d bytes exceed the maximum partition size of %d", e.KeyLen, e.ValueLen, e.MaxPartitionSize)
}

// --------------------------------------------------------------------

// Compression is the compression codec applied to partition payloads.
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c <= unknownCompression
}

// Supported compression codecs
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)

// --------------------------------------------------------------------

// Create initialises a write session for a new store under uri. No file
// is created until the first partition is flushed; closing a session
// that never received a Put leaves the store empty.
//
// A store directory must have at most one active write session at a
// time; this is not enforced internally.
func Create(_ context.Context, fsys fs.FileSystem, uri string, o *WriterOptions) (*Writer, error) {
	if uri == "" {
		return nil, errors.New("kvstore: store uri is required")
	}

	return &Writer{
		fsys: fsys,
		uri:  uri,
		o:    o.norm(),
	}, nil
}

// Open opens a read session for an existing store. The store directory
// is listed once; partition indices are loaded lazily on first access.
// Open must only be called after the corresponding write session has
// been closed.
func Open(ctx context.Context, fsys fs.FileSystem, uri string) (*Reader, error) {
	if uri == "" {
		return nil, errors.New("kvstore: store uri is required")
	}

	infos, err := fsys.List(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("kvstore: unable to list store %s: %w", uri, err)
	}

	parts := make([]*partitionHandle, 0, len(infos))
	for _, info := range infos {
		if !isPartitionName(info.Path) {
			continue
		}
		parts = append(parts, &partitionHandle{info: info})
	}

	return &Reader{
		fsys:  fsys,
		uri:   uri,
		parts: parts,
	}, nil
}
