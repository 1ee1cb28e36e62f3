// Package fs defines the file-system collaborator used by kvstore to
// persist and discover partitions. Implementations must make created
// files visible to List only once fully written; see Create.
package fs

import (
	"context"
	"io"
)

// FileInfo describes a single stored file.
type FileInfo struct {
	Path string
	Size int64
}

// File is a random-access handle to a stored file.
type File interface {
	io.ReaderAt
	io.Closer

	// Size returns the total length of the file in bytes.
	Size() int64
}

// FileSystem is the minimum storage surface required by kvstore. It is
// implemented for the local file system by fs/local and for Amazon S3
// by fs/s3.
type FileSystem interface {
	// Create opens a writable sink for a new file. The file must not
	// become visible to List or Open before the sink is closed without
	// error; a reader either sees a complete file or none at all.
	Create(ctx context.Context, path string) (io.WriteCloser, error)

	// Open opens an existing file for random-access reads.
	Open(ctx context.Context, path string) (File, error)

	// List returns the files directly under dir. Listing a directory
	// that does not exist yields an empty result, not an error.
	List(ctx context.Context, dir string) ([]FileInfo, error)
}
