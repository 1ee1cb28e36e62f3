// Package local implements the kvstore file-system collaborator on the
// local file system. New files are written to a staging name and moved
// into place with an atomic rename on close.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bsm/kvstore/fs"
)

const stagingSuffix = ".staging"

// FileSystem implements fs.FileSystem using the local file system.
type FileSystem struct{}

// New returns a local file system.
func New() *FileSystem { return &FileSystem{} }

// Create opens a staging file next to the final path. The file is
// renamed into place when the returned sink is closed, so concurrent
// listings never observe a partial write.
func (*FileSystem) Create(_ context.Context, path string) (io.WriteCloser, error) {
	path = filepath.FromSlash(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path+stagingSuffix, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("local: unable to create %s: %w", path, err)
	}
	return &stagingFile{f: f, final: path}, nil
}

// Open opens an existing file for random-access reads.
func (*FileSystem) Open(_ context.Context, path string) (fs.File, error) {
	path = filepath.FromSlash(path)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("local: unable to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &localFile{File: f, size: info.Size()}, nil
}

// List returns the files directly under dir, sorted by name. Staging
// files are hidden; a missing directory yields an empty listing.
func (*FileSystem) List(_ context.Context, dir string) ([]fs.FileInfo, error) {
	dir = filepath.FromSlash(dir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	infos := make([]fs.FileInfo, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() || strings.HasSuffix(ent.Name(), stagingSuffix) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			return nil, err
		}
		infos = append(infos, fs.FileInfo{
			Path: filepath.ToSlash(filepath.Join(dir, ent.Name())),
			Size: info.Size(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// --------------------------------------------------------------------

type stagingFile struct {
	f     *os.File
	final string
	werr  error
}

func (s *stagingFile) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	if err != nil && s.werr == nil {
		s.werr = err
	}
	return n, err
}

// Close renames the staging file into place. A file that has seen a
// write error is discarded instead, so partial writes never become
// visible.
func (s *stagingFile) Close() error {
	if s.werr != nil {
		_ = s.f.Close()
		_ = os.Remove(s.f.Name())
		return s.werr
	}

	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	return os.Rename(s.f.Name(), s.final)
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }
