package kvstore

import (
	"context"
	"fmt"

	"github.com/bsm/kvstore/fs"
)

// Reader instances serve point lookups and full scans over a closed
// store. Partition indices are loaded on first access and cached until
// Close. Instances are not safe for concurrent use; open one reader per
// goroutine instead, partitions are immutable.
type Reader struct {
	fsys   fs.FileSystem
	uri    string
	parts  []*partitionHandle
	closed bool
}

type partitionHandle struct {
	info fs.FileInfo
	tbl  *table // nil until loaded
}

// NumPartitions returns the number of partitions in the store.
func (r *Reader) NumPartitions() int { return len(r.parts) }

// Append retrieves a single value for a key and appends it to dst.
// Since partitions are size-partitioned rather than key-range
// partitioned, they are probed in listing order until the first hit;
// the per-partition membership filter rules most of them out without
// touching their payload. It may return an ErrNotFound error.
func (r *Reader) Append(ctx context.Context, dst, key []byte) ([]byte, error) {
	if r.closed {
		return dst, errClosed
	}

	for i := range r.parts {
		tbl, err := r.load(ctx, i)
		if err != nil {
			return dst, err
		}

		dst2, ok, err := tbl.Lookup(dst, key)
		if err != nil {
			return dst, err
		}
		if ok {
			return dst2, nil
		}
	}
	return dst, ErrNotFound
}

// Get is a shortcut for Append(ctx, nil, key).
// It may return an ErrNotFound error.
func (r *Reader) Get(ctx context.Context, key []byte) ([]byte, error) {
	return r.Append(ctx, nil, key)
}

// Size returns the total number of key-value pairs in the store.
func (r *Reader) Size(ctx context.Context) (int, error) {
	if r.closed {
		return 0, errClosed
	}

	sz := 0
	for i := range r.parts {
		tbl, err := r.load(ctx, i)
		if err != nil {
			return 0, err
		}
		sz += tbl.NumEntries()
	}
	return sz, nil
}

// Iterator returns an iterator over all entries of the store. Each
// partition is yielded in its sorted-key order, there is no ordering
// guarantee across partitions. A fresh iterator restarts from the
// first partition.
func (r *Reader) Iterator(ctx context.Context) *Iterator {
	return &Iterator{r: r, ctx: ctx}
}

// Close releases all held file handles and cached indices. The reader
// must not be used after this method is called.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	for _, p := range r.parts {
		if p.tbl != nil {
			if e := p.tbl.Close(); e != nil && err == nil {
				err = e
			}
			p.tbl = nil
		}
	}
	return err
}

func (r *Reader) load(ctx context.Context, i int) (*table, error) {
	if r.closed {
		return nil, errClosed
	}

	p := r.parts[i]
	if p.tbl != nil {
		return p.tbl, nil
	}

	f, err := r.fsys.Open(ctx, p.info.Path)
	if err != nil {
		return nil, fmt.Errorf("kvstore: unable to open partition %s: %w", p.info.Path, err)
	}
	tbl, err := openTable(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("kvstore: unable to read partition %s: %w", p.info.Path, err)
	}
	p.tbl = tbl
	return tbl, nil
}

// --------------------------------------------------------------------

// Iterator forward-iterates over all entries of a store across
// partition boundaries. Every entry is yielded exactly once.
type Iterator struct {
	r   *Reader
	ctx context.Context

	ppos int // the current partition position
	epos int // the next entry position within the partition

	key, val []byte
	err      error
}

// Key returns the key of the current entry.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the value of the current entry. Values are temporary
// buffers and must be copied if used beyond the next cursor move.
func (it *Iterator) Value() []byte { return it.val }

// More returns true if more entries can be read.
func (it *Iterator) More() bool {
	if it.err != nil {
		return false
	}

	for n := it.ppos; n < len(it.r.parts); n++ {
		tbl, err := it.r.load(it.ctx, n)
		if err != nil {
			it.err = err
			return false
		}

		rem := tbl.NumEntries()
		if n == it.ppos {
			rem -= it.epos
		}
		if rem > 0 {
			return true
		}
	}
	return false
}

// Next advances the cursor to the next entry and returns true if
// successful.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	for it.ppos < len(it.r.parts) {
		tbl, err := it.r.load(it.ctx, it.ppos)
		if err != nil {
			it.err = err
			return false
		}

		if it.epos < tbl.NumEntries() {
			key, val, err := tbl.EntryAt(it.val[:0], it.epos)
			if err != nil {
				it.err = err
				return false
			}
			it.key, it.val = key, val
			it.epos++
			return true
		}

		it.ppos++
		it.epos = 0
	}
	return false
}

// Err exposes iterator errors, if any.
func (it *Iterator) Err() error {
	if it.err == errReleased {
		return nil
	}
	return it.err
}

// Release releases the iterator. The iterator must not be used after
// this method is called; the reader's cached indices stay available to
// other iterators and lookups.
func (it *Iterator) Release() {
	it.err = errReleased
}
