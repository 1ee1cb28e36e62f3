package kvstore

import (
	"context"
	"fmt"
	"path"

	"github.com/bsm/kvstore/fs"
)

// WriterOptions define write session specific options.
type WriterOptions struct {
	// MaxPartitionSize is the maximum serialized size in bytes of each
	// partition. A share of this capacity is reserved for the
	// partition's index and filter sections; entries that cannot fit
	// into the remainder are rejected.
	// Default: 512MiB.
	MaxPartitionSize int64

	// The compression codec to use for partition payloads.
	// Default: SnappyCompression.
	Compression Compression
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}

	if oo.MaxPartitionSize < 1 {
		oo.MaxPartitionSize = 512 << 20
	}
	if !oo.Compression.isValid() {
		oo.Compression = SnappyCompression
	}

	return &oo
}

// usable returns the byte budget available to pending entries within a
// single partition: the configured maximum less the reserved index and
// filter share and the fixed per-partition slack.
func (o *WriterOptions) usable() int64 {
	return o.MaxPartitionSize - o.MaxPartitionSize/indexReserveShare - partitionOverhead
}

// Writer instances accumulate key-value pairs and persist them as a
// series of size-bounded, immutable partitions. Instances are not safe
// for concurrent use.
type Writer struct {
	fsys fs.FileSystem
	uri  string
	o    *WriterOptions

	entries []entry        // pending entries, insertion order
	keyed   map[string]int // pending key -> position in entries
	pending int64          // serialized size estimate of the pending partition
	ordinal int
	closed  bool
}

// Put adds a key-value pair to the store. Both key and value are copied
// and may be reused by the caller. Putting a key that is already
// pending replaces its value (last write wins); keys must otherwise be
// unique across the whole store, which is not enforced internally.
//
// When the pending partition cannot accommodate the pair, it is flushed
// first, so every persisted partition stays within MaxPartitionSize. A
// pair too large for a partition of its own is rejected with an
// EntryTooLargeError before any state is mutated.
func (w *Writer) Put(ctx context.Context, key, value []byte) error {
	if w.closed {
		return errClosed
	}

	esz := entrySize(key, value)
	if esz > w.o.usable() {
		return &EntryTooLargeError{
			KeyLen:           len(key),
			ValueLen:         len(value),
			MaxPartitionSize: w.o.MaxPartitionSize,
		}
	}

	// A pending key is replaced, last write wins. The old entry is
	// dropped first so the regular flush-before-add policy applies to
	// the replacement.
	if i, ok := w.keyed[string(key)]; ok {
		old := w.entries[i]
		last := len(w.entries) - 1
		if i != last {
			w.entries[i] = w.entries[last]
			w.keyed[string(w.entries[i].key)] = i
		}
		w.entries = w.entries[:last]
		delete(w.keyed, string(key))
		w.pending -= entrySize(old.key, old.value)
	}

	if len(w.entries) != 0 && w.pending+esz > w.o.usable() {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}

	if w.keyed == nil {
		w.keyed = make(map[string]int)
	}
	w.keyed[string(key)] = len(w.entries)
	w.entries = append(w.entries, entry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})
	w.pending += esz

	return nil
}

// NumPartitions returns the number of partitions flushed so far.
func (w *Writer) NumPartitions() int { return w.ordinal }

// Close flushes the pending partition, if any, and marks the session
// closed. A session that never received a Put leaves no files behind.
// Further calls to Put or Close return an error.
func (w *Writer) Close(ctx context.Context) error {
	if w.closed {
		return errClosed
	}

	if len(w.entries) != 0 {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	w.closed = true
	return nil
}

// flush consumes the pending partition: entries are sorted, serialized
// and handed to the file system as a single new file named by the
// current ordinal. The pending buffer is replaced by a fresh one.
func (w *Writer) flush(ctx context.Context) error {
	name := path.Join(w.uri, partitionName(w.ordinal))
	f, err := w.fsys.Create(ctx, name)
	if err != nil {
		return fmt.Errorf("kvstore: unable to create partition %s: %w", name, err)
	}

	if err := writePartition(f, w.entries, w.o.Compression); err != nil {
		_ = f.Close()
		return fmt.Errorf("kvstore: unable to write partition %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("kvstore: unable to write partition %s: %w", name, err)
	}

	w.ordinal++
	w.entries = nil
	w.keyed = nil
	w.pending = 0
	return nil
}
