package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/AndreasBriese/bbloom"
	"github.com/bsm/kvstore/fs"
	"github.com/golang/snappy"
)

const partitionPrefix = "part-"

// Per-entry slack reserved on top of the raw key and value bytes for
// the index varints and the membership filter.
const entryOverhead = 32

// Fixed slack reserved per partition for the entry count, the filter
// envelope and the footer.
const partitionOverhead = 256

// One 1/32 share of the partition capacity is reserved up front for
// the index and filter sections, so a partition splits before raw
// key/value bytes alone can fill it.
const indexReserveShare = 32

const filterFalsePositiveRate = 0.01

func partitionName(ordinal int) string {
	return fmt.Sprintf("%s%05d", partitionPrefix, ordinal)
}

func isPartitionName(p string) bool {
	return strings.HasPrefix(path.Base(p), partitionPrefix)
}

// entrySize is the number of bytes an entry contributes to the
// serialized size estimate of a partition.
func entrySize(key, value []byte) int64 {
	return int64(len(key)) + int64(len(value)) + entryOverhead
}

type entry struct {
	key, value []byte
}

// writePartition encodes a set of entries as a single immutable
// partition: payload, sorted key index, membership filter, footer.
// The output is deterministic given the same entry set.
func writePartition(w io.Writer, entries []entry, compression Compression) error {
	entries = append([]entry(nil), entries...) // sort a copy, the pending buffer survives failed flushes
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	sz := 0
	for _, ent := range entries {
		sz += len(ent.value)
	}
	payload := make([]byte, 0, sz)
	for _, ent := range entries {
		payload = append(payload, ent.value...)
	}

	tag := byte(payloadNoCompression)
	if compression == SnappyCompression {
		if snp := snappy.Encode(nil, payload); len(snp) < len(payload)-len(payload)/4 {
			payload = snp
			tag = payloadSnappyCompression
		}
	}

	// index entries are (key len, key, offset delta, value len), with
	// offsets relative to the uncompressed payload.
	idx := binary.AppendUvarint(nil, uint64(len(entries)))
	var off, prev uint64
	for _, ent := range entries {
		idx = binary.AppendUvarint(idx, uint64(len(ent.key)))
		idx = append(idx, ent.key...)
		idx = binary.AppendUvarint(idx, off-prev)
		idx = binary.AppendUvarint(idx, uint64(len(ent.value)))
		prev = off
		off += uint64(len(ent.value))
	}

	filter := bbloom.New(float64(len(entries)), filterFalsePositiveRate)
	for _, ent := range entries {
		filter.Add(ent.key)
	}
	fbuf := filter.JSONMarshal()

	indexOffset := int64(len(payload))
	filterOffset := indexOffset + int64(len(idx))

	ftr := make([]byte, 0, footerSize)
	ftr = binary.LittleEndian.AppendUint64(ftr, uint64(indexOffset))
	ftr = binary.LittleEndian.AppendUint64(ftr, uint64(filterOffset))
	ftr = append(ftr, tag)
	ftr = append(ftr, magic...)

	for _, p := range [][]byte{payload, idx, fbuf, ftr} {
		if _, err := w.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------

type indexEntry struct {
	key  []byte
	off  int64
	vlen int64
}

// table is the loaded, in-memory representation of one persisted
// partition: its sorted key index, its membership filter and a
// random-access handle to the payload bytes.
type table struct {
	f      fs.File
	index  []indexEntry
	filter bbloom.Bloom

	compressed bool
	dataLen    int64  // length of the on-disk payload section
	payload    []byte // decompressed payload, compressed tables only
}

// openTable reads the footer, filter and index of a partition file.
// Payload bytes are left on the file handle and read on demand.
func openTable(f fs.File) (*table, error) {
	size := f.Size()
	if size < footerSize {
		return nil, errBadMagic
	}

	ftr := make([]byte, footerSize)
	if _, err := f.ReadAt(ftr, size-footerSize); err != nil && err != io.EOF {
		return nil, err
	}
	if !bytes.Equal(ftr[17:25], magic) {
		return nil, errBadMagic
	}

	indexOffset := int64(binary.LittleEndian.Uint64(ftr[0:8]))
	filterOffset := int64(binary.LittleEndian.Uint64(ftr[8:16]))
	if indexOffset > filterOffset || filterOffset > size-footerSize {
		return nil, errCorrupted
	}

	var compressed bool
	switch ftr[16] {
	case payloadNoCompression:
	case payloadSnappyCompression:
		compressed = true
	default:
		return nil, errBadCompression
	}

	ibuf := make([]byte, filterOffset-indexOffset)
	if _, err := f.ReadAt(ibuf, indexOffset); err != nil {
		return nil, err
	}
	index, err := parseIndex(ibuf)
	if err != nil {
		return nil, err
	}

	fbuf := make([]byte, size-footerSize-filterOffset)
	if _, err := f.ReadAt(fbuf, filterOffset); err != nil {
		return nil, err
	}

	return &table{
		f:          f,
		index:      index,
		filter:     bbloom.JSONUnmarshal(fbuf),
		compressed: compressed,
		dataLen:    indexOffset,
	}, nil
}

func parseIndex(buf []byte) ([]indexEntry, error) {
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return nil, errCorrupted
	}
	buf = buf[n:]

	index := make([]indexEntry, 0, count)
	var off uint64
	for i := uint64(0); i < count; i++ {
		klen, n := binary.Uvarint(buf)
		if n <= 0 || uint64(len(buf[n:])) < klen {
			return nil, errCorrupted
		}
		buf = buf[n:]
		key := buf[:klen:klen]
		buf = buf[klen:]

		delta, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errCorrupted
		}
		buf = buf[n:]

		vlen, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, errCorrupted
		}
		buf = buf[n:]

		off += delta
		index = append(index, indexEntry{key: key, off: int64(off), vlen: int64(vlen)})
	}
	if len(buf) != 0 {
		return nil, errCorrupted
	}
	return index, nil
}

// NumEntries returns the number of entries stored in the partition.
func (t *table) NumEntries() int { return len(t.index) }

// Lookup performs a binary search over the sorted index and, on a hit,
// appends the value bytes to dst. A miss is not an error.
func (t *table) Lookup(dst, key []byte) ([]byte, bool, error) {
	if !t.filter.Has(key) {
		return dst, false, nil
	}

	i := sort.Search(len(t.index), func(i int) bool {
		return bytes.Compare(t.index[i].key, key) >= 0
	})
	if i >= len(t.index) || !bytes.Equal(t.index[i].key, key) {
		return dst, false, nil
	}
	return t.appendValue(dst, t.index[i])
}

// EntryAt returns the i-th entry in sorted-key order.
func (t *table) EntryAt(dst []byte, i int) (key, value []byte, err error) {
	ie := t.index[i]
	value, _, err = t.appendValue(dst, ie)
	return ie.key, value, err
}

func (t *table) appendValue(dst []byte, ie indexEntry) ([]byte, bool, error) {
	if t.compressed {
		if err := t.loadPayload(); err != nil {
			return dst, false, err
		}
		return append(dst, t.payload[ie.off:ie.off+ie.vlen]...), true, nil
	}

	n := len(dst)
	dst = append(dst, make([]byte, ie.vlen)...)
	if _, err := t.f.ReadAt(dst[n:], ie.off); err != nil && ie.vlen != 0 {
		return dst[:n], false, err
	}
	return dst, true, nil
}

// Compressed payloads are inflated once, on first value access, and
// cached for the lifetime of the table.
func (t *table) loadPayload() error {
	if t.payload != nil {
		return nil
	}

	raw := make([]byte, t.dataLen)
	if _, err := t.f.ReadAt(raw, 0); err != nil {
		return err
	}
	plain, err := snappy.Decode(nil, raw)
	if err != nil {
		return err
	}
	t.payload = plain
	return nil
}

// Close releases the underlying file handle.
func (t *table) Close() error {
	t.payload = nil
	return t.f.Close()
}
