package kvstore

import (
	"bytes"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("partition codec", func() {
	encode := func(compression Compression, entries ...entry) *table {
		buf := new(bytes.Buffer)
		Expect(writePartition(buf, entries, compression)).To(Succeed())

		tbl, err := openTable(&memFile{Reader: bytes.NewReader(buf.Bytes())})
		Expect(err).NotTo(HaveOccurred())
		return tbl
	}

	It("should round-trip", func() {
		tbl := encode(NoCompression,
			entry{key: []byte("banana"), value: []byte("yellow")},
			entry{key: []byte("apple"), value: []byte("green")},
			entry{key: []byte("cherry"), value: []byte("red")},
		)
		defer tbl.Close()

		Expect(tbl.NumEntries()).To(Equal(3))

		val, ok, err := tbl.Lookup(nil, []byte("apple"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(string(val)).To(Equal("green"))

		_, ok, err = tbl.Lookup(nil, []byte("apricot"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("should store entries in key order", func() {
		tbl := encode(NoCompression,
			entry{key: []byte("b"), value: []byte("2")},
			entry{key: []byte("c"), value: []byte("3")},
			entry{key: []byte("a"), value: []byte("1")},
		)
		defer tbl.Close()

		var keys []string
		for i := 0; i < tbl.NumEntries(); i++ {
			key, val, err := tbl.EntryAt(nil, i)
			Expect(err).NotTo(HaveOccurred())
			keys = append(keys, string(key)+"="+string(val))
		}
		Expect(keys).To(Equal([]string{"a=1", "b=2", "c=3"}))
	})

	It("should round-trip compressed payloads", func() {
		tbl := encode(SnappyCompression,
			entry{key: []byte("k1"), value: bytes.Repeat([]byte("abcd"), 4096)},
			entry{key: []byte("k2"), value: bytes.Repeat([]byte("wxyz"), 4096)},
		)
		defer tbl.Close()

		Expect(tbl.compressed).To(BeTrue())

		val, ok, err := tbl.Lookup(nil, []byte("k2"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(val).To(Equal(bytes.Repeat([]byte("wxyz"), 4096)))
	})

	It("should skip compression when it does not pay off", func() {
		tbl := encode(SnappyCompression,
			entry{key: []byte("k1"), value: randomBytes(4096)},
		)
		defer tbl.Close()

		Expect(tbl.compressed).To(BeFalse())
	})

	It("should serialize deterministically", func() {
		entries := []entry{
			{key: []byte("b"), value: []byte("2")},
			{key: []byte("a"), value: []byte("1")},
		}

		b1 := new(bytes.Buffer)
		Expect(writePartition(b1, append([]entry(nil), entries...), NoCompression)).To(Succeed())
		b2 := new(bytes.Buffer)
		Expect(writePartition(b2, []entry{entries[1], entries[0]}, NoCompression)).To(Succeed())
		Expect(b1.Bytes()).To(Equal(b2.Bytes()))
	})

	It("should support empty values", func() {
		tbl := encode(NoCompression,
			entry{key: []byte("empty"), value: []byte{}},
			entry{key: []byte("full"), value: []byte("x")},
		)
		defer tbl.Close()

		val, ok, err := tbl.Lookup(nil, []byte("empty"))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(val).To(BeEmpty())
	})

	It("should reject bad magic", func() {
		_, err := openTable(&memFile{Reader: bytes.NewReader(bytes.Repeat([]byte{'x'}, 64))})
		Expect(err).To(MatchError(errBadMagic))
	})

	It("should keep estimates above the serialized size", func() {
		entries := []entry{
			{key: []byte("k1"), value: randomBytes(700)},
			{key: []byte("key_longer_2"), value: randomBytes(4000)},
			{key: []byte("k3"), value: []byte{}},
		}

		estimate := int64(partitionOverhead)
		for _, ent := range entries {
			estimate += entrySize(ent.key, ent.value)
		}

		buf := new(bytes.Buffer)
		Expect(writePartition(buf, entries, NoCompression)).To(Succeed())
		Expect(int64(buf.Len())).To(BeNumerically("<=", estimate))
	})
})

// --------------------------------------------------------------------

type memFile struct{ *bytes.Reader }

func (f *memFile) Close() error { return nil }

func randomBytes(n int) []byte {
	buf := make([]byte, n)
	seed := uint32(2463534242)
	for i := range buf {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		buf[i] = byte(seed)
	}
	return buf
}
