package kvstore_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bsm/kvstore"
	"github.com/bsm/kvstore/fs/local"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	var subject *kvstore.Reader
	var uri string
	var ctx = context.Background()

	open := func() *kvstore.Reader {
		r, err := kvstore.Open(ctx, local.New(), uri)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		uri = mkStoreURI()
	})

	AfterEach(func() {
		if subject != nil {
			_ = subject.Close()
			subject = nil
		}
		_ = os.RemoveAll(filepath.Dir(filepath.FromSlash(uri)))
	})

	It("should open empty stores", func() {
		seedStore(uri, 0, nil)
		subject = open()

		Expect(subject.NumPartitions()).To(Equal(0))
		Expect(subject.Size(ctx)).To(Equal(0))

		_, err := subject.Get(ctx, []byte("key1"))
		Expect(err).To(MatchError(kvstore.ErrNotFound))

		iter := subject.Iterator(ctx)
		defer iter.Release()
		Expect(iter.More()).To(BeFalse())
		Expect(iter.Next()).To(BeFalse())
		Expect(iter.Err()).NotTo(HaveOccurred())
	})

	It("should get single keys", func() {
		ctx := context.Background()
		w, err := kvstore.Create(ctx, local.New(), uri, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Put(ctx, []byte("key1"), []byte("value1"))).To(Succeed())
		Expect(w.Close(ctx)).To(Succeed())

		subject = open()
		Expect(subject.Get(ctx, []byte("key1"))).To(Equal([]byte("value1")))

		_, err = subject.Get(ctx, []byte("key2_foo"))
		Expect(err).To(MatchError(kvstore.ErrNotFound))
	})

	It("should get across many keys", func() {
		// 100 pairs of 4-byte keys and 5KiB values
		ctx := context.Background()
		w, err := kvstore.Create(ctx, local.New(), uri, nil)
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < 100; i++ {
			Expect(w.Put(ctx, increasingBytes(i, 4), increasingBytes(i, 5<<10))).To(Succeed())
		}
		Expect(w.Close(ctx)).To(Succeed())

		subject = open()
		for i := 0; i < 100; i++ {
			Expect(subject.Get(ctx, increasingBytes(i, 4))).To(Equal(increasingBytes(i, 5<<10)), "for key %d", i)
		}

		_, err = subject.Get(ctx, []byte("key1"))
		Expect(err).To(MatchError(kvstore.ErrNotFound))
	})

	It("should get across partitions", func() {
		seedStore(uri, 100, &kvstore.WriterOptions{MaxPartitionSize: 2 << 10})
		subject = open()
		Expect(subject.NumPartitions()).To(BeNumerically(">", 1))
		Expect(subject.Size(ctx)).To(Equal(100))

		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("base_key_%d", i)
			Expect(subject.Get(ctx, []byte(key))).To(Equal([]byte(fmt.Sprintf("base_value_%d", i))), "for %s", key)
		}
	})

	It("should iterate", func() {
		seedStore(uri, 100, nil)
		subject = open()

		iter := subject.Iterator(ctx)
		defer iter.Release()

		seen := make(map[string]string, 100)
		for iter.Next() {
			seen[string(iter.Key())] = string(iter.Value())
		}
		Expect(iter.Err()).NotTo(HaveOccurred())
		Expect(iter.More()).To(BeFalse())

		Expect(seen).To(HaveLen(100))
		for i := 0; i < 100; i++ {
			Expect(seen).To(HaveKeyWithValue(
				fmt.Sprintf("base_key_%d", i),
				fmt.Sprintf("base_value_%d", i),
			))
		}
	})

	It("should iterate across partitions exactly once", func() {
		seedStore(uri, 100, &kvstore.WriterOptions{MaxPartitionSize: 2 << 10})
		subject = open()

		iter := subject.Iterator(ctx)
		defer iter.Release()

		n := 0
		seen := make(map[string]struct{}, 100)
		for iter.More() {
			Expect(iter.Next()).To(BeTrue())
			seen[string(iter.Key())] = struct{}{}
			n++
		}
		Expect(iter.Err()).NotTo(HaveOccurred())
		Expect(n).To(Equal(100))
		Expect(seen).To(HaveLen(100))
	})

	It("should restart fresh iterators from the first partition", func() {
		seedStore(uri, 10, nil)
		subject = open()

		first := subject.Iterator(ctx)
		Expect(first.Next()).To(BeTrue())
		key := string(first.Key())
		first.Release()
		Expect(first.Next()).To(BeFalse())

		second := subject.Iterator(ctx)
		defer second.Release()
		Expect(second.Next()).To(BeTrue())
		Expect(string(second.Key())).To(Equal(key))
	})

	It("should fail reads after close", func() {
		seedStore(uri, 1, nil)
		subject = open()
		Expect(subject.Close()).To(Succeed())

		_, err := subject.Get(ctx, []byte("base_key_0"))
		Expect(err).To(MatchError(`kvstore: is closed`))
	})
})

// increasingBytes mimics the increasing byte patterns used by the
// store's typical workloads: value[i] = start+i (mod 256).
func increasingBytes(start, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(start + i)
	}
	return buf
}
