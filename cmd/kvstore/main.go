// Command kvstore populates and inspects partitioned key-value stores
// on the local file system.
//
// Usage:
//
//	kvstore -store DIR put        # tab-separated key/value pairs on stdin
//	kvstore -store DIR get KEY
//	kvstore -store DIR scan
//	kvstore -store DIR stat
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bsm/kvstore"
	"github.com/bsm/kvstore/fs/local"
)

func main() {
	var (
		uri        = flag.String("store", "", "store directory (required)")
		maxSize    = flag.Int64("max-partition-size", 0, "maximum partition size in bytes (default 512MiB)")
		noCompress = flag.Bool("no-compression", false, "disable payload compression")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *uri == "" || flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	opts := &kvstore.WriterOptions{MaxPartitionSize: *maxSize}
	if *noCompress {
		opts.Compression = kvstore.NoCompression
	}

	ctx := context.Background()
	if err := run(ctx, logger, *uri, opts, flag.Args()); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, uri string, opts *kvstore.WriterOptions, args []string) error {
	fsys := local.New()

	switch cmd := args[0]; cmd {
	case "put":
		w, err := kvstore.Create(ctx, fsys, uri, opts)
		if err != nil {
			return err
		}

		n := 0
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)
		for scanner.Scan() {
			key, value, ok := strings.Cut(scanner.Text(), "\t")
			if !ok {
				return fmt.Errorf("line %d: expected tab-separated key and value", n+1)
			}
			if err := w.Put(ctx, []byte(key), []byte(value)); err != nil {
				return err
			}
			n++
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		if err := w.Close(ctx); err != nil {
			return err
		}
		logger.Info("store written", "store", uri, "entries", n, "partitions", w.NumPartitions())
		return nil

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get expects exactly one key")
		}

		r, err := kvstore.Open(ctx, fsys, uri)
		if err != nil {
			return err
		}
		defer r.Close()

		val, err := r.Get(ctx, []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", val)
		return nil

	case "scan":
		r, err := kvstore.Open(ctx, fsys, uri)
		if err != nil {
			return err
		}
		defer r.Close()

		iter := r.Iterator(ctx)
		defer iter.Release()

		for iter.Next() {
			fmt.Printf("%s\t%s\n", iter.Key(), iter.Value())
		}
		return iter.Err()

	case "stat":
		r, err := kvstore.Open(ctx, fsys, uri)
		if err != nil {
			return err
		}
		defer r.Close()

		sz, err := r.Size(ctx)
		if err != nil {
			return err
		}
		logger.Info("store stats", "store", uri, "partitions", r.NumPartitions(), "entries", sz)
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
