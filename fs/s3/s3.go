// Package s3 implements the kvstore file-system collaborator on Amazon
// S3. Paths are object keys within a single bucket. Objects only become
// visible once fully uploaded, which satisfies the atomic-visibility
// requirement without a staging step.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bsm/kvstore/fs"
)

// Client is the S3 API surface used by this package, implemented by
// *s3.Client.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// FileSystem implements fs.FileSystem on a single S3 bucket.
type FileSystem struct {
	client Client
	bucket string
}

// New returns an S3-backed file system.
func New(client Client, bucket string) *FileSystem {
	return &FileSystem{client: client, bucket: bucket}
}

// Create returns a sink that buffers the full object in memory and
// uploads it in a single PutObject call on close.
func (s *FileSystem) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return &object{ctx: ctx, fsys: s, key: path}, nil
}

// Open resolves the object size and returns a handle that serves
// random-access reads through ranged GetObject calls.
func (s *FileSystem) Open(ctx context.Context, path string) (fs.File, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: unable to open s3://%s/%s: %w", s.bucket, path, err)
	}
	return &objectFile{ctx: ctx, fsys: s, key: path, size: aws.ToInt64(head.ContentLength)}, nil
}

// List returns the objects directly under the dir prefix.
func (s *FileSystem) List(ctx context.Context, dir string) ([]fs.FileInfo, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"

	var infos []fs.FileInfo
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: unable to list s3://%s/%s: %w", s.bucket, prefix, err)
		}

		for _, obj := range out.Contents {
			infos = append(infos, fs.FileInfo{
				Path: aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return infos, nil
}

// --------------------------------------------------------------------

type object struct {
	ctx  context.Context
	fsys *FileSystem
	key  string
	buf  bytes.Buffer
	done bool
}

func (o *object) Write(p []byte) (int, error) { return o.buf.Write(p) }

func (o *object) Close() error {
	if o.done {
		return nil
	}
	o.done = true

	_, err := o.fsys.client.PutObject(o.ctx, &s3.PutObjectInput{
		Bucket: aws.String(o.fsys.bucket),
		Key:    aws.String(o.key),
		Body:   bytes.NewReader(o.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("s3: unable to write s3://%s/%s: %w", o.fsys.bucket, o.key, err)
	}
	return nil
}

type objectFile struct {
	ctx  context.Context
	fsys *FileSystem
	key  string
	size int64
}

func (f *objectFile) Size() int64 { return f.size }

func (f *objectFile) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	out, err := f.fsys.client.GetObject(f.ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.fsys.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)),
	})
	if err != nil {
		return 0, fmt.Errorf("s3: unable to read s3://%s/%s: %w", f.fsys.bucket, f.key, err)
	}
	defer out.Body.Close()

	return io.ReadFull(out.Body, p)
}

func (f *objectFile) Close() error { return nil }
