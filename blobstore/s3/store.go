package s3

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/qminer/qminer-sub006/blobstore"
)

// Store implements blobstore.BlobStore and blobstore.ConditionalStore on
// an S3 bucket. All names live below an optional key prefix.
type Store struct {
	client Client
	bucket string
	prefix string
	upload UploadConfig
}

// Option configures a Store.
type Option func(*Store)

// WithUploadConfig overrides DefaultUploadConfig.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(s *Store) { s.upload = cfg }
}

// NewStore creates a Store. prefix is prepended to every name (e.g. "backups/").
func NewStore(client Client, bucket, prefix string, opts ...Option) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		upload: DefaultUploadConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig creates a Store with a client built from the default AWS
// configuration chain.
func NewFromConfig(ctx context.Context, bucket, prefix, region string, opts ...Option) (*Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return NewStore(s3.NewFromConfig(cfg), bucket, prefix, opts...), nil
}

// root is the key prefix including its trailing slash, or "".
func (s *Store) root() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func (s *Store) key(name string) string {
	return s.root() + strings.TrimPrefix(path.Clean("/"+name), "/")
}

// Open opens a blob for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, s.key(name))
}

// Create starts a streaming multipart upload.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newStreamingWritableBlob(ctx, newUploader(s.client, s.upload), s.bucket, s.key(name), s.upload.EnableChecksum), nil
}

// Put uploads data in a single request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, putInput(s.bucket, s.key(name), data, s.upload.EnableChecksum))
	return mapError(err)
}

// PutIfNotExists uploads data only if no object with the name exists, using
// an If-None-Match precondition.
func (s *Store) PutIfNotExists(ctx context.Context, name string, data []byte) error {
	in := putInput(s.bucket, s.key(name), data, s.upload.EnableChecksum)
	in.IfNoneMatch = aws.String("*")
	_, err := s.client.PutObject(ctx, in)
	return mapError(err)
}

// Delete removes a blob. S3 does not report missing keys on delete.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return mapError(err)
}

// List returns sorted blob names starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := listObjects(ctx, s.client, s.bucket, s.root()+prefix, s.root())
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

var (
	_ blobstore.BlobStore        = (*Store)(nil)
	_ blobstore.ConditionalStore = (*Store)(nil)
)
