// Package objectstore stores items as one JSON array object in S3-compatible
// storage, written once at the end of a run.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	mclient "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/store"
	"github.com/typesarecool/myhn/pkg/store/snapshot"
)

// Backend is the metrics and configuration name of this store.
const Backend = "s3"

// ErrNoObject is returned by Blob.Read when the object does not exist yet.
var ErrNoObject = errors.New("object does not exist")

// Blob reads and writes the single snapshot object.
type Blob interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Config locates the snapshot object.
type Config struct {
	// Endpoint is host:port or a URL; an https scheme enables TLS
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Object    string

	// CreateBucket makes the bucket when it is missing instead of failing
	CreateBucket bool
}

// Store is a snapshot object. Upserts stay in memory until Flush.
type Store struct {
	*snapshot.Collection

	blob   Blob
	logger zerolog.Logger
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Flusher = (*Store)(nil)
)

// Open connects to the object store and loads the existing snapshot, if any.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	blob, err := NewMinioBlob(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(ctx, blob, logger)
}

// New loads the snapshot held by blob.
func New(ctx context.Context, blob Blob, logger zerolog.Logger) (*Store, error) {
	data, err := blob.Read(ctx)
	if err != nil && !errors.Is(err, ErrNoObject) {
		return nil, fmt.Errorf("objectstore: read snapshot: %w", err)
	}

	c, err := snapshot.Decode(Backend, data)
	if err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}

	logger.Info().Int("items", c.Len()).Msg("Opened snapshot object")
	return &Store{Collection: c, blob: blob, logger: logger}, nil
}

// Flush uploads the collection when it changed since the last flush.
func (s *Store) Flush(ctx context.Context) error {
	if !s.Dirty() {
		return nil
	}

	data, err := s.Encode()
	if err != nil {
		return err
	}
	if err := s.blob.Write(ctx, data); err != nil {
		return fmt.Errorf("objectstore: write snapshot: %w", err)
	}

	s.MarkClean()
	s.logger.Info().
		Int("items", s.Len()).
		Int("bytes", len(data)).
		Msg("Snapshot uploaded")
	return nil
}

// Close releases nothing; unflushed items are discarded.
func (s *Store) Close() error {
	return nil
}

// MinioBlob is a Blob backed by a MinIO client.
type MinioBlob struct {
	client *mclient.Client
	bucket string
	object string
}

// NewMinioBlob connects to the endpoint and checks the bucket.
func NewMinioBlob(ctx context.Context, cfg Config) (*MinioBlob, error) {
	const op = "objectstore.NewMinioBlob"

	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%s: endpoint and bucket are required", op)
	}
	if cfg.Object == "" {
		cfg.Object = "items.json"
	}

	endpoint := cfg.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := mclient.New(endpoint, &mclient.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, fmt.Errorf("%s: bucket %q does not exist", op, cfg.Bucket)
		}
		if err := client.MakeBucket(ctx, cfg.Bucket, mclient.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("%s: create bucket %q: %w", op, cfg.Bucket, err)
		}
	}

	return &MinioBlob{client: client, bucket: cfg.Bucket, object: cfg.Object}, nil
}

// Read downloads the object, or returns ErrNoObject.
func (b *MinioBlob) Read(ctx context.Context) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.object, mclient.GetObjectOptions{})
	if err != nil {
		return nil, b.mapErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.mapErr(err)
	}
	return data, nil
}

// Write replaces the object with data.
func (b *MinioBlob) Write(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.object, bytes.NewReader(data), int64(len(data)),
		mclient.PutObjectOptions{ContentType: "application/json"})
	return err
}

func (b *MinioBlob) mapErr(err error) error {
	if mclient.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNoObject
	}
	return fmt.Errorf("%s/%s: %w", b.bucket, b.object, err)
}
