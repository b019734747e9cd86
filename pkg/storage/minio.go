package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/qbank-api/pkg/config"
)

var tracer = otel.Tracer("qbank-storage")

// MinioStorage keeps blobs in an S3 compatible bucket.
type MinioStorage struct {
	client *minio.Client
	bucket string
}

// NewMinioStorage connects to MinIO and makes sure the bucket exists.
func NewMinioStorage(ctx context.Context, cfg config.StorageConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &MinioStorage{client: client, bucket: cfg.MinioBucket}, nil
}

// Save uploads r under key using a streaming multipart upload.
func (s *MinioStorage) Save(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, ErrInvalidKey
	}
	ctx, span := tracer.Start(ctx, "minio.put_object", trace.WithAttributes(attribute.String("object_key", key)))
	defer span.End()

	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("put object: %w", err)
	}
	span.SetAttributes(attribute.Int64("size_bytes", info.Size))
	return info.Size, nil
}

// Open returns a reader over the object body.
func (s *MinioStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.get_object", trace.WithAttributes(attribute.String("object_key", key)))
	defer span.End()

	if ok, err := s.Exists(ctx, key); err != nil {
		span.RecordError(err)
		return nil, err
	} else if !ok {
		return nil, ErrObjectNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *MinioStorage) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.remove_object", trace.WithAttributes(attribute.String("object_key", key)))
	defer span.End()

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

// Exists stats the object.
func (s *MinioStorage) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// LocalPath downloads the object into a temp file which release removes.
func (s *MinioStorage) LocalPath(ctx context.Context, key string) (string, func(), error) {
	ctx, span := tracer.Start(ctx, "minio.fget_object", trace.WithAttributes(attribute.String("object_key", key)))
	defer span.End()

	tmp, err := os.CreateTemp("", "qbank-blob-*"+path.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	localPath := tmp.Name()
	_ = tmp.Close()
	release := func() { _ = os.Remove(localPath) }

	if err := s.client.FGetObject(ctx, s.bucket, key, localPath, minio.GetObjectOptions{}); err != nil {
		release()
		if isNoSuchKey(err) {
			return "", nil, ErrObjectNotFound
		}
		span.RecordError(err)
		return "", nil, fmt.Errorf("download object: %w", err)
	}
	return localPath, release, nil
}

// Walk lists every object in the bucket.
func (s *MinioStorage) Walk(ctx context.Context, fn func(BlobInfo) error) error {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list objects: %w", obj.Err)
		}
		if err := fn(BlobInfo{Key: obj.Key, Size: obj.Size, ModTime: obj.LastModified}); err != nil {
			return err
		}
	}
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchObject"
}
