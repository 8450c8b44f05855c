// Package files stores motion attachment bytes in an S3 compatible bucket.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNotFound = errors.New("file not found")

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object is a stored attachment opened for reading.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	store := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func objectKey(id uuid.UUID) string {
	return "attachments/" + id.String()
}

// Put uploads the attachment body. size may be -1 when unknown.
func (s *MinioStore) Put(ctx context.Context, id uuid.UUID, filename, contentType string, body io.Reader, size int64) error {
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(id), body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"filename": filename},
	})
	if err != nil {
		return fmt.Errorf("put attachment %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, id uuid.UUID) (*Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("stat attachment %s: %w", id, err)
	}
	return &Object{ReadCloser: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *MinioStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(id), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
