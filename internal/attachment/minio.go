package attachment

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type minioStorage struct {
	client *minio.Client
	bucket string
	log    *zap.Logger
}

func NewMinioClient(opts MinioOptions) (*minio.Client, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// NewMinioStorage makes sure the bucket exists and returns a Storage backed by it.
func NewMinioStorage(ctx context.Context, client *minio.Client, bucket string, log *zap.Logger) (Storage, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
		log.Info("created attachment bucket", zap.String("bucket", bucket))
	}
	return &minioStorage{client: client, bucket: bucket, log: log}, nil
}

func (m *minioStorage) Upload(ctx context.Context, subjectID, filename, contentType string, r io.Reader, size int64) (Object, error) {
	if err := checkSize(size); err != nil {
		return Object{}, err
	}
	ref := NewRef(subjectID, filename)
	info, err := m.client.PutObject(ctx, m.bucket, ref, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"original-filename": filename,
		},
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object %q in bucket %q: %w", ref, m.bucket, err)
	}

	m.log.Info("attachment stored",
		zap.String("ref", ref),
		zap.String("subject_id", subjectID),
		zap.Int64("size", info.Size),
	)
	return Object{Ref: ref, ContentType: contentType, Size: info.Size}, nil
}

func (m *minioStorage) Open(ctx context.Context, ref string) (io.ReadCloser, Object, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, Object{}, fmt.Errorf("get object %q: %w", ref, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	stat, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, Object{}, ErrNotFound
		}
		return nil, Object{}, fmt.Errorf("stat object %q: %w", ref, err)
	}
	return obj, Object{Ref: ref, ContentType: stat.ContentType, Size: stat.Size}, nil
}
