package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio uploads archived frames to an S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio creates the client. The bucket is created on first upload if missing.
func NewMinio(endpoint, accessKey, secretKey, bucket string, secure bool) (*Minio, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &Minio{client: client, bucket: bucket}, nil
}

func (m *Minio) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores data as name.
func (m *Minio) Upload(ctx context.Context, name string, data []byte) error {
	if err := m.ensureBucket(ctx); err != nil {
		return fmt.Errorf("bucket error: %w", err)
	}
	_, err := m.client.PutObject(ctx, m.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return fmt.Errorf("upload error: %w", err)
	}
	return nil
}
