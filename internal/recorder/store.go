package recorder

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore uploads finalized recordings to object storage.
type MinioStore struct {
	client     *minio.Client
	bucketName string
}

// NewMinioStore creates the store and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucketName string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucketName: bucketName}, nil
}

// Upload stores one WAV artifact and returns its object key.
func (s *MinioStore) Upload(ctx context.Context, callID uuid.UUID, wav []byte) (string, error) {
	objectKey := fmt.Sprintf("%s/%s.wav", time.Now().UTC().Format("2006-01-02"), callID)

	_, err := s.client.PutObject(ctx, s.bucketName, objectKey,
		bytes.NewReader(wav), int64(len(wav)),
		minio.PutObjectOptions{ContentType: "audio/wav"},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}

	return objectKey, nil
}
