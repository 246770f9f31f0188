package services

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/config"
)

type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		log.Info().Str("bucket", bucket).Msg("created upload bucket")
	}

	// presigned inputs must outlive the longest looped stream we expect
	return &MinioStore{client: client, bucket: bucket, expiry: 24 * time.Hour}, nil
}

func (s *MinioStore) Save(ctx context.Context, name string, r io.Reader) (int64, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	contentType := config.ContainerMIMEs[ext]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.PutObject(ctx, s.bucket, name, r, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		s.client.RemoveObject(context.Background(), s.bucket, name, minio.RemoveObjectOptions{})
		return 0, err
	}
	return info.Size, nil
}

func (s *MinioStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	return s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
}

func (s *MinioStore) Remove(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

func (s *MinioStore) Locate(ctx context.Context, name string) (string, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", ErrVideoNotFound
		}
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, name, s.expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
