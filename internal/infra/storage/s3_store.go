package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"xray-inference/internal/config"
	"xray-inference/internal/domain"
	"xray-inference/internal/domain/ports/adapter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var _ adapter.ObjectStore = (*S3Store)(nil)

// S3Store reads images from an S3-compatible endpoint (AWS, MinIO, Ceph RGW).
type S3Store struct {
	client *s3.Client
}

func NewS3Store(cfg config.StorageConfig) *S3Store {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	return &S3Store{client: s3.New(opts)}
}

// GetObject streams the object body. The caller must close it.
func (s *S3Store) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	return out.Body, nil
}
