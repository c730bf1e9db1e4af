package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ctmphuongg/weapon-detection-app/internal/logger"
)

// s3API is the subset of the S3 client the saver needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads snapshots to an S3 bucket under a date-hierarchical prefix and
// falls back to local storage when an upload fails.
type S3 struct {
	client   s3API
	bucket   string
	region   string
	fallback *Local
}

// NewS3 builds a saver using the default AWS credential chain.
func NewS3(ctx context.Context, bucket, region string, fallback *Local) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3{
		client:   s3.NewFromConfig(cfg),
		bucket:   bucket,
		region:   region,
		fallback: fallback,
	}, nil
}

// Save uploads the snapshot and returns its public URL. On upload failure
// the snapshot is saved locally instead.
func (s *S3) Save(ctx context.Context, jpegData []byte) (string, error) {
	now := time.Now()
	key := fmt.Sprintf("detections/%s/%s", now.Format("2006/01/02"), snapshotName(now))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(jpegData),
		ContentType: aws.String("image/jpeg"),
	})
	if err != nil {
		logger.Error("Storage", "S3 upload failed: %v", err)
		if s.fallback != nil {
			return s.fallback.Save(ctx, jpegData)
		}
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}

var _ Saver = (*S3)(nil)
