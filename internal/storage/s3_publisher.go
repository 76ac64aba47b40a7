package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/pool-metrics/internal/config"
	apperrors "github.com/pool-metrics/internal/errors"
	"github.com/pool-metrics/internal/types"
)

// ObjectPutter is the subset of the S3 API used by the publisher
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads the snapshot document to a fixed object key
type S3Publisher struct {
	client  ObjectPutter
	bucket  string
	key     string
	timeout time.Duration
}

// NewS3Publisher builds an S3 client from configuration
func NewS3Publisher(ctx context.Context, cfg *appconfig.S3Config) (*S3Publisher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return NewS3PublisherWithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewS3PublisherWithClient wraps an existing client
func NewS3PublisherWithClient(client ObjectPutter, bucket, key string) *S3Publisher {
	return &S3Publisher{
		client:  client,
		bucket:  bucket,
		key:     key,
		timeout: 2 * time.Minute,
	}
}

// Name identifies the sink in logs and metrics
func (p *S3Publisher) Name() string { return "s3" }

// Write overwrites the object with the current snapshot document
func (p *S3Publisher) Write(ctx context.Context, set types.SnapshotSet, meta *types.RunMetadata) error {
	data, err := EncodeSnapshots(set)
	if err != nil {
		return apperrors.NewStorageError("encode snapshots", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(p.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if meta != nil {
		input.Metadata = map[string]string{
			"run-id":       meta.RunID,
			"block-height": fmt.Sprintf("%d", meta.BlockHeight),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return apperrors.NewStorageError("upload snapshots to s3", err)
	}
	return nil
}
