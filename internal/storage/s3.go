// Package storage provides blob storage for message attachments.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/wavelink-im/chat-platform/pkg/logger"
)

// ErrStorageDisabled is returned when uploads are attempted without a
// configured bucket.
var ErrStorageDisabled = errors.New("blob storage is not configured; set S3_* to enable file messages")

// BlobStore stores uploaded file bodies and returns stable URIs.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	Enabled() bool
}

// Config holds S3 connection settings.
type Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKeyID  string
	SecretKey    string
	PublicBase   string
	UsePathStyle bool
}

// S3Store handles uploads to S3-compatible storage. When the bucket or
// credentials are missing it stays disabled and Put fails cleanly, so
// text-only deployments need no S3 at all.
type S3Store struct {
	bucket     string
	publicBase string
	client     *s3.Client
	logger     *logger.Logger
	disabled   bool
}

// NewS3Store creates the blob store.
func NewS3Store(ctx context.Context, cfg Config, log *logger.Logger) (*S3Store, error) {
	store := &S3Store{
		bucket:     strings.TrimSpace(cfg.Bucket),
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
		logger:     log,
	}

	accessKey := strings.TrimSpace(cfg.AccessKeyID)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if store.bucket == "" || accessKey == "" || secretKey == "" {
		log.Warn("S3 bucket or credentials not set; file uploads disabled")
		store.disabled = true
		return store, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	store.client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
	})
	return store, nil
}

var _ BlobStore = (*S3Store)(nil)

// Enabled reports whether uploads are available.
func (s *S3Store) Enabled() bool { return !s.disabled }

// Put uploads the body under key and returns the public URI to embed in
// FILE messages.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	if s.disabled {
		return "", ErrStorageDisabled
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}

	s.logger.Debug("blob uploaded", zap.String("key", key), zap.Int64("size", size))
	return s.uri(key), nil
}

func (s *S3Store) uri(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}
