// Package storage wraps the S3 access used for resume assets and
// audit records behind a small interface so handlers can be tested
// with an in-memory fake.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store reads and writes opaque objects.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// S3Store implements Store on a single S3 bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates a Store backed by the given bucket using the
// default AWS credential chain.
func NewS3Store(bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO())
	if err != nil {
		slog.Error("Failed to load AWS config for S3 store", "error", err.Error())
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Store{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
	}, nil
}

// NewS3StoreWithClient creates a Store with an injected client.
func NewS3StoreWithClient(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// Put uploads an object. The body is buffered so the SDK can compute
// the content length.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("failed to read object body: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("Failed to put object in S3",
			slog.String("bucket", s.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to put object: %w", err)
	}

	slog.Debug("Stored object in S3",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)))
	return nil
}

// Get retrieves an object. The caller owns the returned reader.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("Failed to get object from S3",
			slog.String("bucket", s.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	return resp.Body, nil
}
