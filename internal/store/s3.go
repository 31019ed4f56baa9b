package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Options configures the S3-backed record store.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// UsePathStyle is required by most non-AWS S3 providers.
	UsePathStyle bool
}

// s3Store persists frames as S3 objects under prefix/recordID.
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates an S3-backed record store.
func NewS3Store(ctx context.Context, opts S3Options) (RecordStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &s3Store{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (s *s3Store) objectKey(recordID string) string {
	if s.prefix == "" {
		return recordID
	}
	return strings.TrimSuffix(s.prefix, "/") + "/" + recordID
}

func (s *s3Store) Put(ctx context.Context, recordID, frame string, metadata map[string]string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(recordID)),
		Body:        bytes.NewReader([]byte(frame)),
		ContentType: aws.String("text/plain"),
		Metadata:    metadata,
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put record %s: %w", recordID, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, recordID string) (string, map[string]string, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(recordID)),
	}
	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound") {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("failed to get record %s: %w", recordID, err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read record %s: %w", recordID, err)
	}
	return string(body), result.Metadata, nil
}

func (s *s3Store) Delete(ctx context.Context, recordID string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(recordID)),
	}
	if _, err := s.client.DeleteObject(ctx, input); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", recordID, err)
	}
	return nil
}
