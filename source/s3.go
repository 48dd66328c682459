package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const s3Scheme = "s3://"

// S3Options holds S3 access options beyond the package URL itself.
type S3Options struct {
	// Region is the AWS region (optional, default credential chain rules apply).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO on the local fleet network). Empty uses the AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not
	// subdomain). Required by most S3-compatible providers.
	UsePathStyle bool
}

// ParseS3URL splits an s3://bucket/key URL.
func ParseS3URL(url string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(url, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("not an S3 URL: %q", url)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 URL %q needs the form s3://bucket/key", url)
	}
	return bucket, key, nil
}

// OpenS3 opens a streaming GetObject body for an s3://bucket/key package.
// Credentials come from the AWS SDK default chain (env vars, shared
// config, instance role).
func OpenS3(ctx context.Context, url string, opts S3Options) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		endpoint := opts.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return openS3Object(ctx, client, bucket, key)
}

// s3GetObjectAPI is the slice of the S3 client the source needs.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// openS3Object fetches the object and returns its streaming body.
func openS3Object(ctx context.Context, client s3GetObjectAPI, bucket, key string) (io.ReadCloser, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 get s3://%s/%s: %w", bucket, key, err)
	}
	if out.Body == nil {
		return nil, errors.New("S3 object has no body")
	}
	return out.Body, nil
}
