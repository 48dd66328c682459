// Package source opens the update package payload stream. Every source
// yields a sequential, non-seekable io.ReadCloser: the agent is written
// against streaming input and never relies on rewinding, whether the
// package sits on local media or behind an object store.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Open resolves a package location and opens its payload stream.
// Supported locations:
//   - s3://bucket/key — streaming S3 GetObject
//   - anything else   — local file path
//
// S3Options only affects s3:// locations.
func Open(ctx context.Context, location string, opts S3Options) (io.ReadCloser, error) {
	if strings.HasPrefix(location, s3Scheme) {
		return OpenS3(ctx, location, opts)
	}
	return OpenFile(location)
}

// Scheme returns the source scheme for a location, for reporting.
func Scheme(location string) string {
	if strings.HasPrefix(location, s3Scheme) {
		return "s3"
	}
	return "file"
}

// OpenFile opens a local package file.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("package not found: %s", path)
		}
		return nil, fmt.Errorf("cannot open package %q: %w", path, err)
	}
	return f, nil
}
