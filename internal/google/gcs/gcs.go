// Package gcs reads and writes small objects addressed as gs://bucket/object.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ErrNotExist is returned when the object does not exist.
var ErrNotExist = errors.New("object does not exist")

// ParsePath parses gs://bucket/path into bucket and object.
func ParsePath(gcsPath string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsPath, "gs://") {
		return "", "", fmt.Errorf("invalid GCS path: %s", gcsPath)
	}

	parts := strings.SplitN(strings.TrimPrefix(gcsPath, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS path format: %s", gcsPath)
	}

	return parts[0], parts[1], nil
}

// Read downloads an object using Application Default Credentials.
func Read(ctx context.Context, gcsPath string) ([]byte, error) {
	bucket, object, err := ParsePath(gcsPath)
	if err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, gcsPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", gcsPath, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", gcsPath, err)
	}
	return data, nil
}

// Write uploads data to an object, replacing it.
func Write(ctx context.Context, gcsPath string, data []byte, contentType string) error {
	bucket, object, err := ParsePath(gcsPath)
	if err != nil {
		return err
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", gcsPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", gcsPath, err)
	}
	return nil
}

// Object is a gs:// path usable as a utility rule source.
type Object string

// Read downloads the object.
func (o Object) Read(ctx context.Context) ([]byte, error) {
	return Read(ctx, string(o))
}
