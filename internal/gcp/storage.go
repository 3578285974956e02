package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// An existing object is not a failure: the write is idempotent.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to copy content to GCS object.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("SKIPPING: Object already exists.", "gcsObject", objectName)
			return nil
		}
		slog.Error("Failed to close GCS writer.", "gcsObject", objectName, "error", err)
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == 412
}

// ReadObject returns the whole content of gs://bucket/object.
func ReadObject(ctx context.Context, client *storage.Client, bucket, object string) ([]byte, error) {
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// ParseGCSPath splits "gs://bucket/object" into its bucket and object name.
func ParseGCSPath(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// path: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// path needs a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}
