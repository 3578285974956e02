package gcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

type UploaderConfig struct {
	LandingBucket  string
	MaxRetries     int
	InitialBackoff time.Duration
	WriteTimeout   time.Duration
}

// DefaultUploaderConfig mirrors the retry policy used for every GCS write.
func DefaultUploaderConfig(landingBucket string) UploaderConfig {
	return UploaderConfig{
		LandingBucket:  landingBucket,
		MaxRetries:     4,
		InitialBackoff: time.Second,
		WriteTimeout:   50 * time.Second,
	}
}

// StorageUploader copies staged files into the landing bucket the conversion service
// reads from. PDFs are validated and optimized on the way.
type StorageUploader struct {
	client *storage.Client
	config UploaderConfig
}

func NewStorageUploader(client *storage.Client, config UploaderConfig) *StorageUploader {
	return &StorageUploader{client: client, config: config}
}

func (u *StorageUploader) Upload(ctx context.Context, file models.ManifestFile, rc *models.RequestContext) (models.SignedFile, error) {
	bucket, object, err := ParseGCSPath(file.StagingFilePath())
	if err != nil {
		return models.SignedFile{}, err
	}
	logCtx := slog.With("associativeId", file.AssociativeID, "gcsBucket", bucket, "gcsObject", object)

	tempDir, err := os.MkdirTemp("", "manifest-upload-*")
	if err != nil {
		return models.SignedFile{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPath := filepath.Join(tempDir, path.Base(object))
	if err := u.streamGCSObject(ctx, bucket, object, localPath); err != nil {
		return models.SignedFile{}, err
	}

	var pageCount int
	if isPDF(object) {
		optimized := filepath.Join(tempDir, "optimized.pdf")
		if err := optimizePDF(localPath, optimized); err != nil {
			return models.SignedFile{}, fmt.Errorf("failed to validate/optimize PDF: %w", err)
		}
		if pageCount, err = api.PageCountFile(optimized); err != nil {
			return models.SignedFile{}, fmt.Errorf("failed to get page count: %w", err)
		}
		localPath = optimized
	}

	dest := landingObject(rc.Partition, object)
	err = withRetry(ctx, u.config.MaxRetries, u.config.InitialBackoff, dest, func(ctx context.Context) error {
		return u.uploadFile(ctx, localPath, dest)
	})
	if err != nil {
		return models.SignedFile{}, err
	}

	logCtx.Info("File copied to landing bucket.", "destination", dest, "pageCount", pageCount)
	return models.SignedFile{
		File:         file,
		Location:     fmt.Sprintf("gs://%s/%s", u.config.LandingBucket, dest),
		RelativePath: dest,
		PageCount:    pageCount,
	}, nil
}

// landingObject places every upload under its partition with a fresh prefix, so two
// manifests staging the same file never collide.
func landingObject(partition, stagedObject string) string {
	return fmt.Sprintf("%s/%s/%s", partition, uuid.NewString(), path.Base(stagedObject))
}

func isPDF(object string) bool {
	return strings.EqualFold(path.Ext(object), ".pdf")
}

func optimizePDF(inPath, outPath string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}

func (u *StorageUploader) streamGCSObject(ctx context.Context, bucket, object, destPath string) error {
	gcsReader, err := u.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer gcsReader.Close()
	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()
	if _, err := io.Copy(localFile, gcsReader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func (u *StorageUploader) uploadFile(ctx context.Context, localPath, destObject string) error {
	localFileReader, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("could not open local file %s: %w", localPath, err)
	}
	defer localFileReader.Close()

	writeCtx, cancel := context.WithTimeout(ctx, u.config.WriteTimeout)
	defer cancel()

	gcsWriter := u.client.Bucket(u.config.LandingBucket).Object(destObject).NewWriter(writeCtx)
	if _, err := io.Copy(gcsWriter, localFileReader); err != nil {
		_ = gcsWriter.Close()
		return fmt.Errorf("io.Copy to GCS failed: %w", err)
	}
	if err := gcsWriter.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer (finalize upload): %w", err)
	}
	return nil
}

// withRetry runs fn up to attempts times, doubling the wait after each failure.
func withRetry(ctx context.Context, attempts int, backoff time.Duration, target string, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", target,
			"attempt", i+1,
			"maxRetries", attempts,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", target, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", target, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", target, lastErr)
}
