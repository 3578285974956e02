package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/store"
	"github.com/Lllllllleong/manifestflow/internal/validation"
)

// RejectedError is returned when a submission is refused before any job exists.
type RejectedError struct {
	Violations []string
}

func (e *RejectedError) Error() string {
	return "manifest rejected: " + strings.Join(e.Violations, "; ")
}

// StageFunc writes an object to the manifests bucket.
type StageFunc func(ctx context.Context, object string, content []byte) error

// SubmitterFunction accepts manifests. It validates, resolves the caller's groups while
// the token is fresh, creates the job and stages the envelope whose arrival starts
// processing.
type SubmitterFunction struct {
	jobs      ingest.JobStore
	groups    GroupResolver
	validator *validation.ManifestValidator
	stage     StageFunc
}

func NewSubmitter(ctx context.Context) (*SubmitterFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Require("ProjectID", "ManifestsBucket", "EntitlementsURL", "GroupEmailDomain"); err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	bucket := storageClient.Bucket(config.ManifestsBucket)
	f := NewSubmitterWith(store.NewFirestoreJobs(firestoreClient), newGroupResolver(config), func(ctx context.Context, object string, content []byte) error {
		return gcp.SaveToGCSAtomically(ctx, bucket, object, content)
	})
	slog.Info("Manifest submitter initialized.", "manifestsBucket", config.ManifestsBucket)
	return f, nil
}

// NewSubmitterWith builds a submitter over explicit collaborators.
func NewSubmitterWith(jobs ingest.JobStore, groups GroupResolver, stage StageFunc) *SubmitterFunction {
	return &SubmitterFunction{
		jobs:      jobs,
		groups:    groups,
		validator: validation.NewManifestValidator(nil),
		stage:     stage,
	}
}

// Process returns a *RejectedError for bad headers or an invalid manifest. Any other
// error means the submission could not be recorded.
func (f *SubmitterFunction) Process(ctx context.Context, headers models.IngestHeaders, req *models.SubmitManifestRequest) (*models.SubmitManifestResponse, error) {
	if violations := headerViolations(headers); len(violations) > 0 {
		return nil, &RejectedError{Violations: violations}
	}
	if _, err := models.NewRequestContext(headers, nil); err != nil {
		return nil, &RejectedError{Violations: []string{err.Error()}}
	}

	violations, err := f.validator.Validate(&req.Manifest)
	if err != nil {
		slog.Error("Manifest validation could not run.", "error", err)
		return nil, fmt.Errorf("failed to validate manifest: %w", err)
	}
	if len(violations) > 0 {
		slog.Info("Manifest rejected.", "partition", headers.Partition, "violations", len(violations))
		return nil, &RejectedError{Violations: violations}
	}

	groups, err := f.groups.Groups(ctx, headers)
	if err != nil {
		slog.Error("Failed to resolve caller groups.", "partition", headers.Partition, "error", err)
		return nil, fmt.Errorf("failed to resolve caller groups: %w", err)
	}

	jobID := uuid.NewString()
	logCtx := slog.With("jobId", jobID, "partition", headers.Partition)
	if err := f.jobs.Create(ctx, models.IngestJob{ID: jobID, Status: models.IngestJobCreated}); err != nil {
		logCtx.Error("Failed to create ingest job.", "error", err)
		return nil, fmt.Errorf("failed to create ingest job: %w", err)
	}

	envelope, err := json.Marshal(models.ManifestEnvelope{JobID: jobID, Headers: headers, Groups: groups, Manifest: req.Manifest})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to marshal manifest envelope", err)
	}
	if err := f.stage(ctx, jobID+".json", envelope); err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, "failed to stage manifest", err)
	}

	logCtx.Info("Manifest accepted.", "components", len(req.Manifest.WorkProductComponents), "files", len(req.Manifest.Files))
	return &models.SubmitManifestResponse{JobID: jobID, Status: models.IngestJobCreated}, nil
}

// handleError fails the job that was already created so it does not sit in CREATED.
func (f *SubmitterFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.jobs.Save(ctx, models.IngestJob{ID: jobID, Status: models.IngestJobFailed, Summary: fullError}); err != nil {
		logCtx.Error("CRITICAL: Failed to mark job FAILED after a submission error.", "updateError", err)
	}
	return errors.New(fullError)
}

var headerNames = map[string]string{
	"AuthorizationToken": models.HeaderAuthorization,
	"Partition":          models.HeaderPartition,
	"LegalTags":          models.HeaderLegalTags,
}

func headerViolations(h models.IngestHeaders) []string {
	err := validate.Struct(h)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := headerNames[fe.Field()]
		if name == "" {
			name = fe.Field()
		}
		out = append(out, name+" header is required")
	}
	return out
}
