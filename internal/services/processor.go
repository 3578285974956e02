package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/poller"
	"github.com/Lllllllleong/manifestflow/internal/schema"
	"github.com/Lllllllleong/manifestflow/internal/store"
	"github.com/Lllllllleong/manifestflow/internal/validation"
)

type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// ReadFunc returns the content of gs://bucket/object.
type ReadFunc func(ctx context.Context, bucket, object string) ([]byte, error)

// ProcessorFunction runs a staged manifest envelope through the pipeline.
type ProcessorFunction struct {
	read         ReadFunc
	jobs         ingest.JobStore
	orchestrator *ingest.Orchestrator
}

func NewProcessor(ctx context.Context) (*ProcessorFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Require("ProjectID", "LandingBucket", "WorkflowLocation", "WorkflowID", "SchemaCollection"); err != nil {
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
	executionsClient, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}

	conversions := gcp.NewConversionJobs(executionsClient, gcp.ConversionConfig{
		ProjectID:        config.ProjectID,
		WorkflowLocation: config.WorkflowLocation,
		WorkflowID:       config.WorkflowID,
		LandingBucket:    config.LandingBucket,
	})
	deps := ingest.Deps{
		Schemas:   schema.NewCachingProvider(schema.NewFirestoreProvider(firestoreClient, config.SchemaCollection)),
		Uploader:  gcp.NewStorageUploader(storageClient, gcp.DefaultUploaderConfig(config.LandingBucket)),
		Submitter: conversions,
		Waiter:    poller.New(conversions, config.Poll),
		Records:   store.NewFirestoreRecords(firestoreClient),
		Mappings:  store.NewFirestoreSrnMappings(firestoreClient),
		Validator: validation.NewJSONSchemaValidator(),
		Jobs:      store.NewFirestoreJobs(firestoreClient),
	}

	read := func(ctx context.Context, bucket, object string) ([]byte, error) {
		return gcp.ReadObject(ctx, storageClient, bucket, object)
	}
	slog.Info("Manifest processor initialized.", "workflowId", config.WorkflowID, "strategy", config.Ingest.Strategy)
	return NewProcessorWith(deps, config.Ingest, read), nil
}

// NewProcessorWith builds a processor over explicit collaborators.
func NewProcessorWith(deps ingest.Deps, cfg ingest.Config, read ReadFunc) *ProcessorFunction {
	return &ProcessorFunction{
		read:         read,
		jobs:         deps.Jobs,
		orchestrator: ingest.NewOrchestrator(deps, cfg),
	}
}

// Process handles the finalize event of a staged envelope. The job is claimed before
// anything else, so a redelivered event for a job that is running or finished is
// ignored.
func (f *ProcessorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if path.Ext(e.Name) != ".json" {
		logCtx.Info("Ignoring object that is not a manifest envelope.")
		return nil
	}
	jobID := strings.TrimSuffix(path.Base(e.Name), ".json")
	logCtx = logCtx.With("jobId", jobID)

	if err := f.jobs.Claim(ctx, jobID); err != nil {
		switch {
		case errors.Is(err, store.ErrConflict):
			logCtx.Info("Job already claimed by an earlier delivery. Skipping.", "reason", err)
			return nil
		case errors.Is(err, store.ErrNotFound):
			logCtx.Error("No ingest job exists for the envelope. Skipping.")
			return nil
		}
		logCtx.Error("Failed to claim job.", "error", err)
		return err
	}

	data, err := f.read(ctx, e.Bucket, e.Name)
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to read manifest envelope", err)
	}
	var envelope models.ManifestEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to decode manifest envelope", err)
	}
	if envelope.JobID != "" && envelope.JobID != jobID {
		logCtx.Warn("Envelope job id differs from its object name.", "envelopeJobId", envelope.JobID)
	}

	rc, err := models.NewRequestContext(envelope.Headers, envelope.Groups)
	if err != nil {
		return f.handleError(ctx, logCtx, jobID, "failed to build request context", err)
	}

	job, err := f.orchestrator.ProcessManifest(ctx, jobID, &envelope.Manifest, rc)
	if err != nil {
		return err
	}
	logCtx.Info("Manifest processed.", "status", job.Status, "srns", len(job.SRNs))
	return nil
}

func (f *ProcessorFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)
	if err := f.jobs.Save(ctx, models.IngestJob{ID: jobID, Status: models.IngestJobFailed, Summary: fullError}); err != nil {
		logCtx.Error("CRITICAL: Failed to update job status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s", fullError)
}
