package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/manifestflow/internal/gcp"
	"github.com/Lllllllleong/manifestflow/internal/ingest"
	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/store"
)

// ErrJobNotFound is returned for an unknown ingest job id.
var ErrJobNotFound = errors.New("ingest job not found")

// JobStatusFunction reads ingest jobs back for callers.
type JobStatusFunction struct {
	jobs ingest.JobStore
}

func NewJobStatus(ctx context.Context) (*JobStatusFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := config.Require("ProjectID"); err != nil {
		return nil, err
	}
	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return NewJobStatusWith(store.NewFirestoreJobs(firestoreClient)), nil
}

func NewJobStatusWith(jobs ingest.JobStore) *JobStatusFunction {
	return &JobStatusFunction{jobs: jobs}
}

func (f *JobStatusFunction) Process(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if jobID == "" {
		return nil, fmt.Errorf("%w: empty job id", ErrJobNotFound)
	}
	job, err := f.jobs.Get(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		slog.Error("Failed to read ingest job.", "jobId", jobID, "error", err)
		return nil, fmt.Errorf("failed to read ingest job %s: %w", jobID, err)
	}
	srns := job.SRNs
	if srns == nil {
		srns = []string{}
	}
	return &models.JobStatusResponse{JobID: job.ID, Status: job.Status, SRNs: srns, Summary: job.Summary}, nil
}
