package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// Orchestrator runs whole manifests and records their outcome as ingest jobs.
type Orchestrator struct {
	deps    Deps
	product *ProductIngester
	running sync.WaitGroup
}

// NewOrchestrator wires the three levels of the pipeline over deps.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	files := NewFileIngester(deps)
	components := NewComponentIngester(deps, files, cfg)
	return &Orchestrator{
		deps:    deps,
		product: NewProductIngester(deps, components, cfg),
	}
}

// Submit is the in-process entry point, used by local runs. It creates and claims a
// job, then processes the manifest in the background. The job id is returned as soon as
// the job exists; the outcome is read back with Status once Wait returns.
func (o *Orchestrator) Submit(ctx context.Context, manifest *models.LoadManifest, rc *models.RequestContext) (string, error) {
	jobID := uuid.NewString()
	if err := o.deps.Jobs.Create(ctx, models.IngestJob{ID: jobID, Status: models.IngestJobCreated}); err != nil {
		return "", fmt.Errorf("failed to create ingest job: %w", err)
	}
	if err := o.deps.Jobs.Claim(ctx, jobID); err != nil {
		return "", err
	}

	o.running.Add(1)
	go func() {
		defer o.running.Done()
		// the run outlives the request that started it
		if _, err := o.ProcessManifest(context.WithoutCancel(ctx), jobID, manifest, rc); err != nil {
			slog.Error("Background ingestion run failed.", "jobId", jobID, "error", err)
		}
	}()
	return jobID, nil
}

// Wait blocks until every run started by Submit has finished.
func (o *Orchestrator) Wait() {
	o.running.Wait()
}

// Status reads a job back.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (models.IngestJob, error) {
	return o.deps.Jobs.Get(ctx, jobID)
}

// ProcessManifest runs one manifest to completion under jobID, which the caller must
// already have claimed with JobStore.Claim. When the run is not successful every record
// it created is marked failed once; nothing is deleted. The returned job is what was
// saved. The error only reports a job that could not be saved.
func (o *Orchestrator) ProcessManifest(ctx context.Context, jobID string, manifest *models.LoadManifest, rc *models.RequestContext) (models.IngestJob, error) {
	started := time.Now()
	logCtx := slog.With("jobId", jobID, "partition", rc.Partition)
	logCtx.Info("Starting manifest ingestion.")

	job := models.IngestJob{ID: jobID}
	if manifest == nil {
		manifest = &models.LoadManifest{}
	}
	product, err := manifest.Resolve()
	if err == nil && len(product.Components) == 0 {
		err = errors.New("manifest has no work product components")
	}
	if err != nil {
		logCtx.Error("Manifest references could not be resolved.", "error", err)
		job.Status = models.IngestJobFailed
		job.Summary = failedSummary(0, []string{err.Error()})
		return o.save(ctx, logCtx, job, started)
	}

	ingested := o.product.Process(ctx, *product, rc)
	job.SRNs = ingested.SRNs()

	if ingested.Success {
		job.Status = models.IngestJobComplete
		job.Summary = fmt.Sprintf("Ingestion successfully completed. Created %d records.", len(job.SRNs))
	} else {
		o.compensate(ctx, logCtx, ingested.Records(), rc)
		job.Status = models.IngestJobFailed
		job.Summary = failedSummary(len(job.SRNs), ingested.Summaries)
	}
	return o.save(ctx, logCtx, job, started)
}

func failedSummary(created int, summaries []string) string {
	lines := append([]string{fmt.Sprintf("Ingestion failed. It was possible to create %d records.", created)}, summaries...)
	return strings.Join(lines, "\n")
}

// compensate flags every record of a failed run. Records are distinct by id, so each
// one receives exactly one update.
func (o *Orchestrator) compensate(ctx context.Context, logCtx *slog.Logger, records []models.Record, rc *models.RequestContext) {
	logCtx.Info("Marking records of the failed run.", "records", len(records))
	for _, rec := range records {
		if err := o.deps.Records.MarkFailed(ctx, rec, rc); err != nil {
			recordsFailedTotal.WithLabelValues("error").Inc()
			logCtx.Error("CRITICAL: Failed to mark record as failed.", "recordId", rec.ID, "error", err)
			continue
		}
		recordsFailedTotal.WithLabelValues("ok").Inc()
	}
}

func (o *Orchestrator) save(ctx context.Context, logCtx *slog.Logger, job models.IngestJob, started time.Time) (models.IngestJob, error) {
	runsTotal.WithLabelValues(string(job.Status)).Inc()
	runDuration.Observe(time.Since(started).Seconds())

	if err := o.deps.Jobs.Save(ctx, job); err != nil {
		logCtx.Error("Failed to save ingest job outcome.", "status", job.Status, "error", err)
		return job, fmt.Errorf("failed to save ingest job %s: %w", job.ID, err)
	}
	logCtx.Info("Manifest ingestion finished.", "status", job.Status, "srns", len(job.SRNs))
	return job, nil
}
