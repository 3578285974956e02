// Package ingest turns a resolved manifest into persisted, identified records.
//
// The pipeline is a fixed three level tree: a product fans out over its components,
// each component fans out over its files. Every node returns a result value; no node
// returns an error, so one failing branch never stops its siblings.
package ingest

import (
	"context"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/poller"
)

// SchemaProvider resolves the kind and schema of a resource type id.
type SchemaProvider interface {
	Get(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error)
}

// FileUploader copies a manifest file from its staging location to where the
// conversion service reads it.
type FileUploader interface {
	Upload(ctx context.Context, file models.ManifestFile, rc *models.RequestContext) (models.SignedFile, error)
}

// JobSubmitter starts an external conversion job and returns its id.
type JobSubmitter interface {
	Submit(ctx context.Context, fc models.SubmitFileContext, rc *models.RequestContext) (string, error)
}

// JobWaiter blocks until external jobs are terminal. *poller.Poller implements it.
type JobWaiter interface {
	Await(ctx context.Context, jobID string) (models.JobStatus, error)
	AwaitAll(ctx context.Context, jobIDs []string) (poller.Result, error)
}

// RecordStore persists records.
type RecordStore interface {
	Put(ctx context.Context, rec models.Record, rc *models.RequestContext) (models.Record, error)
	Get(ctx context.Context, id string, rc *models.RequestContext) (models.Record, error)
	MarkFailed(ctx context.Context, rec models.Record, rc *models.RequestContext) error
}

// SrnMappingStore records which record an SRN identifies. Keys are written once.
type SrnMappingStore interface {
	Save(ctx context.Context, m models.SrnToRecord) error
}

// SchemaValidator returns the violations of doc against a JSON schema.
type SchemaValidator interface {
	Validate(schema []byte, doc any) ([]string, error)
}

// JobStore persists ingest jobs. Claim atomically moves a CREATED job to RUNNING and
// fails for a job in any other status.
type JobStore interface {
	Create(ctx context.Context, job models.IngestJob) error
	Claim(ctx context.Context, id string) error
	Save(ctx context.Context, job models.IngestJob) error
	Get(ctx context.Context, id string) (models.IngestJob, error)
}

// Deps are the collaborators shared by every level of the pipeline.
type Deps struct {
	Schemas   SchemaProvider
	Uploader  FileUploader
	Submitter JobSubmitter
	Waiter    JobWaiter
	Records   RecordStore
	Mappings  SrnMappingStore
	Validator SchemaValidator
	Jobs      JobStore
}
