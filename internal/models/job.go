package models

import "time"

// IngestJobStatus is the lifecycle state of a manifest ingestion job.
type IngestJobStatus string

const (
	IngestJobCreated  IngestJobStatus = "CREATED"
	IngestJobRunning  IngestJobStatus = "RUNNING"
	IngestJobComplete IngestJobStatus = "COMPLETE"
	IngestJobFailed   IngestJobStatus = "FAILED"
)

// IngestJob is the persisted outcome of one manifest ingestion run.
// It is the only thing a caller can read back after submitting a manifest.
type IngestJob struct {
	ID        string          `firestore:"id" json:"jobId"`
	Status    IngestJobStatus `firestore:"status" json:"status"`
	SRNs      []string        `firestore:"srns,omitempty" json:"srns,omitempty"`
	Summary   string          `firestore:"summary,omitempty" json:"summary,omitempty"`
	CreatedAt time.Time       `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
	UpdatedAt time.Time       `firestore:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// SrnToRecord maps a generated SRN to the id of the record it identifies.
type SrnToRecord struct {
	SRN       string    `firestore:"srn" json:"srn"`
	RecordID  string    `firestore:"recordId" json:"recordId"`
	CreatedAt time.Time `firestore:"createdAt,omitempty" json:"createdAt,omitempty"`
}
