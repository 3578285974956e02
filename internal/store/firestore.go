package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

func translate(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", ErrExists, err)
	}
	return err
}

// FirestoreRecords stores records under partitions/{partition}/records.
type FirestoreRecords struct {
	client *firestore.Client
}

func NewFirestoreRecords(client *firestore.Client) *FirestoreRecords {
	return &FirestoreRecords{client: client}
}

func (s *FirestoreRecords) collection(rc *models.RequestContext) *firestore.CollectionRef {
	return s.client.Collection(PartitionsCollection).Doc(rc.Partition).Collection(RecordsCollection)
}

// Put writes the record, assigning an id when it has none.
func (s *FirestoreRecords) Put(ctx context.Context, rec models.Record, rc *models.RequestContext) (models.Record, error) {
	col := s.collection(rc)
	var ref *firestore.DocumentRef
	if rec.ID == "" {
		ref = col.NewDoc()
		rec.ID = ref.ID
	} else {
		ref = col.Doc(rec.ID)
	}
	if _, err := ref.Set(ctx, rec); err != nil {
		return models.Record{}, fmt.Errorf("failed to put record %s: %w", rec.ID, translate(err))
	}
	return rec, nil
}

func (s *FirestoreRecords) Get(ctx context.Context, id string, rc *models.RequestContext) (models.Record, error) {
	snap, err := s.collection(rc).Doc(id).Get(ctx)
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to get record %s: %w", id, translate(err))
	}
	var rec models.Record
	if err := snap.DataTo(&rec); err != nil {
		return models.Record{}, fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	rec.ID = snap.Ref.ID
	return rec, nil
}

// MarkFailed flips the payload lifecycle status in place. Nothing else is touched.
func (s *FirestoreRecords) MarkFailed(ctx context.Context, rec models.Record, rc *models.RequestContext) error {
	_, err := s.collection(rc).Doc(rec.ID).Update(ctx, []firestore.Update{{
		FieldPath: firestore.FieldPath{"data", models.OsduDataKey, models.ResourceLifecycleStatusKey},
		Value:     models.LifecycleStatusFailed,
	}})
	if err != nil {
		return fmt.Errorf("failed to mark record %s failed: %w", rec.ID, translate(err))
	}
	return nil
}

// FirestoreSrnMappings stores one write-once document per SRN.
type FirestoreSrnMappings struct {
	client *firestore.Client
}

func NewFirestoreSrnMappings(client *firestore.Client) *FirestoreSrnMappings {
	return &FirestoreSrnMappings{client: client}
}

func (s *FirestoreSrnMappings) Save(ctx context.Context, m models.SrnToRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	ref := s.client.Collection(SrnMappingCollection).Doc(srn.DocumentID(m.SRN))
	if _, err := ref.Create(ctx, m); err != nil {
		return fmt.Errorf("failed to save mapping for %s: %w", m.SRN, translate(err))
	}
	return nil
}

func (s *FirestoreSrnMappings) Get(ctx context.Context, srnValue string) (models.SrnToRecord, error) {
	snap, err := s.client.Collection(SrnMappingCollection).Doc(srn.DocumentID(srnValue)).Get(ctx)
	if err != nil {
		return models.SrnToRecord{}, fmt.Errorf("failed to get mapping for %s: %w", srnValue, translate(err))
	}
	var m models.SrnToRecord
	if err := snap.DataTo(&m); err != nil {
		return models.SrnToRecord{}, fmt.Errorf("failed to decode mapping for %s: %w", srnValue, err)
	}
	return m, nil
}

// FirestoreJobs stores ingest jobs keyed by job id.
type FirestoreJobs struct {
	client *firestore.Client
}

func NewFirestoreJobs(client *firestore.Client) *FirestoreJobs {
	return &FirestoreJobs{client: client}
}

func (s *FirestoreJobs) Create(ctx context.Context, job models.IngestJob) error {
	t := now()
	job.CreatedAt, job.UpdatedAt = t, t
	if _, err := s.client.Collection(IngestJobCollection).Doc(job.ID).Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, translate(err))
	}
	return nil
}

// Claim moves a CREATED job to RUNNING inside a transaction. A job in any other
// status fails with ErrConflict, so at most one delivery processes a job.
func (s *FirestoreJobs) Claim(ctx context.Context, id string) error {
	ref := s.client.Collection(IngestJobCollection).Doc(id)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return translate(err)
		}
		var job models.IngestJob
		if err := snap.DataTo(&job); err != nil {
			return err
		}
		if job.Status != models.IngestJobCreated {
			return fmt.Errorf("%w: job is %s", ErrConflict, job.Status)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: models.IngestJobRunning},
			{Path: "updatedAt", Value: now()},
		})
	})
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return nil
}

// Save writes the final outcome of a job. Fields not carried by the outcome, like
// createdAt, are preserved.
func (s *FirestoreJobs) Save(ctx context.Context, job models.IngestJob) error {
	_, err := s.client.Collection(IngestJobCollection).Doc(job.ID).Set(ctx, map[string]interface{}{
		"id":        job.ID,
		"status":    job.Status,
		"srns":      job.SRNs,
		"summary":   job.Summary,
		"updatedAt": now(),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, translate(err))
	}
	return nil
}

func (s *FirestoreJobs) Get(ctx context.Context, id string) (models.IngestJob, error) {
	snap, err := s.client.Collection(IngestJobCollection).Doc(id).Get(ctx)
	if err != nil {
		return models.IngestJob{}, fmt.Errorf("failed to get job %s: %w", id, translate(err))
	}
	var job models.IngestJob
	if err := snap.DataTo(&job); err != nil {
		return models.IngestJob{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}
