// Package store persists records, SRN mappings and ingest jobs.
//
// Firestore is the production backend. Badger backs the CLI and tests.
package store

import (
	"errors"
	"time"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

var (
	// ErrExists is returned when a write-once key is written twice.
	ErrExists = errors.New("already exists")
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a job cannot be claimed because it is not CREATED.
	ErrConflict = errors.New("conflict")
)

// Default Firestore collection names.
const (
	RecordsCollection    = "records"
	PartitionsCollection = "partitions"
	SrnMappingCollection = "recordBySrn"
	IngestJobCollection  = "ingestJob"
)

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// failedCopy returns rec with its payload lifecycle status set to FAILED. The input
// record and its maps are left untouched.
func failedCopy(rec models.Record) models.Record {
	data := make(map[string]any, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	payload := make(map[string]any, len(rec.Payload())+1)
	for k, v := range rec.Payload() {
		payload[k] = v
	}
	payload[models.ResourceLifecycleStatusKey] = models.LifecycleStatusFailed
	data[models.OsduDataKey] = payload
	rec.Data = data
	return rec
}
