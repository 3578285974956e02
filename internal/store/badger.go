package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// Logger receives Badger's own logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration rooted at path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is a single embedded database holding records, SRN mappings and jobs under
// separate key prefixes. It is safe for concurrent use.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// Records returns the record store view.
func (b *Badger) Records() *BadgerRecords { return &BadgerRecords{b: b} }

// SrnMappings returns the SRN mapping store view.
func (b *Badger) SrnMappings() *BadgerSrnMappings { return &BadgerSrnMappings{b: b} }

// Jobs returns the ingest job store view.
func (b *Badger) Jobs() *BadgerJobs { return &BadgerJobs{b: b} }

func (b *Badger) get(key string, out any) error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// put writes value under key. With mustCreate an existing key fails with ErrExists.
func (b *Badger) put(key string, value any, mustCreate bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if mustCreate {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return fmt.Errorf("%w: %s", ErrExists, key)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set([]byte(key), raw)
	})
}

// update applies fn to the decoded value stored under key inside one transaction. An
// error from fn aborts the write.
func update[T any](b *Badger, key string, fn func(*T) error) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		var v T
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &v) }); err != nil {
			return err
		}
		if err := fn(&v); err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		return txn.Set([]byte(key), raw)
	})
}

// BadgerRecords keeps records under record/<partition>/<id>.
type BadgerRecords struct{ b *Badger }

func recordKey(partition, id string) string { return "record/" + partition + "/" + id }

func (s *BadgerRecords) Put(ctx context.Context, rec models.Record, rc *models.RequestContext) (models.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := s.b.put(recordKey(rc.Partition, rec.ID), rec, false); err != nil {
		return models.Record{}, fmt.Errorf("failed to put record %s: %w", rec.ID, err)
	}
	return rec, nil
}

func (s *BadgerRecords) Get(ctx context.Context, id string, rc *models.RequestContext) (models.Record, error) {
	var rec models.Record
	if err := s.b.get(recordKey(rc.Partition, id), &rec); err != nil {
		return models.Record{}, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

func (s *BadgerRecords) MarkFailed(ctx context.Context, rec models.Record, rc *models.RequestContext) error {
	err := update(s.b, recordKey(rc.Partition, rec.ID), func(stored *models.Record) error {
		*stored = failedCopy(*stored)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark record %s failed: %w", rec.ID, err)
	}
	return nil
}

// BadgerSrnMappings keeps write-once mappings under srn/<document id>.
type BadgerSrnMappings struct{ b *Badger }

func (s *BadgerSrnMappings) Save(ctx context.Context, m models.SrnToRecord) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if err := s.b.put("srn/"+srn.DocumentID(m.SRN), m, true); err != nil {
		return fmt.Errorf("failed to save mapping for %s: %w", m.SRN, err)
	}
	return nil
}

func (s *BadgerSrnMappings) Get(ctx context.Context, srnValue string) (models.SrnToRecord, error) {
	var m models.SrnToRecord
	if err := s.b.get("srn/"+srn.DocumentID(srnValue), &m); err != nil {
		return models.SrnToRecord{}, fmt.Errorf("failed to get mapping for %s: %w", srnValue, err)
	}
	return m, nil
}

// BadgerJobs keeps ingest jobs under job/<id>.
type BadgerJobs struct{ b *Badger }

func (s *BadgerJobs) Create(ctx context.Context, job models.IngestJob) error {
	t := now()
	job.CreatedAt, job.UpdatedAt = t, t
	if err := s.b.put("job/"+job.ID, job, true); err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// Claim moves a CREATED job to RUNNING. Any other status fails with ErrConflict.
func (s *BadgerJobs) Claim(ctx context.Context, id string) error {
	err := update(s.b, "job/"+id, func(job *models.IngestJob) error {
		if job.Status != models.IngestJobCreated {
			return fmt.Errorf("%w: job is %s", ErrConflict, job.Status)
		}
		job.Status = models.IngestJobRunning
		job.UpdatedAt = now()
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// a concurrent transaction wrote the job first
		err = fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if err != nil {
		return fmt.Errorf("failed to claim job %s: %w", id, err)
	}
	return nil
}

// Save writes the final outcome, keeping createdAt when the job already exists.
func (s *BadgerJobs) Save(ctx context.Context, job models.IngestJob) error {
	err := update(s.b, "job/"+job.ID, func(stored *models.IngestJob) error {
		stored.Status = job.Status
		stored.SRNs = job.SRNs
		stored.Summary = job.Summary
		stored.UpdatedAt = now()
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		job.UpdatedAt = now()
		err = s.b.put("job/"+job.ID, job, false)
	}
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *BadgerJobs) Get(ctx context.Context, id string) (models.IngestJob, error) {
	var job models.IngestJob
	if err := s.b.get("job/"+id, &job); err != nil {
		return models.IngestJob{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}
