package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// FileTask is a file together with the component that lists it.
type FileTask struct {
	File            models.ManifestFile
	ComponentTypeID string
}

func (t FileTask) label() string {
	if p := t.File.StagingFilePath(); p != "" {
		return p
	}
	return t.File.AssociativeID
}

// FileIngester drives one file through upload, conversion and identification.
type FileIngester struct {
	deps Deps
}

func NewFileIngester(deps Deps) *FileIngester {
	return &FileIngester{deps: deps}
}

// submission is a file whose conversion job has been started.
type submission struct {
	task      FileTask
	schema    models.SchemaDescriptor
	submitted models.SubmittedFile
}

// Process runs the whole chain for one file. It never panics and never returns an
// error: every failure becomes an unsuccessful result carrying the reason.
func (f *FileIngester) Process(ctx context.Context, task FileTask, rc *models.RequestContext) (res IngestedFile) {
	ctx, span := tracer.Start(ctx, "ingest.File", trace.WithAttributes(
		attribute.String("file.associativeId", task.File.AssociativeID),
	))
	defer func() { endNode(span, "file", res.Success, res.Summary) }()

	return f.guard(task, func() IngestedFile {
		sub, err := f.submit(ctx, task, rc)
		if err != nil {
			return failedFile(task, err)
		}
		status, err := f.deps.Waiter.Await(ctx, sub.submitted.JobID)
		return f.finish(ctx, sub, status, err, rc)
	})
}

// ProcessBatch drives several files of one component: every file is uploaded and
// submitted first, then all jobs are awaited together and each file is finished.
// The results match what Process would return for each task, in input order.
func (f *FileIngester) ProcessBatch(ctx context.Context, tasks []FileTask, limit int, rc *models.RequestContext) []IngestedFile {
	ctx, span := tracer.Start(ctx, "ingest.FileBatch", trace.WithAttributes(attribute.Int("files", len(tasks))))
	defer span.End()

	type prepared struct {
		sub    submission
		failed *IngestedFile
	}
	preps := mapBounded(ctx, limit, tasks, func(ctx context.Context, task FileTask) (p prepared) {
		defer func() {
			if r := recover(); r != nil {
				res := f.recovered(task, r)
				p = prepared{failed: &res}
			}
		}()
		sub, err := f.submit(ctx, task, rc)
		if err != nil {
			res := failedFile(task, err)
			return prepared{failed: &res}
		}
		return prepared{sub: sub}
	})

	var jobIDs []string
	for _, p := range preps {
		if p.failed == nil {
			jobIDs = append(jobIDs, p.sub.submitted.JobID)
		}
	}
	statuses := make(map[string]models.JobStatus, len(jobIDs))
	var waitErr error
	if len(jobIDs) > 0 {
		result, err := f.deps.Waiter.AwaitAll(ctx, jobIDs)
		waitErr = err
		for _, group := range [][]models.JobStatus{result.Completed, result.Failed, result.Running} {
			for _, st := range group {
				statuses[st.JobID] = st
			}
		}
	}

	indices := make([]int, len(tasks))
	for i := range indices {
		indices[i] = i
	}
	return mapBounded(ctx, limit, indices, func(ctx context.Context, i int) (res IngestedFile) {
		task := tasks[i]
		ctx, span := tracer.Start(ctx, "ingest.File", trace.WithAttributes(
			attribute.String("file.associativeId", task.File.AssociativeID),
		))
		defer func() { endNode(span, "file", res.Success, res.Summary) }()
		if preps[i].failed != nil {
			return *preps[i].failed
		}

		sub := preps[i].sub
		status, ok := statuses[sub.submitted.JobID]
		if !ok {
			status = models.JobStatus{JobID: sub.submitted.JobID, State: models.JobRunning}
		}
		var err error
		if status.State == models.JobRunning {
			err = waitErr
		}
		return f.guard(task, func() IngestedFile { return f.finish(ctx, sub, status, err, rc) })
	})
}

// guard converts a panic in fn into a failed result for the task.
func (f *FileIngester) guard(task FileTask, fn func() IngestedFile) (res IngestedFile) {
	defer func() {
		if r := recover(); r != nil {
			res = f.recovered(task, r)
		}
	}()
	return fn()
}

func (f *FileIngester) recovered(task FileTask, r any) IngestedFile {
	slog.Error("Recovered panic while ingesting file.", "associativeId", task.File.AssociativeID, "panic", r)
	return failedFile(task, fmt.Errorf("panic: %v", r))
}

func failedFile(task FileTask, err error) IngestedFile {
	return IngestedFile{
		AssociativeID: task.File.AssociativeID,
		Success:       false,
		Summary:       failure("file", task.label(), err),
	}
}

func (f *FileIngester) submit(ctx context.Context, task FileTask, rc *models.RequestContext) (submission, error) {
	logCtx := slog.With("associativeId", task.File.AssociativeID, "stagingFilePath", task.File.StagingFilePath())

	sd, err := f.deps.schemaFor(ctx, task.File.ResourceTypeID)
	if err != nil {
		logCtx.Error("Schema lookup failed.", "resourceTypeId", task.File.ResourceTypeID, "error", err)
		return submission{}, err
	}

	signed, err := f.deps.Uploader.Upload(ctx, task.File, rc)
	if err != nil {
		logCtx.Error("Upload failed.", "error", err)
		return submission{}, fmt.Errorf("failed to upload: %w", err)
	}

	jobID, err := f.deps.Submitter.Submit(ctx, models.SubmitFileContext{
		RelativeFilePath:      signed.RelativePath,
		Kind:                  sd.Kind,
		FileResourceTypeID:    task.File.ResourceTypeID,
		ComponentResourceType: task.ComponentTypeID,
		PageCount:             signed.PageCount,
	}, rc)
	if err != nil {
		logCtx.Error("Conversion job submission failed.", "error", err)
		return submission{}, fmt.Errorf("failed to submit conversion job: %w", err)
	}

	logCtx.Info("Conversion job submitted.", "jobId", jobID, "location", signed.Location)
	return submission{
		task:      task,
		schema:    sd,
		submitted: models.SubmittedFile{SignedFile: signed, JobID: jobID},
	}, nil
}

// finish turns the terminal (or last observed) job status into the file result.
func (f *FileIngester) finish(ctx context.Context, sub submission, status models.JobStatus, waitErr error, rc *models.RequestContext) IngestedFile {
	task := sub.task
	res := IngestedFile{AssociativeID: task.File.AssociativeID}
	logCtx := slog.With("associativeId", task.File.AssociativeID, "jobId", sub.submitted.JobID)

	if status.State != models.JobCompleted {
		state := status.State
		if state == "" {
			state = models.JobRunning
		}
		res.Summary = fmt.Sprintf("failed to ingest file %s, job status=%s", task.label(), state)
		switch {
		case status.Error != "":
			res.Summary += ": " + status.Error
		case waitErr != nil:
			res.Summary += ": " + waitErr.Error()
		}
		logCtx.Warn("Conversion job did not complete.", "state", state, "error", waitErr)
		return res
	}

	if len(status.RecordIDs) == 0 {
		res.Summary = failure("file", task.label(), errors.New("conversion job completed without producing a record"))
		return res
	}
	produced, err := f.deps.Records.Get(ctx, status.RecordIDs[0], rc)
	if err != nil {
		res.Summary = failure("file", task.label(), fmt.Errorf("failed to fetch produced record: %w", err))
		return res
	}
	res.Record = &produced

	id, err := f.deps.identify(ctx, task.File.ResourceTypeID, sub.schema, rc, func(srnValue string) models.Record {
		return enrichFile(produced, task.File, sub.schema, srnValue, rc)
	})
	if id.Record != nil {
		res.Record = id.Record
	}
	if err != nil {
		logCtx.Error("Failed to identify file record.", "recordId", produced.ID, "error", err)
		res.Summary = failure("file", task.label(), err)
		return res
	}

	res.SRN = id.SRN
	res.Success = len(id.Violations) == 0
	res.Summary = describe("file", task.label(), id.SRN, id.Violations)
	logCtx.Info("File ingested.", "srn", id.SRN, "recordId", res.Record.ID, "violations", len(id.Violations))
	return res
}
