package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/poller"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

func task(id, typeID string) FileTask {
	return FileTask{File: manifestFile(id, typeID), ComponentTypeID: componentType}
}

func TestFileIngesterIngestsCompletedJob(t *testing.T) {
	h := newHarness(t)
	h.script("a", models.JobRunning, models.JobRunning, models.JobCompleted)
	h.uploader.pages = map[string]int{"a": 12}

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	require.True(t, res.Success, res.Summary)
	assert.Equal(t, "a", res.AssociativeID)
	assert.Equal(t, "file gs://staging/a.las ingested as "+res.SRN, res.Summary)

	parsed, err := srn.Parse(res.SRN)
	require.NoError(t, err)
	assert.Equal(t, "file/las2", parsed.Type)

	recordID, ok := h.mappings.recordFor(res.SRN)
	require.True(t, ok)
	assert.Equal(t, "produced-a", recordID)

	rec := h.records.get("produced-a")
	assert.Equal(t, "osdu:file:las2:1.0.0", rec.Kind)
	assert.Equal(t, []string{"data.default.owners@opendes.example.com"}, rec.Acl.Owners)
	assert.Equal(t, []string{"opendes-public"}, rec.Legal.LegalTags)

	payload := rec.Payload()
	assert.Equal(t, res.SRN, payload[models.ResourceIDKey])
	assert.Equal(t, "srn:type:file/las2:1", payload[models.ResourceTypeIDKey])
	assert.Equal(t, models.LifecycleStatusReceived, payload[models.ResourceLifecycleStatusKey])
	assert.Equal(t, models.CurationStatusCreated, payload[models.ResourceCurationStatusKey])
	data := payload[models.DataKey].(map[string]any)
	assert.Equal(t, "las2", data["Converter"])
	assert.Contains(t, data, models.GroupTypePropertiesKey)

	require.Len(t, h.conversion.submits, 1)
	assert.Equal(t, models.SubmitFileContext{
		RelativeFilePath:      "a",
		Kind:                  "osdu:file:las2:1.0.0",
		FileResourceTypeID:    fileType,
		ComponentResourceType: componentType,
		PageCount:             12,
	}, h.conversion.submits[0])
}

func TestFileIngesterFailedJob(t *testing.T) {
	h := newHarness(t)
	h.script("b", models.JobRunning, models.JobFailed)

	res := NewFileIngester(h.deps).Process(context.Background(), task("b", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Empty(t, res.SRN)
	assert.Nil(t, res.Record)
	assert.Equal(t, "failed to ingest file gs://staging/b.las, job status=FAILED: unsupported curve units", res.Summary)
	assert.Empty(t, h.mappings.bySRN)
}

func TestFileIngesterUploadErrorBecomesSummary(t *testing.T) {
	h := newHarness(t)
	h.uploader.failures["a"] = errors.New("bucket unavailable")

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Empty(t, res.SRN)
	assert.Equal(t, "failed to ingest file gs://staging/a.las: failed to upload: bucket unavailable", res.Summary)
	assert.Empty(t, h.conversion.submits)
}

func TestFileIngesterSubmitError(t *testing.T) {
	h := newHarness(t)
	h.conversion.failures["a"] = errors.New("quota exceeded")

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, "failed to submit conversion job: quota exceeded")
}

func TestFileIngesterRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.uploader.panics["a"] = true

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Equal(t, "failed to ingest file gs://staging/a.las: panic: nil bucket handle", res.Summary)
}

func TestFileIngesterMissingSchema(t *testing.T) {
	h := newHarness(t)

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", "srn:type:file/unknown:"), h.rc)

	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, ErrConfiguration.Error())
	assert.Contains(t, res.Summary, "schema not found")
	assert.Empty(t, h.uploader.uploads)
}

func TestFileIngesterInvalidRecordKeepsSRN(t *testing.T) {
	h := newHarness(t)

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", strictType), h.rc)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.SRN)
	require.NotNil(t, res.Record)
	assert.Contains(t, res.Summary, "ingested as "+res.SRN+" but its record is invalid:")
	assert.Contains(t, res.Summary, "Depth")
	_, ok := h.mappings.recordFor(res.SRN)
	assert.True(t, ok)
}

func TestFileIngesterCompletedWithoutRecord(t *testing.T) {
	h := newHarness(t)
	h.deps.Waiter = staticWaiter{status: models.JobStatus{State: models.JobCompleted}}

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, "completed without producing a record")
}

func TestFileIngesterTimeout(t *testing.T) {
	h := newHarness(t)
	h.script("a", models.JobRunning)
	h.deps.Waiter = poller.New(h.conversion, poller.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
	})

	res := NewFileIngester(h.deps).Process(context.Background(), task("a", fileType), h.rc)

	assert.False(t, res.Success)
	assert.Contains(t, res.Summary, "job status=RUNNING: "+poller.ErrTimeout.Error())
}

func TestProcessBatchMatchesProcess(t *testing.T) {
	scripts := map[string][]models.JobState{
		"ok":     {models.JobRunning, models.JobCompleted},
		"failed": {models.JobFailed},
		"slow":   {models.JobRunning, models.JobRunning, models.JobRunning, models.JobCompleted},
	}
	tasks := []FileTask{
		task("ok", fileType),
		task("failed", fileType),
		task("upload", fileType),
		task("slow", fileType),
		task("strict", strictType),
		task("unknown", "srn:type:file/unknown:"),
	}
	setup := func() *harness {
		h := newHarness(t)
		for id, s := range scripts {
			h.script(id, s...)
		}
		h.uploader.failures["upload"] = errors.New("bucket unavailable")
		return h
	}

	single := setup()
	files := NewFileIngester(single.deps)
	var want []IngestedFile
	for _, tk := range tasks {
		want = append(want, files.Process(context.Background(), tk, single.rc))
	}

	batched := setup()
	got := NewFileIngester(batched.deps).ProcessBatch(context.Background(), tasks, 3, batched.rc)

	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].AssociativeID, got[i].AssociativeID)
		assert.Equal(t, want[i].Success, got[i].Success, want[i].AssociativeID)
		assert.Equal(t, want[i].SRN != "", got[i].SRN != "", want[i].AssociativeID)
		// SRNs are random, so compare summaries with them blanked out
		assert.Equal(t, blank(want[i].Summary, want[i].SRN), blank(got[i].Summary, got[i].SRN), want[i].AssociativeID)
	}
	assert.Equal(t, 1, batched.waiter.awaitAll)
	assert.Zero(t, batched.waiter.await)
}

func TestProcessBatchTimeoutReportsRunning(t *testing.T) {
	h := newHarness(t)
	h.script("stuck", models.JobRunning)
	h.deps.Waiter = poller.New(h.conversion, poller.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
	})

	got := NewFileIngester(h.deps).ProcessBatch(context.Background(), []FileTask{task("done", fileType), task("stuck", fileType)}, 2, h.rc)

	require.Len(t, got, 2)
	assert.True(t, got[0].Success, got[0].Summary)
	assert.False(t, got[1].Success)
	assert.Contains(t, got[1].Summary, "job status=RUNNING: "+poller.ErrTimeout.Error())
}

type staticWaiter struct {
	status models.JobStatus
}

func (w staticWaiter) Await(ctx context.Context, id string) (models.JobStatus, error) {
	st := w.status
	st.JobID = id
	return st, nil
}

func (w staticWaiter) AwaitAll(ctx context.Context, ids []string) (poller.Result, error) {
	var res poller.Result
	for _, id := range ids {
		st, _ := w.Await(ctx, id)
		res.Completed = append(res.Completed, st)
	}
	return res, nil
}

func blank(summary, srnValue string) string {
	if srnValue == "" {
		return summary
	}
	return strings.ReplaceAll(summary, srnValue, "<srn>")
}
