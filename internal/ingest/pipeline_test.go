package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

func newPipeline(h *harness, strategy Strategy) (*ComponentIngester, *ProductIngester) {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	components := NewComponentIngester(h.deps, NewFileIngester(h.deps), cfg)
	return components, NewProductIngester(h.deps, components, cfg)
}

func TestComponentListsOnlyIdentifiedFiles(t *testing.T) {
	for _, strategy := range []Strategy{PerFile, Batched} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t)
			h.script("b", models.JobRunning, models.JobFailed)
			components, _ := newPipeline(h, strategy)

			res := components.Process(context.Background(),
				component("wpc-1", componentType, manifestFile("a", fileType), manifestFile("b", fileType)), h.rc)

			assert.False(t, res.Success)
			require.NotEmpty(t, res.SRN, "a component with a failed file still gets an SRN")
			require.Len(t, res.Files, 2)
			assert.True(t, res.Files[0].Success)
			assert.False(t, res.Files[1].Success)
			assert.Contains(t, res.Files[1].Summary, "job status=FAILED")

			require.NotNil(t, res.Record)
			assert.Equal(t, []string{res.Files[0].SRN}, fileSRNs(res.Record))

			require.Len(t, res.Summaries, 3)
			assert.Equal(t, res.Files[0].Summary, res.Summaries[0])
			assert.Equal(t, res.Files[1].Summary, res.Summaries[1])
			assert.Equal(t, "work product component wpc-1 ingested as "+res.SRN, res.Summaries[2])
		})
	}
}

func TestComponentSuccessRequiresEveryFileAndValidRecord(t *testing.T) {
	tests := []struct {
		name     string
		typeID   string
		fileType string
		failJob  bool
		want     bool
	}{
		{name: "all valid", typeID: componentType, fileType: fileType, want: true},
		{name: "file job failed", typeID: componentType, fileType: fileType, failJob: true},
		{name: "file record invalid", typeID: componentType, fileType: strictType},
		{name: "component record invalid", typeID: strictWpcType, fileType: fileType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.failJob {
				h.script("b", models.JobFailed)
			}
			components, _ := newPipeline(h, PerFile)

			res := components.Process(context.Background(),
				component("wpc", tt.typeID, manifestFile("a", fileType), manifestFile("b", tt.fileType)), h.rc)

			assert.Equal(t, tt.want, res.Success, res.Summary())
			assert.NotEmpty(t, res.SRN)
		})
	}
}

func TestComponentMissingSchemaSkipsFiles(t *testing.T) {
	h := newHarness(t)
	components, _ := newPipeline(h, PerFile)

	res := components.Process(context.Background(),
		component("wpc", "srn:type:work-product-component/Unknown:", manifestFile("a", fileType)), h.rc)

	assert.False(t, res.Success)
	assert.Empty(t, res.SRN)
	assert.Empty(t, res.Files)
	require.Len(t, res.Summaries, 1)
	assert.Contains(t, res.Summaries[0], ErrConfiguration.Error())
	assert.Empty(t, h.uploader.uploads)
}

func TestComponentRecordStoreFailure(t *testing.T) {
	h := newHarness(t)
	h.records.putErr["osdu:wpc:welllog:1.0.0"] = errors.New("storage offline")
	components, _ := newPipeline(h, PerFile)

	res := components.Process(context.Background(),
		component("wpc", componentType, manifestFile("a", fileType)), h.rc)

	assert.False(t, res.Success)
	assert.Empty(t, res.SRN)
	assert.Nil(t, res.Record)
	require.Len(t, res.Files, 1)
	assert.True(t, res.Files[0].Success)
	assert.Contains(t, res.Summary(), "failed to ingest work product component wpc: failed to store record: storage offline")
}

func TestProductIsolatesFailingComponent(t *testing.T) {
	h := newHarness(t)
	h.uploader.failures["c"] = errors.New("bucket unavailable")
	_, product := newPipeline(h, PerFile)

	tree, err := loadManifest(
		component("wpc-1", componentType, manifestFile("a", fileType), manifestFile("b", fileType)),
		component("wpc-2", componentType, manifestFile("c", fileType)),
	).Resolve()
	require.NoError(t, err)

	res := product.Process(context.Background(), *tree, h.rc)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.SRN)
	require.Len(t, res.Components, 2)
	assert.True(t, res.Components[0].Success)
	assert.False(t, res.Components[1].Success)
	assert.True(t, res.Components[0].Files[0].Success)
	assert.True(t, res.Components[0].Files[1].Success)
	assert.Contains(t, res.Summary(), "failed to upload: bucket unavailable")

	props := res.Record.Payload()[models.DataKey].(map[string]any)[models.GroupTypePropertiesKey].(map[string]any)
	assert.Equal(t, []string{res.Components[0].SRN, res.Components[1].SRN}, props[models.ComponentsKey])
	assert.Equal(t, "delivery", res.Record.Payload()[models.DataKey].(map[string]any)["Name"])
	assert.Equal(t, "srn:type:work-product/WellLog:1", res.Record.Payload()[models.ResourceTypeIDKey])
}

func TestProductMissingSchema(t *testing.T) {
	h := newHarness(t)
	_, product := newPipeline(h, PerFile)

	m := loadManifest(component("wpc", componentType, manifestFile("a", fileType)))
	m.WorkProduct.ResourceTypeID = "srn:type:work-product/Unknown:"
	tree, err := m.Resolve()
	require.NoError(t, err)

	res := product.Process(context.Background(), *tree, h.rc)

	assert.False(t, res.Success)
	assert.Empty(t, res.Components)
	assert.Empty(t, res.SRNs())
	assert.Contains(t, res.Summary(), "failed to ingest work product srn:type:work-product/Unknown:")
}

func TestManifestDataIsNotModified(t *testing.T) {
	h := newHarness(t)
	_, product := newPipeline(h, PerFile)
	m := loadManifest(component("wpc", componentType, manifestFile("a", fileType)))
	tree, err := m.Resolve()
	require.NoError(t, err)

	product.Process(context.Background(), *tree, h.rc)

	assert.Equal(t, map[string]any{"Name": "delivery"}, m.WorkProduct.Data)
	assert.Equal(t, map[string]any{"Name": "wpc"}, m.WorkProductComponents[0].Data)
}

func TestProcessManifestSuccess(t *testing.T) {
	h := newHarness(t)
	o := NewOrchestrator(h.deps, DefaultConfig())
	m := loadManifest(
		component("wpc-1", componentType, manifestFile("a", fileType), manifestFile("b", fileType)),
		component("wpc-2", componentType, manifestFile("c", fileType)),
	)

	job, err := o.ProcessManifest(context.Background(), "job-1", m, h.rc)
	require.NoError(t, err)

	assert.Equal(t, models.IngestJobComplete, job.Status)
	assert.Len(t, job.SRNs, 6)
	assert.Equal(t, "Ingestion successfully completed. Created 6 records.", job.Summary)
	assert.Empty(t, h.records.marked())
	assert.Equal(t, []models.IngestJobStatus{models.IngestJobComplete}, h.jobs.log)

	stored, err := o.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.SRNs, stored.SRNs)

	for _, s := range job.SRNs {
		_, ok := h.mappings.recordFor(s)
		assert.True(t, ok, s)
	}
}

func TestProcessManifestFailureMarksEveryRecordOnce(t *testing.T) {
	for _, strategy := range []Strategy{PerFile, Batched} {
		t.Run(string(strategy), func(t *testing.T) {
			h := newHarness(t)
			h.script("b", models.JobFailed)
			h.uploader.failures["d"] = errors.New("bucket unavailable")
			cfg := DefaultConfig()
			cfg.Strategy = strategy
			o := NewOrchestrator(h.deps, cfg)
			m := loadManifest(
				component("wpc-1", componentType, manifestFile("a", fileType), manifestFile("b", fileType)),
				component("wpc-2", componentType, manifestFile("c", strictType), manifestFile("d", fileType)),
			)

			job, err := o.ProcessManifest(context.Background(), "job-1", m, h.rc)
			require.NoError(t, err)

			assert.Equal(t, models.IngestJobFailed, job.Status)
			// product, two components, a and c
			assert.Len(t, job.SRNs, 5)
			lines := strings.Split(job.Summary, "\n")
			assert.Equal(t, "Ingestion failed. It was possible to create 5 records.", lines[0])
			assert.Contains(t, job.Summary, "job status=FAILED")
			assert.Contains(t, job.Summary, "bucket unavailable")

			marked := h.records.marked()
			for id, n := range marked {
				assert.Equal(t, 1, n, id)
			}
			var want []string
			for _, s := range job.SRNs {
				id, ok := h.mappings.recordFor(s)
				require.True(t, ok)
				want = append(want, id)
			}
			var got []string
			for id := range marked {
				got = append(got, id)
			}
			sort.Strings(want)
			sort.Strings(got)
			assert.Equal(t, want, got)
		})
	}
}

func TestProcessManifestUnresolvedReference(t *testing.T) {
	h := newHarness(t)
	o := NewOrchestrator(h.deps, DefaultConfig())
	m := loadManifest(component("wpc", componentType, manifestFile("a", fileType)))
	m.WorkProductComponents[0].FileAssociativeIDs = []string{"a", "missing"}

	job, err := o.ProcessManifest(context.Background(), "job-1", m, h.rc)
	require.NoError(t, err)

	assert.Equal(t, models.IngestJobFailed, job.Status)
	assert.Empty(t, job.SRNs)
	assert.Equal(t, "Ingestion failed. It was possible to create 0 records.\ncomponent \"wpc\" references unknown file \"missing\"", job.Summary)
	assert.Empty(t, h.uploader.uploads)
	assert.Empty(t, h.records.puts)
}

func TestProcessManifestWithoutComponents(t *testing.T) {
	h := newHarness(t)
	o := NewOrchestrator(h.deps, DefaultConfig())

	job, err := o.ProcessManifest(context.Background(), "job-1", nil, h.rc)
	require.NoError(t, err)

	assert.Equal(t, models.IngestJobFailed, job.Status)
	assert.Contains(t, job.Summary, "manifest has no work product components")
}

func TestProcessManifestReportsUnsavedJob(t *testing.T) {
	h := newHarness(t)
	h.deps.Jobs = failingJobs{h.jobs}
	o := NewOrchestrator(h.deps, DefaultConfig())

	_, err := o.ProcessManifest(context.Background(), "job-1",
		loadManifest(component("wpc", componentType, manifestFile("a", fileType))), h.rc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save ingest job job-1")
}

func TestSubmitRunsInBackground(t *testing.T) {
	h := newHarness(t)
	h.script("a", models.JobRunning, models.JobRunning, models.JobCompleted)
	o := NewOrchestrator(h.deps, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	jobID, err := o.Submit(ctx, loadManifest(component("wpc", componentType, manifestFile("a", fileType))), h.rc)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)
	// the request ending does not stop the run
	cancel()

	o.Wait()
	job, err := o.Status(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, models.IngestJobComplete, job.Status)
	assert.Len(t, job.SRNs, 3)
	assert.Equal(t, []models.IngestJobStatus{models.IngestJobCreated, models.IngestJobRunning, models.IngestJobComplete}, h.jobs.log)
}

type unclaimableJobs struct {
	*fakeJobs
}

func (unclaimableJobs) Claim(ctx context.Context, id string) error {
	return fmt.Errorf("job %s is RUNNING", id)
}

func TestSubmitStopsWhenClaimFails(t *testing.T) {
	h := newHarness(t)
	h.deps.Jobs = unclaimableJobs{h.jobs}
	o := NewOrchestrator(h.deps, DefaultConfig())

	_, err := o.Submit(context.Background(), loadManifest(component("wpc", componentType, manifestFile("a", fileType))), h.rc)
	o.Wait()

	require.ErrorContains(t, err, "is RUNNING")
	assert.Empty(t, h.uploader.uploads)
	assert.Equal(t, []models.IngestJobStatus{models.IngestJobCreated}, h.jobs.log)
}

type failingJobs struct {
	*fakeJobs
}

func (failingJobs) Save(ctx context.Context, job models.IngestJob) error {
	return errors.New("firestore unavailable")
}

func TestMapBoundedKeepsOrderAndLimit(t *testing.T) {
	var inFlight, peak int32
	var mu sync.Mutex
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	out := mapBounded(context.Background(), 3, items, func(ctx context.Context, i int) int {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return i * i
	})

	assert.Equal(t, []int{0, 1, 4, 9, 16, 25, 36, 49, 64, 81}, out)
	assert.LessOrEqual(t, peak, int32(3))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, PerFile, s)

	s, err = ParseStrategy("batched")
	require.NoError(t, err)
	assert.Equal(t, Batched, s)

	_, err = ParseStrategy("parallel")
	assert.Error(t, err)
}
