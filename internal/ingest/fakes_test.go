package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/poller"
	"github.com/Lllllllleong/manifestflow/internal/validation"
)

const (
	productType   = "srn:type:work-product/WellLog:"
	componentType = "srn:type:work-product-component/WellLog:"
	fileType      = "srn:type:file/las2:"
	strictType    = "srn:type:file/strict:"
	strictWpcType = "srn:type:work-product-component/Strict:"
)

// requiresDepth rejects payloads whose Data block has no Depth.
const requiresDepth = `{"type":"object","required":["Data"],"properties":{"Data":{"type":"object","required":["Depth"]}}}`

type fakeSchemas struct {
	byType map[string]models.SchemaDescriptor
}

func newFakeSchemas() *fakeSchemas {
	s := &fakeSchemas{byType: map[string]models.SchemaDescriptor{}}
	s.add(productType, "osdu:wp:welllog:1.0.0", `{}`)
	s.add(componentType, "osdu:wpc:welllog:1.0.0", `{"type":"object","required":["ResourceID"]}`)
	s.add(fileType, "osdu:file:las2:1.0.0", `{"type":"object","required":["ResourceID","Data"]}`)
	s.add(strictType, "osdu:file:strict:1.0.0", requiresDepth)
	s.add(strictWpcType, "osdu:wpc:strict:1.0.0", requiresDepth)
	return s
}

func (s *fakeSchemas) add(typeID, kind, schema string) {
	s.byType[typeID] = models.SchemaDescriptor{ResourceTypeID: typeID, Kind: kind, Schema: []byte(schema)}
}

func (s *fakeSchemas) Get(ctx context.Context, typeID string) (models.SchemaDescriptor, error) {
	d, ok := s.byType[typeID]
	if !ok {
		return models.SchemaDescriptor{}, fmt.Errorf("resource type %s: schema not found", typeID)
	}
	return d, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	failures map[string]error
	panics   map[string]bool
	pages    map[string]int
	uploads  []string
}

func (u *fakeUploader) Upload(ctx context.Context, file models.ManifestFile, rc *models.RequestContext) (models.SignedFile, error) {
	u.mu.Lock()
	u.uploads = append(u.uploads, file.AssociativeID)
	err := u.failures[file.AssociativeID]
	panics := u.panics[file.AssociativeID]
	pages := u.pages[file.AssociativeID]
	u.mu.Unlock()
	if panics {
		panic("nil bucket handle")
	}
	if err != nil {
		return models.SignedFile{}, err
	}
	return models.SignedFile{
		File:         file,
		Location:     "gs://landing/" + file.AssociativeID,
		RelativePath: file.AssociativeID,
		PageCount:    pages,
	}, nil
}

// fakeConversion plays the external conversion service. Submitting a file creates the
// record the job will report; each job then follows its script of states.
type fakeConversion struct {
	mu       sync.Mutex
	records  *fakeRecords
	scripts  map[string][]models.JobState // by file associative id
	calls    map[string]int
	submits  []models.SubmitFileContext
	failures map[string]error
}

func (c *fakeConversion) Submit(ctx context.Context, fc models.SubmitFileContext, rc *models.RequestContext) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failures[fc.RelativeFilePath]; err != nil {
		return "", err
	}
	c.submits = append(c.submits, fc)
	c.records.seed(models.Record{
		ID:   "produced-" + fc.RelativeFilePath,
		Kind: "converter:raw",
		Data: map[string]any{models.OsduDataKey: map[string]any{
			models.DataKey: map[string]any{"Converter": "las2"},
		}},
	})
	return "job-" + fc.RelativeFilePath, nil
}

func (c *fakeConversion) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	file := jobID[len("job-"):]
	script, ok := c.scripts[file]
	if !ok {
		script = []models.JobState{models.JobCompleted}
	}
	n := c.calls[jobID]
	c.calls[jobID]++
	if n >= len(script) {
		n = len(script) - 1
	}
	st := models.JobStatus{JobID: jobID, State: script[n]}
	switch st.State {
	case models.JobCompleted:
		st.RecordIDs = []string{"produced-" + file}
	case models.JobFailed:
		st.Error = "unsupported curve units"
	}
	return st, nil
}

// countingWaiter records how the pipeline waits for jobs.
type countingWaiter struct {
	*poller.Poller
	mu       sync.Mutex
	await    int
	awaitAll int
}

func (w *countingWaiter) Await(ctx context.Context, id string) (models.JobStatus, error) {
	w.mu.Lock()
	w.await++
	w.mu.Unlock()
	return w.Poller.Await(ctx, id)
}

func (w *countingWaiter) AwaitAll(ctx context.Context, ids []string) (poller.Result, error) {
	w.mu.Lock()
	w.awaitAll++
	w.mu.Unlock()
	return w.Poller.AwaitAll(ctx, ids)
}

type fakeRecords struct {
	mu       sync.Mutex
	byID     map[string]models.Record
	next     int
	putErr   map[string]error // by record kind
	puts     []string
	markedBy map[string]int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{byID: map[string]models.Record{}, putErr: map[string]error{}, markedBy: map[string]int{}}
}

func (r *fakeRecords) seed(rec models.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[rec.ID] = rec
}

func (r *fakeRecords) Put(ctx context.Context, rec models.Record, rc *models.RequestContext) (models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.putErr[rec.Kind]; err != nil {
		return models.Record{}, err
	}
	if rec.ID == "" {
		r.next++
		rec.ID = fmt.Sprintf("rec-%d", r.next)
	}
	r.byID[rec.ID] = rec
	r.puts = append(r.puts, rec.ID)
	return rec, nil
}

func (r *fakeRecords) Get(ctx context.Context, id string, rc *models.RequestContext) (models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return models.Record{}, fmt.Errorf("record %s: not found", id)
	}
	return rec, nil
}

func (r *fakeRecords) MarkFailed(ctx context.Context, rec models.Record, rc *models.RequestContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markedBy[rec.ID]++
	return nil
}

func (r *fakeRecords) get(id string) models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

func (r *fakeRecords) marked() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.markedBy))
	for id, n := range r.markedBy {
		out[id] = n
	}
	return out
}

type fakeMappings struct {
	mu    sync.Mutex
	bySRN map[string]string
}

func (m *fakeMappings) Save(ctx context.Context, mapping models.SrnToRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.bySRN[mapping.SRN]; dup {
		return errors.New("already exists")
	}
	m.bySRN[mapping.SRN] = mapping.RecordID
	return nil
}

func (m *fakeMappings) recordFor(srnValue string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySRN[srnValue]
	return id, ok
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]models.IngestJob
	log  []models.IngestJobStatus
}

func (j *fakeJobs) Create(ctx context.Context, job models.IngestJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = job
	j.log = append(j.log, job.Status)
	return nil
}

func (j *fakeJobs) Claim(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: not found", id)
	}
	if job.Status != models.IngestJobCreated {
		return fmt.Errorf("job %s is %s", id, job.Status)
	}
	job.Status = models.IngestJobRunning
	j.jobs[id] = job
	j.log = append(j.log, job.Status)
	return nil
}

func (j *fakeJobs) Save(ctx context.Context, job models.IngestJob) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jobs[job.ID] = job
	j.log = append(j.log, job.Status)
	return nil
}

func (j *fakeJobs) Get(ctx context.Context, id string) (models.IngestJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return models.IngestJob{}, fmt.Errorf("job %s: not found", id)
	}
	return job, nil
}

type harness struct {
	deps       Deps
	schemas    *fakeSchemas
	uploader   *fakeUploader
	conversion *fakeConversion
	waiter     *countingWaiter
	records    *fakeRecords
	mappings   *fakeMappings
	jobs       *fakeJobs
	rc         *models.RequestContext
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	records := newFakeRecords()
	h := &harness{
		schemas:  newFakeSchemas(),
		uploader: &fakeUploader{failures: map[string]error{}, panics: map[string]bool{}},
		conversion: &fakeConversion{
			records:  records,
			scripts:  map[string][]models.JobState{},
			calls:    map[string]int{},
			failures: map[string]error{},
		},
		records:  records,
		mappings: &fakeMappings{bySRN: map[string]string{}},
		jobs:     &fakeJobs{jobs: map[string]models.IngestJob{}},
		rc: &models.RequestContext{
			AuthorizationToken: "Bearer token",
			Partition:          "opendes",
			Legal:              models.Legal{LegalTags: []string{"opendes-public"}, OtherRelevantDataCountries: []string{"US"}},
			UserGroupEmailByName: map[string]string{
				models.DefaultOwnersGroup:  "data.default.owners@opendes.example.com",
				models.DefaultViewersGroup: "data.default.viewers@opendes.example.com",
			},
			HomeRegionID:  "srn:reference-data/OSDURegion:US:",
			HostRegionIDs: []string{"srn:reference-data/OSDURegion:US:"},
		},
	}
	h.waiter = &countingWaiter{Poller: poller.New(h.conversion, poller.Config{
		Interval:    time.Millisecond,
		MaxInterval: 2 * time.Millisecond,
		Multiplier:  2,
		Timeout:     5 * time.Second,
	})}
	h.deps = Deps{
		Schemas:   h.schemas,
		Uploader:  h.uploader,
		Submitter: h.conversion,
		Waiter:    h.waiter,
		Records:   h.records,
		Mappings:  h.mappings,
		Validator: validation.NewJSONSchemaValidator(),
		Jobs:      h.jobs,
	}
	return h
}

func (h *harness) script(fileID string, states ...models.JobState) {
	h.conversion.scripts[fileID] = states
}

func manifestFile(id, typeID string) models.ManifestFile {
	return models.ManifestFile{
		ResourceTypeID: typeID,
		AssociativeID:  id,
		Data: map[string]any{
			models.GroupTypePropertiesKey: map[string]any{
				models.StagingFilePathKey: "gs://staging/" + id + ".las",
			},
		},
	}
}

func component(id, typeID string, files ...models.ManifestFile) models.ResolvedComponent {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.AssociativeID
	}
	return models.ResolvedComponent{
		ManifestWpc: models.ManifestWpc{
			ResourceTypeID:     typeID,
			AssociativeID:      id,
			FileAssociativeIDs: ids,
			Data:               map[string]any{"Name": id},
		},
		Files: files,
	}
}

// loadManifest flattens components back into the manifest shape.
func loadManifest(components ...models.ResolvedComponent) *models.LoadManifest {
	m := &models.LoadManifest{
		WorkProduct: models.ManifestWp{ResourceTypeID: productType, Data: map[string]any{"Name": "delivery"}},
	}
	for _, c := range components {
		m.WorkProductComponents = append(m.WorkProductComponents, c.ManifestWpc)
		m.Files = append(m.Files, c.Files...)
	}
	return m
}

func fileSRNs(rec *models.Record) []string {
	data, _ := rec.Payload()[models.DataKey].(map[string]any)
	props, _ := data[models.GroupTypePropertiesKey].(map[string]any)
	srns, _ := props[models.FilesKey].([]string)
	return srns
}
