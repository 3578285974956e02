package models

// JobState is the state of an external conversion job.
type JobState string

const (
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// JobStatus is one observation of an external conversion job. RecordIDs and
// OutputLocation are only set once the job has COMPLETED.
type JobStatus struct {
	JobID          string   `json:"jobId"`
	State          JobState `json:"state"`
	RecordIDs      []string `json:"recordIds,omitempty"`
	OutputLocation string   `json:"outputLocation,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// SignedFile is a manifest file after it has been copied into the landing bucket.
type SignedFile struct {
	File         ManifestFile
	Location     string
	RelativePath string
	PageCount    int
}

// SubmitFileContext is what the conversion service needs to process one file.
type SubmitFileContext struct {
	RelativeFilePath      string `json:"filePath"`
	Kind                  string `json:"kind"`
	FileResourceTypeID    string `json:"fileResourceTypeId"`
	ComponentResourceType string `json:"wpcResourceTypeId"`
	// PageCount is set for PDF files only.
	PageCount int `json:"pageCount,omitempty"`
}

// SubmittedFile pairs an uploaded file with the job converting it.
type SubmittedFile struct {
	SignedFile SignedFile
	JobID      string
}
