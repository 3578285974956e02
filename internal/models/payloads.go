package models

// These structs define the JSON payloads of the HTTP functions and the envelope
// staged between the submit and process functions.

// SubmitManifestRequest is the body of the submit function.
type SubmitManifestRequest struct {
	Manifest LoadManifest `json:"manifest" validate:"required"`
}

// SubmitManifestResponse is returned once the manifest has been accepted.
type SubmitManifestResponse struct {
	JobID  string          `json:"jobId"`
	Status IngestJobStatus `json:"status"`
}

// ManifestValidationResponse is returned when a manifest is rejected.
type ManifestValidationResponse struct {
	Status     string   `json:"status"`
	Violations []string `json:"violations"`
}

// ManifestEnvelope is staged in the manifests bucket as <jobId>.json; its creation
// triggers the process function. Groups are resolved at submission, so the envelope
// carries no credentials.
type ManifestEnvelope struct {
	JobID    string            `json:"jobId"`
	Headers  IngestHeaders     `json:"headers"`
	Groups   map[string]string `json:"groups"`
	Manifest LoadManifest      `json:"manifest"`
}

// JobStatusResponse is the output of the job status function.
type JobStatusResponse struct {
	JobID   string          `json:"jobId"`
	Status  IngestJobStatus `json:"status"`
	SRNs    []string        `json:"srns"`
	Summary string          `json:"summary"`
}
