package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

type ConversionConfig struct {
	ProjectID        string
	WorkflowLocation string
	WorkflowID       string
	LandingBucket    string
}

// ConversionJobs runs file conversions as Cloud Workflows executions. The execution
// name is the job id.
type ConversionJobs struct {
	client *executions.Client
	config ConversionConfig
}

func NewConversionJobs(client *executions.Client, config ConversionConfig) *ConversionJobs {
	return &ConversionJobs{client: client, config: config}
}

// conversionArgument is the workflow input.
type conversionArgument struct {
	Bucket string `json:"bucket"`
	models.SubmitFileContext
	Partition string `json:"partition"`
	LegalTags string `json:"legalTags"`
}

// conversionResult is what a successful workflow returns.
type conversionResult struct {
	RecordIDs      []string `json:"recordIds"`
	OutputLocation string   `json:"outputLocation"`
}

func (c *ConversionJobs) Submit(ctx context.Context, fc models.SubmitFileContext, rc *models.RequestContext) (string, error) {
	payload, err := json.Marshal(conversionArgument{
		Bucket:            c.config.LandingBucket,
		SubmitFileContext: fc,
		Partition:         rc.Partition,
		LegalTags:         rc.LegalTags,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", c.config.ProjectID, c.config.WorkflowLocation, c.config.WorkflowID),
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	}
	exec, err := c.client.CreateExecution(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Conversion workflow triggered.", "execution", exec.GetName(), "filePath", fc.RelativeFilePath)
	return exec.GetName(), nil
}

func (c *ConversionJobs) Status(ctx context.Context, jobID string) (models.JobStatus, error) {
	exec, err := c.client.GetExecution(ctx, &executionspb.GetExecutionRequest{Name: jobID})
	if err != nil {
		return models.JobStatus{}, fmt.Errorf("failed to get workflow execution %s: %w", jobID, err)
	}
	return jobStatusFromExecution(exec), nil
}

func jobStatusFromExecution(exec *executionspb.Execution) models.JobStatus {
	st := models.JobStatus{JobID: exec.GetName()}
	switch exec.GetState() {
	case executionspb.Execution_SUCCEEDED:
		var result conversionResult
		if err := json.Unmarshal([]byte(exec.GetResult()), &result); err != nil {
			st.State = models.JobFailed
			st.Error = fmt.Sprintf("unreadable workflow result: %v", err)
			return st
		}
		st.State = models.JobCompleted
		st.RecordIDs = result.RecordIDs
		st.OutputLocation = result.OutputLocation
	case executionspb.Execution_FAILED, executionspb.Execution_CANCELLED, executionspb.Execution_UNAVAILABLE:
		st.State = models.JobFailed
		st.Error = exec.GetError().GetPayload()
		if st.Error == "" {
			st.Error = "workflow execution " + exec.GetState().String()
		}
	default:
		// ACTIVE, QUEUED and unspecified states are still in flight
		st.State = models.JobRunning
	}
	return st
}
