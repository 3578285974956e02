package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/services"
)

var (
	submitterInstance *services.SubmitterFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("SubmitManifest", submitManifest)
}

func main() {}

func submitManifest(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		submitterInstance, initErr = services.NewSubmitter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Submitter initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	headers := models.IngestHeaders{
		AuthorizationToken:    r.Header.Get(models.HeaderAuthorization),
		Partition:             r.Header.Get(models.HeaderPartition),
		LegalTags:             r.Header.Get(models.HeaderLegalTags),
		ResourceHomeRegionID:  r.Header.Get(models.HeaderResourceHomeRegionID),
		ResourceHostRegionIDs: r.Header.Get(models.HeaderResourceHostRegionIDs),
	}

	var req models.SubmitManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := submitterInstance.Process(r.Context(), headers, &req)
	var rejected *services.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusBadRequest, models.ManifestValidationResponse{Status: "INVALID", Violations: rejected.Violations})
		return
	case err != nil:
		http.Error(w, "Internal Server Error: submission failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
