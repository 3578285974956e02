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

	"github.com/Lllllllleong/manifestflow/internal/services"
)

var (
	statusInstance *services.JobStatusFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("GetIngestJobStatus", getIngestJobStatus)
}

func main() {}

func getIngestJobStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		statusInstance, initErr = services.NewJobStatus(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: Job status initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	jobID := r.URL.Query().Get("jobId")
	res, err := statusInstance.Process(r.Context(), jobID)
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		http.Error(w, "Not Found: "+err.Error(), http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, "Internal Server Error: could not read job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", jobID)
	}
}
