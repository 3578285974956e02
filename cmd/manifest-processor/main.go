package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/manifestflow/internal/services"
)

var (
	processorInstance *services.ProcessorFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Fired by object finalize events on the manifests bucket.
	functions.CloudEvent("ProcessManifest", processManifest)
}

func main() {}

func processManifest(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		processorInstance, initErr = services.NewProcessor(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed.
	return processorInstance.Process(ctx, gcsEvent)
}
