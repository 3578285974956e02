package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// ComponentIngester ingests a work product component: its files first, then its own
// record listing the file SRNs.
type ComponentIngester struct {
	deps  Deps
	files *FileIngester
	cfg   Config
}

func NewComponentIngester(deps Deps, files *FileIngester, cfg Config) *ComponentIngester {
	return &ComponentIngester{deps: deps, files: files, cfg: cfg}
}

// Process never fails. Success holds only when every file succeeded and the component
// record is valid. Files are kept in the result whatever happens afterwards.
func (c *ComponentIngester) Process(ctx context.Context, comp models.ResolvedComponent, rc *models.RequestContext) (res IngestedComponent) {
	ctx, span := tracer.Start(ctx, "ingest.Component", trace.WithAttributes(
		attribute.String("component.associativeId", comp.AssociativeID),
		attribute.Int("component.files", len(comp.Files)),
	))
	res.AssociativeID = comp.AssociativeID
	logCtx := slog.With("componentId", comp.AssociativeID, "resourceTypeId", comp.ResourceTypeID)
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Recovered panic while ingesting component.", "panic", r)
			res.Success = false
			res.Summaries = append(res.Summaries, failure("work product component", comp.AssociativeID, fmt.Errorf("panic: %v", r)))
		}
		endNode(span, "component", res.Success, res.Summary())
	}()

	sd, err := c.deps.schemaFor(ctx, comp.ResourceTypeID)
	if err != nil {
		logCtx.Error("Schema lookup failed.", "error", err)
		res.Summaries = []string{failure("work product component", comp.AssociativeID, err)}
		return res
	}

	res.Files = c.ingestFiles(ctx, comp, rc)

	successFiles := true
	fileSRNs := make([]string, 0, len(res.Files))
	for _, f := range res.Files {
		successFiles = successFiles && f.Success
		if f.SRN != "" {
			fileSRNs = append(fileSRNs, f.SRN)
		}
		res.Summaries = append(res.Summaries, f.Summary)
	}

	id, err := c.deps.identify(ctx, comp.ResourceTypeID, sd, rc, func(srnValue string) models.Record {
		payload := entityPayload(comp.Data, models.FilesKey, fileSRNs)
		stamp(payload, srnValue, comp.ResourceTypeID, comp.ResourceSecurityClassification, rc, now())
		return newRecord(sd, rc, payload)
	})
	res.Record = id.Record
	if err != nil {
		logCtx.Error("Failed to identify component record.", "error", err)
		res.Summaries = append(res.Summaries, failure("work product component", comp.AssociativeID, err))
		return res
	}

	res.SRN = id.SRN
	res.Success = successFiles && len(id.Violations) == 0
	res.Summaries = append(res.Summaries, describe("work product component", comp.AssociativeID, id.SRN, id.Violations))
	logCtx.Info("Component ingested.", "srn", id.SRN, "files", len(res.Files), "success", res.Success)
	return res
}

func (c *ComponentIngester) ingestFiles(ctx context.Context, comp models.ResolvedComponent, rc *models.RequestContext) []IngestedFile {
	tasks := make([]FileTask, len(comp.Files))
	for i, f := range comp.Files {
		tasks[i] = FileTask{File: f, ComponentTypeID: comp.ResourceTypeID}
	}
	if c.cfg.Strategy == Batched {
		return c.files.ProcessBatch(ctx, tasks, c.cfg.FileConcurrency, rc)
	}
	return mapBounded(ctx, c.cfg.FileConcurrency, tasks, func(ctx context.Context, t FileTask) IngestedFile {
		return c.files.Process(ctx, t, rc)
	})
}
