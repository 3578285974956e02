package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// ProductIngester ingests the work product: its components first, then its own
// record listing the component SRNs.
type ProductIngester struct {
	deps       Deps
	components *ComponentIngester
	cfg        Config
}

func NewProductIngester(deps Deps, components *ComponentIngester, cfg Config) *ProductIngester {
	return &ProductIngester{deps: deps, components: components, cfg: cfg}
}

// Process never fails. Success holds only when every component succeeded and the
// product record is valid.
func (p *ProductIngester) Process(ctx context.Context, product models.ResolvedProduct, rc *models.RequestContext) (res IngestedProduct) {
	ctx, span := tracer.Start(ctx, "ingest.Product", trace.WithAttributes(
		attribute.String("product.resourceTypeId", product.ResourceTypeID),
		attribute.Int("product.components", len(product.Components)),
	))
	label := product.ResourceTypeID
	logCtx := slog.With("resourceTypeId", product.ResourceTypeID)
	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Recovered panic while ingesting work product.", "panic", r)
			res.Success = false
			res.Summaries = append(res.Summaries, failure("work product", label, fmt.Errorf("panic: %v", r)))
		}
		endNode(span, "product", res.Success, res.Summary())
	}()

	sd, err := p.deps.schemaFor(ctx, product.ResourceTypeID)
	if err != nil {
		logCtx.Error("Schema lookup failed.", "error", err)
		res.Summaries = []string{failure("work product", label, err)}
		return res
	}

	res.Components = mapBounded(ctx, p.cfg.ComponentConcurrency, product.Components,
		func(ctx context.Context, comp models.ResolvedComponent) IngestedComponent {
			return p.components.Process(ctx, comp, rc)
		})

	successComponents := true
	componentSRNs := make([]string, 0, len(res.Components))
	for _, c := range res.Components {
		successComponents = successComponents && c.Success
		if c.SRN != "" {
			componentSRNs = append(componentSRNs, c.SRN)
		}
		res.Summaries = append(res.Summaries, c.Summaries...)
	}

	id, err := p.deps.identify(ctx, product.ResourceTypeID, sd, rc, func(srnValue string) models.Record {
		payload := entityPayload(product.Data, models.ComponentsKey, componentSRNs)
		stamp(payload, srnValue, product.ResourceTypeID, product.ResourceSecurityClassification, rc, now())
		return newRecord(sd, rc, payload)
	})
	res.Record = id.Record
	if err != nil {
		logCtx.Error("Failed to identify work product record.", "error", err)
		res.Summaries = append(res.Summaries, failure("work product", label, err))
		return res
	}

	res.SRN = id.SRN
	res.Success = successComponents && len(id.Violations) == 0
	res.Summaries = append(res.Summaries, describe("work product", label, id.SRN, id.Violations))
	logCtx.Info("Work product ingested.", "srn", id.SRN, "components", len(res.Components), "success", res.Success)
	return res
}
