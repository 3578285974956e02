package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

// ErrConfiguration marks failures caused by missing deployment data, such as a
// resource type with no registered schema.
var ErrConfiguration = errors.New("configuration error")

// now is replaced in tests.
var now = func() time.Time { return time.Now().UTC() }

// identity is what identify produced. Record is set once the record is stored, SRN
// once its mapping is saved.
type identity struct {
	SRN        string
	Record     *models.Record
	Violations []string
}

// identify allocates an SRN for the type, stores the record build returns for it,
// validates the stored payload and maps the SRN to the stored record id.
func (d Deps) identify(ctx context.Context, resourceTypeID string, sd models.SchemaDescriptor, rc *models.RequestContext, build func(srn string) models.Record) (identity, error) {
	srnValue, err := srn.Allocate(resourceTypeID)
	if err != nil {
		return identity{}, fmt.Errorf("failed to allocate srn: %w", err)
	}

	rec, err := d.Records.Put(ctx, build(srnValue), rc)
	if err != nil {
		return identity{}, fmt.Errorf("failed to store record: %w", err)
	}
	out := identity{Record: &rec}

	violations, err := d.Validator.Validate(sd.Schema, rec.Payload())
	if err != nil {
		return out, fmt.Errorf("failed to validate record %s: %w", rec.ID, err)
	}

	if err := d.Mappings.Save(ctx, models.SrnToRecord{SRN: srnValue, RecordID: rec.ID, CreatedAt: now()}); err != nil {
		return out, fmt.Errorf("failed to map %s to record %s: %w", srnValue, rec.ID, err)
	}
	out.SRN = srnValue
	out.Violations = violations
	return out, nil
}

func (d Deps) schemaFor(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error) {
	sd, err := d.Schemas.Get(ctx, resourceTypeID)
	if err != nil {
		return models.SchemaDescriptor{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return sd, nil
}

// stamp writes the resource fields every created record carries into payload.
func stamp(payload map[string]any, srnValue, resourceTypeID, classification string, rc *models.RequestContext, at time.Time) {
	ts := at.Format(time.RFC3339)
	payload[models.ResourceIDKey] = srnValue
	payload[models.ResourceTypeIDKey] = srn.PrepareTypeID(resourceTypeID)
	payload[models.ResourceHomeRegionIDKey] = rc.HomeRegionID
	payload[models.ResourceHostRegionIDsKey] = append([]string(nil), rc.HostRegionIDs...)
	payload[models.ResourceObjectCreationDateTimeKey] = ts
	payload[models.ResourceVersionCreationDateTimeKey] = ts
	payload[models.ResourceCurationStatusKey] = models.CurationStatusCreated
	payload[models.ResourceLifecycleStatusKey] = models.LifecycleStatusReceived
	if classification != "" {
		payload[models.ResourceSecurityClassificationKey] = classification
	}
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// entityPayload builds the payload of a component or product record. The child SRNs
// go under Data.GroupTypeProperties.<groupKey>. The manifest maps are copied, never
// written.
func entityPayload(data map[string]any, groupKey string, childSRNs []string) map[string]any {
	d := copyMap(data)
	props, _ := d[models.GroupTypePropertiesKey].(map[string]any)
	props = copyMap(props)
	props[groupKey] = append([]string{}, childSRNs...)
	d[models.GroupTypePropertiesKey] = props
	return map[string]any{models.DataKey: d}
}

func newRecord(sd models.SchemaDescriptor, rc *models.RequestContext, payload map[string]any) models.Record {
	return models.Record{
		Kind:  sd.Kind,
		Acl:   rc.Acl(),
		Legal: rc.Legal,
		Data:  map[string]any{models.OsduDataKey: payload},
	}
}

// enrichFile merges the manifest entry and the request context into the record the
// conversion job produced.
func enrichFile(produced models.Record, file models.ManifestFile, sd models.SchemaDescriptor, srnValue string, rc *models.RequestContext) models.Record {
	payload := copyMap(produced.Payload())
	existing, _ := payload[models.DataKey].(map[string]any)
	data := copyMap(existing)
	for k, v := range file.Data {
		data[k] = v
	}
	payload[models.DataKey] = data
	stamp(payload, srnValue, file.ResourceTypeID, file.ResourceSecurityClassification, rc, now())

	rec := produced
	rec.Kind = sd.Kind
	rec.Acl = rc.Acl()
	rec.Legal = rc.Legal
	rec.Data = copyMap(produced.Data)
	rec.Data[models.OsduDataKey] = payload
	return rec
}

func describe(entity, label, srnValue string, violations []string) string {
	if len(violations) == 0 {
		return fmt.Sprintf("%s %s ingested as %s", entity, label, srnValue)
	}
	return fmt.Sprintf("%s %s ingested as %s but its record is invalid: %s", entity, label, srnValue, strings.Join(violations, "; "))
}

func failure(entity, label string, err error) string {
	return fmt.Sprintf("failed to ingest %s %s: %v", entity, label, err)
}
