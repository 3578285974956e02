package validation

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

//go:embed schemas/load_manifest.json
var loadManifestSchema []byte

// ManifestValidator decides whether a manifest may be accepted for ingestion. It runs
// the struct rules, the generic load manifest schema and the cross-reference check.
type ManifestValidator struct {
	structs *validator.Validate
	schemas *JSONSchemaValidator
}

// NewManifestValidator creates a ManifestValidator. Pass nil to get a private schema
// cache.
func NewManifestValidator(schemas *JSONSchemaValidator) *ManifestValidator {
	if schemas == nil {
		schemas = NewJSONSchemaValidator()
	}
	return &ManifestValidator{structs: validator.New(), schemas: schemas}
}

// Validate returns every problem found in the manifest. An empty slice means the
// manifest is acceptable. The error is reserved for internal failures.
func (m *ManifestValidator) Validate(manifest *models.LoadManifest) ([]string, error) {
	if manifest == nil {
		return []string{"manifest is required"}, nil
	}

	var violations []string
	if err := m.structs.Struct(manifest); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("failed to validate manifest structure: %w", err)
		}
		for _, fe := range verrs {
			violations = append(violations, describeFieldError(fe))
		}
	}

	schemaViolations, err := m.schemas.Validate(loadManifestSchema, manifest)
	if err != nil {
		return nil, err
	}
	violations = append(violations, schemaViolations...)

	// References are only meaningful once the entries themselves are well formed.
	if len(violations) == 0 {
		if _, err := manifest.Resolve(); err != nil {
			violations = append(violations, err.Error())
		}
	}

	slices.Sort(violations)
	return slices.Compact(violations), nil
}

func describeFieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag())
}
