package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// catalogFile is the on-disk layout of a schema catalog:
//
//	schemas:
//	  - typeId: srn:type:file/las2:1
//	    kind: osdu:file:las2:1.0.0
//	    schema:
//	      type: object
type catalogFile struct {
	Schemas []catalogEntry `yaml:"schemas"`
}

type catalogEntry struct {
	ResourceTypeID string         `yaml:"typeId"`
	Kind           string         `yaml:"kind"`
	Schema         map[string]any `yaml:"schema"`
}

// YAMLProvider serves schemas from a catalog loaded into memory. It backs the CLI and
// local runs where Firestore is not available.
type YAMLProvider struct {
	entries []models.SchemaDescriptor
}

// LoadYAMLProvider reads a catalog file.
func LoadYAMLProvider(path string) (*YAMLProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema catalog %s: %w", path, err)
	}
	return ParseYAMLCatalog(data)
}

// ParseYAMLCatalog builds a provider from catalog bytes. Each schema is stored as JSON.
func ParseYAMLCatalog(data []byte) (*YAMLProvider, error) {
	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse schema catalog: %w", err)
	}

	p := &YAMLProvider{entries: make([]models.SchemaDescriptor, 0, len(catalog.Schemas))}
	for i, e := range catalog.Schemas {
		if e.ResourceTypeID == "" || e.Kind == "" {
			return nil, fmt.Errorf("schema catalog entry %d: typeId and kind are required", i)
		}
		if e.Schema == nil {
			e.Schema = map[string]any{}
		}
		raw, err := json.Marshal(e.Schema)
		if err != nil {
			return nil, fmt.Errorf("schema catalog entry %s: %w", e.ResourceTypeID, err)
		}
		p.entries = append(p.entries, models.SchemaDescriptor{
			ResourceTypeID: e.ResourceTypeID,
			Kind:           e.Kind,
			Schema:         raw,
		})
	}
	return p, nil
}

// Get resolves the type id against the catalog.
func (p *YAMLProvider) Get(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error) {
	d, err := pick(resourceTypeID, p.entries)
	if err != nil {
		return models.SchemaDescriptor{}, fmt.Errorf("resource type %s: %w", resourceTypeID, err)
	}
	return d, nil
}
