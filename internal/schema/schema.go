// Package schema resolves resource type ids to the kind and JSON schema of the
// records created for them.
package schema

import (
	"context"
	"errors"
	"strconv"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

// ErrNotFound is returned when no schema is registered for a resource type id.
var ErrNotFound = errors.New("schema not found")

// Source is anything that can resolve a resource type id.
type Source interface {
	Get(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error)
}

// newerVersion reports whether version a sorts after b. Numeric versions compare by
// value, anything else falls back to string order.
func newerVersion(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai > bi
	}
	return a > b
}

// pick chooses the descriptor a lookup for resourceTypeID resolves to: the exact entry
// when the id carries a version, otherwise the newest version of the same type.
func pick(resourceTypeID string, candidates []models.SchemaDescriptor) (models.SchemaDescriptor, error) {
	want, err := srn.ParseTypeID(resourceTypeID)
	if err != nil {
		return models.SchemaDescriptor{}, err
	}

	var (
		best    models.SchemaDescriptor
		bestVer string
		found   bool
	)
	for _, c := range candidates {
		got, err := srn.ParseTypeID(c.ResourceTypeID)
		if err != nil || got.Type != want.Type {
			continue
		}
		if want.HasVersion() {
			if got.Version == want.Version {
				return c, nil
			}
			continue
		}
		if !found || newerVersion(got.Version, bestVer) {
			best, bestVer, found = c, got.Version, true
		}
	}
	if !found {
		return models.SchemaDescriptor{}, ErrNotFound
	}
	return best, nil
}
