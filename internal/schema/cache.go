package schema

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// CachingProvider memoizes another Source for the lifetime of the process. Concurrent
// misses for the same id share a single lookup. Failed lookups are not cached.
type CachingProvider struct {
	source Source
	flight singleflight.Group
	cache  sync.Map // resourceTypeID -> models.SchemaDescriptor
}

// NewCachingProvider wraps source.
func NewCachingProvider(source Source) *CachingProvider {
	return &CachingProvider{source: source}
}

func (c *CachingProvider) Get(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error) {
	if d, ok := c.cache.Load(resourceTypeID); ok {
		return d.(models.SchemaDescriptor), nil
	}

	v, err, _ := c.flight.Do(resourceTypeID, func() (interface{}, error) {
		d, err := c.source.Get(ctx, resourceTypeID)
		if err != nil {
			return nil, err
		}
		c.cache.Store(resourceTypeID, d)
		return d, nil
	})
	if err != nil {
		return models.SchemaDescriptor{}, err
	}
	return v.(models.SchemaDescriptor), nil
}
