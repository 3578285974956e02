package schema

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/manifestflow/internal/models"
	"github.com/Lllllllleong/manifestflow/internal/srn"
)

// DefaultCollection holds one document per registered resource type id.
const DefaultCollection = "schemaData"

type schemaDocument struct {
	TypeID string `firestore:"typeId"`
	Kind   string `firestore:"kind"`
	Schema string `firestore:"schema"`
}

// FirestoreProvider looks schemas up in Firestore.
type FirestoreProvider struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreProvider creates a provider over the given collection, or
// DefaultCollection when empty.
func NewFirestoreProvider(client *firestore.Client, collection string) *FirestoreProvider {
	if collection == "" {
		collection = DefaultCollection
	}
	return &FirestoreProvider{client: client, collection: collection}
}

// Get runs an exact match for versioned ids. Unversioned ids scan every version of the
// type and keep the newest.
func (p *FirestoreProvider) Get(ctx context.Context, resourceTypeID string) (models.SchemaDescriptor, error) {
	t, err := srn.ParseTypeID(resourceTypeID)
	if err != nil {
		return models.SchemaDescriptor{}, err
	}

	col := p.client.Collection(p.collection)
	var query firestore.Query
	if t.HasVersion() {
		query = col.Where("typeId", "==", resourceTypeID).Limit(1)
	} else {
		prefix := strings.TrimSuffix(resourceTypeID, t.Version)
		query = col.Where("typeId", ">=", prefix).Where("typeId", "<", prefix+"\uf8ff")
	}

	var candidates []models.SchemaDescriptor
	it := query.Documents(ctx)
	defer it.Stop()
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return models.SchemaDescriptor{}, fmt.Errorf("failed to query schemas for %s: %w", resourceTypeID, err)
		}
		var doc schemaDocument
		if err := snap.DataTo(&doc); err != nil {
			return models.SchemaDescriptor{}, fmt.Errorf("failed to decode schema document %s: %w", snap.Ref.ID, err)
		}
		candidates = append(candidates, models.SchemaDescriptor{
			ResourceTypeID: doc.TypeID,
			Kind:           doc.Kind,
			Schema:         []byte(doc.Schema),
		})
	}

	d, err := pick(resourceTypeID, candidates)
	if err != nil {
		return models.SchemaDescriptor{}, fmt.Errorf("resource type %s: %w", resourceTypeID, err)
	}
	return d, nil
}
