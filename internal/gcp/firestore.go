package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

// NewFirestoreClient opens the named database of the project. An empty databaseID
// selects the project's default database.
func NewFirestoreClient(ctx context.Context, projectID, databaseID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client for database %s: %w", databaseID, err)
	}
	return client, nil
}
