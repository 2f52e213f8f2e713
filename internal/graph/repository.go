package graph

import (
	"context"
)

// Repository mirrors graph snapshots into an external graph database.
type Repository interface {
	// StoreSnapshot upserts every node and edge of snap under the given session.
	StoreSnapshot(ctx context.Context, sessionID string, snap Snapshot) error
	// CountSession returns how many nodes and relationships are stored for a session.
	CountSession(ctx context.Context, sessionID string) (nodes, rels int, err error)
	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close(ctx context.Context) error
}
