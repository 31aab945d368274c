// Package checkpoint persists the replicator’s resume position so that a
// restarted run continues where the last one left off.
package checkpoint

import (
	"context"

	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// Store persists one resume token per replication run.
type Store interface {
	// Load returns the last saved token for runID, or None if the run has
	// never saved one.
	Load(ctx context.Context, runID string) (mo.Option[bson.Raw], error)

	// Save replaces runID’s token.
	Save(ctx context.Context, runID string, token bson.Raw) error

	Close() error
}
