// Package docstore defines what the replicator and the verifier need from
// a cluster. The mongostore subpackage implements it against MongoDB; the
// memstore subpackage implements it in memory.
package docstore

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrNamespaceNotFound is returned when a collection-level operation
	// names a collection that does not exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrDuplicateKey is returned when an insert collides with an existing
	// document’s _id.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrFeedExhausted is returned by ChangeFeed.Next once the feed can
	// yield no further events, e.g., after the server closes the stream.
	ErrFeedExhausted = errors.New("change feed exhausted")
)

// Store is one cluster as seen by the replicator and verifier.
//
// Implementations retry transient failures internally; an error returned
// from any method is not worth retrying at the caller’s level.
type Store interface {
	// ListDatabaseNames returns every database, system ones included.
	ListDatabaseNames(ctx context.Context) ([]string, error)

	// CollectionDigests returns a content digest for each collection in db.
	// An absent database yields an empty snapshot.
	CollectionDigests(ctx context.Context, db string) (model.DigestSnapshot, error)

	FindOne(ctx context.Context, ns model.Namespace, key model.DocumentKey) (mo.Option[bson.Raw], error)

	// InsertOne fails with ErrDuplicateKey if the _id already exists.
	InsertOne(ctx context.Context, ns model.Namespace, doc bson.Raw) error

	// ReplaceOne replaces the document with the given key. If no such
	// document exists and upsert is set, doc is inserted. The returned bool
	// says whether an existing document matched.
	ReplaceOne(ctx context.Context, ns model.Namespace, key model.DocumentKey, doc bson.Raw, upsert bool) (bool, error)

	// DeleteOne returns whether a document was deleted.
	DeleteOne(ctx context.Context, ns model.Namespace, key model.DocumentKey) (bool, error)

	// RenameCollection renames from to to, replacing any existing target.
	// It fails with ErrNamespaceNotFound if from does not exist.
	RenameCollection(ctx context.Context, from, to model.Namespace) error

	// DropCollection may fail with ErrNamespaceNotFound if ns does not
	// exist; newer servers treat such a drop as a success.
	DropCollection(ctx context.Context, ns model.Namespace) error

	// DropDatabase succeeds whether or not db exists.
	DropDatabase(ctx context.Context, db string) error

	CollectionExists(ctx context.Context, ns model.Namespace) (bool, error)

	// ScanOrdered iterates every document in ns in ascending _id order.
	// A nonexistent collection yields an empty cursor.
	ScanOrdered(ctx context.Context, ns model.Namespace) (DocCursor, error)

	// Watch opens a cluster-wide change feed. With a start position the
	// feed resumes right after it; otherwise it starts from now.
	Watch(ctx context.Context, startAfter mo.Option[bson.Raw]) (ChangeFeed, error)
}

// DocCursor iterates documents. The caller owns each document that
// Current returns; later calls to Next do not alter it.
type DocCursor interface {
	Next(ctx context.Context) bool
	Current() bson.Raw
	Err() error
	Close(ctx context.Context) error
}

// ChangeFeed yields change events in source commit order.
type ChangeFeed interface {
	// Next blocks until an event is available, ctx ends, or the feed is
	// exhausted (ErrFeedExhausted).
	Next(ctx context.Context) (model.ChangeEvent, error)
	Close(ctx context.Context) error
}
