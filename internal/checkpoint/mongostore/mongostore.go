// Package mongostore keeps checkpoints in a MongoDB collection, one
// document per run.
package mongostore

import (
	"context"
	"time"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultDatabase = "mongo_external_sync"
	collectionName  = "checkpoints"
)

type Store struct {
	client *mongo.Client
	coll   *mongo.Collection

	// ownsClient means Close disconnects the client.
	ownsClient bool
}

var _ checkpoint.Store = &Store{}

type checkpointDoc struct {
	RunID     string    `bson:"_id"`
	Token     bson.Raw  `bson:"token"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// New stores checkpoints in the given database. If ownsClient is set,
// Close disconnects the client.
func New(client *mongo.Client, dbName string, ownsClient bool) *Store {
	return &Store{
		client:     client,
		coll:       client.Database(dbName).Collection(collectionName),
		ownsClient: ownsClient,
	}
}

func (s *Store) Load(ctx context.Context, runID string) (mo.Option[bson.Raw], error) {
	var doc checkpointDoc

	err := s.coll.FindOne(ctx, bson.D{{"_id", runID}}).Decode(&doc)
	if util.IsNoDocumentsError(err) {
		return mo.None[bson.Raw](), nil
	}
	if err != nil {
		return mo.None[bson.Raw](), errors.Wrapf(err, "loading checkpoint for run %#q", runID)
	}

	return mo.Some(doc.Token), nil
}

func (s *Store) Save(ctx context.Context, runID string, token bson.Raw) error {
	_, err := s.coll.ReplaceOne(
		ctx,
		bson.D{{"_id", runID}},
		checkpointDoc{RunID: runID, Token: token, UpdatedAt: time.Now()},
		options.Replace().SetUpsert(true),
	)

	return errors.Wrapf(err, "saving checkpoint for run %#q", runID)
}

func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}

	return s.client.Disconnect(context.Background())
}
