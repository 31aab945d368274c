// Package mongostore implements docstore.Store against a MongoDB cluster.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/retry"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/10gen/mongo-external-sync/mmongo"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DefaultBatchSize is the cursor batch size for scans.
const DefaultBatchSize = 1000

type Config struct {
	BatchSize  int32
	RetryLimit time.Duration
}

// Store is a docstore.Store backed by a MongoDB client.
type Store struct {
	client             *mongo.Client
	logger             *logger.Logger
	retryer            *retry.Retryer
	batchSize          int32
	showExpandedEvents bool
}

var _ docstore.Store = &Store{}

// New wraps a connected client. It queries the server version to decide
// whether change streams may request expanded events.
func New(ctx context.Context, log *logger.Logger, client *mongo.Client, cfg Config) (*Store, error) {
	version, err := mmongo.GetVersionArray(ctx, client)
	if err != nil {
		return nil, err
	}

	s := &Store{
		client:             client,
		logger:             log,
		retryer:            retry.New(),
		batchSize:          cfg.BatchSize,
		showExpandedEvents: mmongo.VersionAtLeast(version[:], mmongo.ShowExpandedEventsMinVersion...),
	}

	if s.batchSize == 0 {
		s.batchSize = DefaultBatchSize
	}

	if cfg.RetryLimit > 0 {
		s.retryer = s.retryer.WithRetryLimit(cfg.RetryLimit)
	}

	log.Info().
		Ints("serverVersion", version[:]).
		Bool("showExpandedEvents", s.showExpandedEvents).
		Msg("Connected to cluster.")

	return s, nil
}

// Client returns the underlying client.
func (s *Store) Client() *mongo.Client {
	return s.client
}

// run executes f in a fresh session, retrying transient failures. The
// session ends when f returns.
func (s *Store) run(
	ctx context.Context,
	description string,
	f func(mongo.SessionContext) error,
) error {
	return s.retryer.
		WithDescription("%s", description).
		Run(ctx, s.logger, func(ctx context.Context, _ *retry.FuncInfo) error {
			return s.client.UseSession(ctx, f)
		})
}

func (s *Store) coll(ns model.Namespace) *mongo.Collection {
	return s.client.Database(ns.DB).Collection(ns.Coll)
}

func keyFilter(key model.DocumentKey) bson.D {
	return bson.D{{"_id", key}}
}

func (s *Store) ListDatabaseNames(ctx context.Context) ([]string, error) {
	var names []string

	err := s.run(ctx, "listing databases", func(sctx mongo.SessionContext) error {
		var err error
		names, err = s.client.ListDatabaseNames(sctx, bson.D{})
		return err
	})

	return names, errors.Wrap(err, "listing databases")
}

func (s *Store) CollectionDigests(ctx context.Context, db string) (model.DigestSnapshot, error) {
	var resp struct {
		Collections map[string]string `bson:"collections"`
	}

	err := s.run(ctx, fmt.Sprintf("hashing database %#q", db), func(sctx mongo.SessionContext) error {
		return s.client.Database(db).RunCommand(sctx, bson.D{{"dbHash", 1}}).Decode(&resp)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "running %#q on database %#q", "dbHash", db)
	}

	snapshot := model.DigestSnapshot{}
	for coll, hash := range resp.Collections {
		snapshot[coll] = hash
	}

	return snapshot, nil
}

func (s *Store) FindOne(
	ctx context.Context,
	ns model.Namespace,
	key model.DocumentKey,
) (mo.Option[bson.Raw], error) {
	var found mo.Option[bson.Raw]

	err := s.run(ctx, "finding document in "+ns.String(), func(sctx mongo.SessionContext) error {
		raw, err := s.coll(ns).FindOne(sctx, keyFilter(key)).Raw()
		if util.IsNoDocumentsError(err) {
			found = mo.None[bson.Raw]()
			return nil
		}
		if err != nil {
			return err
		}

		found = mo.Some(raw)
		return nil
	})

	return found, errors.Wrapf(err, "finding document in %#q", ns.String())
}

func (s *Store) InsertOne(ctx context.Context, ns model.Namespace, doc bson.Raw) error {
	err := s.run(ctx, "inserting into "+ns.String(), func(sctx mongo.SessionContext) error {
		_, err := s.coll(ns).InsertOne(sctx, doc)
		return err
	})

	if util.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrDuplicateKey, err)
	}

	return errors.Wrapf(err, "inserting into %#q", ns.String())
}

func (s *Store) ReplaceOne(
	ctx context.Context,
	ns model.Namespace,
	key model.DocumentKey,
	doc bson.Raw,
	upsert bool,
) (bool, error) {
	var matched bool

	err := s.run(ctx, "replacing in "+ns.String(), func(sctx mongo.SessionContext) error {
		res, err := s.coll(ns).ReplaceOne(
			sctx,
			keyFilter(key),
			doc,
			options.Replace().SetUpsert(upsert),
		)
		if err != nil {
			return err
		}

		matched = res.MatchedCount > 0
		return nil
	})

	return matched, errors.Wrapf(err, "replacing document in %#q", ns.String())
}

func (s *Store) DeleteOne(ctx context.Context, ns model.Namespace, key model.DocumentKey) (bool, error) {
	var deleted bool

	err := s.run(ctx, "deleting from "+ns.String(), func(sctx mongo.SessionContext) error {
		res, err := s.coll(ns).DeleteOne(sctx, keyFilter(key))
		if err != nil {
			return err
		}

		deleted = res.DeletedCount > 0
		return nil
	})

	return deleted, errors.Wrapf(err, "deleting document from %#q", ns.String())
}

func (s *Store) RenameCollection(ctx context.Context, from, to model.Namespace) error {
	err := s.run(ctx, "renaming "+from.String(), func(sctx mongo.SessionContext) error {
		return s.client.Database("admin").RunCommand(sctx, bson.D{
			{"renameCollection", from.String()},
			{"to", to.String()},
			{"dropTarget", true},
		}).Err()
	})

	if util.IsNamespaceNotFoundError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrNamespaceNotFound, err)
	}

	return errors.Wrapf(err, "renaming %#q to %#q", from.String(), to.String())
}

// DropCollection sends the drop command directly because the driver’s
// Collection.Drop hides NamespaceNotFound.
func (s *Store) DropCollection(ctx context.Context, ns model.Namespace) error {
	err := s.run(ctx, "dropping "+ns.String(), func(sctx mongo.SessionContext) error {
		return s.client.Database(ns.DB).RunCommand(sctx, bson.D{{"drop", ns.Coll}}).Err()
	})

	if util.IsNamespaceNotFoundError(err) {
		return fmt.Errorf("%w: %w", docstore.ErrNamespaceNotFound, err)
	}

	return errors.Wrapf(err, "dropping %#q", ns.String())
}

func (s *Store) DropDatabase(ctx context.Context, db string) error {
	err := s.run(ctx, "dropping database "+db, func(sctx mongo.SessionContext) error {
		return s.client.Database(db).Drop(sctx)
	})

	return errors.Wrapf(err, "dropping database %#q", db)
}

func (s *Store) CollectionExists(ctx context.Context, ns model.Namespace) (bool, error) {
	var exists bool

	err := s.run(ctx, "checking for "+ns.String(), func(sctx mongo.SessionContext) error {
		names, err := s.client.Database(ns.DB).ListCollectionNames(sctx, bson.D{{"name", ns.Coll}})
		if err != nil {
			return err
		}

		exists = len(names) > 0
		return nil
	})

	return exists, errors.Wrapf(err, "checking whether %#q exists", ns.String())
}
