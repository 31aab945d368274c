// Package badgerstore keeps checkpoints in an embedded BadgerDB.
package badgerstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	schemaVersionKey = "meta/formatVersion"
	schemaVersion    = "1"

	checkpointKeyPrefix = "checkpoint/"
)

type Store struct {
	db *badger.DB
}

var _ checkpoint.Store = &Store{}

// Open opens or creates the datastore in the directory at path.
func Open(l *logger.Logger, path string) (*Store, error) {
	return open(badger.DefaultOptions(path).WithLogger(NewLogger(l, "checkpoint/badger")), path)
}

// OpenInMemory returns a Store that keeps nothing on disk.
func OpenInMemory(l *logger.Logger) (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true).WithLogger(NewLogger(l, "checkpoint/badger")), "(memory)")
}

func open(opts badger.Options, path string) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %#q", path)
	}

	if err := verifySchemaVersion(db); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "verifying/setting datastore’s version")
	}

	return &Store{db}, nil
}

func verifySchemaVersion(db *badger.DB) error {
	return db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaVersionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set([]byte(schemaVersionKey), []byte(schemaVersion))
		}
		if err != nil {
			return err
		}

		found, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		if !bytes.Equal(found, []byte(schemaVersion)) {
			return fmt.Errorf("found checkpoint format version %q, but %q is required", found, schemaVersion)
		}

		return nil
	})
}

func checkpointKey(runID string) []byte {
	return []byte(checkpointKeyPrefix + runID)
}

func (s *Store) Load(_ context.Context, runID string) (mo.Option[bson.Raw], error) {
	var token mo.Option[bson.Raw]

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		token = mo.Some(bson.Raw(val))
		return nil
	})

	return token, errors.Wrapf(err, "loading checkpoint for run %#q", runID)
}

func (s *Store) Save(_ context.Context, runID string, token bson.Raw) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(runID), token)
	})

	return errors.Wrapf(err, "saving checkpoint for run %#q", runID)
}

func (s *Store) Close() error {
	return s.db.Close()
}
