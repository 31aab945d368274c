// Package memstore is an in-memory docstore.Store. Every mutation is
// recorded as a change event, so a memstore can serve as the source of a
// replication run as well as its destination.
package memstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"slices"
	"sync"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

type collection map[string]bson.Raw

// Store is a docstore.Store held in memory. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	dbs      map[string]map[string]collection
	history  []model.ChangeEvent
	appended chan struct{}
	follow   bool
	scans    map[model.Namespace]int
	failures map[string]error
}

var _ docstore.Store = &Store{}

// New returns an empty Store. Its change feeds end with
// docstore.ErrFeedExhausted once they reach the end of the history.
func New() *Store {
	return &Store{
		dbs:      map[string]map[string]collection{},
		appended: make(chan struct{}),
		scans:    map[model.Namespace]int{},
		failures: map[string]error{},
	}
}

// NewFollowing returns an empty Store whose change feeds block at the end
// of the history until a new event arrives, as a server’s would.
func NewFollowing() *Store {
	s := New()
	s.follow = true
	return s
}

// InjectError makes the next call to the named method fail with err.
func (s *Store) InjectError(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[method] = err
}

// ScanCount returns how many times ScanOrdered was called for ns.
func (s *Store) ScanCount(ns model.Namespace) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.scans[ns]
}

// consumeFailure must be called with the mutex held.
func (s *Store) consumeFailure(method string) error {
	err, ok := s.failures[method]
	if !ok {
		return nil
	}

	delete(s.failures, method)
	return errors.Wrapf(err, "memstore %s", method)
}

func (s *Store) ListDatabaseNames(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("ListDatabaseNames"); err != nil {
		return nil, err
	}

	names := lo.Keys(s.dbs)
	slices.Sort(names)

	return names, nil
}

// CollectionDigests hashes each collection’s documents, in key order, the
// way the server’s dbHash does: byte-for-byte, so field order matters.
func (s *Store) CollectionDigests(_ context.Context, db string) (model.DigestSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("CollectionDigests"); err != nil {
		return nil, err
	}

	snapshot := model.DigestSnapshot{}

	for name, coll := range s.dbs[db] {
		hash := md5.New()
		for _, doc := range coll.sorted() {
			hash.Write(doc)
		}

		snapshot[name] = hex.EncodeToString(hash.Sum(nil))
	}

	return snapshot, nil
}

func (s *Store) FindOne(
	_ context.Context,
	ns model.Namespace,
	key model.DocumentKey,
) (mo.Option[bson.Raw], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("FindOne"); err != nil {
		return mo.None[bson.Raw](), err
	}

	coll, ok := s.lookup(ns)
	if !ok {
		return mo.None[bson.Raw](), nil
	}

	doc, ok := coll[model.KeyString(key)]
	return lo.Ternary(ok, mo.Some(doc), mo.None[bson.Raw]()), nil
}

func (s *Store) InsertOne(_ context.Context, ns model.Namespace, doc bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("InsertOne"); err != nil {
		return err
	}

	key, err := model.KeyOf(doc)
	if err != nil {
		return errors.Wrap(err, "document lacks _id")
	}

	coll := s.ensure(ns)
	if _, exists := coll[model.KeyString(key)]; exists {
		return errors.Wrapf(docstore.ErrDuplicateKey, "inserting into %#q", ns.String())
	}

	coll[model.KeyString(key)] = doc
	s.record(ns, model.Insert{Key: key, FullDocument: doc})

	return nil
}

func (s *Store) ReplaceOne(
	_ context.Context,
	ns model.Namespace,
	key model.DocumentKey,
	doc bson.Raw,
	upsert bool,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("ReplaceOne"); err != nil {
		return false, err
	}

	keyStr := model.KeyString(key)

	coll, ok := s.lookup(ns)
	if ok {
		if _, matched := coll[keyStr]; matched {
			coll[keyStr] = doc
			s.record(ns, model.Replace{Key: key, FullDocument: doc})
			return true, nil
		}
	}

	if upsert {
		s.ensure(ns)[keyStr] = doc
		s.record(ns, model.Insert{Key: key, FullDocument: doc})
	}

	return false, nil
}

// UpdateOne replaces a document the way an update operator would, so the
// feed reports an update whose post-image is the new document.
func (s *Store) UpdateOne(ns model.Namespace, doc bson.Raw) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := model.KeyOf(doc)
	if err != nil {
		return errors.Wrap(err, "document lacks _id")
	}

	coll, ok := s.lookup(ns)
	if !ok {
		return errors.Wrapf(docstore.ErrNamespaceNotFound, "updating %#q", ns.String())
	}

	if _, found := coll[model.KeyString(key)]; !found {
		return errors.Errorf("no document in %#q matches the key", ns.String())
	}

	coll[model.KeyString(key)] = doc
	s.record(ns, model.Update{Key: key, FullDocument: mo.Some(doc)})

	return nil
}

func (s *Store) DeleteOne(_ context.Context, ns model.Namespace, key model.DocumentKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("DeleteOne"); err != nil {
		return false, err
	}

	coll, ok := s.lookup(ns)
	if !ok {
		return false, nil
	}

	if _, found := coll[model.KeyString(key)]; !found {
		return false, nil
	}

	delete(coll, model.KeyString(key))
	s.record(ns, model.Delete{Key: key})

	return true, nil
}

func (s *Store) RenameCollection(_ context.Context, from, to model.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("RenameCollection"); err != nil {
		return err
	}

	coll, ok := s.lookup(from)
	if !ok {
		return errors.Wrapf(docstore.ErrNamespaceNotFound, "renaming %#q", from.String())
	}

	s.remove(from)
	s.ensure(to)
	s.dbs[to.DB][to.Coll] = coll
	s.record(from, model.Rename{To: to})

	return nil
}

func (s *Store) DropCollection(_ context.Context, ns model.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("DropCollection"); err != nil {
		return err
	}

	if _, ok := s.lookup(ns); !ok {
		return errors.Wrapf(docstore.ErrNamespaceNotFound, "dropping %#q", ns.String())
	}

	s.remove(ns)
	s.record(ns, model.Drop{})

	return nil
}

// DropDatabase reports a drop for each collection and then the database
// drop itself, as a server’s change stream does.
func (s *Store) DropDatabase(_ context.Context, db string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("DropDatabase"); err != nil {
		return err
	}

	colls, ok := s.dbs[db]
	if !ok {
		return nil
	}

	names := lo.Keys(colls)
	slices.Sort(names)

	for _, name := range names {
		s.record(model.Namespace{DB: db, Coll: name}, model.Drop{})
	}

	delete(s.dbs, db)
	s.record(model.Namespace{DB: db}, model.DropDatabase{})

	return nil
}

func (s *Store) CollectionExists(_ context.Context, ns model.Namespace) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("CollectionExists"); err != nil {
		return false, err
	}

	_, ok := s.lookup(ns)
	return ok, nil
}

// CreateCollection creates an empty collection. The feed reports it as a
// "create" event, which the replicator does not handle.
func (s *Store) CreateCollection(ns model.Namespace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensure(ns)
	s.record(ns, model.Unknown{Kind: "create"})
}

// AppendEvent adds an arbitrary event to the feed without changing any
// data. Tests use this for kinds the memstore never emits by itself.
func (s *Store) AppendEvent(ns model.Namespace, op model.Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(ns, op)
}

func (s *Store) ScanOrdered(_ context.Context, ns model.Namespace) (docstore.DocCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("ScanOrdered"); err != nil {
		return nil, err
	}

	s.scans[ns]++

	var docs []bson.Raw
	if coll, ok := s.lookup(ns); ok {
		docs = coll.sorted()
	}

	return &cursor{docs: docs, pos: -1}, nil
}

func (s *Store) lookup(ns model.Namespace) (collection, bool) {
	coll, ok := s.dbs[ns.DB][ns.Coll]
	return coll, ok
}

func (s *Store) ensure(ns model.Namespace) collection {
	if _, ok := s.dbs[ns.DB]; !ok {
		s.dbs[ns.DB] = map[string]collection{}
	}

	coll, ok := s.dbs[ns.DB][ns.Coll]
	if !ok {
		coll = collection{}
		s.dbs[ns.DB][ns.Coll] = coll
	}

	return coll
}

func (s *Store) remove(ns model.Namespace) {
	delete(s.dbs[ns.DB], ns.Coll)

	if len(s.dbs[ns.DB]) == 0 {
		delete(s.dbs, ns.DB)
	}
}

// sorted returns the documents in the order that the server sorts their
// _id values.
func (c collection) sorted() []bson.Raw {
	docs := lo.Values(c)
	slices.SortFunc(docs, func(a, b bson.Raw) int {
		return model.CompareKeys(a.Lookup("_id"), b.Lookup("_id"))
	})

	return docs
}
