package verifier

import (
	"bytes"
	"encoding/binary"
	"os"
	"slices"

	"github.com/10gen/mongo-external-sync/internal/checkpoint/badgerstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
)

// spool keeps each namespace’s event lines on disk until the namespace is
// fully reconciled, so that a namespace’s events reach the stream together
// without its discrepancies ever being held in memory.
type spool struct {
	db  *badger.DB
	dir string
}

// openSpool creates a spool in a new directory under parent, or under the
// system’s temporary directory if parent is empty.
func openSpool(parent string, l *logger.Logger) (*spool, error) {
	dir, err := os.MkdirTemp(parent, "verify-spool-")
	if err != nil {
		return nil, errors.Wrap(err, "creating spool directory")
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(badgerstore.NewLogger(l, "verifier/spool")).
		WithMemTableSize(16 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, errors.Wrapf(err, "opening spool in %#q", dir)
	}

	return &spool{db: db, dir: dir}, nil
}

// close discards anything still spooled.
func (s *spool) close() error {
	err := s.db.Close()

	if rmErr := os.RemoveAll(s.dir); rmErr != nil && err == nil {
		err = rmErr
	}

	return errors.Wrapf(err, "closing spool in %#q", s.dir)
}

type spoolWriter struct {
	batch  *badger.WriteBatch
	prefix []byte
	seq    uint64
}

func (s *spool) writer(ns model.Namespace) *spoolWriter {
	return &spoolWriter{batch: s.db.NewWriteBatch(), prefix: spoolPrefix(ns)}
}

func (w *spoolWriter) add(kind model.DiscrepancyKind, line []byte) error {
	key := binary.BigEndian.AppendUint64(slices.Clone(w.prefix), w.seq)
	w.seq++

	value := make([]byte, 0, len(kind)+1+len(line))
	value = append(value, kind...)
	value = append(value, 0)
	value = append(value, line...)

	return errors.Wrap(w.batch.Set(key, value), "spooling event")
}

func (w *spoolWriter) flush() error {
	return errors.Wrap(w.batch.Flush(), "flushing spooled events")
}

func (w *spoolWriter) cancel() {
	w.batch.Cancel()
}

// drain passes ns’s spooled lines to fn in the order they were added.
// Drained lines stay on disk until the spool closes.
func (s *spool) drain(ns model.Namespace, fn func(model.DiscrepancyKind, []byte) error) error {
	prefix := spoolPrefix(ns)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				kind, line, found := bytes.Cut(val, []byte{0})
				if !found {
					return errors.Errorf("malformed spool entry %x", it.Item().Key())
				}

				return fn(model.DiscrepancyKind(kind), line)
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	return errors.Wrapf(err, "draining spooled events of %#q", ns.String())
}

func spoolPrefix(ns model.Namespace) []byte {
	return []byte(ns.DB + "\x00" + ns.Coll + "\x00")
}
