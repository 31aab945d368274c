package memstore

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Positions are documents of the form {_data: <int64 sequence>}, where the
// sequence is the event’s 1-based index in the history.
const positionField = "_data"

// Position returns the resume token of the event at the given 1-based
// sequence number.
func Position(seq int64) bson.Raw {
	raw, err := bson.Marshal(bson.D{{positionField, seq}})
	if err != nil {
		panic(errors.Wrap(err, "marshaling position"))
	}

	return raw
}

func sequenceOf(position bson.Raw) (int64, error) {
	val, err := position.LookupErr(positionField)
	if err != nil || val.Type != bsontype.Int64 {
		return 0, errors.Errorf("resume token %s did not come from a memstore", position)
	}

	return val.Int64(), nil
}

// record must be called with the mutex held.
func (s *Store) record(ns model.Namespace, op model.Operation) {
	seq := int64(len(s.history) + 1)

	s.history = append(s.history, model.ChangeEvent{
		Op:        op,
		Namespace: ns,
		Position:  Position(seq),
	})

	close(s.appended)
	s.appended = make(chan struct{})
}

// History returns every event recorded so far.
func (s *Store) History() []model.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]model.ChangeEvent(nil), s.history...)
}

// Watch returns a feed over the store’s history. Without a start position
// the feed starts at the beginning of the history; a memstore retains
// every event, so “from now” and “from the start” coincide for a store
// that is watched before it is written.
func (s *Store) Watch(_ context.Context, startAfter mo.Option[bson.Raw]) (docstore.ChangeFeed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.consumeFailure("Watch"); err != nil {
		return nil, err
	}

	var next int64

	if position, has := startAfter.Get(); has {
		seq, err := sequenceOf(position)
		if err != nil {
			return nil, err
		}

		if seq > int64(len(s.history)) {
			return nil, errors.Errorf("resume token %d is beyond the history (%d events)", seq, len(s.history))
		}

		next = seq
	}

	return &feed{store: s, next: next}, nil
}

type feed struct {
	store  *Store
	next   int64
	closed bool
}

func (f *feed) Next(ctx context.Context) (model.ChangeEvent, error) {
	for {
		f.store.mu.Lock()

		if err := f.store.consumeFailure("FeedNext"); err != nil {
			f.store.mu.Unlock()
			return model.ChangeEvent{}, err
		}

		if f.closed {
			f.store.mu.Unlock()
			return model.ChangeEvent{}, errors.New("change feed is closed")
		}

		if f.next < int64(len(f.store.history)) {
			event := f.store.history[f.next]
			f.next++
			f.store.mu.Unlock()

			return event, nil
		}

		follow := f.store.follow
		appended := f.store.appended
		f.store.mu.Unlock()

		if !follow {
			return model.ChangeEvent{}, docstore.ErrFeedExhausted
		}

		select {
		case <-ctx.Done():
			return model.ChangeEvent{}, util.WrapCtxErrWithCause(ctx)
		case <-appended:
		}
	}
}

func (f *feed) Close(_ context.Context) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	f.closed = true
	return nil
}
