package replicator

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/docstore/memstore"
	"github.com/10gen/mongo-external-sync/internal/testutil"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// countingStore is a checkpoint.Store that remembers every save.
type countingStore struct {
	saved map[string][]bson.Raw
}

var _ checkpoint.Store = &countingStore{}

func newCountingStore() *countingStore {
	return &countingStore{saved: map[string][]bson.Raw{}}
}

func (cs *countingStore) Load(_ context.Context, runID string) (mo.Option[bson.Raw], error) {
	saves := cs.saved[runID]
	if len(saves) == 0 {
		return mo.None[bson.Raw](), nil
	}

	return mo.Some(saves[len(saves)-1]), nil
}

func (cs *countingStore) Save(_ context.Context, runID string, token bson.Raw) error {
	cs.saved[runID] = append(cs.saved[runID], token)
	return nil
}

func (cs *countingStore) Close() error {
	return nil
}

func (suite *UnitTestSuite) TestTrackerCadence() {
	ctx := context.Background()
	store := newCountingStore()
	tracker := NewTracker(store, testutil.Logger(), "run", 2)

	suite.Require().NoError(tracker.Checkpoint(ctx))
	suite.Assert().Empty(store.saved["run"], "nothing to persist yet")

	tracker.Advance(memstore.Position(1))
	suite.Require().NoError(tracker.CheckpointIfDue(ctx))
	suite.Assert().Empty(store.saved["run"])

	tracker.Advance(memstore.Position(2))
	suite.Require().NoError(tracker.CheckpointIfDue(ctx))
	suite.Assert().Equal([]bson.Raw{memstore.Position(2)}, store.saved["run"])

	// Nothing moved, so nothing is written.
	suite.Require().NoError(tracker.Checkpoint(ctx))
	suite.Assert().Len(store.saved["run"], 1)

	tracker.Advance(memstore.Position(3))
	suite.Require().NoError(tracker.Checkpoint(ctx))
	suite.Assert().Equal(memstore.Position(3), store.saved["run"][1])
	suite.Assert().Equal(memstore.Position(3), tracker.LastPosition().MustGet())
}

func (suite *UnitTestSuite) TestTrackerLoad() {
	ctx := context.Background()
	store := newCountingStore()

	suite.Require().NoError(store.Save(ctx, "run", memstore.Position(4)))

	tracker := NewTracker(store, testutil.Logger(), "run", 0)
	position, err := tracker.Load(ctx)
	suite.Require().NoError(err)
	suite.Assert().Equal(memstore.Position(4), position.MustGet())
	suite.Assert().Equal(position, tracker.LastPosition())

	// A loaded position is already durable.
	suite.Require().NoError(tracker.Checkpoint(ctx))
	suite.Assert().Len(store.saved["run"], 1)

	other := NewTracker(store, testutil.Logger(), "other", 0)
	position, err = other.Load(ctx)
	suite.Require().NoError(err)
	suite.Assert().True(position.IsAbsent())
}
