package replicator

import (
	"context"
	"time"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/checkpoint/badgerstore"
	"github.com/10gen/mongo-external-sync/internal/docstore/memstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/testutil"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

const runID = "test-run"

func (suite *UnitTestSuite) newLoop(
	src, dst *memstore.Store,
	store checkpoint.Store,
	cfg LoopConfig,
) *Loop {
	l := testutil.Logger()

	return NewLoop(
		src,
		NewApplier(dst, l, ApplierConfig{}),
		NewTracker(store, l, runID, 0),
		l,
		cfg,
	)
}

func (suite *UnitTestSuite) newCheckpointStore() checkpoint.Store {
	store, err := badgerstore.OpenInMemory(testutil.Logger())
	suite.Require().NoError(err)
	suite.T().Cleanup(func() { _ = store.Close() })

	return store
}

func (suite *UnitTestSuite) savedPosition(store checkpoint.Store) bson.Raw {
	position, err := store.Load(context.Background(), runID)
	suite.Require().NoError(err)
	suite.Require().True(position.IsPresent(), "checkpoint must exist")

	return position.MustGet()
}

func (suite *UnitTestSuite) assertSameContents(src, dst *memstore.Store, dbs ...string) {
	ctx := context.Background()

	for _, db := range dbs {
		srcDigests, err := src.CollectionDigests(ctx, db)
		suite.Require().NoError(err)
		dstDigests, err := dst.CollectionDigests(ctx, db)
		suite.Require().NoError(err)

		suite.Assert().Equal(srcDigests, dstDigests, "database %#q", db)
	}
}

func (suite *UnitTestSuite) TestLoopReplicatesHistory() {
	ctx := context.Background()
	src, dst := memstore.New(), memstore.New()

	suite.seed(src, ordersNS, bson.D{{"_id", 1}, {"qty", 1}}, bson.D{{"_id", 2}}, bson.D{{"_id", 3}})
	suite.Require().NoError(src.UpdateOne(ordersNS, testutil.MustMarshal(bson.D{{"_id", 1}, {"qty", 5}})))
	_, err := src.ReplaceOne(ctx, ordersNS, testutil.Key(2), testutil.MustMarshal(bson.D{{"_id", 2}, {"r", true}}), false)
	suite.Require().NoError(err)
	_, err = src.DeleteOne(ctx, ordersNS, testutil.Key(3))
	suite.Require().NoError(err)

	suite.seed(src, archiveNS, bson.D{{"_id", "x"}})
	suite.Require().NoError(src.DropCollection(ctx, archiveNS))
	suite.seed(src, archiveNS, bson.D{{"_id", "y"}})

	suite.seed(src, model.Namespace{DB: "scratch", Coll: "tmp"}, bson.D{{"_id", 1}})
	suite.Require().NoError(src.DropDatabase(ctx, "scratch"))

	store := suite.newCheckpointStore()
	loop := suite.newLoop(src, dst, store, LoopConfig{})

	result, err := loop.Run(ctx)
	suite.Require().NoError(err)

	history := src.History()
	suite.Assert().False(result.Invalidated)
	suite.Assert().EqualValues(len(history), result.EventsApplied)
	suite.Assert().Equal(history[len(history)-1].Position, result.LastPosition.MustGet())
	suite.Assert().Equal(history[len(history)-1].Position, suite.savedPosition(store))
	suite.Assert().Equal(StateStopped, loop.State())

	suite.Assert().Equal(
		model.Statistics{
			"insert":       6,
			"update":       1,
			"replace":      1,
			"delete":       1,
			"drop":         2,
			"dropDatabase": 1,
		},
		result.Stats,
	)

	suite.assertSameContents(src, dst, "shop", "scratch")
	suite.Assert().Equal(result.Stats, loop.Status().Stats)
	suite.Assert().Positive(loop.Status().EventsPerSecond)
}

func (suite *UnitTestSuite) TestLoopContinuesPastUnknownKinds() {
	src, dst := memstore.New(), memstore.New()

	src.AppendEvent(ordersNS, model.Unknown{Kind: "resharded"})
	suite.seed(src, ordersNS, bson.D{{"_id", 1}})

	result, err := suite.newLoop(src, dst, suite.newCheckpointStore(), LoopConfig{}).Run(context.Background())
	suite.Require().NoError(err)

	suite.Assert().EqualValues(1, result.Stats["unhandled:resharded"])
	suite.Assert().EqualValues(1, result.Stats["skipped:unhandled-kind"])
	suite.Assert().EqualValues(1, result.Stats["insert"])
	suite.Assert().EqualValues(1, result.EventsApplied)
	suite.assertSameContents(src, dst, "shop")
}

func (suite *UnitTestSuite) TestLoopStopsOnInvalidate() {
	src, dst := memstore.New(), memstore.New()

	suite.seed(src, ordersNS, bson.D{{"_id", 1}})
	src.AppendEvent(ordersNS, model.Invalidate{})
	suite.seed(src, ordersNS, bson.D{{"_id", 2}})

	store := suite.newCheckpointStore()
	result, err := suite.newLoop(src, dst, store, LoopConfig{}).Run(context.Background())
	suite.Require().NoError(err)

	suite.Assert().True(result.Invalidated)
	suite.Assert().Equal(memstore.Position(1), result.LastPosition.MustGet())
	suite.Assert().Equal(memstore.Position(1), suite.savedPosition(store))
	suite.Assert().Len(suite.contents(dst, ordersNS), 1)
}

func (suite *UnitTestSuite) TestLoopResumesFromCheckpoint() {
	ctx := context.Background()
	src, dst := memstore.New(), memstore.New()
	store := suite.newCheckpointStore()

	suite.seed(src, ordersNS, bson.D{{"_id", 1}}, bson.D{{"_id", 2}})

	result, err := suite.newLoop(src, dst, store, LoopConfig{}).Run(ctx)
	suite.Require().NoError(err)
	suite.Assert().EqualValues(2, result.EventsApplied)

	suite.seed(src, ordersNS, bson.D{{"_id", 3}})

	result, err = suite.newLoop(src, dst, store, LoopConfig{}).Run(ctx)
	suite.Require().NoError(err)
	suite.Assert().EqualValues(1, result.EventsApplied)
	suite.Assert().Equal(memstore.Position(3), suite.savedPosition(store))
	suite.assertSameContents(src, dst, "shop")

	// Ignoring the checkpoint replays the memstore’s whole history.
	result, err = suite.newLoop(src, dst, store, LoopConfig{ResumeFrom: ResumeFromNow}).Run(ctx)
	suite.Require().NoError(err)
	suite.Assert().EqualValues(3, result.Stats["insert"])
	suite.assertSameContents(src, dst, "shop")
}

func (suite *UnitTestSuite) TestLoopCancellation() {
	src, dst := memstore.NewFollowing(), memstore.New()
	store := suite.newCheckpointStore()
	loop := suite.newLoop(src, dst, store, LoopConfig{BufferSize: 1})

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	type runResult struct {
		result LoopResult
		err    error
	}
	done := make(chan runResult, 1)

	go func() {
		result, err := loop.Run(ctx)
		done <- runResult{result, err}
	}()

	suite.seed(src, ordersNS, bson.D{{"_id", 1}}, bson.D{{"_id", 2}})

	suite.Require().Eventually(
		func() bool { return loop.Status().EventsApplied == 2 },
		5*time.Second,
		10*time.Millisecond,
	)
	suite.Assert().Equal(StateRunning, loop.State())

	cancel(errors.New("operator requested stop"))

	var finished runResult
	select {
	case finished = <-done:
	case <-time.After(5 * time.Second):
		suite.FailNow("loop did not stop after cancellation")
	}

	suite.Assert().ErrorIs(finished.err, context.Canceled)
	suite.Assert().ErrorContains(finished.err, "operator requested stop")
	suite.Assert().Equal(StateStopped, loop.State())
	suite.Assert().Equal(memstore.Position(2), suite.savedPosition(store))
	suite.Assert().Len(suite.contents(dst, ordersNS), 2)
}

func (suite *UnitTestSuite) TestLoopApplyErrorIsFatal() {
	src, dst := memstore.New(), memstore.New()
	store := suite.newCheckpointStore()

	suite.seed(src, ordersNS, bson.D{{"_id", 1}})
	suite.Require().NoError(src.DropCollection(context.Background(), ordersNS))
	suite.seed(src, ordersNS, bson.D{{"_id", 2}})

	dst.InjectError("DropCollection", errors.New("disk full"))

	result, err := suite.newLoop(src, dst, store, LoopConfig{}).Run(context.Background())
	suite.Assert().ErrorContains(err, "disk full")
	suite.Assert().Equal(memstore.Position(1), result.LastPosition.MustGet())
	suite.Assert().Equal(memstore.Position(1), suite.savedPosition(store))
}

func (suite *UnitTestSuite) TestLoopFeedErrorIsFatal() {
	src, dst := memstore.New(), memstore.New()
	suite.seed(src, ordersNS, bson.D{{"_id", 1}})

	src.InjectError("FeedNext", errors.New("stream broke"))

	_, err := suite.newLoop(src, dst, suite.newCheckpointStore(), LoopConfig{}).Run(context.Background())
	suite.Assert().ErrorContains(err, "stream broke")
}

func (suite *UnitTestSuite) TestLoopRunsOnce() {
	loop := suite.newLoop(memstore.New(), memstore.New(), suite.newCheckpointStore(), LoopConfig{})

	_, err := loop.Run(context.Background())
	suite.Require().NoError(err)

	_, err = loop.Run(context.Background())
	suite.Assert().ErrorContains(err, "cannot run")
}
