package replicator

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/docstore/memstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/testutil"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

func (suite *UnitTestSuite) newApplier(cfg ApplierConfig) (*Applier, *memstore.Store) {
	dst := memstore.New()
	return NewApplier(dst, testutil.Logger(), cfg), dst
}

func (suite *UnitTestSuite) apply(a *Applier, e model.ChangeEvent) model.ApplyOutcome {
	outcome, err := a.Apply(context.Background(), e)
	suite.Require().NoError(err, "applying %s", e)
	return outcome
}

func (suite *UnitTestSuite) seed(dst *memstore.Store, ns model.Namespace, docs ...bson.D) {
	for _, doc := range docs {
		suite.Require().NoError(dst.InsertOne(context.Background(), ns, testutil.MustMarshal(doc)))
	}
}

func (suite *UnitTestSuite) TestIdempotence() {
	ctx := context.Background()
	replacement := testutil.MustMarshal(bson.D{{"_id", 1}, {"status", "shipped"}})

	cases := map[string]model.ChangeEvent{
		"delete":       event(ordersNS, model.Delete{Key: testutil.Key(1)}),
		"replace":      event(ordersNS, model.Replace{Key: testutil.Key(1), FullDocument: replacement}),
		"drop":         event(ordersNS, model.Drop{}),
		"dropDatabase": event(model.Namespace{DB: "shop"}, model.DropDatabase{}),
	}

	for name, e := range cases {
		suite.Run(name, func() {
			a, dst := suite.newApplier(ApplierConfig{})
			suite.seed(dst, ordersNS, bson.D{{"_id", 1}, {"status", "new"}}, bson.D{{"_id", 2}})
			suite.seed(dst, archiveNS, bson.D{{"_id", 9}})

			suite.Assert().Equal(model.StatusApplied, suite.apply(a, e).Status)

			onceOrders := suite.contents(dst, ordersNS)
			onceDigests, err := dst.CollectionDigests(ctx, "shop")
			suite.Require().NoError(err)

			second := suite.apply(a, e)
			suite.Assert().NotEqual(model.StatusTerminal, second.Status)

			suite.Assert().Equal(onceOrders, suite.contents(dst, ordersNS))

			twiceDigests, err := dst.CollectionDigests(ctx, "shop")
			suite.Require().NoError(err)
			suite.Assert().Equal(onceDigests, twiceDigests)
		})
	}
}

func (suite *UnitTestSuite) TestInsertReplay() {
	doc := bson.D{{"_id", 7}, {"item", "lamp"}}

	for _, mode := range []InsertMode{InsertModeUpsert, InsertModeInsertOnly} {
		suite.Run(string(mode), func() {
			a, dst := suite.newApplier(ApplierConfig{InsertMode: mode})

			suite.Assert().Equal(model.Applied(), suite.apply(a, insertOf(ordersNS, doc)))

			second := suite.apply(a, insertOf(ordersNS, doc))
			if mode == InsertModeInsertOnly {
				suite.Assert().Equal(model.Skipped(model.ReasonAlreadyApplied), second)
			} else {
				suite.Assert().Equal(model.Applied(), second)
			}

			suite.Assert().Equal(
				[]bson.Raw{testutil.MustMarshal(doc)},
				suite.contents(dst, ordersNS),
			)
		})
	}
}

func (suite *UnitTestSuite) TestDropThenInsert() {
	a, dst := suite.newApplier(ApplierConfig{})
	suite.seed(dst, ordersNS, bson.D{{"_id", 1}}, bson.D{{"_id", 2}})

	fresh := bson.D{{"_id", 3}, {"v", "after drop"}}

	suite.apply(a, event(ordersNS, model.Drop{}))
	suite.apply(a, insertOf(ordersNS, fresh))

	suite.Assert().Equal([]bson.Raw{testutil.MustMarshal(fresh)}, suite.contents(dst, ordersNS))
}

func (suite *UnitTestSuite) TestUpdate() {
	a, dst := suite.newApplier(ApplierConfig{})
	suite.seed(dst, ordersNS, bson.D{{"_id", 1}, {"qty", 1}})

	updated := testutil.MustMarshal(bson.D{{"_id", 1}, {"qty", 2}})

	outcome := suite.apply(a, event(ordersNS, model.Update{
		Key:          testutil.Key(1),
		FullDocument: mo.Some(updated),
	}))
	suite.Assert().Equal(model.Applied(), outcome)
	suite.Assert().Equal([]bson.Raw{updated}, suite.contents(dst, ordersNS))

	outcome = suite.apply(a, event(ordersNS, model.Update{
		Key:          testutil.Key(1),
		FullDocument: mo.None[bson.Raw](),
	}))
	suite.Assert().Equal(model.Skipped(model.ReasonNoPostImage), outcome)
	suite.Assert().Equal("skipped:no-post-image", model.SkippedStatKey(outcome.Reason))
	suite.Assert().Equal([]bson.Raw{updated}, suite.contents(dst, ordersNS))
}

func (suite *UnitTestSuite) TestMissingDocumentPolicy() {
	doc := testutil.MustMarshal(bson.D{{"_id", 5}, {"v", 1}})
	replace := event(ordersNS, model.Replace{Key: testutil.Key(5), FullDocument: doc})

	a, dst := suite.newApplier(ApplierConfig{MissingDocumentPolicy: MissingDocumentUpsert})
	suite.Assert().Equal(model.Applied(), suite.apply(a, replace))
	suite.Assert().Equal([]bson.Raw{doc}, suite.contents(dst, ordersNS))

	a, dst = suite.newApplier(ApplierConfig{MissingDocumentPolicy: MissingDocumentReport})
	suite.Assert().Equal(model.Skipped(model.ReasonGapDetected), suite.apply(a, replace))
	suite.Assert().Empty(suite.contents(dst, ordersNS))
}

func (suite *UnitTestSuite) TestRename() {
	ctx := context.Background()
	a, dst := suite.newApplier(ApplierConfig{})
	suite.seed(dst, ordersNS, bson.D{{"_id", 1}}, bson.D{{"_id", 2}}, bson.D{{"_id", 3}})

	before := suite.contents(dst, ordersNS)
	rename := event(ordersNS, model.Rename{To: archiveNS})

	suite.Assert().Equal(model.Applied(), suite.apply(a, rename))
	suite.Assert().Equal(before, suite.contents(dst, archiveNS))

	exists, err := dst.CollectionExists(ctx, ordersNS)
	suite.Require().NoError(err)
	suite.Assert().False(exists)

	suite.Assert().Equal(model.Skipped(model.ReasonAlreadyApplied), suite.apply(a, rename))
	suite.Assert().Equal(before, suite.contents(dst, archiveNS))

	orphan := event(model.Namespace{DB: "shop", Coll: "never"}, model.Rename{To: model.Namespace{DB: "shop", Coll: "nor"}})
	_, err = a.Apply(ctx, orphan)
	suite.Assert().ErrorIs(err, docstore.ErrNamespaceNotFound)
}

func (suite *UnitTestSuite) TestInvalidateAndUnknown() {
	a, dst := suite.newApplier(ApplierConfig{})

	suite.Assert().Equal(
		model.Terminal(model.ReasonFeedInvalidated),
		suite.apply(a, event(ordersNS, model.Invalidate{})),
	)

	suite.Assert().Equal(
		model.Skipped(model.ReasonUnhandledKind),
		suite.apply(a, event(ordersNS, model.Unknown{Kind: "resharded"})),
	)

	names, err := dst.ListDatabaseNames(context.Background())
	suite.Require().NoError(err)
	suite.Assert().Empty(names)
}

func (suite *UnitTestSuite) TestApplyErrorPropagates() {
	a, dst := suite.newApplier(ApplierConfig{})
	dst.InjectError("ReplaceOne", docstore.ErrNamespaceNotFound)

	_, err := a.Apply(context.Background(), insertOf(ordersNS, bson.D{{"_id", 1}}))
	suite.Assert().Error(err)
}
