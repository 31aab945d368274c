package model

import "go.mongodb.org/mongo-driver/bson"

func (suite *UnitTestSuite) TestStatistics() {
	stats := NewVerificationStatistics()
	suite.Assert().Equal([]string{"different", "extraneous", "missing"}, stats.Keys())

	stats.Add(string(Missing), 2)

	other := NewStatistics()
	other.Add(string(Missing), 1)
	other.Add(string(Extraneous), 4)
	stats.Merge(other)

	suite.Assert().Equal(
		Statistics{"missing": 3, "different": 0, "extraneous": 4},
		stats,
	)

	cloned := stats.Clone()
	cloned.Add(string(Different), 1)
	suite.Assert().EqualValues(0, stats[string(Different)])
}

func (suite *UnitTestSuite) TestOperationStatKey() {
	suite.Assert().Equal("insert", OperationStatKey(Insert{}))
	suite.Assert().Equal("dropDatabase", OperationStatKey(DropDatabase{}))
	suite.Assert().Equal("unhandled:resharded", OperationStatKey(Unknown{Kind: "resharded"}))
	suite.Assert().Equal("skipped:already-applied", SkippedStatKey(ReasonAlreadyApplied))
}

func (suite *UnitTestSuite) TestDiscrepancyKey() {
	src := suite.rawDoc(bson.D{{"_id", int32(5)}})

	key, err := NewMissing(Namespace{DB: "a", Coll: "b"}, src).Key()
	suite.Require().NoError(err)
	suite.Assert().EqualValues(5, key.Int32())

	key, err = NewExtraneous(Namespace{DB: "a", Coll: "b"}, src).Key()
	suite.Require().NoError(err)
	suite.Assert().EqualValues(5, key.Int32())

	suite.Assert().Equal("skipped (gap-detected)", Skipped(ReasonGapDetected).String())
	suite.Assert().Equal("applied", Applied().String())
}
