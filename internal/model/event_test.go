package model

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (suite *UnitTestSuite) changeEvent(opType string, extra ...bson.E) bson.Raw {
	doc := bson.D{
		{"_id", bson.D{{"_data", "8263A1"}}},
		{"operationType", opType},
		{"clusterTime", primitive.Timestamp{T: 100, I: 2}},
		{"ns", bson.D{{"db", "shop"}, {"coll", "orders"}}},
	}

	return suite.rawDoc(append(doc, extra...))
}

func (suite *UnitTestSuite) TestParseInsert() {
	full := bson.D{{"_id", int32(1)}, {"qty", 3}}
	raw := suite.changeEvent(
		"insert",
		bson.E{"documentKey", bson.D{{"_id", int32(1)}}},
		bson.E{"fullDocument", full},
	)

	event, err := ParseChangeEvent(raw)
	suite.Require().NoError(err)

	suite.Assert().Equal(Namespace{DB: "shop", Coll: "orders"}, event.Namespace)
	suite.Assert().Equal(
		primitive.Timestamp{T: 100, I: 2},
		event.ClusterTime.MustGet(),
	)
	suite.Assert().Equal("8263A1", event.Position.Lookup("_data").StringValue())

	insert, ok := event.Op.(Insert)
	suite.Require().True(ok, "got %T", event.Op)
	suite.Assert().Equal(int32(1), insert.Key.Int32())
	suite.Assert().Equal(bson.Raw(suite.rawDoc(full)), insert.FullDocument)
	suite.Assert().Equal("insert", event.Op.OperationKind())
}

func (suite *UnitTestSuite) TestParseUpdateWithoutPostImage() {
	raw := suite.changeEvent(
		"update",
		bson.E{"documentKey", bson.D{{"_id", "k"}}},
		bson.E{"fullDocument", nil},
	)

	event, err := ParseChangeEvent(raw)
	suite.Require().NoError(err)

	update, ok := event.Op.(Update)
	suite.Require().True(ok, "got %T", event.Op)
	suite.Assert().True(update.FullDocument.IsAbsent())
}

func (suite *UnitTestSuite) TestParseRenameAndDDL() {
	event, err := ParseChangeEvent(suite.changeEvent(
		"rename",
		bson.E{"to", bson.D{{"db", "shop"}, {"coll", "orders_v2"}}},
	))
	suite.Require().NoError(err)
	suite.Assert().Equal(Rename{To: Namespace{DB: "shop", Coll: "orders_v2"}}, event.Op)

	for opType, expected := range map[string]Operation{
		"drop":         Drop{},
		"dropDatabase": DropDatabase{},
		"invalidate":   Invalidate{},
		"resharded":    Unknown{Kind: "resharded"},
		"create":       Unknown{Kind: "create"},
	} {
		event, err := ParseChangeEvent(suite.changeEvent(opType))
		suite.Require().NoError(err, opType)
		suite.Assert().Equal(expected, event.Op, opType)
		suite.Assert().Equal(opType, event.Op.OperationKind())
	}
}

func (suite *UnitTestSuite) TestParseMalformed() {
	_, err := ParseChangeEvent(suite.changeEvent("insert"))
	suite.Assert().ErrorContains(err, "documentKey")

	_, err = ParseChangeEvent(suite.changeEvent(
		"replace",
		bson.E{"documentKey", bson.D{{"_id", 1}}},
	))
	suite.Assert().ErrorContains(err, "fullDocument")

	_, err = ParseChangeEvent(suite.changeEvent("rename"))
	suite.Assert().ErrorContains(err, "target")

	_, err = ParseChangeEvent(suite.rawDoc(bson.D{{"operationType", "drop"}}))
	suite.Assert().ErrorContains(err, "resume token")
}
