package model

import (
	"math"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (suite *UnitTestSuite) TestKeyStringNumericEquivalence() {
	dec, err := primitive.ParseDecimal128("7")
	suite.Require().NoError(err)

	keys := []any{int32(7), int64(7), float64(7), dec}
	expected := KeyString(suite.rawValue(keys[0]))

	for _, k := range keys[1:] {
		suite.Assert().Equal(expected, KeyString(suite.rawValue(k)), "%T", k)
	}

	suite.Assert().NotEqual(expected, KeyString(suite.rawValue(int32(8))))
	suite.Assert().NotEqual(expected, KeyString(suite.rawValue("7")))
	suite.Assert().NotEqual(
		KeyString(suite.rawValue(1.5)),
		KeyString(suite.rawValue(int32(1))),
	)
}

func (suite *UnitTestSuite) TestKeyStringNonNumeric() {
	oid := primitive.NewObjectID()

	suite.Assert().Equal(
		KeyString(suite.rawValue(oid)),
		KeyString(suite.rawValue(oid)),
	)
	suite.Assert().NotEqual(
		KeyString(suite.rawValue(oid)),
		KeyString(suite.rawValue(primitive.NewObjectID())),
	)

	nan := KeyString(suite.rawValue(math.NaN()))
	suite.Assert().NotEqual(nan, KeyString(suite.rawValue(int32(0))))

	// Documents compare bytewise.
	suite.Assert().NotEqual(
		KeyString(suite.rawValue(bson.D{{"a", 1}, {"b", 2}})),
		KeyString(suite.rawValue(bson.D{{"b", 2}, {"a", 1}})),
	)
}

func (suite *UnitTestSuite) TestKeyOf() {
	doc := suite.rawDoc(bson.D{{"x", 1}, {"_id", "abc"}})

	key, err := KeyOf(doc)
	suite.Require().NoError(err)
	suite.Assert().Equal("abc", key.StringValue())

	_, err = KeyOf(suite.rawDoc(bson.D{{"x", 1}}))
	suite.Assert().Error(err)
}

func (suite *UnitTestSuite) TestNamespace() {
	ns := SplitNamespace("shop.orders.archive")
	suite.Assert().Equal(Namespace{DB: "shop", Coll: "orders.archive"}, ns)
	suite.Assert().Equal("shop.orders.archive", ns.String())

	suite.Assert().Equal("shop", Namespace{DB: "shop"}.String())
	suite.Assert().Equal(Namespace{DB: "shop"}, SplitNamespace("shop"))
}
