package model

import (
	"math"
	"slices"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func (suite *UnitTestSuite) TestCompareKeysTypeOrder() {
	oid := primitive.NewObjectID()

	// Listed in the server’s sort order.
	ordered := []any{
		primitive.MinKey{},
		primitive.Null{},
		math.NaN(),
		int64(-5),
		int32(1),
		1.5,
		"",
		"a",
		"b",
		bson.D{{"a", 1}},
		bson.A{1},
		primitive.Binary{Data: []byte{1}},
		oid,
		false,
		true,
		primitive.NewDateTimeFromTime(time.Unix(0, 0)),
		primitive.Timestamp{T: 1},
		primitive.MaxKey{},
	}

	keys := lo.Map(ordered, func(v any, _ int) DocumentKey { return suite.rawValue(v) })

	for i := range keys {
		for j := range keys {
			suite.Assert().Equal(
				sign(i-j),
				sign(CompareKeys(keys[i], keys[j])),
				"%v vs. %v", ordered[i], ordered[j],
			)
		}
	}

	shuffled := slices.Clone(keys)
	slices.Reverse(shuffled)
	slices.SortFunc(shuffled, CompareKeys)
	suite.Assert().Equal(keys, shuffled)
}

func (suite *UnitTestSuite) TestCompareKeysNumeric() {
	dec, err := primitive.ParseDecimal128("7.0")
	suite.Require().NoError(err)

	for _, v := range []any{int64(7), 7.0, dec} {
		suite.Assert().Zero(CompareKeys(suite.rawValue(int32(7)), suite.rawValue(v)), "%T", v)
	}

	// Exact beyond float64’s integer range.
	suite.Assert().Equal(1, CompareKeys(suite.rawValue(int64(1<<53+1)), suite.rawValue(float64(1<<53))))
	suite.Assert().Zero(CompareKeys(suite.rawValue(int64(1<<60)), suite.rawValue(float64(1<<60))))
	suite.Assert().Equal(-1, CompareKeys(suite.rawValue(math.Inf(-1)), suite.rawValue(int64(math.MinInt64))))

	// Embedded documents compare field by field, by value.
	suite.Assert().Zero(CompareKeys(
		suite.rawValue(bson.D{{"a", int32(1)}}),
		suite.rawValue(bson.D{{"a", 1.0}}),
	))
	suite.Assert().Equal(-1, CompareKeys(
		suite.rawValue(bson.D{{"a", 1}}),
		suite.rawValue(bson.D{{"a", 1}, {"b", 1}}),
	))
	suite.Assert().Equal(-1, CompareKeys(
		suite.rawValue(bson.D{{"a", 9}}),
		suite.rawValue(bson.D{{"b", 1}}),
	))
}

func (suite *UnitTestSuite) TestKeyStringLargeIntegers() {
	suite.Assert().Equal(
		KeyString(suite.rawValue(int64(1<<60))),
		KeyString(suite.rawValue(float64(1<<60))),
	)
	suite.Assert().NotEqual(
		KeyString(suite.rawValue(int64(1<<53+1))),
		KeyString(suite.rawValue(float64(1<<53))),
	)

	dec, err := primitive.ParseDecimal128("9007199254740993")
	suite.Require().NoError(err)
	suite.Assert().Equal(
		KeyString(suite.rawValue(int64(1<<53+1))),
		KeyString(suite.rawValue(dec)),
	)
}

func sign(n int) int {
	return max(-1, min(1, n))
}
