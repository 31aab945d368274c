package model

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
)

type UnitTestSuite struct {
	suite.Suite
}

func TestUnitTestSuite(t *testing.T) {
	suite.Run(t, new(UnitTestSuite))
}

func (suite *UnitTestSuite) rawValue(v any) bson.RawValue {
	t, val, err := bson.MarshalValue(v)
	suite.Require().NoError(err)

	return bson.RawValue{Type: t, Value: val}
}

func (suite *UnitTestSuite) rawDoc(v any) bson.Raw {
	raw, err := bson.Marshal(v)
	suite.Require().NoError(err)

	return raw
}
