package util

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

func (suite *UnitTestSuite) TestIsTransientError() {
	type testCase struct {
		err    error
		expect bool
	}
	testCases := []testCase{
		{errors.New("Not transient"), false},
		{context.Canceled, false},
		{mongo.WriteConcernError{}, false},
		{mongo.CommandError{Code: 6}, true},
		{mongo.CommandError{Code: 42}, false},
		{mongo.CommandError{Code: 175}, true},
		{mongo.CommandError{Code: 0}, false},
		{mongo.CommandError{Code: 0, Message: "not master"}, true},
		{mongo.CommandError{Code: 1234567, Labels: []string{"NetworkError"}}, true},
		{mongo.CommandError{Code: 1234567, Labels: []string{"SomeNotTransientThing"}}, false},
		{mongo.CommandError{Code: 1234567, Labels: []string{"RetryableWriteError"}}, true},
		{errors.Wrap(mongo.CommandError{Code: 10107}, "wrapped"), true},
	}
	for _, c := range testCases {
		suite.Assert().Equal(c.expect, IsTransientError(c.err), "%v", c.err)
	}
}

func (suite *UnitTestSuite) TestErrorClassification() {
	nsNotFound := errors.Wrap(
		mongo.CommandError{Code: NamespaceNotFound, Message: "ns not found"},
		"renaming",
	)
	suite.Assert().True(IsNamespaceNotFoundError(nsNotFound))
	suite.Assert().False(IsNamespaceExistsError(nsNotFound))

	dupKey := mongo.WriteException{
		WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}},
	}
	suite.Assert().True(IsDuplicateKeyError(dupKey))
	suite.Assert().Equal(11000, GetErrorCode(dupKey))

	suite.Assert().True(IsNoDocumentsError(errors.Wrap(mongo.ErrNoDocuments, "finding")))
	suite.Assert().Zero(GetErrorCode(errors.New("plain")))
}
