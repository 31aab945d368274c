// Package testutil holds helpers shared by the test suites.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
)

// MustMarshal wraps bson.Marshal with a panic on failure.
func MustMarshal(doc any) bson.Raw {
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic("bson.Marshal (error in test): " + err.Error())
	}

	return raw
}

// Key returns v as a document key, panicking on failure.
func Key(v any) model.DocumentKey {
	t, val, err := bson.MarshalValue(v)
	if err != nil {
		panic("bson.MarshalValue (error in test): " + err.Error())
	}

	return model.DocumentKey{Type: t, Value: val}
}

// Logger returns a debug logger if SYNC_TEST_DEBUG is set, or else a
// default-level one.
func Logger() *logger.Logger {
	if os.Getenv("SYNC_TEST_DEBUG") != "" {
		return logger.NewDebugLogger()
	}

	return logger.NewDefaultLogger()
}

// ClusterURIs returns the source and destination connection strings from
// MONGODB_SRC_URI and MONGODB_DST_URI. It skips the test if either is
// unset or if the tests run with -short.
func ClusterURIs(t *testing.T) (string, string) {
	if testing.Short() {
		t.Skip("skipping cluster tests in short mode")
	}

	src, dst := os.Getenv("MONGODB_SRC_URI"), os.Getenv("MONGODB_DST_URI")
	if src == "" || dst == "" {
		t.Skip("MONGODB_SRC_URI and MONGODB_DST_URI must both be set for cluster tests")
	}

	return src, dst
}

// KillChangeStreams kills every change stream cursor that the named
// application holds open.
func KillChangeStreams(
	ctx context.Context,
	t *testing.T,
	client *mongo.Client,
	appName string,
) error {
	cursor, err := client.Database(
		"admin",
		options.Database().SetReadConcern(readconcern.Local()),
	).Aggregate(
		ctx,
		mongo.Pipeline{
			{{"$currentOp", bson.D{{"idleCursors", true}}}},
			{{"$match", bson.D{
				{"clientMetadata.application.name", appName},
				{"cursor.originatingCommand.pipeline.0.$changeStream", bson.D{{"$exists", true}}},
			}}},
		},
	)
	if err != nil {
		return errors.Wrapf(err, "failed to list %#q's change streams", appName)
	}

	var ops []struct {
		Opid any
	}
	if err := cursor.All(ctx, &ops); err != nil {
		return errors.Wrapf(err, "failed to decode %#q's change streams", appName)
	}

	for _, op := range ops {
		t.Logf("Killing change stream op %+v", op.Opid)

		err := client.Database("admin").RunCommand(
			ctx,
			bson.D{{"killOp", 1}, {"op", op.Opid}},
		).Err()
		if err != nil {
			return errors.Wrapf(err, "failed to kill change stream with opId %v", op.Opid)
		}
	}

	return nil
}
