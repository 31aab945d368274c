package mongostore

import (
	"context"
	"time"

	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/mmongo"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const appName = "mongo-external-sync"

// NewClient connects to the cluster at uri with majority read and write
// concerns, journaled writes, and retryable writes.
func NewClient(
	ctx context.Context,
	log *logger.Logger,
	uri string,
	readPref *readpref.ReadPref,
) (*mongo.Client, error) {
	opts, direct, err := mmongo.ClientOptionsFromURI(uri)
	if err != nil {
		return nil, err
	}

	if direct {
		log.Debug().
			Strs("hosts", opts.Hosts).
			Msg("Connection string names a single host. Connecting directly.")
	}

	opts.SetAppName(appName).
		SetReadConcern(readconcern.Majority()).
		SetReadPreference(readPref).
		SetRetryWrites(true).
		SetWriteConcern(&writeconcern.WriteConcern{
			W:       "majority",
			Journal: lo.ToPtr(true),
		})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", opts.Hosts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readPref); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "pinging %s", opts.Hosts)
	}

	return client, nil
}

// ParseReadPreference accepts a read preference mode name, e.g.,
// "secondaryPreferred".
func ParseReadPreference(mode string) (*readpref.ReadPref, error) {
	m, err := readpref.ModeFromString(mode)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing read preference %#q", mode)
	}

	rp, err := readpref.New(m)
	if err != nil {
		return nil, errors.Wrapf(err, "building read preference %#q", mode)
	}

	return rp, nil
}
