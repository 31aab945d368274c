package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/checkpoint/badgerstore"
	cpmongostore "github.com/10gen/mongo-external-sync/internal/checkpoint/mongostore"
	"github.com/10gen/mongo-external-sync/internal/checkpoint/sqlitestore"
	"github.com/10gen/mongo-external-sync/internal/docstore/mongostore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/replicator"
	"github.com/10gen/mongo-external-sync/internal/reportutils"
	"github.com/10gen/mongo-external-sync/internal/webserver"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/urfave/cli"
	"github.com/urfave/cli/altsrc"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

const (
	runID                 = "runID"
	checkpointEvery       = "checkpointEvery"
	checkpointInterval    = "checkpointInterval"
	bufferSize            = "bufferSize"
	resumeFrom            = "resumeFrom"
	checkpointDir         = "checkpointDir"
	checkpointSQLite      = "checkpointSQLite"
	metaURI               = "metaURI"
	metaDBName            = "metaDBName"
	insertMode            = "insertMode"
	missingDocumentPolicy = "missingDocumentPolicy"
	serverPort            = "serverPort"
)

var replicateFlags = []cli.Flag{
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  runID,
		Value: "default",
		Usage: "`name` under which this replication’s checkpoints are kept",
	}),
	altsrc.NewIntFlag(cli.IntFlag{
		Name:  checkpointEvery,
		Value: replicator.DefaultCheckpointEvery,
		Usage: "persist the position after this many applied `events`",
	}),
	altsrc.NewDurationFlag(cli.DurationFlag{
		Name:  checkpointInterval,
		Value: replicator.DefaultCheckpointInterval,
		Usage: "also persist the position this often while events arrive slowly",
	}),
	altsrc.NewIntFlag(cli.IntFlag{
		Name:  bufferSize,
		Value: replicator.DefaultBufferSize,
		Usage: "how many `events` may be read ahead of the one being applied",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  resumeFrom,
		Value: string(replicator.ResumeFromCheckpoint),
		Usage: "'checkpoint' to continue after the last checkpoint, or 'none' to start from now",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  checkpointDir,
		Value: ".mongo-external-sync",
		Usage: "`directory` of the embedded checkpoint store",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  checkpointSQLite,
		Usage: "keep checkpoints in this SQLite `file` instead",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  metaURI,
		Usage: "keep checkpoints on the MongoDB cluster at this `URI` instead",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  metaDBName,
		Value: cpmongostore.DefaultDatabase,
		Usage: "`name` of the database that holds checkpoints when --metaURI is set",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  insertMode,
		Value: string(replicator.InsertModeUpsert),
		Usage: "'upsert' or 'insertOnly': how inserts are written to the destination",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  missingDocumentPolicy,
		Value: string(replicator.MissingDocumentUpsert),
		Usage: "'upsert' or 'report': what to do when a replace finds no destination document",
	}),
	altsrc.NewIntFlag(cli.IntFlag{
		Name:  serverPort,
		Usage: "`port` for the status server (0 disables it)",
	}),
}

func replicateCommand() cli.Command {
	return cli.Command{
		Name:  "replicate",
		Usage: "apply the source cluster’s change stream to the destination until stopped",
		Flags: replicateFlags,
		Before: func(cCtx *cli.Context) error {
			return loadConfigFile(cCtx, replicateFlags)
		},
		Action: runReplicate,
	}
}

func runReplicate(cCtx *cli.Context) error {
	ctx, stop := signalContext()
	defer stop(nil)

	l, err := newLogger(cCtx)
	if err != nil {
		return err
	}

	loopCfg, applierCfg, err := replicationConfig(cCtx)
	if err != nil {
		return err
	}

	src, dst, disconnect, err := connectStores(ctx, cCtx, l)
	if err != nil {
		return err
	}
	defer disconnect()

	cpStore, err := openCheckpointStore(ctx, cCtx, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := cpStore.Close(); err != nil {
			l.Warn().Err(err).Msg("Failed to close checkpoint store.")
		}
	}()

	replLogger := logger.NewSubLogger(ctx, l, "component", "replicator")

	loop := replicator.NewLoop(
		src,
		replicator.NewApplier(dst, replLogger, applierCfg),
		replicator.NewTracker(cpStore, replLogger, cCtx.String(runID), cCtx.Int(checkpointEvery)),
		replLogger,
		loopCfg,
	)

	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	eg := errgroup.Group{}

	if port := cCtx.Int(serverPort); port != 0 {
		server := webserver.NewServer(port, loop, stop, logger.NewSubLogger(ctx, l, "component", "webserver"))
		eg.Go(func() error {
			return server.Run(serverCtx)
		})
	}

	start := time.Now()
	result, runErr := loop.Run(ctx)

	stopServer()
	if err := eg.Wait(); err != nil {
		l.Warn().Err(err).Msg("Status server failed.")
	}

	fmt.Fprintln(os.Stdout, "Last synced id:", renderPosition(result.LastPosition))

	l.Info().
		Int64("eventsApplied", result.EventsApplied).
		Str("eventsPerSecond", reportutils.FmtRate(result.EventsApplied, time.Since(start))).
		Str("elapsed", reportutils.DurationToHMS(time.Since(start))).
		Any("stats", result.Stats).
		Msg("Replication stopped.")

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			l.Info().
				AnErr("cause", context.Cause(ctx)).
				Msg("Replication was stopped on request.")
			return nil
		}

		return runErr
	}

	if result.Invalidated {
		l.Warn().
			Msgf("The change stream was invalidated. To restart replication, rerun with --%s=%s.", resumeFrom, replicator.ResumeFromNow)
	}

	return nil
}

func replicationConfig(cCtx *cli.Context) (replicator.LoopConfig, replicator.ApplierConfig, error) {
	loopCfg := replicator.LoopConfig{
		BufferSize:         cCtx.Int(bufferSize),
		CheckpointInterval: cCtx.Duration(checkpointInterval),
		ResumeFrom:         replicator.ResumeFrom(cCtx.String(resumeFrom)),
	}

	applierCfg := replicator.ApplierConfig{
		InsertMode:            replicator.InsertMode(cCtx.String(insertMode)),
		MissingDocumentPolicy: replicator.MissingDocumentPolicy(cCtx.String(missingDocumentPolicy)),
	}

	switch loopCfg.ResumeFrom {
	case replicator.ResumeFromCheckpoint, replicator.ResumeFromNow:
	default:
		return loopCfg, applierCfg, errors.Errorf("--%s must be %#q or %#q", resumeFrom, replicator.ResumeFromCheckpoint, replicator.ResumeFromNow)
	}

	switch applierCfg.InsertMode {
	case replicator.InsertModeUpsert, replicator.InsertModeInsertOnly:
	default:
		return loopCfg, applierCfg, errors.Errorf("--%s must be %#q or %#q", insertMode, replicator.InsertModeUpsert, replicator.InsertModeInsertOnly)
	}

	switch applierCfg.MissingDocumentPolicy {
	case replicator.MissingDocumentUpsert, replicator.MissingDocumentReport:
	default:
		return loopCfg, applierCfg, errors.Errorf("--%s must be %#q or %#q", missingDocumentPolicy, replicator.MissingDocumentUpsert, replicator.MissingDocumentReport)
	}

	return loopCfg, applierCfg, nil
}

// openCheckpointStore opens the MongoDB, SQLite, or embedded checkpoint
// store, in that order of preference.
func openCheckpointStore(ctx context.Context, cCtx *cli.Context, l *logger.Logger) (checkpoint.Store, error) {
	if cCtx.String(metaURI) != "" && cCtx.String(checkpointSQLite) != "" {
		return nil, errors.Errorf("--%s and --%s are mutually exclusive", metaURI, checkpointSQLite)
	}

	switch {
	case cCtx.String(metaURI) != "":
		readPref, err := mongostore.ParseReadPreference("primary")
		if err != nil {
			return nil, err
		}

		client, err := mongostore.NewClient(ctx, logger.NewSubLogger(ctx, l, "cluster", "metadata"), cCtx.String(metaURI), readPref)
		if err != nil {
			return nil, errors.Wrap(err, "connecting to checkpoint cluster")
		}

		return cpmongostore.New(client, cCtx.String(metaDBName), true), nil
	case cCtx.String(checkpointSQLite) != "":
		return sqlitestore.Open(ctx, cCtx.String(checkpointSQLite))
	default:
		return badgerstore.Open(l, cCtx.String(checkpointDir))
	}
}

func renderPosition(position mo.Option[bson.Raw]) string {
	token, has := position.Get()
	if !has {
		return "none"
	}

	extJSON, err := bson.MarshalExtJSON(token, false, false)
	if err != nil {
		return token.String()
	}

	return string(extJSON)
}
