package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/10gen/mongo-external-sync/internal/docstore/mongostore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"github.com/urfave/cli"
	"github.com/urfave/cli/altsrc"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	srcURI         = "srcURI"
	dstURI         = "dstURI"
	logPath        = "logPath"
	debugFlag      = "debug"
	configFileFlag = "configFile"
	readPreference = "readPreference"
	retryLimit     = "retryLimit"
	batchSize      = "batchSize"
)

// globalFlags apply to every command and may also come from the config
// file.
var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:  configFileFlag,
		Usage: "path to an optional YAML config `file`",
	},
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  srcURI,
		Value: "mongodb://localhost:27017/?replicaSet=rs0",
		Usage: "source cluster `URI`",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  dstURI,
		Value: "mongodb://localhost:27020/?replicaSet=dest-rs",
		Usage: "destination cluster `URI`",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  logPath,
		Value: "stderr",
		Usage: "where to log: stdout, stderr, or a directory `path` for rotating log files",
	}),
	altsrc.NewBoolFlag(cli.BoolFlag{
		Name:  debugFlag,
		Usage: "turn on debug logging",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  readPreference,
		Value: "secondaryPreferred",
		Usage: "read preference for both clusters. " +
			"May be 'primary', 'secondary', 'primaryPreferred', 'secondaryPreferred', or 'nearest'",
	}),
	altsrc.NewDurationFlag(cli.DurationFlag{
		Name:  retryLimit,
		Usage: "how long to keep retrying a transient failure (0 uses the default of 10m)",
	}),
	altsrc.NewIntFlag(cli.IntFlag{
		Name:  batchSize,
		Value: mongostore.DefaultBatchSize,
		Usage: "documents per cursor `batch`",
	}),
}

func main() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	app := &cli.App{
		Name:  "mongo-external-sync",
		Usage: "replicate one MongoDB cluster to another, and verify that they match",
		Flags: globalFlags,
		Before: func(cCtx *cli.Context) error {
			if err := loadConfigFile(cCtx, globalFlags); err != nil {
				return err
			}

			if cCtx.Bool(debugFlag) {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}

			return nil
		},
		Commands: []cli.Command{
			replicateCommand(),
			verifyCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Stack().Msg("Fatal error.")
	}
}

// loadConfigFile fills any of flags that the command line left unset from
// the YAML file named by --configFile, if there is one.
func loadConfigFile(cCtx *cli.Context, flags []cli.Flag) error {
	if cCtx.GlobalString(configFileFlag) == "" {
		return nil
	}

	readConf := altsrc.InitInputSourceWithContext(
		flags,
		func(*cli.Context) (altsrc.InputSourceContext, error) {
			return altsrc.NewYamlSourceFromFile(cCtx.GlobalString(configFileFlag))
		},
	)

	return readConf(cCtx)
}

// signalContext returns a context that ends on SIGINT or SIGTERM, or when
// its cancel function is called.
func signalContext() (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}

		signal.Stop(sigs)
	}()

	return ctx, cancel
}

func newLogger(cCtx *cli.Context) (*logger.Logger, error) {
	l, err := logger.NewFromPath(cCtx.GlobalString(logPath))
	if err != nil {
		return nil, err
	}

	return l, nil
}

// connectStores connects to both clusters.
func connectStores(
	ctx context.Context,
	cCtx *cli.Context,
	l *logger.Logger,
) (*mongostore.Store, *mongostore.Store, func(), error) {
	readPref, err := mongostore.ParseReadPreference(cCtx.GlobalString(readPreference))
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := mongostore.Config{
		BatchSize:  int32(cCtx.GlobalInt(batchSize)),
		RetryLimit: cCtx.GlobalDuration(retryLimit),
	}

	var clients []*mongo.Client
	disconnect := func() {
		for _, client := range clients {
			_ = client.Disconnect(context.WithoutCancel(ctx))
		}
	}

	var stores []*mongostore.Store

	for _, side := range []struct{ name, uriFlag string }{
		{"source", srcURI},
		{"destination", dstURI},
	} {
		sideLogger := logger.NewSubLogger(ctx, l, "cluster", side.name)

		client, err := mongostore.NewClient(ctx, sideLogger, cCtx.GlobalString(side.uriFlag), readPref)
		if err != nil {
			disconnect()
			return nil, nil, nil, fmt.Errorf("%s: %w", side.name, err)
		}
		clients = append(clients, client)

		store, err := mongostore.New(ctx, sideLogger, client, cfg)
		if err != nil {
			disconnect()
			return nil, nil, nil, fmt.Errorf("%s: %w", side.name, err)
		}
		stores = append(stores, store)
	}

	return stores[0], stores[1], disconnect, nil
}

// expandCommaSeparators lets repeatable flags also take comma-separated
// lists.
func expandCommaSeparators(in []string) []string {
	ret := []string{}
	for _, item := range in {
		for _, sub := range strings.Split(item, ",") {
			if sub = strings.Trim(sub, " \t"); sub != "" {
				ret = append(ret, sub)
			}
		}
	}
	return ret
}
