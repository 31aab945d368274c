package main

import (
	"io"
	"os"

	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/verifier"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli"
	"github.com/urfave/cli/altsrc"
)

const (
	numWorkers         = "numWorkers"
	reconcileMethod    = "reconcileMethod"
	strictNumericTypes = "strictNumericTypes"
	eventsFile         = "eventsFile"
	namespaceFlag      = "namespace"
	excludeDB          = "excludeDB"
	spoolDir           = "spoolDir"
)

var verifyFlags = []cli.Flag{
	altsrc.NewIntFlag(cli.IntFlag{
		Name:  numWorkers,
		Value: verifier.DefaultNumWorkers,
		Usage: "`number` of collections to reconcile at once",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  reconcileMethod,
		Value: string(verifier.ReconcileMerge),
		Usage: "'merge' to stream both collections in _id order, or 'lookup' to look up each document by _id",
	}),
	altsrc.NewBoolFlag(cli.BoolFlag{
		Name:  strictNumericTypes,
		Usage: "treat equal numbers of different BSON types (e.g., int32 and double) as different",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  eventsFile,
		Usage: "write discrepancy events to this `file` instead of stdout",
	}),
	altsrc.NewStringSliceFlag(cli.StringSliceFlag{
		Name:  namespaceFlag,
		Usage: "verify only this `namespace` (db or db.coll); repeatable",
	}),
	altsrc.NewStringSliceFlag(cli.StringSliceFlag{
		Name:  excludeDB,
		Usage: "skip this `database` in addition to admin, config, and local; repeatable",
	}),
	altsrc.NewStringFlag(cli.StringFlag{
		Name:  spoolDir,
		Usage: "`directory` under which discrepancies wait until their collection is done (default: the system’s temporary directory)",
	}),
}

func verifyCommand() cli.Command {
	return cli.Command{
		Name:  "verify",
		Usage: "report every document that differs between the clusters",
		Flags: verifyFlags,
		Before: func(cCtx *cli.Context) error {
			return loadConfigFile(cCtx, verifyFlags)
		},
		Action: runVerify,
	}
}

func runVerify(cCtx *cli.Context) error {
	ctx, stop := signalContext()
	defer stop(nil)

	l, err := newLogger(cCtx)
	if err != nil {
		return err
	}

	method := verifier.ReconcileMethod(cCtx.String(reconcileMethod))
	if method != verifier.ReconcileMerge && method != verifier.ReconcileLookup {
		return errors.Errorf("--%s must be %#q or %#q", reconcileMethod, verifier.ReconcileMerge, verifier.ReconcileLookup)
	}

	var out io.Writer = os.Stdout
	if path := cCtx.String(eventsFile); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrapf(err, "creating events file %#q", path)
		}
		defer f.Close()

		out = f
	}

	src, dst, disconnect, err := connectStores(ctx, cCtx, l)
	if err != nil {
		return err
	}
	defer disconnect()

	run := verifier.NewRun(
		src,
		dst,
		verifier.NewEventWriter(out),
		logger.NewSubLogger(ctx, l, "component", "verifier"),
		verifier.RunConfig{
			NumWorkers: cCtx.Int(numWorkers),
			Method:     method,
			Comparator: verifier.DocComparator{StrictNumericTypes: cCtx.Bool(strictNumericTypes)},
			ExcludeDBs: expandCommaSeparators(cCtx.StringSlice(excludeDB)),
			Namespaces: lo.Map(
				expandCommaSeparators(cCtx.StringSlice(namespaceFlag)),
				func(ns string, _ int) model.Namespace { return model.SplitNamespace(ns) },
			),
			SpoolDir: cCtx.String(spoolDir),
		},
	)

	stats, err := run.Execute(ctx)
	if err != nil {
		return err
	}

	l.Info().Msg("Verification summary:\n" + run.Summary())

	total := lo.Sum(lo.Map(
		model.DiscrepancyKinds,
		func(k model.DiscrepancyKind, _ int) int64 { return stats[string(k)] },
	))
	if total > 0 {
		l.Warn().Int64("discrepancies", total).Msg("The clusters differ.")
	} else {
		l.Info().Msg("The clusters match.")
	}

	return nil
}
