package verifier

import (
	"context"
	"slices"
	"time"

	"github.com/10gen/mongo-external-sync/chanutil"
	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/reportutils"
	"github.com/10gen/mongo-external-sync/internal/util"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// DefaultNumWorkers is how many namespaces are reconciled at once.
const DefaultNumWorkers = 4

var internalDBs = []string{"admin", "config", "local"}

type RunConfig struct {
	NumWorkers int
	Method     ReconcileMethod
	Comparator DocComparator

	// ExcludeDBs are skipped in addition to the server’s internal databases.
	ExcludeDBs []string

	// Namespaces, if nonempty, limits the run to these namespaces. A
	// namespace without a collection stands for its whole database.
	Namespaces []model.Namespace

	// SpoolDir is where discrepancies wait until their namespace is done.
	// It defaults to the system’s temporary directory.
	SpoolDir string
}

// namespaceResult tells the orchestrator that a namespace’s events are
// all spooled.
type namespaceResult struct {
	ns model.Namespace
}

// Run verifies that the destination cluster holds the same documents as
// the source. Workers reconcile namespaces in parallel; only the goroutine
// that calls Execute touches the statistics or the event stream.
type Run struct {
	src, dst     docstore.Store
	cfg          RunConfig
	digests      *DigestComparator
	reconciler   *Reconciler
	events       *EventWriter
	spool        *spool
	logger       *logger.Logger
	perNamespace map[model.Namespace]model.Statistics

	// Written by the dispatcher; read only after it has finished.
	collectionsCompared  int
	collectionsDivergent int
}

func NewRun(
	src, dst docstore.Store,
	events *EventWriter,
	l *logger.Logger,
	cfg RunConfig,
) *Run {
	if cfg.NumWorkers < 1 {
		cfg.NumWorkers = DefaultNumWorkers
	}

	return &Run{
		src:          src,
		dst:          dst,
		cfg:          cfg,
		digests:      NewDigestComparator(src, dst),
		reconciler:   NewReconciler(src, dst, cfg.Comparator, cfg.Method, l),
		events:       events,
		logger:       l,
		perNamespace: map[model.Namespace]model.Statistics{},
	}
}

// Execute compares every selected namespace and writes an event for each
// discrepancy, then a recap. It returns the count of each discrepancy kind.
func (r *Run) Execute(ctx context.Context) (model.Statistics, error) {
	start := time.Now()
	stats := model.NewVerificationStatistics()

	var err error
	if r.spool, err = openSpool(r.cfg.SpoolDir, r.logger); err != nil {
		return stats, err
	}

	defer func() {
		if err := r.spool.close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to remove discrepancy spool.")
		}
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	eg, egCtx := errgroup.WithContext(ctx)
	results := make(chan namespaceResult)

	eg.Go(func() error {
		defer close(results)
		return r.dispatch(egCtx, results)
	})

	var writeErr error

	// Keep draining after a write failure so that no worker blocks.
	for res := range results {
		if writeErr != nil {
			continue
		}

		nsStats := model.NewVerificationStatistics()
		count := 0

		err := r.spool.drain(res.ns, func(kind model.DiscrepancyKind, line []byte) error {
			if err := r.events.writeRaw(line); err != nil {
				return errors.Wrapf(err, "writing %s event", kind)
			}

			nsStats.Add(string(kind), 1)
			count++

			return nil
		})
		if err != nil {
			writeErr = err
			cancel(err)
		}

		stats.Merge(nsStats)
		r.perNamespace[res.ns] = nsStats

		r.logger.Info().
			Object("namespace", res.ns).
			Int("discrepancies", count).
			Msg("Namespace reconciled.")
	}

	if err := eg.Wait(); err != nil && writeErr == nil {
		return stats, err
	}

	if writeErr != nil {
		return stats, writeErr
	}

	if err := r.events.WriteRecap(stats); err != nil {
		return stats, err
	}

	r.logger.Info().
		Str("elapsed", reportutils.DurationToHMS(time.Since(start))).
		Int("namespacesReconciled", len(r.perNamespace)).
		Msg("Verification finished.")

	return stats, nil
}

// dispatch finds the divergent collections of each selected database and
// hands them to workers. Cancellation is checked between namespaces.
func (r *Run) dispatch(ctx context.Context, results chan<- namespaceResult) error {
	dbs, err := r.selectedDatabases(ctx)
	if err != nil {
		return err
	}

	workers, workersCtx := errgroup.WithContext(ctx)
	workers.SetLimit(r.cfg.NumWorkers)

	for _, db := range dbs {
		if workersCtx.Err() != nil {
			break
		}

		divergent, compared, err := r.digests.Compare(workersCtx, db)
		if err != nil {
			workers.Go(func() error { return err })
			break
		}

		inDB := func(coll string, _ int) bool {
			return r.selected(model.Namespace{DB: db, Coll: coll})
		}

		colls := lo.Filter(divergent.ToSlice(), inDB)
		slices.Sort(colls)

		r.collectionsDivergent += len(colls)
		r.collectionsCompared += len(lo.Filter(compared.ToSlice(), inDB))

		r.logger.Debug().
			Str("database", db).
			Strs("divergentCollections", colls).
			Msg("Compared collection digests.")

		for _, coll := range colls {
			if workersCtx.Err() != nil {
				break
			}

			ns := model.Namespace{DB: db, Coll: coll}

			workers.Go(func() error {
				if err := r.reconcileNamespace(workersCtx, ns); err != nil {
					return err
				}

				return chanutil.WriteWithDoneCheck(workersCtx, results, namespaceResult{ns: ns})
			})
		}
	}

	if err := workers.Wait(); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return util.WrapCtxErrWithCause(ctx)
	}

	return nil
}

// reconcileNamespace spools all of a namespace’s discrepancies so that
// they reach the event stream together. A namespace that fails leaves
// nothing behind for the orchestrator.
func (r *Run) reconcileNamespace(ctx context.Context, ns model.Namespace) error {
	w := r.spool.writer(ns)

	for d, err := range r.reconciler.Reconcile(ctx, ns) {
		if err != nil {
			w.cancel()
			return err
		}

		line, err := encodeDiscrepancy(d)
		if err == nil {
			err = w.add(d.Kind, line)
		}

		if err != nil {
			w.cancel()
			return errors.Wrapf(err, "spooling discrepancies of %#q", ns.String())
		}
	}

	return w.flush()
}

func (r *Run) selectedDatabases(ctx context.Context) ([]string, error) {
	names, err := r.src.ListDatabaseNames(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing source databases")
	}

	excluded := mapset.NewSet(internalDBs...)
	excluded.Append(r.cfg.ExcludeDBs...)

	dbs := lo.Filter(names, func(db string, _ int) bool {
		return !excluded.Contains(db) && r.selected(model.Namespace{DB: db})
	})
	slices.Sort(dbs)

	return dbs, nil
}

// selected reports whether ns passes the namespace filter. A namespace
// without a collection passes if any filter entry is in its database.
func (r *Run) selected(ns model.Namespace) bool {
	if len(r.cfg.Namespaces) == 0 {
		return true
	}

	return lo.ContainsBy(r.cfg.Namespaces, func(want model.Namespace) bool {
		if want.DB != ns.DB {
			return false
		}

		return want.Coll == "" || ns.Coll == "" || want.Coll == ns.Coll
	})
}
