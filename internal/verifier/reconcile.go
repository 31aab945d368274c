package verifier

import (
	"context"
	"iter"

	"github.com/10gen/mongo-external-sync/chanutil"
	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

// ReconcileMethod selects how a Reconciler pairs up documents.
type ReconcileMethod string

const (
	// ReconcileMerge scans both collections in _id order at once and joins
	// them by key.
	ReconcileMerge ReconcileMethod = "merge"

	// ReconcileLookup scans each collection and looks up every document’s
	// counterpart by key on the other cluster.
	ReconcileLookup ReconcileMethod = "lookup"
)

// scanBufferSize is how many documents each scan may read ahead.
const scanBufferSize = 1000

var errStopped = errors.New("consumer stopped iteration")

// Reconciler finds every document-level difference in one namespace.
type Reconciler struct {
	src, dst   docstore.Store
	comparator DocComparator
	method     ReconcileMethod
	logger     *logger.Logger
}

func NewReconciler(
	src, dst docstore.Store,
	comparator DocComparator,
	method ReconcileMethod,
	l *logger.Logger,
) *Reconciler {
	if method == "" {
		method = ReconcileMerge
	}

	return &Reconciler{
		src:        src,
		dst:        dst,
		comparator: comparator,
		method:     method,
		logger:     l,
	}
}

// Reconcile yields each Discrepancy in ns. A failure is yielded once, with
// a zero Discrepancy, as the final element. The sequence is single-use.
func (r *Reconciler) Reconcile(ctx context.Context, ns model.Namespace) iter.Seq2[model.Discrepancy, error] {
	return func(yield func(model.Discrepancy, error) bool) {
		emit := func(d model.Discrepancy) error {
			if !yield(d, nil) {
				return errStopped
			}
			return nil
		}

		var err error

		switch r.method {
		case ReconcileLookup:
			err = r.lookup(ctx, ns, emit)
		default:
			err = r.merge(ctx, ns, emit)
		}

		if err != nil && !errors.Is(err, errStopped) {
			yield(model.Discrepancy{}, errors.Wrapf(err, "reconciling %#q", ns.String()))
		}
	}
}

// merge joins the two _id-ordered scans. The side whose head has the
// smaller key advances; a key that one side passes without a match exists
// on the other side only. Memory stays bounded by the scan buffers.
func (r *Reconciler) merge(
	ctx context.Context,
	ns model.Namespace,
	emit func(model.Discrepancy) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	src := newScanHead(scanToChannel(egCtx, eg, r.src, ns, "source"), "source")
	dst := newScanHead(scanToChannel(egCtx, eg, r.dst, ns, "destination"), "destination")

	// stop cancels the scans and reports the first real failure.
	stop := func(err error) error {
		cancel()

		if scanErr := eg.Wait(); scanErr != nil && !errors.Is(err, errStopped) {
			return scanErr
		}

		return err
	}

	for {
		for _, head := range []*scanHead{src, dst} {
			if err := head.fill(egCtx); err != nil {
				return stop(errors.Wrapf(err, "reading %#q", ns.String()))
			}
		}

		var err error

		switch {
		case src.done && dst.done:
			return eg.Wait()
		case dst.done:
			err = emit(model.NewMissing(ns, src.take()))
		case src.done:
			err = emit(model.NewExtraneous(ns, dst.take()))
		default:
			switch model.CompareKeys(src.key, dst.key) {
			case -1:
				err = emit(model.NewMissing(ns, src.take()))
			case 1:
				err = emit(model.NewExtraneous(ns, dst.take()))
			default:
				err = r.compare(ns, src.take(), dst.take(), emit)
			}
		}

		if err != nil {
			return stop(err)
		}
	}
}

// scanHead holds the next unconsumed document of one side of a merge.
type scanHead struct {
	ch   <-chan bson.Raw
	side string

	doc     bson.Raw
	key     model.DocumentKey
	present bool
	done    bool

	lastKey mo.Option[model.DocumentKey]
}

func newScanHead(ch <-chan bson.Raw, side string) *scanHead {
	return &scanHead{ch: ch, side: side}
}

// fill reads the next document unless one is already waiting or the scan
// has ended. Keys must arrive in ascending order.
func (h *scanHead) fill(ctx context.Context) error {
	if h.present || h.done {
		return nil
	}

	doc, err := chanutil.ReadWithDoneCheck(ctx, h.ch)
	if err != nil {
		return err
	}

	if doc.IsAbsent() {
		h.done = true
		return nil
	}

	key, err := model.KeyOf(doc.MustGet())
	if err != nil {
		return errors.Wrapf(err, "%s document lacks _id", h.side)
	}

	if last, ok := h.lastKey.Get(); ok && model.CompareKeys(last, key) >= 0 {
		return errors.Errorf(
			"%s scan returned _id %s after %s; the collection’s _id order does not match the simple collation (try the %#q method)",
			h.side,
			key,
			last,
			ReconcileLookup,
		)
	}

	h.doc, h.key, h.present = doc.MustGet(), key, true
	h.lastKey = mo.Some(key)

	return nil
}

func (h *scanHead) take() bson.Raw {
	h.present = false
	return h.doc
}

// lookup runs a forward pass over the source, which finds missing and
// different documents, and a reverse pass over the destination, which
// finds extraneous ones. The passes run concurrently.
func (r *Reconciler) lookup(
	ctx context.Context,
	ns model.Namespace,
	emit func(model.Discrepancy) error,
) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)
	found := make(chan model.Discrepancy)

	srcChan := scanToChannel(egCtx, eg, r.src, ns, "source")
	dstChan := scanToChannel(egCtx, eg, r.dst, ns, "destination")

	passes, passesCtx := errgroup.WithContext(egCtx)

	passes.Go(func() error {
		for doc := range srcChan {
			key, err := model.KeyOf(doc)
			if err != nil {
				return errors.Wrapf(err, "source document in %#q lacks _id", ns.String())
			}

			counterpart, err := r.dst.FindOne(passesCtx, ns, key)
			if err != nil {
				return err
			}

			dstDoc, exists := counterpart.Get()
			if !exists {
				if err := chanutil.WriteWithDoneCheck(passesCtx, found, model.NewMissing(ns, doc)); err != nil {
					return err
				}
				continue
			}

			err = r.compare(ns, doc, dstDoc, func(d model.Discrepancy) error {
				return chanutil.WriteWithDoneCheck(passesCtx, found, d)
			})
			if err != nil {
				return err
			}
		}

		return nil
	})

	passes.Go(func() error {
		for doc := range dstChan {
			key, err := model.KeyOf(doc)
			if err != nil {
				return errors.Wrapf(err, "destination document in %#q lacks _id", ns.String())
			}

			counterpart, err := r.src.FindOne(passesCtx, ns, key)
			if err != nil {
				return err
			}

			if counterpart.IsAbsent() {
				if err := chanutil.WriteWithDoneCheck(passesCtx, found, model.NewExtraneous(ns, doc)); err != nil {
					return err
				}
			}
		}

		return nil
	})

	eg.Go(func() error {
		defer close(found)
		return passes.Wait()
	})

	for d := range found {
		if err := emit(d); err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
	}

	return eg.Wait()
}

func (r *Reconciler) compare(
	ns model.Namespace,
	srcDoc, dstDoc bson.Raw,
	emit func(model.Discrepancy) error,
) error {
	details, err := r.comparator.Diff(srcDoc, dstDoc)
	if err != nil {
		return errors.Wrap(err, "comparing documents")
	}

	if details == nil {
		return nil
	}

	r.logger.Debug().
		Str("namespace", ns.String()).
		Stringer("documentKey", srcDoc.Lookup("_id")).
		Strs("fieldsDiffer", details.FieldContentsDiffer).
		Strs("missingOnSource", details.MissingFieldOnSrc).
		Strs("missingOnDestination", details.MissingFieldOnDst).
		Msg("Documents differ.")

	return emit(model.NewDifferent(ns, srcDoc, dstDoc))
}

// scanToChannel scans ns on one cluster into a channel that closes when
// the scan ends.
func scanToChannel(
	ctx context.Context,
	eg *errgroup.Group,
	store docstore.Store,
	ns model.Namespace,
	side string,
) <-chan bson.Raw {
	ch := make(chan bson.Raw, scanBufferSize)

	eg.Go(func() error {
		defer close(ch)

		cursor, err := store.ScanOrdered(ctx, ns)
		if err != nil {
			return errors.Wrapf(err, "scanning %s", side)
		}

		defer func() {
			_ = cursor.Close(context.WithoutCancel(ctx))
		}()

		for cursor.Next(ctx) {
			if err := chanutil.WriteWithDoneCheck(ctx, ch, cursor.Current()); err != nil {
				return err
			}
		}

		return errors.Wrapf(cursor.Err(), "scanning %s", side)
	})

	return ch
}

