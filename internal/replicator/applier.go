package replicator

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// InsertMode says how insert events are written.
type InsertMode string

const (
	// InsertModeUpsert writes inserts as replace-with-upsert, so replaying
	// an insert converges instead of colliding.
	InsertModeUpsert InsertMode = "upsert"

	// InsertModeInsertOnly writes inserts as inserts. A duplicate key means
	// the event was already applied.
	InsertModeInsertOnly InsertMode = "insertOnly"
)

// MissingDocumentPolicy says what to do when an update or replace finds
// no document on the destination.
type MissingDocumentPolicy string

const (
	// MissingDocumentUpsert writes the event’s full document anyway.
	MissingDocumentUpsert MissingDocumentPolicy = "upsert"

	// MissingDocumentReport leaves the destination as is and reports the
	// event as a gap.
	MissingDocumentReport MissingDocumentPolicy = "report"
)

type ApplierConfig struct {
	InsertMode            InsertMode
	MissingDocumentPolicy MissingDocumentPolicy
}

// Applier writes change events to the destination. It keeps no state
// between events and never counts anything; callers aggregate outcomes.
type Applier struct {
	dst    docstore.Store
	logger *logger.Logger
	cfg    ApplierConfig
}

func NewApplier(dst docstore.Store, l *logger.Logger, cfg ApplierConfig) *Applier {
	if cfg.InsertMode == "" {
		cfg.InsertMode = InsertModeUpsert
	}

	if cfg.MissingDocumentPolicy == "" {
		cfg.MissingDocumentPolicy = MissingDocumentUpsert
	}

	return &Applier{dst: dst, logger: l, cfg: cfg}
}

// Apply makes the destination reflect one event. Applying the same event
// twice leaves the destination as applying it once does. An error means
// the destination could not be brought into the event’s state.
func (a *Applier) Apply(ctx context.Context, event model.ChangeEvent) (model.ApplyOutcome, error) {
	ns := event.Namespace

	switch op := event.Op.(type) {
	case model.Insert:
		return a.applyInsert(ctx, ns, op)
	case model.Update:
		doc, has := op.FullDocument.Get()
		if !has {
			// The document was gone by lookup time, so a later delete
			// event will converge the destination.
			a.logger.Debug().
				Str("namespace", ns.String()).
				Stringer("documentKey", op.Key).
				Msg("Update event lacks a post-image. Skipping.")

			return model.Skipped(model.ReasonNoPostImage), nil
		}

		return a.applyReplace(ctx, ns, op.Key, doc)
	case model.Replace:
		return a.applyReplace(ctx, ns, op.Key, op.FullDocument)
	case model.Delete:
		deleted, err := a.dst.DeleteOne(ctx, ns, op.Key)
		if err != nil {
			return model.ApplyOutcome{}, err
		}

		if !deleted {
			return model.Skipped(model.ReasonAlreadyApplied), nil
		}

		return model.Applied(), nil
	case model.Rename:
		return a.applyRename(ctx, ns, op.To)
	case model.Drop:
		err := a.dst.DropCollection(ctx, ns)
		if errors.Is(err, docstore.ErrNamespaceNotFound) {
			return model.Skipped(model.ReasonAlreadyApplied), nil
		}
		if err != nil {
			return model.ApplyOutcome{}, err
		}

		return model.Applied(), nil
	case model.DropDatabase:
		if err := a.dst.DropDatabase(ctx, ns.DB); err != nil {
			return model.ApplyOutcome{}, err
		}

		return model.Applied(), nil
	case model.Invalidate:
		a.logger.Warn().
			Str("namespace", ns.String()).
			Msg("Change feed was invalidated. Replication cannot continue from this feed.")

		return model.Terminal(model.ReasonFeedInvalidated), nil
	case model.Unknown:
		a.logger.Info().
			Str("namespace", ns.String()).
			Msgf("Unhandled operation %s", op.Kind)

		return model.Skipped(model.ReasonUnhandledKind), nil
	}

	util.Invariant(a.logger, false, "unexpected operation type %T", event.Op)
	return model.ApplyOutcome{}, errors.Errorf("unexpected operation type %T", event.Op)
}

func (a *Applier) applyInsert(
	ctx context.Context,
	ns model.Namespace,
	op model.Insert,
) (model.ApplyOutcome, error) {
	if a.cfg.InsertMode == InsertModeInsertOnly {
		err := a.dst.InsertOne(ctx, ns, op.FullDocument)
		if errors.Is(err, docstore.ErrDuplicateKey) {
			return model.Skipped(model.ReasonAlreadyApplied), nil
		}
		if err != nil {
			return model.ApplyOutcome{}, err
		}

		return model.Applied(), nil
	}

	if _, err := a.dst.ReplaceOne(ctx, ns, op.Key, op.FullDocument, true); err != nil {
		return model.ApplyOutcome{}, err
	}

	return model.Applied(), nil
}

func (a *Applier) applyReplace(
	ctx context.Context,
	ns model.Namespace,
	key model.DocumentKey,
	doc bson.Raw,
) (model.ApplyOutcome, error) {
	upsert := a.cfg.MissingDocumentPolicy == MissingDocumentUpsert

	matched, err := a.dst.ReplaceOne(ctx, ns, key, doc, upsert)
	if err != nil {
		return model.ApplyOutcome{}, err
	}

	if matched {
		return model.Applied(), nil
	}

	if upsert {
		a.logger.Debug().
			Str("namespace", ns.String()).
			Stringer("documentKey", key).
			Msg("Destination lacked the document. Inserted it from the event.")

		return model.Applied(), nil
	}

	a.logger.Warn().
		Str("namespace", ns.String()).
		Stringer("documentKey", key).
		Msg("Destination lacks a document that the source changed. The destination may be missing earlier events.")

	return model.Skipped(model.ReasonGapDetected), nil
}

// applyRename treats a rename whose source is gone and whose target exists
// as a replay of an already-applied rename.
func (a *Applier) applyRename(
	ctx context.Context,
	from, to model.Namespace,
) (model.ApplyOutcome, error) {
	err := a.dst.RenameCollection(ctx, from, to)
	if err == nil {
		return model.Applied(), nil
	}

	if !errors.Is(err, docstore.ErrNamespaceNotFound) {
		return model.ApplyOutcome{}, err
	}

	targetExists, existsErr := a.dst.CollectionExists(ctx, to)
	if existsErr != nil {
		return model.ApplyOutcome{}, existsErr
	}

	if targetExists {
		return model.Skipped(model.ReasonAlreadyApplied), nil
	}

	return model.ApplyOutcome{}, err
}
