package replicator

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// DefaultCheckpointEvery is how many advances pass between checkpoints.
const DefaultCheckpointEvery = 100

// Tracker remembers the position of the last applied event and persists it
// to a checkpoint.Store. A crash between Advance and Checkpoint re-applies
// the events since the last checkpoint, which the Applier tolerates.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	store  checkpoint.Store
	logger *logger.Logger
	runID  string
	every  int

	last            mo.Option[bson.Raw]
	dirty           bool
	sinceCheckpoint int
}

func NewTracker(store checkpoint.Store, l *logger.Logger, runID string, every int) *Tracker {
	if every <= 0 {
		every = DefaultCheckpointEvery
	}

	return &Tracker{
		store:  store,
		logger: l,
		runID:  runID,
		every:  every,
	}
}

// Load reads the run’s persisted position and makes it the last position.
func (t *Tracker) Load(ctx context.Context) (mo.Option[bson.Raw], error) {
	position, err := t.store.Load(ctx, t.runID)
	if err != nil {
		return mo.None[bson.Raw](), err
	}

	t.last = position
	t.dirty = false

	return position, nil
}

// Advance records the position of an event that was just applied.
func (t *Tracker) Advance(position bson.Raw) {
	t.last = mo.Some(position)
	t.dirty = true
	t.sinceCheckpoint++
}

// LastPosition is the position of the last applied event, if any.
func (t *Tracker) LastPosition() mo.Option[bson.Raw] {
	return t.last
}

// CheckpointIfDue persists the position once enough advances accumulate.
func (t *Tracker) CheckpointIfDue(ctx context.Context) error {
	if t.sinceCheckpoint < t.every {
		return nil
	}

	return t.Checkpoint(ctx)
}

// Checkpoint persists the last position. It does nothing if the position
// has not moved since the last checkpoint.
func (t *Tracker) Checkpoint(ctx context.Context) error {
	position, has := t.last.Get()
	if !has || !t.dirty {
		return nil
	}

	if err := t.store.Save(ctx, t.runID, position); err != nil {
		return errors.Wrap(err, "checkpointing replication position")
	}

	t.dirty = false
	t.sinceCheckpoint = 0

	t.logger.Debug().
		Str("runID", t.runID).
		Stringer("position", position).
		Msg("Checkpointed replication position.")

	return nil
}
