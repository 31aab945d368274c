// Package replicator mirrors a source cluster’s change feed onto a
// destination cluster.
package replicator

import (
	"context"
	"time"

	"github.com/10gen/mongo-external-sync/chanutil"
	"github.com/10gen/mongo-external-sync/history"
	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/logger"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/reportutils"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/10gen/mongo-external-sync/msync"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBufferSize         = 100
	DefaultCheckpointInterval = 10 * time.Second

	throughputWindow = time.Minute
)

type LoopState string

const (
	StateIdle     LoopState = "idle"
	StateRunning  LoopState = "running"
	StateStopping LoopState = "stopping"
	StateStopped  LoopState = "stopped"
)

// ResumeFrom says where a run starts reading the feed.
type ResumeFrom string

const (
	// ResumeFromCheckpoint continues after the run’s persisted position,
	// or starts from now if there is none.
	ResumeFromCheckpoint ResumeFrom = "checkpoint"

	// ResumeFromNow ignores any persisted position. Events between the
	// last checkpoint and now are never replicated, so this is only for a
	// deliberate restart, e.g., after the feed was invalidated.
	ResumeFromNow ResumeFrom = "none"
)

type LoopConfig struct {
	BufferSize         int
	CheckpointInterval time.Duration
	ResumeFrom         ResumeFrom
}

// LoopResult summarizes a finished run.
type LoopResult struct {
	LastPosition  mo.Option[bson.Raw]
	Stats         model.Statistics
	Invalidated   bool
	EventsApplied int64
}

// Status is a point-in-time view of a running Loop.
type Status struct {
	State         LoopState
	LastPosition  mo.Option[bson.Raw]
	Stats         model.Statistics
	EventsApplied int64

	// EventsPerSecond is the rate at which events were handled over the
	// last minute.
	EventsPerSecond float64
}

// Loop reads the source’s change feed and applies each event, in feed
// order, to the destination. One goroutine pulls events into a bounded
// buffer; the goroutine that called Run applies them.
type Loop struct {
	src     docstore.Store
	applier *Applier
	tracker *Tracker
	logger  *logger.Logger
	cfg     LoopConfig

	state      *msync.TypedAtomic[LoopState]
	status     *msync.DataGuard[Status]
	throughput *history.History[int64]
}

func NewLoop(
	src docstore.Store,
	applier *Applier,
	tracker *Tracker,
	l *logger.Logger,
	cfg LoopConfig,
) *Loop {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}

	if cfg.ResumeFrom == "" {
		cfg.ResumeFrom = ResumeFromCheckpoint
	}

	return &Loop{
		src:     src,
		applier: applier,
		tracker: tracker,
		logger:  l,
		cfg:     cfg,
		state:   msync.NewTypedAtomic(StateIdle),
		status: msync.NewDataGuard(Status{
			State: StateIdle,
			Stats: model.NewStatistics(),
		}),
		throughput: history.New[int64](throughputWindow),
	}
}

func (l *Loop) State() LoopState {
	return l.state.Load()
}

// Status returns a copy of the loop’s progress that the caller may keep.
func (l *Loop) Status() Status {
	var snapshot Status

	l.status.Load(func(s Status) {
		snapshot = s
		snapshot.Stats = s.Stats.Clone()
	})

	snapshot.State = l.state.Load()

	return snapshot
}

func (l *Loop) setState(state LoopState) {
	l.state.Store(state)

	l.logger.Debug().
		Str("state", string(state)).
		Msg("Replication loop changed state.")
}

// Run replicates until the feed is invalidated or exhausted, an event
// cannot be applied, or ctx is canceled. Cancellation takes effect between
// events: an event whose application has begun is always finished. Every
// exit path persists the last applied position.
//
// Invalidation and exhaustion return a nil error. Cancellation returns
// ctx’s error with its cause.
func (l *Loop) Run(ctx context.Context) (LoopResult, error) {
	if !l.state.CompareAndSwap(StateIdle, StateRunning) {
		return LoopResult{}, errors.Errorf("replication loop cannot run in state %#q", l.State())
	}

	l.logger.Debug().Msg("Replication loop is running.")

	startAfter := mo.None[bson.Raw]()

	switch l.cfg.ResumeFrom {
	case ResumeFromNow:
		l.logger.Warn().Msg("Ignoring any checkpoint. Replication starts from the current time.")
	default:
		position, err := l.tracker.Load(ctx)
		if err != nil {
			l.setState(StateStopped)
			return LoopResult{}, errors.Wrap(err, "loading checkpoint")
		}
		startAfter = position
	}

	if position, has := startAfter.Get(); has {
		l.logger.Info().
			Stringer("position", position).
			Msg("Resuming replication after the checkpointed position.")
	} else {
		l.logger.Info().Msg("Starting replication from the current time.")
	}

	feed, err := l.src.Watch(ctx, startAfter)
	if err != nil {
		l.setState(StateStopped)
		return LoopResult{}, errors.Wrap(err, "opening change feed")
	}

	defer func() {
		if err := feed.Close(context.WithoutCancel(ctx)); err != nil {
			l.logger.Warn().Err(err).Msg("Failed to close change feed.")
		}
	}()

	result, runErr := l.consume(ctx, feed)

	l.setState(StateStopping)

	if err := l.tracker.Checkpoint(context.WithoutCancel(ctx)); err != nil {
		l.logger.Error().Err(err).Msg("Failed to persist the final checkpoint.")

		if runErr == nil {
			runErr = err
		}
	}

	result.LastPosition = l.tracker.LastPosition()

	l.setState(StateStopped)

	return result, runErr
}

func (l *Loop) consume(ctx context.Context, feed docstore.ChangeFeed) (LoopResult, error) {
	result := LoopResult{Stats: model.NewStatistics()}

	pullCtx, cancelPull := context.WithCancelCause(ctx)
	defer cancelPull(errors.New("replication loop finished"))

	eg, egCtx := errgroup.WithContext(pullCtx)
	events := make(chan model.ChangeEvent, l.cfg.BufferSize)

	eg.Go(func() error {
		defer close(events)

		for {
			event, err := feed.Next(egCtx)
			if errors.Is(err, docstore.ErrFeedExhausted) {
				l.logger.Info().Msg("Change feed ended.")
				return nil
			}
			if err != nil {
				return err
			}

			if err := chanutil.WriteWithDoneCheck(egCtx, events, event); err != nil {
				return err
			}
		}
	})

	// pullErr reports why the pull goroutine stopped once it has.
	pullErr := func() error {
		cancelPull(errors.New("replication loop finished"))
		err := eg.Wait()

		if ctx.Err() == nil && errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	}

	ticker := time.NewTicker(l.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		// Prefer stopping over applying another buffered event.
		if ctx.Err() != nil {
			_ = pullErr()
			return result, util.WrapCtxErrWithCause(ctx)
		}

		select {
		case <-ctx.Done():
			_ = pullErr()
			return result, util.WrapCtxErrWithCause(ctx)
		case <-ticker.C:
			if err := l.tracker.Checkpoint(context.WithoutCancel(ctx)); err != nil {
				_ = pullErr()
				return result, err
			}

			l.logger.Info().
				Int64("eventsApplied", result.EventsApplied).
				Str("eventsPerSecond", reportutils.FmtReal(l.throughput.RatePerSecond())).
				Msg("Replication progress.")
		case event, ok := <-events:
			if !ok {
				if err := pullErr(); err != nil {
					return result, errors.Wrap(err, "reading change feed")
				}

				return result, nil
			}

			terminal, err := l.handle(ctx, event, &result)
			if err != nil {
				_ = pullErr()
				return result, err
			}

			if terminal {
				_ = pullErr()
				return result, nil
			}
		}
	}
}

// handle applies one event and records its outcome. It reports whether the
// event ends the run.
func (l *Loop) handle(ctx context.Context, event model.ChangeEvent, result *LoopResult) (bool, error) {
	outcome, err := l.applier.Apply(context.WithoutCancel(ctx), event)
	if err != nil {
		return false, errors.Wrapf(err, "applying %s", event)
	}

	result.Stats.Add(model.OperationStatKey(event.Op), 1)
	l.throughput.Add(1)

	switch outcome.Status {
	case model.StatusTerminal:
		result.Invalidated = true
		l.publish(result)
		return true, nil
	case model.StatusSkipped:
		result.Stats.Add(model.SkippedStatKey(outcome.Reason), 1)
	case model.StatusApplied:
		result.EventsApplied++
	}

	l.tracker.Advance(event.Position)
	l.publish(result)

	if err := l.tracker.CheckpointIfDue(context.WithoutCancel(ctx)); err != nil {
		return false, err
	}

	return false, nil
}

func (l *Loop) publish(result *LoopResult) {
	stats := result.Stats.Clone()
	position := l.tracker.LastPosition()
	rate := l.throughput.RatePerSecond()

	l.status.Store(func(s Status) Status {
		s.Stats = stats
		s.LastPosition = position
		s.EventsApplied = result.EventsApplied
		s.EventsPerSecond = rate
		return s
	})
}
