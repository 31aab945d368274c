package mongostore

import (
	"context"
	"slices"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/retry"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Watch opens a cluster-wide change stream whose update events carry the
// document’s current state (updateLookup). On servers that support it the
// stream also reports DDL events, which the replicator logs as unhandled.
func (s *Store) Watch(ctx context.Context, startAfter mo.Option[bson.Raw]) (docstore.ChangeFeed, error) {
	csOpts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetBatchSize(s.batchSize)

	if s.showExpandedEvents {
		csOpts.SetShowExpandedEvents(true)
	}

	if token, has := startAfter.Get(); has {
		csOpts.SetStartAfter(token)
	}

	f := &changeFeed{store: s}

	err := s.retryer.
		WithDescription("opening change stream").
		Run(ctx, s.logger, func(ctx context.Context, _ *retry.FuncInfo) error {
			session, err := s.client.StartSession()
			if err != nil {
				return err
			}

			cs, err := s.client.Watch(mongo.NewSessionContext(ctx, session), mongo.Pipeline{}, csOpts)
			if err != nil {
				session.EndSession(ctx)
				return err
			}

			f.session = session
			f.cs = cs

			return nil
		})
	if err != nil {
		return nil, errors.Wrap(err, "opening change stream")
	}

	return f, nil
}

type changeFeed struct {
	store   *Store
	session mongo.Session
	cs      *mongo.ChangeStream
}

// Next blocks until the next event. The driver resumes the stream once
// after a resumable error; if that fails too, the feed reopens the stream
// after the last token it saw, within the retryer’s duration limit.
func (f *changeFeed) Next(ctx context.Context) (model.ChangeEvent, error) {
	var event model.ChangeEvent

	err := f.store.retryer.
		WithDescription("reading change stream").
		Run(ctx, f.store.logger, func(ctx context.Context, fi *retry.FuncInfo) error {
			if fi.GetAttemptNumber() > 0 {
				if err := f.reopen(ctx); err != nil {
					return err
				}
			}

			if f.cs.Next(mongo.NewSessionContext(ctx, f.session)) {
				var err error
				event, err = model.ParseChangeEvent(slices.Clone(f.cs.Current))
				return err
			}

			if ctx.Err() != nil {
				return util.WrapCtxErrWithCause(ctx)
			}

			if err := f.cs.Err(); err != nil {
				return err
			}

			// The server closed the stream, as it does after an invalidate.
			return docstore.ErrFeedExhausted
		})

	if errors.Is(err, docstore.ErrFeedExhausted) {
		return model.ChangeEvent{}, err
	}

	return event, errors.Wrap(err, "reading change stream")
}

func (f *changeFeed) reopen(ctx context.Context) error {
	token := f.cs.ResumeToken()

	_ = f.Close(ctx)

	f.store.logger.Warn().
		Stringer("resumeToken", token).
		Msg("Reopening change stream after a transient error.")

	reopened, err := f.store.Watch(ctx, lo.Ternary(token == nil, mo.None[bson.Raw](), mo.Some(token)))
	if err != nil {
		return err
	}

	*f = *reopened.(*changeFeed)

	return nil
}

func (f *changeFeed) Close(ctx context.Context) error {
	err := f.cs.Close(ctx)
	f.session.EndSession(ctx)

	return errors.Wrap(err, "closing change stream")
}
