package mongostore

import (
	"context"
	"slices"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	"github.com/10gen/mongo-external-sync/internal/retry"
	"github.com/10gen/mongo-external-sync/internal/util"
	"github.com/pkg/errors"
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// maxScanResumes bounds how many times one scan reopens its cursor after
// the server kills it or the connection drops.
const maxScanResumes = 10

// ScanOrdered walks the _id index. If the cursor dies mid-scan the scan
// reopens at the last _id it returned, using the index bound rather than a
// $gt filter so that _id values of every BSON type keep their order.
func (s *Store) ScanOrdered(ctx context.Context, ns model.Namespace) (docstore.DocCursor, error) {
	c := &scanCursor{store: s, ns: ns}

	if err := c.open(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

type scanCursor struct {
	store   *Store
	ns      model.Namespace
	session mongo.Session
	cursor  *mongo.Cursor
	lastKey mo.Option[bson.RawValue]
	current bson.Raw
	resumes int
	err     error
}

func (c *scanCursor) open(ctx context.Context) error {
	findOpts := options.Find().
		SetSort(bson.D{{"_id", 1}}).
		SetHint(bson.D{{"_id", 1}}).
		SetBatchSize(c.store.batchSize)

	if last, has := c.lastKey.Get(); has {
		findOpts.SetMin(bson.D{{"_id", last}})
	}

	err := c.store.retryer.
		WithErrorCodes(util.CursorKilled).
		WithDescription("scanning %s", c.ns.String()).
		Run(ctx, c.store.logger, func(ctx context.Context, _ *retry.FuncInfo) error {
			session, err := c.store.client.StartSession()
			if err != nil {
				return err
			}

			cursor, err := c.store.coll(c.ns).Find(
				mongo.NewSessionContext(ctx, session),
				bson.D{},
				findOpts,
			)
			if err != nil {
				session.EndSession(ctx)
				return err
			}

			c.session = session
			c.cursor = cursor

			return nil
		})

	return errors.Wrapf(err, "scanning %#q", c.ns.String())
}

func (c *scanCursor) Next(ctx context.Context) bool {
	for {
		if c.err != nil || c.cursor == nil {
			return false
		}

		sctx := mongo.NewSessionContext(ctx, c.session)

		if c.cursor.Next(sctx) {
			doc := slices.Clone(c.cursor.Current)

			key, err := model.KeyOf(doc)
			if err != nil {
				c.err = errors.Wrapf(err, "document in %#q lacks _id", c.ns.String())
				return false
			}

			// The resumed cursor starts at the last key we already returned.
			if last, has := c.lastKey.Get(); has && c.resumes > 0 && last.Equal(key) {
				continue
			}

			c.lastKey = mo.Some(key)
			c.current = doc

			return true
		}

		err := c.cursor.Err()
		if err == nil {
			return false
		}

		resumable := util.IsTransientError(err) || util.GetErrorCode(err) == util.CursorKilled
		if !resumable || c.resumes >= maxScanResumes {
			c.err = errors.Wrapf(err, "scanning %#q", c.ns.String())
			return false
		}

		c.store.logger.Warn().
			Err(err).
			Str("namespace", c.ns.String()).
			Int("resumes", c.resumes+1).
			Msg("Scan cursor failed. Resuming after the last document read.")

		_ = c.closeCursor(ctx)
		c.resumes++

		if err := c.open(ctx); err != nil {
			c.err = err
			return false
		}
	}
}

func (c *scanCursor) Current() bson.Raw {
	return c.current
}

func (c *scanCursor) Err() error {
	return c.err
}

func (c *scanCursor) Close(ctx context.Context) error {
	return c.closeCursor(ctx)
}

func (c *scanCursor) closeCursor(ctx context.Context) error {
	if c.cursor == nil {
		return nil
	}

	err := c.cursor.Close(mongo.NewSessionContext(ctx, c.session))
	c.session.EndSession(ctx)
	c.cursor = nil
	c.session = nil

	return errors.Wrapf(err, "closing scan of %#q", c.ns.String())
}
