package memstore

import (
	"context"

	"github.com/10gen/mongo-external-sync/internal/util"
	"go.mongodb.org/mongo-driver/bson"
)

type cursor struct {
	docs []bson.Raw
	pos  int
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		c.err = util.WrapCtxErrWithCause(ctx)
		return false
	}

	if c.pos+1 >= len(c.docs) {
		return false
	}

	c.pos++
	return true
}

func (c *cursor) Current() bson.Raw {
	return c.docs[c.pos]
}

func (c *cursor) Err() error {
	return c.err
}

func (c *cursor) Close(_ context.Context) error {
	c.docs = nil
	return nil
}
