// Package storetest checks a checkpoint.Store implementation’s contract.
package storetest

import (
	"context"
	"testing"

	"github.com/10gen/mongo-external-sync/internal/checkpoint"
	"github.com/10gen/mongo-external-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// RoundTrip saves and reloads tokens under two run IDs.
func RoundTrip(t *testing.T, store checkpoint.Store) {
	ctx := context.Background()

	loaded, err := store.Load(ctx, "run-a")
	require.NoError(t, err)
	assert.True(t, loaded.IsAbsent(), "no checkpoint yet")

	first := testutil.MustMarshal(bson.D{{"_data", "0001"}})
	second := testutil.MustMarshal(bson.D{{"_data", "0002"}})

	require.NoError(t, store.Save(ctx, "run-a", first))
	require.NoError(t, store.Save(ctx, "run-b", first))
	require.NoError(t, store.Save(ctx, "run-a", second))

	loaded, err = store.Load(ctx, "run-a")
	require.NoError(t, err)
	assert.Equal(t, second, loaded.MustGet())

	loaded, err = store.Load(ctx, "run-b")
	require.NoError(t, err)
	assert.Equal(t, first, loaded.MustGet())
}
