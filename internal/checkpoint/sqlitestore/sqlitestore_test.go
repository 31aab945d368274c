package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/10gen/mongo-external-sync/internal/checkpoint/storetest"
	"github.com/10gen/mongo-external-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestRoundTrip(t *testing.T) {
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer store.Close()

	storetest.RoundTrip(t, store)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	token := testutil.MustMarshal(bson.D{{"_data", "abc"}})

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "default", token))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	loaded, err := store.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, token, loaded.MustGet())
}
