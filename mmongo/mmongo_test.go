package mmongo

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, VersionAtLeast([]int{6, 0, 3}, 6, 0))
	assert.True(t, VersionAtLeast([]int{7, 0}, 6, 2))
	assert.False(t, VersionAtLeast([]int{5, 0, 14}, 6))
	assert.False(t, VersionAtLeast([]int{6}, 6, 1))
	assert.True(t, VersionAtLeast([]int{8, 0, 0}, ShowExpandedEventsMinVersion...))
}

func TestErrorHasCode(t *testing.T) {
	err := errors.Wrap(mongo.CommandError{Code: 26}, "dropping")

	assert.True(t, ErrorHasCode(err, 26))
	assert.False(t, ErrorHasCode(err, 48))
	assert.False(t, ErrorHasCode(errors.New("plain"), 26))
}

func TestClientOptionsFromURI(t *testing.T) {
	opts, added, err := ClientOptionsFromURI("mongodb://localhost:27017")
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, IsDirect(opts))

	opts, added, err = ClientOptionsFromURI("mongodb://h1:27017,h2:27017")
	require.NoError(t, err)
	assert.False(t, added)
	assert.False(t, IsDirect(opts))

	_, added, err = ClientOptionsFromURI("mongodb://h1:27017/?replicaSet=rs0")
	require.NoError(t, err)
	assert.False(t, added)

	_, _, err = ClientOptionsFromURI("http://nope")
	assert.Error(t, err)
}
