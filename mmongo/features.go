package mmongo

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ShowExpandedEventsMinVersion is the first server version whose change
// streams accept `showExpandedEvents`.
var ShowExpandedEventsMinVersion = []int{6, 0}

// VersionAtLeast returns whether the version is >= the version given
// as separate numbers.
func VersionAtLeast(version []int, nums ...int) bool {
	lo.Assertf(
		len(nums) > 0,
		"need at least a major version to check version (%v) against",
		version,
	)

	for i := range nums {
		if len(version) < i+1 {
			return false
		}

		if version[i] < nums[i] {
			return false
		}

		if version[i] > nums[i] {
			break
		}
	}

	return true
}

// GetVersionArray returns the server’s major, minor, & patch version.
func GetVersionArray(ctx context.Context, client *mongo.Client) ([3]int, error) {
	var va [3]int

	var resp struct {
		VersionArray []int `bson:"versionArray"`
	}

	err := client.Database("admin").
		RunCommand(ctx, bson.D{{"buildinfo", 1}}).
		Decode(&resp)
	if err != nil {
		return va, errors.Wrapf(err, "failed to run %#q", "buildinfo")
	}

	copy(va[:], resp.VersionArray)

	return va, nil
}
