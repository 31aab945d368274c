package mmongo

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ClientOptionsFromURI parses a connection string into client options,
// adding a direct connection when the string names a single host and sets
// none of replicaSet, directConnection, or loadBalanced. This is how
// mongosh treats such strings, so a URI copied from a shell session
// connects the same way. The returned bool indicates whether a direct
// connection was added.
func ClientOptionsFromURI(in string) (*options.ClientOptions, bool, error) {
	opts := options.Client().ApplyURI(in)
	if err := opts.Validate(); err != nil {
		return nil, false, errors.Wrap(err, "parsing connection string")
	}

	if len(opts.Hosts) == 0 {
		return nil, false, fmt.Errorf("connection string names no hosts")
	}

	if len(opts.Hosts) > 1 {
		return opts, false, nil
	}

	if opts.ReplicaSet != nil || opts.Direct != nil || opts.LoadBalanced != nil {
		return opts, false, nil
	}

	opts.SetDirect(true)

	return opts, true, nil
}

// IsDirect reports whether the options request a direct connection.
func IsDirect(opts *options.ClientOptions) bool {
	return lo.FromPtr(opts.Direct)
}
