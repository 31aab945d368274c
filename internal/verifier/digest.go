package verifier

import (
	"context"
	"strings"

	"github.com/10gen/mongo-external-sync/internal/docstore"
	"github.com/10gen/mongo-external-sync/internal/model"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const systemCollectionPrefix = "system."

// DigestComparator finds the collections whose contents may differ
// between the clusters by comparing server-computed digests. Equal digests
// prove equality; unequal ones only warrant a document-level comparison.
type DigestComparator struct {
	src, dst docstore.Store
}

func NewDigestComparator(src, dst docstore.Store) *DigestComparator {
	return &DigestComparator{src: src, dst: dst}
}

// Compare returns the names of db’s collections whose digests differ or
// that exist on only one cluster, and the names of all the collections that
// it compared. System collections are ignored.
func (dc *DigestComparator) Compare(ctx context.Context, db string) (divergent, compared mapset.Set[string], err error) {
	var srcDigests, dstDigests model.DigestSnapshot

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		var err error
		srcDigests, err = dc.src.CollectionDigests(egCtx, db)
		return errors.Wrapf(err, "getting source digests for %#q", db)
	})

	eg.Go(func() error {
		var err error
		dstDigests, err = dc.dst.CollectionDigests(egCtx, db)
		return errors.Wrapf(err, "getting destination digests for %#q", db)
	})

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}

	compared = mapset.NewSet[string]()
	divergent = mapset.NewSet[string]()

	for coll, srcDigest := range srcDigests {
		compared.Add(coll)

		if dstDigest, ok := dstDigests[coll]; !ok || dstDigest != srcDigest {
			divergent.Add(coll)
		}
	}

	for coll := range dstDigests {
		compared.Add(coll)

		if _, ok := srcDigests[coll]; !ok {
			divergent.Add(coll)
		}
	}

	for _, coll := range compared.ToSlice() {
		if strings.HasPrefix(coll, systemCollectionPrefix) {
			compared.Remove(coll)
			divergent.Remove(coll)
		}
	}

	return divergent, compared, nil
}
