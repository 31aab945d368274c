package model

import (
	"github.com/samber/mo"
	"go.mongodb.org/mongo-driver/bson"
)

// DigestSnapshot maps collection name to the content digest of that
// collection, for one database on one cluster.
type DigestSnapshot map[string]string

type DiscrepancyKind string

const (
	// Missing documents exist on the source but not the destination.
	Missing DiscrepancyKind = "missing"

	// Different documents exist on both clusters with unequal content.
	Different DiscrepancyKind = "different"

	// Extraneous documents exist on the destination but not the source.
	Extraneous DiscrepancyKind = "extraneous"
)

// DiscrepancyKinds lists every kind in reporting order.
var DiscrepancyKinds = []DiscrepancyKind{Missing, Different, Extraneous}

// Discrepancy is one document-level difference between the clusters.
type Discrepancy struct {
	Namespace   Namespace
	Kind        DiscrepancyKind
	Source      mo.Option[bson.Raw]
	Destination mo.Option[bson.Raw]
}

func NewMissing(ns Namespace, src bson.Raw) Discrepancy {
	return Discrepancy{
		Namespace: ns,
		Kind:      Missing,
		Source:    mo.Some(src),
	}
}

func NewDifferent(ns Namespace, src, dst bson.Raw) Discrepancy {
	return Discrepancy{
		Namespace:   ns,
		Kind:        Different,
		Source:      mo.Some(src),
		Destination: mo.Some(dst),
	}
}

func NewExtraneous(ns Namespace, dst bson.Raw) Discrepancy {
	return Discrepancy{
		Namespace:   ns,
		Kind:        Extraneous,
		Destination: mo.Some(dst),
	}
}

// Key returns the _id of whichever document the discrepancy carries.
func (d Discrepancy) Key() (DocumentKey, error) {
	doc, ok := d.Source.Get()
	if !ok {
		doc = d.Destination.MustGet()
	}

	return KeyOf(doc)
}
