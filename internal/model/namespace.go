package model

import (
	"strings"

	"github.com/rs/zerolog"
)

// Namespace identifies a collection on either cluster.
type Namespace struct {
	DB   string `bson:"db"`
	Coll string `bson:"coll"`
}

var _ zerolog.LogObjectMarshaler = Namespace{}

// SplitNamespace parses a dotted "db.coll" string. The first dot separates
// the database from the collection, since collection names may contain dots.
func SplitNamespace(namespace string) Namespace {
	db, coll, _ := strings.Cut(namespace, ".")
	return Namespace{DB: db, Coll: coll}
}

func (ns Namespace) String() string {
	if ns.Coll == "" {
		return ns.DB
	}

	return ns.DB + "." + ns.Coll
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (ns Namespace) MarshalZerologObject(e *zerolog.Event) {
	e.Str("db", ns.DB).Str("coll", ns.Coll)
}
